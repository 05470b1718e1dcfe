/*
Copyright 2019 The Ceph-CSI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package child

import (
	"net/netip"
	"sync"

	"github.com/journald-exporter/journald-exporter/internal/ipc"
	"github.com/journald-exporter/journald-exporter/internal/xsync"
)

// State is the single process-wide block of shared child state. It is
// constructed once at startup and handed to every worker by reference;
// nothing about its lifetime is scoped to an individual request or
// connection.
type State struct {
	keysMu sync.RWMutex
	keys   ipc.KeySet

	limiterMu xsync.UncontendedMutex
	limiter   Limiter

	decoderMu xsync.UncontendedMutex
	decoder   ipc.Decoder

	Requester Requester
	Terminate xsync.Notify

	// StartSecond is the unix second at process start, as passed to
	// NewState. The request worker does not read it: it computes the
	// limiter's "now" from the start second given to NewServer.
	StartSecond uint64
}

// NewState builds a State ready for use, with StartSecond set to
// startSecond and every other field at its zero value.
func NewState(startSecond uint64) *State {
	return &State{StartSecond: startSecond}
}

// Keys returns the current key set under the shared read lock.
func (s *State) Keys() ipc.KeySet {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()

	return s.keys
}

// SetKeys installs a new key set under the exclusive write lock. Only the
// IPC reader loop ever calls this.
func (s *State) SetKeys(ks ipc.KeySet) {
	s.keysMu.Lock()
	s.keys = ks
	s.keysMu.Unlock()
}

// CheckThrottled delegates to the limiter under its uncontended lock.
func (s *State) CheckThrottled(now uint64, addr netip.Addr) bool {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	return s.limiter.CheckThrottled(now, addr)
}

// ReapLimiter delegates to the limiter's reap under its uncontended lock.
func (s *State) ReapLimiter(now uint64) {
	s.limiterMu.Lock()
	s.limiter.Reap(now)
	s.limiterMu.Unlock()
}

// FeedDecoder feeds buf to the decoder under its uncontended lock and
// returns whatever response became ready.
func (s *State) FeedDecoder(buf []byte) (ipc.DecoderResponse, error) {
	s.decoderMu.Lock()
	defer s.decoderMu.Unlock()

	if err := s.decoder.ReadBytes(buf); err != nil {
		return ipc.DecoderResponse{}, err
	}

	return s.decoder.TakeResponse(), nil
}
