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

import "net/netip"

// Limiter is a once-per-second, per-IP throttle. Traffic through this
// daemon is low and uniform, so a linear scan beats any hashed structure;
// scanning from the most recently inserted address first both exploits
// temporal locality (repeat callers are the common case) and hides timing
// variance across keys. Concurrency is controlled externally - see
// xsync.UncontendedMutex in State.
type Limiter struct {
	second      uint64
	throttleSet []netip.Addr
}

// Reap clears the throttle set if now is a later second than the one
// currently tracked. The current second never moves backwards.
func (l *Limiter) Reap(now uint64) {
	if l.second < now {
		l.second = now
		l.throttleSet = l.throttleSet[:0]
	}
}

// CheckThrottled reaps stale state for now, then reports whether addr has
// already been seen this second, recording it if not.
func (l *Limiter) CheckThrottled(now uint64, addr netip.Addr) bool {
	l.Reap(now)

	for i := len(l.throttleSet) - 1; i >= 0; i-- {
		if l.throttleSet[i] == addr {
			return true
		}
	}

	l.throttleSet = append(l.throttleSet, addr)

	return false
}
