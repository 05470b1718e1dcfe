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
	"context"
	"errors"

	"github.com/journald-exporter/journald-exporter/internal/ipc"
	"github.com/journald-exporter/journald-exporter/internal/log"
)

// readBufSize is the fixed stack buffer the reader loop feeds into the
// decoder on every read, per §4.4.
const readBufSize = 64 * 1024

// RunReaderLoop reads frames from r, feeds the shared decoder, and dispatches
// whichever response became ready. It returns when r reaches EOF, an I/O
// error occurs, or terminate fires; in every case it performs a final resume
// with Unavailable so no responder is left hanging (invariant 6).
func RunReaderLoop(ctx context.Context, state *State, r ipc.Reader) {
	var buf [readBufSize]byte

	for {
		chunk, err := ipc.TryRead(r, &state.Terminate, buf[:])
		if err != nil {
			var mismatch ipc.ErrVersionMismatch
			if errors.As(err, &mismatch) {
				log.ErrorLog(ctx, "fatal protocol error on IPC read: %v", err)
			} else {
				log.ErrorLog(ctx, "IPC read failed: %v", err)
			}

			break
		}

		if chunk == nil {
			break
		}

		response, err := state.FeedDecoder(chunk)
		if err != nil {
			log.ErrorLog(ctx, "fatal protocol error on IPC read: %v", err)

			break
		}

		dispatchDecoderResponse(ctx, state, response)
	}

	state.Terminate.Set()
	state.Requester.Resume(ctx, Unavailable, nil)
}

func dispatchDecoderResponse(ctx context.Context, state *State, response ipc.DecoderResponse) {
	switch response.KeySet.Kind {
	case ipc.ResponseSome:
		state.SetKeys(response.KeySet.Value)
	case ipc.ResponseAllocationFailed:
		log.WarningLog(ctx, "key-set update could not be allocated; retaining prior keys")
	case ipc.ResponseNone:
	}

	switch response.Metrics.Kind {
	case ipc.ResponseSome:
		state.Requester.Resume(ctx, OKMetrics, response.Metrics.Value)
	case ipc.ResponseAllocationFailed:
		state.Requester.Resume(ctx, ServerError, nil)
	case ipc.ResponseNone:
	}
}
