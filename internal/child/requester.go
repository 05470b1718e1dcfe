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
	"sync"

	"github.com/journald-exporter/journald-exporter/internal/ipc"
	"github.com/journald-exporter/journald-exporter/internal/log"
)

// pendingQueueCapacity bounds the number of HTTP responders that may be
// waiting on a single in-flight metrics snapshot.
const pendingQueueCapacity = 256

// Requester coalesces concurrently arriving MetricsGet requests onto a
// single outstanding REQUEST_METRICS frame. At most one such frame is ever
// in flight; every responder queued while it is outstanding is resumed
// together when the snapshot (or a failure) arrives.
type Requester struct {
	mu    sync.Mutex
	queue []*Responder

	// OnQueueDepth, if set, is called with the queue's length every time it
	// changes. Used by cmd/child to drive the pending-queue-depth gauge.
	OnQueueDepth func(depth int)
}

func (r *Requester) reportDepth(depth int) {
	if r.OnQueueDepth != nil {
		r.OnQueueDepth(depth)
	}
}

// Write is the outbound half of the parent<->child pipe, abstracted so
// Requester and the HTTP handler can be tested without a real pipe.
type Write func(op byte, payload []byte) error

// RequestMetrics implements the push-then-maybe-send protocol of the
// coalescing contract: the lock is released before any I/O or Respond call,
// so nothing here can deadlock against a lock that write or Respond might
// take.
func (r *Requester) RequestMetrics(ctx context.Context, resp *Responder, write Write) {
	r.mu.Lock()
	wasEmpty := len(r.queue) == 0
	overflowed := len(r.queue) >= pendingQueueCapacity
	if !overflowed {
		r.queue = append(r.queue, resp)
	}
	depth := len(r.queue)
	r.mu.Unlock()

	r.reportDepth(depth)

	if overflowed {
		resp.Fail(ctx, "pending metrics queue is full")

		return
	}

	if !wasEmpty {
		return
	}

	if err := write(ipc.OpRequestMetrics, nil); err != nil {
		log.ErrorLog(ctx, "failed to send REQUEST_METRICS: %v", err)
		r.Resume(ctx, Unavailable, nil)
	}
}

// Resume atomically drains the pending queue, then delivers head/body to
// every drained responder outside the lock.
func (r *Requester) Resume(ctx context.Context, head *ResponseHead, body []byte) {
	r.mu.Lock()
	drained := r.queue
	r.queue = nil
	r.mu.Unlock()

	r.reportDepth(0)

	for _, resp := range drained {
		if resp.Fulfilled() {
			continue
		}

		resp.RespondBody(head, body)
	}
}
