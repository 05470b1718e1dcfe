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
	"net/http"
	"time"
)

// acceptQueueCapacity bounds the number of accepted-but-not-yet-handled HTTP
// requests, mirroring the pending-responders queue's capacity (§3).
const acceptQueueCapacity = 256

// acceptedRequest is one HTTP request that has cleared net/http's own accept
// path and is waiting for the request worker to run §4.5 against it.
type acceptedRequest struct {
	ctx  RequestContext
	resp *Responder
	done chan struct{}
}

// Server ties the shared child state to a net/http.Handler and the request
// worker that drains its accept queue.
type Server struct {
	state       *State
	write       Write
	startSecond uint64
	queue       chan *acceptedRequest

	// OnRespond, if set, is called once per request after its response has
	// been sent, with the route it took and the status code it received.
	// Used by cmd/child to feed the self-metrics surface.
	OnRespond func(route Route, status int)
}

// NewServer builds a Server around state. write is the outbound IPC frame
// sender; startSecond is the unix second the child considers "now == 0",
// used to compute throttle-bucket seconds and reap boundaries.
func NewServer(state *State, write Write, startSecond uint64) *Server {
	return &Server{
		state:       state,
		write:       write,
		startSecond: startSecond,
		queue:       make(chan *acceptedRequest, acceptQueueCapacity),
	}
}

// ServeHTTP is the accept-loop half of §4.6: it classifies the request,
// captures its context, and pushes it onto the bounded queue. A full queue,
// or a terminate notification already set, is answered immediately with
// Unavailable, never blocking the caller.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := NewResponder(w)

	var auth []byte
	if h := r.Header.Get("Authorization"); h != "" {
		auth = []byte(h)
	}

	peer, ok := PeerAddrFromRemoteAddr(r.RemoteAddr)
	if !ok {
		resp.Respond(ServerError)

		return
	}

	item := &acceptedRequest{
		ctx: RequestContext{
			Authorization: auth,
			PeerAddr:      peer,
			Route:         ClassifyHTTPRoute(r),
			ReceivedSecs:  s.secondsSinceStart(time.Now()),
		},
		resp: resp,
		done: make(chan struct{}),
	}

	if s.state.Terminate.HasNotified() {
		resp.Respond(Unavailable)

		return
	}

	select {
	case s.queue <- item:
	default:
		resp.Respond(Unavailable)

		return
	}

	<-item.done

	if s.OnRespond != nil {
		s.OnRespond(item.ctx.Route, resp.Status())
	}
}

func (s *Server) secondsSinceStart(now time.Time) uint64 {
	elapsed := now.Unix() - int64(s.startSecond)
	if elapsed < 0 {
		return 0
	}

	return uint64(elapsed)
}

// RunRequestWorker drains the accept queue, reaping the limiter at every
// whole-second boundary and otherwise dispatching to HandleRequest. It
// returns once the terminate notification fires and the queue has been
// drained with Unavailable.
func (s *Server) RunRequestWorker(ctx context.Context) {
	for {
		timer := time.NewTimer(untilNextSecond(time.Now()))

		select {
		case item, ok := <-s.queue:
			timer.Stop()
			if !ok {
				return
			}

			if s.state.Terminate.HasNotified() {
				item.resp.Fail(ctx, "terminate notified before request worker could run")
				close(item.done)

				continue
			}

			HandleRequest(ctx, s.state, item.ctx, item.resp, s.write)
			close(item.done)

		case <-timer.C:
			s.state.ReapLimiter(s.secondsSinceStart(time.Now()))

			if s.state.Terminate.HasNotified() {
				s.drainQueue(ctx)

				return
			}
		}
	}
}

func (s *Server) drainQueue(ctx context.Context) {
	for {
		select {
		case item := <-s.queue:
			item.resp.Fail(ctx, "child is shutting down")
			close(item.done)
		default:
			return
		}
	}
}

func untilNextSecond(now time.Time) time.Duration {
	next := now.Truncate(time.Second).Add(time.Second)

	return next.Sub(now)
}
