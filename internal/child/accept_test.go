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
	"net/http/httptest"
	"testing"
	"time"
)

func TestServerServeHTTPRoutesNotFound(t *testing.T) {
	t.Parallel()

	state := newState()
	srv := NewServer(state, noopWrite, uint64(time.Now().Unix()))

	go srv.RunRequestWorker(context.Background())

	req := httptest.NewRequest("GET", "/not-metrics", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != NotFound.Status {
		t.Fatalf("got %d, want %d", rec.Code, NotFound.Status)
	}

	state.Terminate.Set()
}

func TestServerServeHTTPRejectsWhenTerminated(t *testing.T) {
	t.Parallel()

	state := newState()
	srv := NewServer(state, noopWrite, uint64(time.Now().Unix()))
	state.Terminate.Set()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != Unavailable.Status {
		t.Fatalf("got %d, want %d", rec.Code, Unavailable.Status)
	}
}

func TestRunRequestWorkerTickerReapsInElapsedSecondsDomain(t *testing.T) {
	t.Parallel()

	start := uint64(time.Now().Unix())
	state := newState()
	srv := NewServer(state, noopWrite, start)

	done := make(chan struct{})
	go func() {
		srv.RunRequestWorker(context.Background())
		close(done)
	}()

	// Let at least one whole-second boundary pass so the worker's ticker
	// branch reaps the limiter at least once.
	time.Sleep(1200 * time.Millisecond)
	state.Terminate.Set()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("request worker did not exit after terminate")
	}

	state.limiterMu.Lock()
	got := state.limiter.second
	state.limiterMu.Unlock()

	// secondsSinceStart is elapsed seconds since process start, so this must
	// stay tiny. Reaping with the raw Unix epoch (time.Now().Unix()) would
	// stash a value in the billions here and permanently freeze the
	// throttle set against every future elapsed-seconds CheckThrottled call.
	if got > 10 {
		t.Fatalf("limiter reaped with an absolute unix-epoch second (%d); want a small elapsed-seconds value", got)
	}
}

func TestServerServeHTTPRejectsWhenQueueFull(t *testing.T) {
	t.Parallel()

	state := newState()
	srv := NewServer(state, noopWrite, uint64(time.Now().Unix()))

	// No request worker running: fill the queue directly then confirm the
	// next accept is rejected immediately rather than blocking.
	for i := 0; i < acceptQueueCapacity; i++ {
		srv.queue <- &acceptedRequest{done: make(chan struct{})}
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != Unavailable.Status {
		t.Fatalf("got %d, want %d", rec.Code, Unavailable.Status)
	}
}
