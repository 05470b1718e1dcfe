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
	"net/http/httptest"
	"testing"

	"github.com/journald-exporter/journald-exporter/internal/ipc"
)

func newTestResponder() (*Responder, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()

	return NewResponder(rec), rec
}

func TestRequesterSendsOnFirstPush(t *testing.T) {
	t.Parallel()

	var r Requester
	var sent []byte
	resp, _ := newTestResponder()

	r.RequestMetrics(context.Background(), resp, func(op byte, payload []byte) error {
		sent = []byte{op}
		return nil
	})

	if len(sent) != 1 || sent[0] != ipc.OpRequestMetrics {
		t.Fatalf("expected a single REQUEST_METRICS frame, got %v", sent)
	}
	if resp.Fulfilled() {
		t.Error("responder must still be pending after a successful send")
	}
}

func TestRequesterCoalescesSubsequentPushes(t *testing.T) {
	t.Parallel()

	var r Requester
	sendCount := 0
	resp1, _ := newTestResponder()
	resp2, _ := newTestResponder()

	r.RequestMetrics(context.Background(), resp1, func(op byte, payload []byte) error {
		sendCount++
		return nil
	})
	r.RequestMetrics(context.Background(), resp2, func(op byte, payload []byte) error {
		sendCount++
		return nil
	})

	if sendCount != 1 {
		t.Fatalf("expected exactly one outbound frame, got %d", sendCount)
	}

	var resumed int
	r.Resume(context.Background(), OKMetrics, []byte("payload"))
	for _, resp := range []*Responder{resp1, resp2} {
		if !resp.Fulfilled() {
			t.Error("responder must be fulfilled after resume")
		} else {
			resumed++
		}
	}
	if resumed != 2 {
		t.Fatalf("expected both responders resumed, got %d", resumed)
	}
}

func TestRequesterOverflowRejectsImmediately(t *testing.T) {
	t.Parallel()

	var r Requester
	for i := 0; i < pendingQueueCapacity; i++ {
		resp, _ := newTestResponder()
		r.RequestMetrics(context.Background(), resp, func(op byte, payload []byte) error { return nil })
	}

	overflow, rec := newTestResponder()
	called := false
	r.RequestMetrics(context.Background(), overflow, func(op byte, payload []byte) error {
		called = true
		return nil
	})

	if called {
		t.Error("overflowing request must not emit a frame")
	}
	if rec.Code != Unavailable.Status {
		t.Fatalf("expected status %d, got %d", Unavailable.Status, rec.Code)
	}
}

func TestRequesterSendFailureDrainsWithUnavailable(t *testing.T) {
	t.Parallel()

	var r Requester
	resp, rec := newTestResponder()

	r.RequestMetrics(context.Background(), resp, func(op byte, payload []byte) error {
		return errors.New("broken pipe")
	})

	if rec.Code != Unavailable.Status {
		t.Fatalf("expected status %d, got %d", Unavailable.Status, rec.Code)
	}
}
