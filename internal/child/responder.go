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

	"github.com/journald-exporter/journald-exporter/internal/log"
)

// Responder is a one-shot capability: "the ability to send exactly one HTTP
// response". Handing one out and never calling Respond/Fail on it is a bug,
// not a crash. There is no finalizer: every code path that gives up on a
// responder calls Fail, which logs a warning and answers with Unavailable.
type Responder struct {
	w         http.ResponseWriter
	fulfilled bool
	status    int
}

// NewResponder wraps w in a Responder. Callers must eventually call exactly
// one of Respond, RespondBody, or Fail.
func NewResponder(w http.ResponseWriter) *Responder {
	return &Responder{w: w}
}

// Respond writes head's status and headers with no body, then marks the
// capability fulfilled.
func (r *Responder) Respond(head *ResponseHead) {
	r.RespondBody(head, nil)
}

// RespondBody writes head's status and headers followed by body.
func (r *Responder) RespondBody(head *ResponseHead, body []byte) {
	if r.fulfilled {
		panic("child: responder fulfilled twice")
	}

	ApplyHeaders(r.w.Header(), head.Header)
	r.w.WriteHeader(head.Status)
	if len(body) > 0 {
		_, _ = r.w.Write(body)
	}

	r.status = head.Status
	r.fulfilled = true
}

// Fail is used when the capability must be dropped without ever producing a
// response - e.g. the pending queue overflowed before the worker got to it.
// It still emits a response (Unavailable) because the caller is always
// holding a real http.ResponseWriter that the net/http server expects to be
// written to.
func (r *Responder) Fail(ctx context.Context, reason string) {
	if r.fulfilled {
		return
	}

	log.WarningLog(ctx, "responder dropped without a reply: "+reason)
	r.Respond(Unavailable)
}

// Fulfilled reports whether Respond/RespondBody/Fail has already run.
func (r *Responder) Fulfilled() bool {
	return r.fulfilled
}

// Status returns the status code of the response already sent, or 0 if
// nothing has been sent yet.
func (r *Responder) Status() int {
	return r.status
}
