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

package ipc

import "encoding/binary"

// ErrVersionMismatch is returned by Decoder.ReadBytes when the magic bytes at
// the start of a frame do not match Magic. It is protocol-fatal: the caller
// (the IPC reader loop) must stop and let the child shut down.
type ErrVersionMismatch struct{}

func (ErrVersionMismatch) Error() string {
	return "ipc: magic bytes mismatch"
}

// ResponseKind tags a ResponseItem.
type ResponseKind int

const (
	// ResponseNone means no frame of this kind completed since the last TakeResponse.
	ResponseNone ResponseKind = iota
	// ResponseAllocationFailed means a frame of this kind completed but its
	// payload buffer could not be allocated.
	ResponseAllocationFailed
	// ResponseSome carries a successfully decoded payload.
	ResponseSome
)

// ResponseItem is one of None, AllocationFailed, or Some(Value).
type ResponseItem[T any] struct {
	Kind  ResponseKind
	Value T
}

// DecoderResponse reports whichever of the two parent->child response kinds
// became ready since the last call to TakeResponse.
type DecoderResponse struct {
	KeySet  ResponseItem[KeySet]
	Metrics ResponseItem[[]byte]
}

type decoderState int

const (
	stateAwaitingMagic decoderState = iota
	stateAwaitingOp
	stateAwaitingLen
	stateAwaitingPayload
)

// AllocFunc allocates a payload buffer of n bytes, returning ok=false to
// simulate (or, in the field, actually hit) an allocation failure. Tests
// inject a failing AllocFunc to exercise the AllocationFailed paths; the
// default always succeeds.
type AllocFunc func(n int) ([]byte, bool)

func defaultAlloc(n int) ([]byte, bool) {
	return make([]byte, n), true
}

// Decoder parses a stream of parent->child frames, accumulating at most one
// in-flight frame's payload at a time (invariant 5 of the design). It is not
// safe for concurrent use; callers serialize access (see xsync.UncontendedMutex).
type Decoder struct {
	Alloc AllocFunc

	state decoderState

	magicMatched int
	op           byte

	lenBuf      [4]byte
	lenMatched  int

	payloadLen      uint32
	payload         []byte
	payloadReceived int
	allocFailed     bool

	pendingKeySet  ResponseItem[KeySet]
	pendingMetrics ResponseItem[[]byte]
}

// NewDecoder returns a ready-to-use Decoder with the default allocator.
func NewDecoder() *Decoder {
	return &Decoder{Alloc: defaultAlloc}
}

// ReadBytes feeds buf into the state machine. buf may contain any number of
// complete or partial frames, split arbitrarily across calls - the decoder
// tolerates any chunking of the underlying byte stream. It returns
// ErrVersionMismatch if the magic bytes of a new frame do not match; every
// other condition (unknown op-id, allocation failure) is handled internally
// and surfaces later via TakeResponse.
func (d *Decoder) ReadBytes(buf []byte) error {
	if d.Alloc == nil {
		d.Alloc = defaultAlloc
	}

	for len(buf) > 0 {
		switch d.state {
		case stateAwaitingMagic:
			for d.magicMatched < len(Magic) && len(buf) > 0 {
				if buf[0] != Magic[d.magicMatched] {
					return ErrVersionMismatch{}
				}
				d.magicMatched++
				buf = buf[1:]
			}
			if d.magicMatched == len(Magic) {
				d.magicMatched = 0
				d.state = stateAwaitingOp
			}

		case stateAwaitingOp:
			d.op = buf[0]
			buf = buf[1:]
			d.lenMatched = 0
			d.state = stateAwaitingLen

		case stateAwaitingLen:
			for d.lenMatched < 4 && len(buf) > 0 {
				d.lenBuf[d.lenMatched] = buf[0]
				d.lenMatched++
				buf = buf[1:]
			}
			if d.lenMatched == 4 {
				d.payloadLen = binary.LittleEndian.Uint32(d.lenBuf[:])
				d.payloadReceived = 0
				if d.payloadLen == 0 {
					d.completeFrame(nil, true)
					d.state = stateAwaitingMagic
				} else {
					payload, ok := d.Alloc(int(d.payloadLen))
					d.payload = payload
					d.allocFailed = !ok
					d.state = stateAwaitingPayload
				}
			}

		case stateAwaitingPayload:
			remaining := int(d.payloadLen) - d.payloadReceived
			n := len(buf)
			if n > remaining {
				n = remaining
			}
			if !d.allocFailed {
				copy(d.payload[d.payloadReceived:], buf[:n])
			}
			d.payloadReceived += n
			buf = buf[n:]
			if d.payloadReceived == int(d.payloadLen) {
				d.completeFrame(d.payload, !d.allocFailed)
				d.payload = nil
				d.state = stateAwaitingMagic
			}
		}
	}

	return nil
}

// completeFrame dispatches one fully-received frame. ok=false means the
// payload buffer failed to allocate; payload is nil in that case. Unknown
// op-ids are silently dropped here - the bytes were already consumed by the
// state machine above, which is the "skip the payload" behavior spec.md asks
// for regardless of op-id.
func (d *Decoder) completeFrame(payload []byte, ok bool) {
	switch d.op {
	case OpMetricsSnapshot:
		if !ok {
			d.pendingMetrics = ResponseItem[[]byte]{Kind: ResponseAllocationFailed}
			return
		}
		d.pendingMetrics = ResponseItem[[]byte]{Kind: ResponseSome, Value: payload}

	case OpKeySetUpdate:
		if !ok {
			d.pendingKeySet = ResponseItem[KeySet]{Kind: ResponseAllocationFailed}
			return
		}
		keys, malformed := NewKeySet(payload)
		if malformed {
			d.pendingKeySet = ResponseItem[KeySet]{Kind: ResponseAllocationFailed}
			return
		}
		d.pendingKeySet = ResponseItem[KeySet]{Kind: ResponseSome, Value: keys}
	}
}

// TakeResponse returns whichever responses became ready since the last call,
// then clears them back to ResponseNone.
func (d *Decoder) TakeResponse() DecoderResponse {
	response := DecoderResponse{KeySet: d.pendingKeySet, Metrics: d.pendingMetrics}
	d.pendingKeySet = ResponseItem[KeySet]{}
	d.pendingMetrics = ResponseItem[[]byte]{}

	return response
}
