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

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func feedInChunks(t *testing.T, d *Decoder, frame []byte, chunkSizes []int) {
	t.Helper()

	i := 0
	for _, size := range chunkSizes {
		end := i + size
		if end > len(frame) {
			end = len(frame)
		}
		require.NoError(t, d.ReadBytes(frame[i:end]))
		i = end
	}
	if i < len(frame) {
		require.NoError(t, d.ReadBytes(frame[i:]))
	}
}

func TestDecoderRoundTripsMetricsAcrossArbitrarySplits(t *testing.T) {
	t.Parallel()

	body := []byte("journald_exporter_up 1\n")
	frame := EncodeFrame(OpMetricsSnapshot, body)

	splits := [][]int{
		{len(frame)},
		{1, 1, 1, 1, 1, 1, 1, 1, 1, len(frame)},
		{4, 1, 4, len(frame)},
		{len(frame) - 1, 1},
	}

	for _, chunks := range splits {
		d := NewDecoder()
		feedInChunks(t, d, frame, chunks)

		resp := d.TakeResponse()
		require.Equal(t, ResponseSome, resp.Metrics.Kind)
		require.True(t, bytes.Equal(body, resp.Metrics.Value))
		require.Equal(t, ResponseNone, resp.KeySet.Kind)
	}
}

func TestDecoderRoundTripsKeySet(t *testing.T) {
	t.Parallel()

	var payload []byte
	payload = append(payload, []byte("0123456789abcdef")...)
	payload = append(payload, []byte("fedcba9876543210")...)
	frame := EncodeFrame(OpKeySetUpdate, payload)

	d := NewDecoder()
	feedInChunks(t, d, frame, []int{3, 7, 2, len(frame)})

	resp := d.TakeResponse()
	require.Equal(t, ResponseSome, resp.KeySet.Kind)
	require.Equal(t, 2, resp.KeySet.Value.Len())
	require.True(t, resp.KeySet.Value.Check([]byte("0123456789abcdef")))
	require.True(t, resp.KeySet.Value.Check([]byte("fedcba9876543210")))
	require.False(t, resp.KeySet.Value.Check([]byte("0000000000000000")))
}

func TestDecoderTieBreakKeepsLatestOfSameKind(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	require.NoError(t, d.ReadBytes(EncodeFrame(OpMetricsSnapshot, []byte("first"))))
	require.NoError(t, d.ReadBytes(EncodeFrame(OpMetricsSnapshot, []byte("second"))))

	resp := d.TakeResponse()
	require.Equal(t, ResponseSome, resp.Metrics.Kind)
	require.Equal(t, "second", string(resp.Metrics.Value))
}

func TestDecoderVersionMismatchIsFatal(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	bad := append([]byte{0, 0, 0, 0}, byte(OpMetricsSnapshot))
	err := d.ReadBytes(bad)
	require.ErrorIs(t, err, ErrVersionMismatch{})
}

func TestDecoderUnknownOpIsSkipped(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	frame := EncodeFrame(0x7F, []byte("ignored"))
	require.NoError(t, d.ReadBytes(frame))

	resp := d.TakeResponse()
	require.Equal(t, ResponseNone, resp.Metrics.Kind)
	require.Equal(t, ResponseNone, resp.KeySet.Kind)

	// the decoder must still be ready to parse the next frame correctly.
	require.NoError(t, d.ReadBytes(EncodeFrame(OpMetricsSnapshot, []byte("ok"))))
	resp = d.TakeResponse()
	require.Equal(t, ResponseSome, resp.Metrics.Kind)
	require.Equal(t, "ok", string(resp.Metrics.Value))
}

func TestDecoderAllocationFailureForMetrics(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	d.Alloc = func(n int) ([]byte, bool) { return nil, false }

	require.NoError(t, d.ReadBytes(EncodeFrame(OpMetricsSnapshot, []byte("payload"))))

	resp := d.TakeResponse()
	require.Equal(t, ResponseAllocationFailed, resp.Metrics.Kind)

	// the decoder resumes normal operation for the next frame.
	d.Alloc = nil
	require.NoError(t, d.ReadBytes(EncodeFrame(OpMetricsSnapshot, []byte("ok"))))
	resp = d.TakeResponse()
	require.Equal(t, ResponseSome, resp.Metrics.Kind)
}

func TestDecoderZeroLengthPayload(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	require.NoError(t, d.ReadBytes(EncodeFrame(OpKeySetUpdate, nil)))

	resp := d.TakeResponse()
	require.Equal(t, ResponseSome, resp.KeySet.Kind)
	require.Equal(t, 0, resp.KeySet.Value.Len())
}
