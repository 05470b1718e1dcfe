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
	"bytes"
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/netip"
	"unicode/utf8"

	"github.com/journald-exporter/journald-exporter/internal/ipc"
)

// RequestContext is everything the handler needs about one accepted HTTP
// request, captured at accept time.
type RequestContext struct {
	Authorization []byte
	PeerAddr      netip.Addr
	Route         Route
	ReceivedSecs  uint64
}

const basicPrefix = "Basic "

// trimAuthToken strips leading/trailing tab, form-feed, and space, then up
// to two trailing '=' padding characters (the exact amount depending on the
// trimmed length mod 4, mirroring the padding rules of standard base64).
func trimAuthToken(data []byte) []byte {
	for len(data) > 0 && isAuthTrim(data[0]) {
		data = data[1:]
	}
	for len(data) > 0 && isAuthTrim(data[len(data)-1]) {
		data = data[:len(data)-1]
	}

	switch n := len(data); {
	case n%4 == 0 && bytes.HasSuffix(data, []byte("==")):
		return data[:n-2]
	case n%4 == 0 && bytes.HasSuffix(data, []byte("=")):
		return data[:n-1]
	case n%4 == 3 && bytes.HasSuffix(data, []byte("=")):
		return data[:n-1]
	default:
		return data
	}
}

func isAuthTrim(b byte) bool {
	return b == '\t' || b == '\x0c' || b == ' '
}

// HandleRequest implements the per-request protocol of §4.5: a TRACK_REQUEST
// frame is always sent first, then the request is dispatched by route. A
// MetricsGet request that survives auth and throttling is handed to
// requester.RequestMetrics to be queued and eventually resumed.
func HandleRequest(ctx context.Context, state *State, req RequestContext, resp *Responder, write Write) {
	if err := write(ipc.OpTrackRequest, nil); err != nil {
		resp.Respond(Unavailable)

		return
	}

	switch req.Route {
	case RouteInvalidMethod:
		resp.Respond(MethodNotAllowed)
	case RouteInvalidPath:
		resp.Respond(NotFound)
	case RouteMetricsGet:
		if handleMetricsGet(state, req, resp) {
			state.Requester.RequestMetrics(ctx, resp, write)
		}
	}
}

// handleMetricsGet runs the auth + throttle sub-protocol of §4.5 table. It
// returns true iff resp should be queued for a metrics snapshot; otherwise
// it has already been responded to.
func handleMetricsGet(state *State, req RequestContext, resp *Responder) bool {
	if req.Authorization == nil {
		resp.Respond(BadAuth)

		return false
	}

	if !bytes.HasPrefix(req.Authorization, []byte(basicPrefix)) {
		resp.Respond(BadAuth)

		return false
	}
	rest := req.Authorization[len(basicPrefix):]

	if !utf8.Valid(rest) {
		resp.Respond(BadAuth)

		return false
	}

	trimmed := trimAuthToken(rest)

	decoded, err := base64.RawStdEncoding.DecodeString(string(trimmed))
	if err != nil {
		resp.Respond(BadAuth)

		return false
	}

	const userPrefix = "metrics:"
	var password []byte
	if bytes.HasPrefix(decoded, []byte(userPrefix)) && len(decoded) > len(userPrefix) {
		password = decoded[len(userPrefix):]
	} else {
		if bytes.Contains(decoded, []byte(":")) {
			resp.Respond(Forbidden)
		} else {
			resp.Respond(BadAuth)
		}

		return false
	}

	keys := state.Keys()
	if keys.Len() == 0 || !keys.Check(password) {
		resp.Respond(Forbidden)

		return false
	}

	if state.CheckThrottled(req.ReceivedSecs, req.PeerAddr) {
		resp.Respond(Throttled)

		return false
	}

	return true
}

// ClassifyHTTPRoute adapts an *http.Request into a Route, per §3/§6.
func ClassifyHTTPRoute(r *http.Request) Route {
	return ClassifyRoute(r.Method, r.URL.Path)
}

// PeerAddrFromRemoteAddr normalizes an http.Request.RemoteAddr-style
// "host:port" string into the IPv6 address the limiter keys on, mapping
// IPv4 peers into IPv4-mapped IPv6 form.
func PeerAddrFromRemoteAddr(hostport string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}

	return normalizePeer(addr), true
}

func normalizePeer(addr netip.Addr) netip.Addr {
	if addr.Is4() {
		return netip.AddrFrom16(addr.As16())
	}

	return addr
}
