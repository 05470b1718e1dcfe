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

// Command child is the unprivileged, HTTP-facing half of the exporter: it
// speaks the binary IPC protocol to its parent over stdin/stdout and serves
// /metrics to the network.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/journald-exporter/journald-exporter/internal/child"
	"github.com/journald-exporter/journald-exporter/internal/ipc"
	"github.com/journald-exporter/journald-exporter/internal/log"
	"github.com/journald-exporter/journald-exporter/internal/xsync"
	"github.com/journald-exporter/journald-exporter/pkg/metrics"
)

func init() {
	klog.InitFlags(nil)
	if err := flag.Set("logtostderr", "true"); err != nil {
		klog.Exitf("failed to set logtostderr flag: %v", err)
	}
	flag.Parse()
}

// newFrameWriter serializes outbound frame writes to w: the handshake, the
// request worker, and (indirectly) the IPC requester's coalesced send can
// all originate a write, but ipc.TryWrite itself assumes a single writer at
// a time over the pipe.
func newFrameWriter(w ipc.Writer, terminate *xsync.Notify) child.Write {
	var mu sync.Mutex

	return func(op byte, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()

		return ipc.TryWrite(w, terminate, ipc.EncodeFrame(op, payload))
	}
}

func main() {
	cfg, err := child.LoadConfig(os.LookupEnv)
	if err != nil {
		log.FatalLogMsg("invalid configuration: %v", err)
	}

	startSecond := uint64(time.Now().Unix())
	state := child.NewState(startSecond)

	write := newFrameWriter(os.Stdout, &state.Terminate)

	// Initial handshake: request the current key set before any worker
	// thread starts handling HTTP traffic.
	if err := write(ipc.OpRequestKey, nil); err != nil {
		log.FatalLogMsg("failed to send initial REQUEST_KEY handshake: %v", err)
	}

	registry := prometheus.NewRegistry()
	selfMetrics := metrics.NewSelf(registry)
	state.Requester.OnQueueDepth = func(depth int) {
		selfMetrics.PendingQueueDepth.Set(float64(depth))
	}

	srv := child.NewServer(state, instrumentedWrite(write, selfMetrics), startSecond)
	srv.OnRespond = func(route child.Route, status int) {
		selfMetrics.HTTPRequestsTotal.WithLabelValues(routeLabel(route), strconv.Itoa(status)).Inc()
		if status == child.Throttled.Status {
			selfMetrics.ThrottledTotal.Inc()
		}
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		log.FatalLogMsg("failed to bind listener on port %d: %v", cfg.Port, err)
	}

	httpServer := &http.Server{Handler: srv}

	// rootCtx is cancelled both by errgroup (a member returning an error) and
	// by the monitor goroutine below observing state.Terminate, so either
	// shutdown trigger tears down every worker, including the ones (like the
	// self-metrics server) that only know how to watch a context.
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	group, ctx := errgroup.WithContext(rootCtx)

	group.Go(func() error {
		child.RunReaderLoop(ctx, state, os.Stdin)

		return nil
	})

	group.Go(func() error {
		srv.RunRequestWorker(ctx)

		return nil
	})

	group.Go(func() error {
		var err error
		if cfg.UseTLS() {
			err = httpServer.ServeTLS(listener, cfg.TLSCertificate, cfg.TLSPrivateKey)
		} else {
			err = httpServer.Serve(listener)
		}

		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server exited: %w", err)
		}

		return nil
	})

	if cfg.SelfMetricsSet {
		group.Go(func() error {
			return metrics.Serve(ctx, ":"+strconv.Itoa(int(cfg.SelfMetricsPort)), registry)
		})
	}

	// Either direction can initiate shutdown: an errgroup member failing
	// cancels ctx, or the IPC reader loop observing EOF/a protocol error sets
	// state.Terminate directly. This goroutine makes the two equivalent by
	// cancelling rootCtx, so whichever fires first tears down every worker.
	group.Go(func() error {
		select {
		case <-ctx.Done():
			state.Terminate.Set()
		case <-state.Terminate.Done():
			cancelRoot()
		}

		_ = httpServer.Close()

		return nil
	})

	if err := group.Wait(); err != nil {
		log.ErrorLogMsg("child exited with error: %v", err)
		os.Exit(1)
	}
}

func routeLabel(route child.Route) string {
	switch route {
	case child.RouteMetricsGet:
		return "/metrics"
	case child.RouteInvalidPath:
		return "invalid-path"
	default:
		return "invalid-method"
	}
}

// instrumentedWrite counts outbound IPC frames by outcome, feeding the
// self-metrics surface without the requester/handler packages needing to
// know prometheus exists. The outcome labels mirror the HTTP status a
// request relying on this write would ultimately see: a write that fails
// because terminate fired (ipc.ErrTerminated) is the same "pipe is gone"
// condition that resolves to UNAVAILABLE; any other write failure is
// unexpected and is counted the same way an allocation failure on the
// parent's side is - as a server_error.
func instrumentedWrite(write child.Write, self *metrics.Self) child.Write {
	return func(op byte, payload []byte) error {
		err := write(op, payload)

		switch {
		case err == nil:
			self.IPCRequestsTotal.WithLabelValues("ok").Inc()
		case errors.Is(err, ipc.ErrTerminated):
			self.IPCRequestsTotal.WithLabelValues("unavailable").Inc()
		default:
			self.IPCRequestsTotal.WithLabelValues("server_error").Inc()
		}

		return err
	}
}
