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

// Package metrics exposes the child process's own operational counters, on
// a port distinct from the journal-metrics passthrough surface on /metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/journald-exporter/journald-exporter/internal/log"
)

const namespace = "journald_exporter"

// Self holds the child's own observability counters, separate from the
// journal metrics it passes through on behalf of the parent.
type Self struct {
	HTTPRequestsTotal *prometheus.CounterVec
	IPCRequestsTotal  *prometheus.CounterVec
	ThrottledTotal    prometheus.Counter
	PendingQueueDepth prometheus.Gauge
}

// NewSelf builds and registers the self-metrics against registry.
func NewSelf(registry *prometheus.Registry) *Self {
	s := &Self{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and response status.",
		}, []string{"route", "status"}),
		IPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ipc_requests_total",
			Help:      "Outbound IPC frames sent to the parent, by outcome.",
		}, []string{"outcome"}),
		ThrottledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_total",
			Help:      "Requests rejected by the per-second, per-peer rate limiter.",
		}),
		PendingQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_queue_depth",
			Help:      "Responders currently waiting on an in-flight metrics snapshot.",
		}),
	}

	registry.MustRegister(s.HTTPRequestsTotal, s.IPCRequestsTotal, s.ThrottledTotal, s.PendingQueueDepth)

	return s
}

// Serve starts a blocking HTTP server exposing the self-metrics at /metrics
// on addr. It returns when ctx is cancelled or ListenAndServe fails.
func Serve(ctx context.Context, addr string, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.DefaultLog("shutting down self-metrics server")

		return server.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}

		return err
	}
}
