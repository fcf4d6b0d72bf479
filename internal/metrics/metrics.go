// Package metrics exposes the Zone Server's Prometheus gauges and
// histograms over a small net/http endpoint, the one ambient concern named
// in the pack's other tower-defense example (mikoajp-tower-defense) that
// the teacher's own MMO server lacks but every long-running service in the
// pack otherwise carries.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the metrics the scheduler updates each tick and the
// event-publisher gauges that cmd/zoneserver mirrors periodically.
type Registry struct {
	TickDuration     prometheus.Histogram
	ActiveSessions   prometheus.Gauge
	EventQueueDepth  prometheus.Gauge
	EventsDropped    prometheus.Counter

	registry *prometheus.Registry
	server   *http.Server
}

// NewRegistry constructs and registers all metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "towerwars",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent running one scheduler tick across all active sessions.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "towerwars",
			Subsystem: "session",
			Name:      "active_total",
			Help:      "Number of sessions currently tracked by the session manager.",
		}),
		EventQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "towerwars",
			Subsystem: "events",
			Name:      "publisher_queue_depth",
			Help:      "Approximate number of events queued for publish.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "towerwars",
			Subsystem: "events",
			Name:      "publisher_dropped_total",
			Help:      "Events dropped because the publisher queue was full.",
		}),
		registry: reg,
	}

	reg.MustRegister(r.TickDuration, r.ActiveSessions, r.EventQueueDepth, r.EventsDropped)
	return r
}

// ObserveTickDuration records how long one scheduler tick took across all
// active sessions, satisfying internal/scheduler.Metrics.
func (r *Registry) ObserveTickDuration(d time.Duration) {
	r.TickDuration.Observe(d.Seconds())
}

// SetActiveSessions records the current number of active sessions,
// satisfying internal/scheduler.Metrics.
func (r *Registry) SetActiveSessions(n int) {
	r.ActiveSessions.Set(float64(n))
}

// Serve starts the /metrics HTTP endpoint and blocks until ctx is
// cancelled, then shuts the server down gracefully.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	r.server = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
