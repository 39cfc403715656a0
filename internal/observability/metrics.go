// Package observability carries the metrics and tracing hooks of the service.
package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"segtag/internal/session"
)

// Recorder observes the outcome of a named operation.
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// StatsSource exposes session counters.
type StatsSource interface {
	Stats() session.Stats
}

// Metrics owns a private Prometheus registry so tests and embedded uses do
// not collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	operations   *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
}

// NewMetrics registers the service collectors. src may be nil.
func NewMetrics(src StatsSource) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	m := &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "segtag_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "segtag_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"route"}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "segtag_operations_total",
			Help: "Session operations by result",
		}, []string{"operation", "result"}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "segtag_operation_duration_seconds",
			Help:    "Session operation latency",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
		}, []string{"operation"}),
	}
	if src != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "segtag_asset_handles_outstanding",
			Help: "Asset handles resolved and not yet released",
		}, func() float64 { return float64(src.Stats().Outstanding) })
		counter := func(name, help string, get func(session.Stats) uint64) {
			f.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
				return float64(get(src.Stats()))
			})
		}
		counter("segtag_labels_total", "Labels applied", func(s session.Stats) uint64 { return s.Labels })
		counter("segtag_snapshot_saves_total", "Snapshots written", func(s session.Stats) uint64 { return s.Saves })
		counter("segtag_snapshot_save_failures_total", "Snapshot writes that failed", func(s session.Stats) uint64 { return s.SaveFailures })
		counter("segtag_asset_loads_requested_total", "Asset loads requested", func(s session.Stats) uint64 { return s.Loader.Requested })
		counter("segtag_asset_loads_applied_total", "Asset loads installed", func(s session.Stats) uint64 { return s.Loader.Applied })
		counter("segtag_asset_loads_stale_total", "Asset loads discarded as stale", func(s session.Stats) uint64 { return s.Loader.Stale })
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Observe implements Recorder.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.opDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
