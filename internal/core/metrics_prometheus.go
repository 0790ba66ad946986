package core

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports service operations and cursor fetches as
// Prometheus collectors registered on its own registry.
type PrometheusMetricsRecorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	fetches    *prometheus.CounterVec
	rows       *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the collectors on reg, or on a fresh
// registry when reg is nil.
func NewPrometheusMetricsRecorder(reg *prometheus.Registry) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &PrometheusMetricsRecorder{
		registry: reg,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "obsstore",
				Subsystem: "service",
				Name:      "operations_total",
				Help:      "Service operations by outcome",
			},
			[]string{"operation", "status"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "obsstore",
				Subsystem: "service",
				Name:      "operation_duration_seconds",
				Help:      "Service operation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "obsstore",
				Subsystem: "stream",
				Name:      "fetches_total",
				Help:      "Backend fetches issued by series cursors",
			},
			[]string{"series"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "obsstore",
				Subsystem: "stream",
				Name:      "rows_total",
				Help:      "Rows returned by series cursor fetches",
			},
			[]string{"series"},
		),
	}
	for _, c := range []prometheus.Collector{r.operations, r.durations, r.fetches, r.rows} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Registry returns the registry holding the collectors.
func (r *PrometheusMetricsRecorder) Registry() *prometheus.Registry { return r.registry }

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveFetch implements streaming.FetchObserver.
func (r *PrometheusMetricsRecorder) ObserveFetch(seriesID int64, rows int) {
	series := strconv.FormatInt(seriesID, 10)
	r.fetches.WithLabelValues(series).Inc()
	r.rows.WithLabelValues(series).Add(float64(rows))
}
