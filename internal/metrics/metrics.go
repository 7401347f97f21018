// Package metrics exposes store activity as prometheus collectors.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MikhailWahib/flintkv/internal/kverr"
)

const namespace = "flintkv"

// Metrics holds the collectors updated by the coordinator.
type Metrics struct {
	ops       *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	keys      prometheus.Gauge
	logBytes  prometheus.Gauge
	snapshots prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "The total number of store operations by kind and result",
		}, []string{"op", "result"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time from dequeue to reply for store operations",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),
		keys: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keys",
			Help:      "The number of live keys",
		}),
		logBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "log_bytes",
			Help:      "The size of the active log in bytes",
		}),
		snapshots: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "The total number of published snapshots",
		}),
	}
}

// Observe records one finished operation.
func (m *Metrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, Result(err)).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// SetStoreSize updates the size gauges.
func (m *Metrics) SetStoreSize(keys int, logBytes int64) {
	if m == nil {
		return
	}
	m.keys.Set(float64(keys))
	m.logBytes.Set(float64(logBytes))
}

// SnapshotPublished counts a published snapshot.
func (m *Metrics) SnapshotPublished() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}

// Result maps an operation error to its metric label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, kverr.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, kverr.ErrStoreClosed):
		return "closed"
	case errors.Is(err, kverr.ErrCorruptLog):
		return "corrupt"
	default:
		return "error"
	}
}
