// Package metrics exports engine operation outcomes to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mixinhost/internal/mixin"
)

var _ mixin.MetricsRecorder = (*Recorder)(nil)

// Recorder counts operations by outcome and observes their latency.
type Recorder struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRecorder registers the mixin collectors with reg. A nil reg uses a
// fresh registry so repeated construction in one process never collides.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Recorder{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mixinhost",
			Name:      "operations_total",
			Help:      "Mixin engine operations by outcome.",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mixinhost",
			Name:      "operation_duration_seconds",
			Help:      "Mixin engine operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"operation"}),
	}
	for _, c := range []prometheus.Collector{r.total, r.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return r, nil
}

// Observe implements mixin.MetricsRecorder.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := string(mixin.AuditStatusSuccess)
	if !success {
		status = string(mixin.AuditStatusError)
	}
	r.total.WithLabelValues(operation, status).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}
