// Package prompush implements a Prometheus Pushgateway backend for the
// internal/metrics package. A rebuild is a batch job with no scrape endpoint,
// so series live in a private registry and are pushed on Flush.
package prompush

import (
	"fmt"
	"sync"

	"natality/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend implements metrics.Backend on a private registry.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	steps     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	rows      *prometheus.CounterVec
	rejects   *prometheus.CounterVec
	anomalies prometheus.Counter

	mu sync.Mutex // serializes pushes
}

// NewBackend registers the natality series and prepares a pusher for job at
// url. Nothing is sent until Flush.
//
// Errors:
//   - Returns an error if job or url is empty.
func NewBackend(job, url string) (*Backend, error) {
	if job == "" || url == "" {
		return nil, fmt.Errorf("prompush: job and url are required (job=%q url=%q)", job, url)
	}
	b := &Backend{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline steps by outcome.",
		}, []string{"step", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDuration,
			Help:    "Pipeline step wall time.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"step", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Birth records by kind (staged, malformed, loaded).",
		}, []string{"kind"}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RejectsTotal,
			Help: "Values nulled during type coercion, by reason.",
		}, []string{"reason"}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.AnomaliesTotal,
			Help: "Records with more than one positive Down syndrome source.",
		}),
	}
	b.reg.MustRegister(b.steps, b.durations, b.rows, b.rejects, b.anomalies)
	b.pusher = push.New(url, job).Gatherer(b.reg)
	return b, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rows.WithLabelValues(labels["kind"]).Add(delta)
	case metrics.RejectsTotal:
		b.rejects.WithLabelValues(labels["reason"]).Add(delta)
	case metrics.AnomaliesTotal:
		b.anomalies.Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDuration || value < 0 {
		return
	}
	b.durations.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the registry, replacing the job's previous group.
func (b *Backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: %w", err)
	}
	return nil
}

// Gatherer exposes the registry for tests and ad-hoc inspection.
func (b *Backend) Gatherer() prometheus.Gatherer { return b.reg }

var _ metrics.Backend = (*Backend)(nil)
