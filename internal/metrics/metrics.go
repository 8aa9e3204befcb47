// Package metrics is the process-wide metrics facade. Pipeline code records
// through the helpers here; a backend (Pushgateway, Datadog) is installed once
// at startup with SetBackend. Until then every call goes to a nop backend.
package metrics

import (
	"sync"
	"time"
)

// Series recorded by the pipeline. Backends key on these names and ignore
// anything else.
const (
	StepTotal      = "natality_step_total"
	StepDuration   = "natality_step_duration_seconds"
	RowsTotal      = "natality_rows_total"
	RejectsTotal   = "natality_coerce_rejects_total"
	AnomaliesTotal = "natality_ds_anomalies_total"
	StatusOK       = "ok"
	StatusError    = "error"
)

// Labels are the dimensions of one observation.
type Labels map[string]string

// Backend receives observations.
//
// Concurrency:
//   - Implementations must be safe for concurrent use; per-year workers
//     record in parallel.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}
func (nop) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b. A nil b restores the nop backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nop{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend.
func Flush() error { return current().Flush() }

// RecordStep counts one pipeline step and observes its duration.
// Steps are normalize, stage_year, reconcile, reference, load, write,
// reference_tables and commit.
func RecordStep(step string, err error, d time.Duration) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	l := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordRows counts rows by kind: staged, malformed, loaded.
func RecordRows(kind string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{"kind": kind})
}

// RecordRejects counts values the coercion engine nulled, by reason:
// parse_invalid, non_integer, range_invalid.
func RecordRejects(reason string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RejectsTotal, float64(n), Labels{"reason": reason})
}

// RecordAnomalies counts records with more than one positive Down syndrome
// source.
func RecordAnomalies(n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(AnomaliesTotal, float64(n), nil)
}
