// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Observations are buffered in memory and submitted on a ticker (default once
// per minute) so a long multi-vintage rebuild shows up as a time series rather
// than a single spike at exit. Close stops the ticker and submits the tail.
//
// Concurrency model:
//   - Year workers call IncCounter/ObserveHistogram at any time.
//   - Flush snapshots and resets buffers under a mutex, then submits out of lock.
//
// If the process is killed with SIGKILL/OOM, Close() won't run.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"natality/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "natality".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "team:epi"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets them.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu  sync.Mutex
	buf snapshot
}

// snapshot is one collection window.
type snapshot struct {
	steps     map[string]float64   // step\x00status -> count
	rows      map[string]float64   // kind -> rows
	rejects   map[string]float64   // reason -> values
	anomalies float64
	durations map[string][]float64 // step\x00status -> seconds
}

func newSnapshot() snapshot {
	return snapshot{
		steps:     make(map[string]float64),
		rows:      make(map[string]float64),
		rejects:   make(map[string]float64),
		durations: make(map[string][]float64),
	}
}

func (s snapshot) isEmpty() bool {
	return len(s.steps) == 0 &&
		len(s.rows) == 0 &&
		len(s.rejects) == 0 &&
		s.anomalies == 0 &&
		len(s.durations) == 0
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop.
//
// Edge cases:
//   - Credentials come from DD_API_KEY / DD_SITE via dd.NewDefaultContext;
//     a missing key surfaces as a Flush error, not here.
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "natality"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		buf:        newSnapshot(),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)
	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush.
// Call it once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown names and non-positive
// deltas are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StepTotal:
		b.buf.steps[stepStatusKey(labels["step"], labels["status"])] += delta
	case metrics.RowsTotal:
		if kind := labels["kind"]; kind != "" {
			b.buf.rows[kind] += delta
		}
	case metrics.RejectsTotal:
		reason := labels["reason"]
		if reason == "" {
			reason = "unknown"
		}
		b.buf.rejects[reason] += delta
	case metrics.AnomaliesTotal:
		b.buf.anomalies += delta
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDuration {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	k := stepStatusKey(labels["step"], labels["status"])
	b.buf.durations[k] = append(b.buf.durations[k], value)
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf
	b.buf = newSnapshot()
	return s
}

// Flush submits buffered metrics and resets the buffers, even when the
// submission fails. It returns nil without submitting when nothing was
// recorded.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure: it turns a snapshot into series stamped nowUnix.
// Series are ordered by metric then tags so payloads are deterministic.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.steps)+len(s.rows)+len(s.rejects)+6*len(s.durations)+1)

	for _, k := range sortedKeys(s.steps) {
		step, status := splitStepStatusKey(k)
		series = append(series, countSeries("natality.step.total", s.steps[k], withTags(b.baseTags, "step:"+step, "status:"+status), nowUnix))
	}
	for _, kind := range sortedKeys(s.rows) {
		series = append(series, countSeries("natality.rows.total", s.rows[kind], withTags(b.baseTags, "kind:"+kind), nowUnix))
	}
	for _, reason := range sortedKeys(s.rejects) {
		series = append(series, countSeries("natality.coerce.rejects.total", s.rejects[reason], withTags(b.baseTags, "reason:"+reason), nowUnix))
	}
	if s.anomalies > 0 {
		series = append(series, countSeries("natality.ds.anomalies.total", s.anomalies, b.baseTags, nowUnix))
	}
	for _, k := range sortedKeys(s.durations) {
		step, status := splitStepStatusKey(k)
		addPercentiles(&series, "natality.step.duration_seconds", withTags(b.baseTags, "step:"+step, "status:"+status), s.durations[k], nowUnix)
	}
	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges for samples.
// It sorts a copy and does nothing for an empty sample set.
func addPercentiles(series *[]datadogV2.MetricSeries, prefix string, tags []string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series,
		gaugeSeries(prefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(prefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(prefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
		gaugeSeries(prefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return point(metric, datadogV2.METRICINTAKETYPE_COUNT, value, tags, nowUnix)
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return point(metric, datadogV2.METRICINTAKETYPE_GAUGE, value, tags, nowUnix)
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func stepStatusKey(step, status string) string {
	return step + "\x00" + status
}

func splitStepStatusKey(k string) (step, status string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	return s[min(max(idx, 0), n-1)]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:epi".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
