package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"natality/internal/config"
	"natality/internal/metrics"
	"natality/internal/metrics/datadog"
	"natality/internal/pipeline"
)

const validConfig = `{
  "job": "job1",
  "source": {"dir": "/data/natality"},
  "staging": {"dir": "/tmp/stage"},
  "storage": {"kind": "sqlite", "dsn": "/tmp/births.db"}
}`

// fakeRunner records the config it was run with.
type fakeRunner struct {
	err    error
	sum    *pipeline.Summary
	years  []pipeline.YearSummary
	calls  atomic.Int64
	checks atomic.Int64

	mu      sync.Mutex
	lastCfg config.Pipeline
}

func (r *fakeRunner) Run(_ context.Context, p config.Pipeline) (*pipeline.Summary, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.lastCfg = p
	r.mu.Unlock()
	return r.sum, r.err
}

func (r *fakeRunner) Check(context.Context, config.Pipeline) ([]pipeline.YearSummary, error) {
	r.checks.Add(1)
	return r.years, r.err
}

// fakeMetricsBackend is a metrics backend with a Close.
type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
	flushed  atomic.Int64
	flushErr error
}

func (b *fakeMetricsBackend) IncCounter(string, float64, metrics.Labels)       {}
func (b *fakeMetricsBackend) ObserveHistogram(string, float64, metrics.Labels) {}

func (b *fakeMetricsBackend) Flush() error {
	b.flushed.Add(1)
	return b.flushErr
}

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

func failingDeps(t *testing.T) appDeps {
	return appDeps{
		readFile: func(string) ([]byte, error) {
			t.Fatalf("readFile must not be called on usage errors")
			return nil, nil
		},
		unmarshal: func([]byte, any) error {
			t.Fatalf("unmarshal must not be called on usage errors")
			return nil
		},
		newRunner: func(*log.Logger, bool) runner {
			t.Fatalf("newRunner must not be called on usage errors")
			return &fakeRunner{}
		},
		initMetrics: func(context.Context, string, string, string) (func(), error) {
			t.Fatalf("initMetrics must not be called on usage errors")
			return func() {}, nil
		},
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{name: "missing_config_flag", args: []string{}, wantStderrSub: "usage: natality -config"},
		{name: "blank_config_value", args: []string{"-config", "   "}, wantStderrSub: "usage: natality -config"},
		{name: "unknown_flag", args: []string{"-nope"}, wantStderrSub: "flag provided but not defined"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, failingDeps(t))

			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_ReadParseMetricsRun_FullFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		readErr          error
		unmarshalErr     error
		initMetricsErr   error
		runErr           error
		sum              *pipeline.Summary
		wantCode         int
		wantStderrSub    string
		wantStdout       string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{
			name:          "read_config_error",
			readErr:       errors.New("no such file"),
			wantCode:      1,
			wantStderrSub: "read config:",
		},
		{
			name:          "parse_config_error",
			unmarshalErr:  errors.New("bad json"),
			wantCode:      1,
			wantStderrSub: "parse config:",
		},
		{
			name:           "init_metrics_error",
			initMetricsErr: errors.New("metrics unavailable"),
			wantCode:       1,
			wantStderrSub:  "init metrics:",
		},
		{
			name:             "runner_error_runs_cleanup",
			runErr:           errors.New("1 of 3 years failed to stage"),
			wantCode:         1,
			wantStderrSub:    "run: 1 of 3 years",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
		{
			name:             "success_prints_summary",
			sum:              &pipeline.Summary{Table: "us_births", Years: make([]pipeline.YearSummary, 2), Loaded: 42},
			wantCode:         0,
			wantStdout:       "ok table=us_births years=2 rows=42\n",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
		{
			name:             "success_without_summary",
			wantCode:         0,
			wantStdout:       "ok\n",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{err: tc.runErr, sum: tc.sum}

			var cleanupCalls atomic.Int64
			deps := appDeps{
				readFile: func(path string) ([]byte, error) {
					if path != "cfg.json" {
						t.Fatalf("readFile path=%q, want %q", path, "cfg.json")
					}
					if tc.readErr != nil {
						return nil, tc.readErr
					}
					return []byte(validConfig), nil
				},
				unmarshal: func(data []byte, v any) error {
					if tc.unmarshalErr != nil {
						return tc.unmarshalErr
					}
					return json.Unmarshal(data, v)
				},
				initMetrics: func(_ context.Context, jobName, backendName, gatewayURL string) (func(), error) {
					if jobName != "job1" {
						t.Fatalf("jobName=%q, want %q", jobName, "job1")
					}
					if backendName != "none" {
						t.Fatalf("backendName=%q, want none", backendName)
					}
					if gatewayURL != "http://gw:9091" {
						t.Fatalf("gatewayURL=%q, want flag value", gatewayURL)
					}
					if tc.initMetricsErr != nil {
						return func() {}, tc.initMetricsErr
					}
					return func() { cleanupCalls.Add(1) }, nil
				},
				newRunner: func(*log.Logger, bool) runner { return fr },
			}

			code := runMain(
				context.Background(),
				[]string{"-config", "cfg.json", "-metrics-backend", "none", "-pushgateway-url", "http://gw:9091"},
				&stdout,
				&stderr,
				deps,
			)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if got := stdout.String(); got != tc.wantStdout {
				t.Fatalf("stdout=%q, want %q", got, tc.wantStdout)
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
			if tc.wantRunnerCalls > 0 {
				fr.mu.Lock()
				defer fr.mu.Unlock()
				// Defaults are applied before the runner sees the config.
				if fr.lastCfg.Storage.Table != config.DefaultTable {
					t.Fatalf("runner table=%q, want %q", fr.lastCfg.Storage.Table, config.DefaultTable)
				}
			}
		})
	}
}

func TestRunMain_InvalidConfigStopsBeforeMetrics(t *testing.T) {
	t.Parallel()

	deps := failingDeps(t)
	deps.readFile = func(string) ([]byte, error) {
		return []byte(`{"storage": {"kind": "oracle"}}`), nil
	}
	deps.unmarshal = json.Unmarshal

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "bad.json"}, &stdout, &stderr, deps)

	if code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}
	for _, want := range []string{
		"error: source.dir:",
		"error: staging.dir:",
		`error: storage.kind: unsupported kind "oracle"`,
		"config: bad.json is invalid",
	} {
		if !strings.Contains(stderr.String(), want) {
			t.Fatalf("stderr=%q, want contains %q", stderr.String(), want)
		}
	}
}

func TestRunMain_ValidateOnly(t *testing.T) {
	t.Parallel()

	deps := failingDeps(t)
	deps.readFile = func(string) ([]byte, error) { return []byte(validConfig), nil }
	deps.unmarshal = json.Unmarshal

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "cfg.json", "-validate"}, &stdout, &stderr, deps)

	if code != 0 {
		t.Fatalf("exit code=%d, want 0; stderr=%q", code, stderr.String())
	}
	if got := stdout.String(); got != "config: cfg.json is valid\n" {
		t.Fatalf("stdout=%q", got)
	}
	// Missing reference paths are warnings, printed but not fatal.
	if !strings.Contains(stderr.String(), "warning: reference.case_weights:") {
		t.Fatalf("stderr=%q, want a case_weights warning", stderr.String())
	}
}

func TestRunMain_CheckPrintsYearsWithoutRunning(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{
		years: []pipeline.YearSummary{
			{Year: 2010, Vintage: "2010(transition)", Format: "csv", Path: "natl2010.csv"},
			{Year: 2012, Vintage: "2012(transition)", Format: "csv", Path: "natl2012.csv", Err: errors.New("missing ca_downs")},
		},
		err: errors.New("1 of 2 years cannot be mapped"),
	}
	deps := failingDeps(t)
	deps.readFile = func(string) ([]byte, error) { return []byte(validConfig), nil }
	deps.unmarshal = json.Unmarshal
	deps.newRunner = func(*log.Logger, bool) runner { return fr }

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", "cfg.json", "-check"}, &stdout, &stderr, deps)

	if code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}
	want := "2010\t2010(transition)\tcsv\tnatl2010.csv\tok\n" +
		"2012\t2012(transition)\tcsv\tnatl2012.csv\terror: missing ca_downs\n"
	if stdout.String() != want {
		t.Fatalf("stdout=%q, want %q", stdout.String(), want)
	}
	if !strings.Contains(stderr.String(), "check: 1 of 2 years") {
		t.Fatalf("stderr=%q", stderr.String())
	}
	if fr.checks.Load() != 1 || fr.calls.Load() != 0 {
		t.Fatalf("checks=%d runs=%d, want 1 and 0", fr.checks.Load(), fr.calls.Load())
	}
}

// The tests below swap package-level seams and must not run in parallel.

func swapSeams(t *testing.T) *bytes.Buffer {
	t.Helper()
	oldDD, oldPush, oldSet, oldLog := newDatadogBackend, newPushBackend, setMetricsBackend, logPrintf
	t.Cleanup(func() {
		newDatadogBackend, newPushBackend, setMetricsBackend, logPrintf = oldDD, oldPush, oldSet, oldLog
	})
	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }
	return &logged
}

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	swapSeams(t)
	setMetricsBackend = func(metrics.Backend) {
		t.Fatalf("setMetricsBackend must not be called for none")
	}

	for _, name := range []string{"", "none", "noop", " NONE "} {
		cleanup, err := initMetrics(context.Background(), "job", name, defaultPushGateway)
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v, want nil", name, err)
		}
		if cleanup == nil {
			t.Fatalf("cleanup=nil, want non-nil")
		}
		cleanup()
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	logged := swapSeams(t)
	t.Setenv("METRICS_TAGS", "team:births, env:test")

	b := &fakeMetricsBackend{}
	var (
		newCalls atomic.Int64
		set      []metrics.Backend
		gotOpts  datadog.Options
	)
	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		newCalls.Add(1)
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(mb metrics.Backend) { set = append(set, mb) }

	cleanup, err := initMetrics(context.Background(), "jobA", "datadog", defaultPushGateway)
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	if gotOpts.JobName != "jobA" {
		t.Fatalf("JobName=%q, want jobA", gotOpts.JobName)
	}
	if len(gotOpts.Tags) != 2 {
		t.Fatalf("Tags=%v, want two tags from METRICS_TAGS", gotOpts.Tags)
	}
	if newCalls.Load() != 1 || len(set) != 1 || set[0] != b {
		t.Fatalf("backend not installed: new=%d set=%v", newCalls.Load(), set)
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if len(set) != 2 || set[1] != nil {
		t.Fatalf("cleanup must restore the nop backend, got %v", set)
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_Datadog_CloseErrorIsLogged(t *testing.T) {
	logged := swapSeams(t)
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}
	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) { return b, nil }
	setMetricsBackend = func(metrics.Backend) {}

	cleanup, err := initMetrics(context.Background(), "job", "dd", defaultPushGateway)
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	cleanup()

	if !strings.Contains(logged.String(), "metrics: datadog close error: flush failed") {
		t.Fatalf("log=%q, want close error", logged.String())
	}
}

func TestInitMetrics_Datadog_InitErrorIsReturned(t *testing.T) {
	swapSeams(t)
	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) {
		return nil, errors.New("missing DD_API_KEY")
	}
	setMetricsBackend = func(metrics.Backend) { t.Fatalf("must not install a failed backend") }

	cleanup, err := initMetrics(context.Background(), "job", "datadog", defaultPushGateway)
	if err == nil || !strings.Contains(err.Error(), "datadog: missing DD_API_KEY") {
		t.Fatalf("err=%v, want wrapped init error", err)
	}
	cleanup()
}

func TestInitMetrics_Pushgateway_FlushesOnCleanup(t *testing.T) {
	logged := swapSeams(t)
	b := &fakeMetricsBackend{flushErr: errors.New("gateway down")}
	var gotJob, gotURL string
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		gotJob, gotURL = job, url
		return b, nil
	}
	var set []metrics.Backend
	setMetricsBackend = func(mb metrics.Backend) { set = append(set, mb) }

	cleanup, err := initMetrics(context.Background(), "natality", "pushgateway", "http://gw:9091")
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	if gotJob != "natality" || gotURL != "http://gw:9091" {
		t.Fatalf("job=%q url=%q", gotJob, gotURL)
	}
	cleanup()

	if b.flushed.Load() != 1 {
		t.Fatalf("flushed=%d, want 1", b.flushed.Load())
	}
	if len(set) != 2 || set[1] != nil {
		t.Fatalf("set=%v, want install then reset", set)
	}
	if !strings.Contains(logged.String(), "gateway down") {
		t.Fatalf("log=%q, want flush error", logged.String())
	}
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), "job", "statsd", defaultPushGateway)
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()

	for _, want := range []string{"unknown metrics backend statsd", "none|datadog|pushgateway"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("err=%q, want contains %q", err.Error(), want)
		}
	}
}
