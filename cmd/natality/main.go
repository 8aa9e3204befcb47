// Command natality rebuilds the unified US natality table from the yearly
// public-use files.
//
// Usage:
//
//	natality -config configs/natality.json [-validate | -check] [-v]
//	         [-metrics-backend none|datadog|pushgateway] [-pushgateway-url URL]
//
// Exit codes: 0 on success, 1 on config, metrics or run failures, 2 on usage
// errors.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"natality/internal/config"
	"natality/internal/metrics"
	"natality/internal/metrics/datadog"
	"natality/internal/metrics/prompush"
	"natality/internal/pipeline"

	// register every storage backend; the config selects one.
	_ "natality/internal/storage/all"
)

const defaultPushGateway = "http://localhost:9091"

// runner is the part of *pipeline.Runner the CLI drives.
type runner interface {
	Run(ctx context.Context, p config.Pipeline) (*pipeline.Summary, error)
	Check(ctx context.Context, p config.Pipeline) ([]pipeline.YearSummary, error)
}

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	readFile    func(path string) ([]byte, error)
	unmarshal   func(data []byte, v any) error
	newRunner   func(logger *log.Logger, verbose bool) runner
	initMetrics func(ctx context.Context, jobName, backendName, gatewayURL string) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		readFile:  os.ReadFile,
		unmarshal: json.Unmarshal,
		newRunner: func(logger *log.Logger, verbose bool) runner {
			r := pipeline.NewDefaultRunner()
			r.Logger = logger
			r.Verbose = verbose
			return r
		},
		initMetrics: initMetrics,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain is main without the process exit: it parses args, loads and
// validates the config, wires metrics and runs one rebuild.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("natality", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath        string
		metricsBackend string
		pushGatewayURL string
		validateOnly   bool
		checkOnly      bool
		verbose        bool
	)
	fs.StringVar(&cfgPath, "config", "", "pipeline config JSON path")
	fs.StringVar(&metricsBackend, "metrics-backend", "", "metrics backend: none, datadog or pushgateway (overrides env METRICS_BACKEND)")
	fs.StringVar(&pushGatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	fs.BoolVar(&validateOnly, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&checkOnly, "check", false, "verify every source file maps onto its vintage, then exit")
	fs.BoolVar(&verbose, "v", false, "enable verbose logs")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(cfgPath) == "" {
		fmt.Fprintln(stderr, "usage: natality -config path/to/natality.json")
		return 2
	}

	raw, err := deps.readFile(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	var p config.Pipeline
	if err := deps.unmarshal(raw, &p); err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}
	p.ApplyDefaults()

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "config: %s is invalid\n", cfgPath)
		return 1
	}
	if validateOnly {
		fmt.Fprintf(stdout, "config: %s is valid\n", cfgPath)
		return 0
	}

	logger := log.New(stderr, "", log.LstdFlags)
	if checkOnly {
		return runCheck(ctx, deps.newRunner(logger, verbose), p, stdout, stderr)
	}

	// flag, then env, then default.
	if metricsBackend == "" {
		metricsBackend = os.Getenv("METRICS_BACKEND")
	}
	if pushGatewayURL == "" {
		pushGatewayURL = os.Getenv("PUSHGATEWAY_URL")
	}
	if pushGatewayURL == "" {
		pushGatewayURL = defaultPushGateway
	}

	cleanup, err := deps.initMetrics(ctx, p.Job, metricsBackend, pushGatewayURL)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	start := time.Now()
	sum, err := deps.newRunner(logger, verbose).Run(ctx, p)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	if verbose {
		logger.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	if sum != nil {
		fmt.Fprintf(stdout, "ok table=%s years=%d rows=%d\n", sum.Table, len(sum.Years), sum.Loaded)
		return 0
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

// runCheck prints one line per discovered year and fails when any year
// cannot be mapped.
func runCheck(ctx context.Context, r runner, p config.Pipeline, stdout, stderr io.Writer) int {
	years, err := r.Check(ctx, p)
	for _, y := range years {
		status := "ok"
		if y.Err != nil {
			status = "error: " + y.Err.Error()
		}
		fmt.Fprintf(stdout, "%d\t%s\t%s\t%s\t%s\n", y.Year, y.Vintage, y.Format, y.Path, status)
	}
	if err != nil {
		fmt.Fprintf(stderr, "check: %v\n", err)
		return 1
	}
	return 0
}

// metricsBackend is a metrics.Backend that owns a flush loop.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Test seams.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url)
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = log.Printf
)

// initMetrics installs the named backend. The returned cleanup is never nil
// and flushes the backend one last time.
func initMetrics(ctx context.Context, jobName, backendName, gatewayURL string) (func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "noop":
		return noop, nil

	case "datadog", "dd":
		tags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			// Close stops the flush loop and submits what is left.
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil

	case "pushgateway", "prometheus":
		b, err := newPushBackend(jobName, gatewayURL)
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil

	default:
		return noop, errors.New("unknown metrics backend " + backendName + " (want none|datadog|pushgateway)")
	}
}
