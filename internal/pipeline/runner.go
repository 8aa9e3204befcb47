// Package pipeline runs one full rebuild of the unified natality table.
//
// A run has three phases:
//
//  1. stage: every year found in the source directory is normalized into a
//     per-year staging file, several years at a time. A failing year is
//     isolated; the others keep running.
//  2. reconcile: once every year is staged, the staged schemas are unified
//     into one target schema. Nothing is loaded if any year failed.
//  3. load: the store table is recreated, then each year is read back in
//     chunks, aligned to the target schema, extended with the derived
//     columns and inserted. The lookup tables are copied next to it and the
//     store is committed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"natality/internal/coerce"
	"natality/internal/config"
	"natality/internal/derive"
	"natality/internal/frame"
	"natality/internal/metrics"
	"natality/internal/reference"
	"natality/internal/registry"
	"natality/internal/staging"
	"natality/internal/storage"
	"natality/internal/vintage"
)

// Logger is the minimal logging interface used by the Runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Runner wires the harmonization components for one rebuild.
type Runner struct {
	// NewStore opens the destination store. Tests swap in fakes.
	NewStore func(ctx context.Context, cfg storage.Config) (storage.Store, error)

	// LoadReference loads the lookup tables used by the derived fields.
	LoadReference func(ctx context.Context, cfg config.Reference) (*reference.Set, error)

	// Registry defaults to registry.Default().
	Registry *registry.Registry

	Logger Logger

	// Verbose adds per-year and per-field diagnostic lines.
	Verbose bool
}

// NewDefaultRunner returns a Runner over the registered storage backends,
// the configured reference tables and a discard logger.
func NewDefaultRunner() *Runner {
	return &Runner{
		NewStore:      storage.New,
		LoadReference: reference.Load,
		Registry:      registry.Default(),
		Logger:        log.New(io.Discard, "", 0),
	}
}

// YearSummary is the outcome of one year.
type YearSummary struct {
	Year    int
	Path    string
	Vintage string
	Format  string

	Staged    int64
	Malformed int
	Loaded    int64
	Anomalies int64

	// Rejects sums the coercion counters over every field of the year.
	Rejects coerce.Stats
	// Err is set when the year failed to stage.
	Err error
}

// Summary is the outcome of a run.
type Summary struct {
	Table  string
	Schema frame.Schema
	Years  []YearSummary
	Loaded int64

	// Rejects holds the coercion counters per field over all years.
	Rejects *coerce.Report
	Derive  derive.Stats
}

// Failed lists the years that did not stage.
func (s *Summary) Failed() []int {
	var out []int
	for _, y := range s.Years {
		if y.Err != nil {
			out = append(out, y.Year)
		}
	}
	return out
}

// Run executes a rebuild described by p. p must have been through
// ApplyDefaults.
//
// Errors:
//   - Config errors and discovery errors stop the run before any work.
//   - Staging errors are joined over all failed years; nothing is loaded.
//   - *reconcile.SchemaConflictError and *reconcile.CastError abort the load;
//     the store is closed without Commit, so file-backed destinations keep
//     their previous content.
//
// The returned Summary is non-nil whenever staging started, also on error.
func (r *Runner) Run(ctx context.Context, p config.Pipeline) (*Summary, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	r.defaults()
	logf := r.Logger.Printf

	files, err := r.discover(p)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("pipeline: no source files for years %d-%d", r.from(p), r.to(p))
	}
	years := vintage.Years(files)
	logf("pipeline: job=%s years=%d first=%d last=%d storage=%s table=%s workers=%d",
		p.Job, len(years), years[0], years[len(years)-1], p.Storage.Kind, p.Storage.Table, p.Runtime.Workers)

	sum := &Summary{Table: p.Storage.Table, Rejects: coerce.NewReport()}

	start := time.Now()
	staged, err := r.stage(ctx, p, files, sum)
	metrics.RecordStep("normalize", err, time.Since(start))
	if err != nil {
		return sum, err
	}
	defer func() {
		if p.Staging.Keep {
			return
		}
		if err := staging.Remove(staged...); err != nil {
			logf("pipeline: remove staging files: %v", err)
		}
	}()

	start = time.Now()
	target, err := r.reconcile(p, staged)
	metrics.RecordStep("reconcile", err, time.Since(start))
	if err != nil {
		return sum, err
	}

	start = time.Now()
	refs, err := r.LoadReference(ctx, p.Reference)
	metrics.RecordStep("reference", err, time.Since(start))
	if err != nil {
		return sum, fmt.Errorf("pipeline: %w", err)
	}

	start = time.Now()
	err = r.load(ctx, p, staged, target, refs, sum)
	metrics.RecordStep("load", err, time.Since(start))
	if err != nil {
		return sum, err
	}

	r.report(sum)
	return sum, nil
}

func (r *Runner) defaults() {
	if r.NewStore == nil {
		r.NewStore = storage.New
	}
	if r.LoadReference == nil {
		r.LoadReference = reference.Load
	}
	if r.Registry == nil {
		r.Registry = registry.Default()
	}
	if r.Logger == nil {
		r.Logger = log.New(io.Discard, "", 0)
	}
}

func validate(p config.Pipeline) error {
	var errs []error
	for _, iss := range config.ValidatePipeline(p) {
		if iss.Severity == config.SeverityError {
			errs = append(errs, fmt.Errorf("%s: %s", iss.Path, iss.Message))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("pipeline: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (r *Runner) from(p config.Pipeline) int {
	if p.Source.From != 0 {
		return p.Source.From
	}
	first, _ := r.Registry.Years()
	return first
}

func (r *Runner) to(p config.Pipeline) int {
	if p.Source.To != 0 {
		return p.Source.To
	}
	_, last := r.Registry.Years()
	return last
}

func (r *Runner) discover(p config.Pipeline) (map[int]string, error) {
	overrides := make(map[int]string, len(p.Source.Files))
	for k := range p.Source.Files {
		y, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("pipeline: source.files key %q is not a year", k)
		}
		if path, ok := p.Source.FileFor(y); ok {
			overrides[y] = path
		}
	}
	files, err := vintage.Discover(p.Source.Dir, r.from(p), r.to(p), overrides)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return files, nil
}

// report logs the end-of-run diagnostics.
func (r *Runner) report(sum *Summary) {
	logf := r.Logger.Printf
	for _, y := range sum.Years {
		logf("summary: year=%d vintage=%s staged=%d loaded=%d malformed=%d rejects=%d anomalies=%d",
			y.Year, y.Vintage, y.Staged, y.Loaded, y.Malformed, y.Rejects.Total(), y.Anomalies)
	}
	for _, col := range sum.Rejects.Columns() {
		st := sum.Rejects.Get(col)
		if st.Total() == 0 {
			continue
		}
		logf("summary: field=%s parse_invalid=%d non_integer=%d range_invalid=%d",
			col, st.ParseInvalid, st.NonInteger, st.RangeInvalid)
	}
	var missing []string
	for tb, ys := range sum.Derive.MissingYears {
		missing = append(missing, fmt.Sprintf("%s%v", tb, ys))
	}
	sort.Strings(missing)
	logf("summary: table=%s rows=%d ds_anomalies=%d missing_reference=%s",
		sum.Table, sum.Loaded, sum.Derive.Anomalies, strings.Join(missing, " "))
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
