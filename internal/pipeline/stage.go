package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"natality/internal/coerce"
	"natality/internal/config"
	"natality/internal/metrics"
	"natality/internal/staging"
	"natality/internal/vintage"
)

// stage normalizes every year into its staging file with at most
// p.Runtime.Workers years in flight. Years are independent: a failure
// removes that year's temp file and the others go on. The returned files
// are in year order; the error joins every failed year.
func (r *Runner) stage(ctx context.Context, p config.Pipeline, files map[int]string, sum *Summary) ([]staging.File, error) {
	years := vintage.Years(files)
	results := make([]YearSummary, len(years))
	out := make([]staging.File, len(years))
	reports := make([]*coerce.Report, len(years))

	var g errgroup.Group
	g.SetLimit(max(p.Runtime.Workers, 1))
	for i, y := range years {
		g.Go(func() error {
			start := time.Now()
			f, res, err := r.stageYear(ctx, p, y, files[y])
			metrics.RecordStep("stage_year", err, time.Since(start))

			ys := YearSummary{
				Year:      y,
				Path:      files[y],
				Vintage:   res.Vintage.String(),
				Format:    res.Format.String(),
				Staged:    f.Rows,
				Malformed: res.Malformed,
				Err:       err,
			}
			if res.Report != nil {
				ys.Rejects = res.Report.Total()
				reports[i] = res.Report
			}
			results[i], out[i] = ys, f

			if err != nil {
				r.Logger.Printf("stage=normalize year=%d status=error duration=%s err=%v", y, durMS(start), err)
				return nil
			}
			r.Logger.Printf("stage=normalize year=%d rows=%d ok duration=%s", y, f.Rows, durMS(start))
			if r.Verbose {
				logRejects(r.Logger, y, res.Report)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Years = results
	var (
		errs []error
		ok   []staging.File
	)
	for i, ys := range results {
		if reports[i] != nil {
			sum.Rejects.Merge(reports[i])
			recordRejects(ys.Rejects)
		}
		metrics.RecordRows("malformed", int64(ys.Malformed))
		if ys.Err != nil {
			errs = append(errs, fmt.Errorf("year %d (%s): %w", ys.Year, ys.Path, ys.Err))
			continue
		}
		metrics.RecordRows("staged", ys.Staged)
		ok = append(ok, out[i])
	}
	if len(errs) > 0 {
		// Years that did stage are not loaded; drop them unless asked to keep.
		if !p.Staging.Keep {
			_ = staging.Remove(ok...)
		}
		return nil, fmt.Errorf("pipeline: %d of %d years failed to stage: %w", len(errs), len(years), errors.Join(errs...))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ok, nil
}

// stageYear streams one source file through the normalizer into a staging
// writer. On any error the partial file is removed.
func (r *Runner) stageYear(ctx context.Context, p config.Pipeline, year int, path string) (staging.File, vintage.Result, error) {
	w, err := staging.Create(p.Staging.Dir, year)
	if err != nil {
		return staging.File{}, vintage.Result{}, err
	}
	res, err := r.normalizer(p).Normalize(ctx, year, path, w.Write)
	if err != nil {
		w.Abort()
		return staging.File{}, res, err
	}
	// A file without records still stages the year's columns.
	if err := w.Init(r.Registry.Schema(year)); err != nil {
		w.Abort()
		return staging.File{}, res, err
	}
	f, err := w.Close()
	if err != nil {
		return staging.File{}, res, err
	}
	return f, res, nil
}

func (r *Runner) normalizer(p config.Pipeline) *vintage.Normalizer {
	n := vintage.NewNormalizer()
	n.Registry = r.Registry
	n.NonInteger = coerce.NonIntegerPolicy(p.Coerce.NonInteger)
	n.OutOfRange = coerce.RangePolicy(p.Coerce.Range)
	n.ChunkRows = p.Runtime.ChunkRows
	n.Options = p.Source.Options
	n.Logger = r.Logger
	return n
}

func logRejects(l Logger, year int, rep *coerce.Report) {
	if rep == nil {
		return
	}
	for _, col := range rep.Columns() {
		st := rep.Get(col)
		if st.Total() == 0 {
			continue
		}
		l.Printf("coerce: year=%d field=%s parse_invalid=%d non_integer=%d range_invalid=%d",
			year, col, st.ParseInvalid, st.NonInteger, st.RangeInvalid)
	}
}

func recordRejects(st coerce.Stats) {
	metrics.RecordRejects(coerce.ParseInvalid.String(), st.ParseInvalid)
	metrics.RecordRejects(coerce.NonIntegerValue.String(), st.NonInteger)
	metrics.RecordRejects(coerce.OutOfRange.String(), st.RangeInvalid)
}
