package pipeline

import (
	"context"
	"errors"
	"fmt"

	"natality/internal/config"
	"natality/internal/vintage"
)

// Check is a dry run: it discovers the source files of p and verifies that
// each one can supply every field its vintage is expected to carry. No
// record is read and nothing is written.
//
// The returned summaries carry Year, Path, Vintage, Format and Err. The
// error joins every failing year.
func (r *Runner) Check(ctx context.Context, p config.Pipeline) ([]YearSummary, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	r.defaults()

	files, err := r.discover(p)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("pipeline: no source files for years %d-%d", r.from(p), r.to(p))
	}

	n := r.normalizer(p)
	var (
		out  []YearSummary
		errs []error
	)
	for _, y := range vintage.Years(files) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := n.Check(y, files[y])
		out = append(out, YearSummary{
			Year:    y,
			Path:    files[y],
			Vintage: res.Vintage.String(),
			Format:  res.Format.String(),
			Err:     err,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("year %d (%s): %w", y, files[y], err))
			r.Logger.Printf("stage=check year=%d status=error err=%v", y, err)
			continue
		}
		r.Logger.Printf("stage=check year=%d vintage=%s format=%s ok", y, res.Vintage, res.Format)
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("pipeline: %d of %d years cannot be mapped: %w", len(errs), len(out), errors.Join(errs...))
	}
	return out, nil
}
