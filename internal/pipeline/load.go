package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"natality/internal/config"
	"natality/internal/derive"
	"natality/internal/frame"
	"natality/internal/metrics"
	"natality/internal/reconcile"
	"natality/internal/reference"
	"natality/internal/staging"
	"natality/internal/storage"
)

// reconcile unifies the staged schemas. It only reads file footers.
func (r *Runner) reconcile(p config.Pipeline, staged []staging.File) (frame.Schema, error) {
	inputs := make([]reconcile.Input, len(staged))
	for i, f := range staged {
		inputs[i] = reconcile.Input{Label: strconv.Itoa(f.Year), Schema: f.Schema}
	}
	target, err := reconcile.TargetSchema(inputs, reconcile.Options{Strict: p.Reconcile.Strict})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	r.Logger.Printf("stage=reconcile years=%d columns=%d ok", len(staged), len(target))
	return target, nil
}

// unifiedSpec is the store table: the target schema in its order followed
// by the derived columns in calculator order.
func unifiedSpec(table string, target frame.Schema) (storage.TableSpec, error) {
	schema := append(frame.Schema{}, target.Sorted()...)
	for _, f := range derive.Outputs {
		if t, ok := target.Lookup(f.Name); ok {
			return storage.TableSpec{}, fmt.Errorf("pipeline: derived column %s collides with a source column of type %s", f.Name, t)
		}
		schema = append(schema, f)
	}
	return storage.SpecFor(table, schema), nil
}

// load rebuilds the store from the staged years. The store is the single
// writer; it is closed on every path and committed only when every year and
// every lookup table went in.
func (r *Runner) load(ctx context.Context, p config.Pipeline, staged []staging.File, target frame.Schema, refs *reference.Set, sum *Summary) error {
	spec, err := unifiedSpec(p.Storage.Table, target)
	if err != nil {
		return err
	}
	sum.Schema = make(frame.Schema, len(spec.Columns))
	for i, c := range spec.Columns {
		sum.Schema[i] = frame.Field{Name: c.Name, Type: c.Type}
	}

	store, err := r.NewStore(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DSN})
	if err != nil {
		return fmt.Errorf("pipeline: open store: %w", err)
	}
	defer store.Close()

	if err := store.CreateTable(ctx, spec); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	calc := derive.NewCalculator(refs)
	if r.Verbose {
		calc.Logger = r.Logger
	}
	for _, f := range staged {
		start := time.Now()
		loaded, st, err := r.loadYear(ctx, p, store, calc, f, target)
		metrics.RecordStep("write", err, time.Since(start))
		if err != nil {
			return fmt.Errorf("pipeline: year %d: %w", f.Year, err)
		}
		sum.Loaded += loaded
		sum.Derive.Merge(st)
		for i := range sum.Years {
			if sum.Years[i].Year == f.Year {
				sum.Years[i].Loaded = loaded
				sum.Years[i].Anomalies = st.Anomalies
			}
		}
		metrics.RecordRows("loaded", loaded)
		metrics.RecordAnomalies(st.Anomalies)
		r.Logger.Printf("stage=load year=%d rows=%d anomalies=%d ok duration=%s", f.Year, loaded, st.Anomalies, durMS(start))
	}

	start := time.Now()
	err = r.loadReference(ctx, p, store, refs)
	metrics.RecordStep("reference_tables", err, time.Since(start))
	if err != nil {
		return err
	}

	start = time.Now()
	err = store.Commit(ctx)
	metrics.RecordStep("commit", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("pipeline: commit: %w", err)
	}
	r.Logger.Printf("stage=commit table=%s rows=%d ok duration=%s", p.Storage.Table, sum.Loaded, durMS(start))
	return nil
}

// loadYear streams one staging file in ChunkRows chunks: align, derive,
// insert.
func (r *Runner) loadYear(ctx context.Context, p config.Pipeline, store storage.Store, calc *derive.Calculator, f staging.File, target frame.Schema) (int64, derive.Stats, error) {
	var (
		loaded int64
		stats  derive.Stats
	)
	err := staging.ReadChunks(f.Path, p.Runtime.ChunkRows, func(chunk *frame.Table) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		aligned, err := reconcile.Align(chunk, target)
		if err != nil {
			return err
		}
		st, err := calc.Apply(aligned)
		if err != nil {
			return err
		}
		stats.Merge(st)
		n, err := storage.WriteTable(ctx, store, p.Storage.Table, aligned, p.Runtime.InsertBatch)
		loaded += n
		return err
	})
	return loaded, stats, err
}

// loadReference copies every non-empty lookup table into the store under
// its own name.
func (r *Runner) loadReference(ctx context.Context, p config.Pipeline, store storage.Store, refs *reference.Set) error {
	for _, tb := range refs.Tables() {
		if tb.Len() == 0 {
			r.Logger.Printf("stage=reference table=%s skipped=empty", tb.Name)
			continue
		}
		fr := tb.Frame()
		if err := store.CreateTable(ctx, storage.SpecFor(tb.Name, fr.Schema())); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		if _, err := storage.WriteTable(ctx, store, tb.Name, fr, p.Runtime.InsertBatch); err != nil {
			return fmt.Errorf("pipeline: reference %s: %w", tb.Name, err)
		}
		r.Logger.Printf("stage=reference table=%s rows=%d ok", tb.Name, fr.Rows())
	}
	return nil
}
