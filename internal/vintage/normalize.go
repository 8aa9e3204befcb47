package vintage

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"

	"natality/internal/coerce"
	"natality/internal/config"
	"natality/internal/frame"
	"natality/internal/reconcile"
	"natality/internal/registry"
	"natality/internal/transformer"
)

// Logger is the logging surface the normalizer needs.
type Logger interface {
	Printf(format string, v ...any)
}

// IncompleteMappingError reports registry fields that a vintage's layout or
// file header cannot supply.
type IncompleteMappingError struct {
	Vintage Vintage
	Path    string
	Fields  []string // canonical names
	Sources []string // raw names looked for, parallel to Fields
}

func (e *IncompleteMappingError) Error() string {
	pairs := make([]string, len(e.Fields))
	for i := range e.Fields {
		pairs[i] = fmt.Sprintf("%s (source %s)", e.Fields[i], e.Sources[i])
	}
	return fmt.Sprintf("vintage %s: %s does not supply %s", e.Vintage, e.Path, strings.Join(pairs, ", "))
}

// Normalizer reads one year's source file into canonical typed tables.
type Normalizer struct {
	Registry   *registry.Registry
	NonInteger coerce.NonIntegerPolicy
	OutOfRange coerce.RangePolicy

	// ChunkRows caps the rows held per emitted table.
	ChunkRows int

	// Options are passed to the row parsers.
	Options config.Options

	Logger Logger
}

// NewNormalizer returns a Normalizer over the default registry with the
// null policies.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		Registry:   registry.Default(),
		NonInteger: coerce.NonIntegerNull,
		OutOfRange: coerce.RangeNull,
		ChunkRows:  config.DefaultChunkRows,
		Logger:     log.New(io.Discard, "", 0),
	}
}

// Result summarises one normalized year.
type Result struct {
	Vintage Vintage
	Format  Format
	Rows    int
	// Malformed counts records the parser skipped.
	Malformed int
	Report    *coerce.Report
}

// Normalize streams the file at path for year and calls emit with one table
// per chunk of at most ChunkRows rows. Every table carries exactly the
// fields the registry expects for year, in catalog order, with declared
// types. emit owns the table.
//
// A file that cannot supply an expected field fails before any row is read
// with *IncompleteMappingError. A *coerce.RangeError under RangeFail or an
// emit error stops the year.
func (n *Normalizer) Normalize(ctx context.Context, year int, path string, emit func(*frame.Table) error) (Result, error) {
	res, bindings, stream, err := n.open(year, path)
	if err != nil {
		return res, err
	}
	v, chunk := res.Vintage, n.chunk()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rawCh := make(chan *transformer.Row, 256)
	var (
		mu        sync.Mutex
		malformed int
		firstBad  string
	)
	onErr := func(line int, err error) {
		mu.Lock()
		defer mu.Unlock()
		malformed++
		if firstBad == "" {
			firstBad = fmt.Sprintf("line %d: %v", line, err)
		}
	}

	readErr := make(chan error, 1)
	go func() {
		defer close(rawCh)
		readErr <- stream(ctx, rawCh, onErr)
	}()

	batch := make([]*transformer.Row, 0, min(chunk, 4096))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		t, err := n.buildTable(year, bindings, batch, res.Report)
		for _, r := range batch {
			r.Free()
		}
		batch = batch[:0]
		if err != nil {
			return err
		}
		res.Rows += t.Rows()
		return emit(t)
	}

	var stepErr error
	for r := range rawCh {
		if stepErr != nil {
			r.Drop()
			continue
		}
		batch = append(batch, r)
		if len(batch) >= chunk {
			if stepErr = flush(); stepErr != nil {
				cancel()
			}
		}
	}
	if stepErr == nil {
		stepErr = flush()
	}
	rerr := <-readErr

	mu.Lock()
	res.Malformed = malformed
	if malformed > 0 {
		n.Logger.Printf("normalize: year=%d malformed=%d first=%q", year, malformed, firstBad)
	}
	mu.Unlock()

	if stepErr != nil {
		return res, fmt.Errorf("vintage %s: %w", v, stepErr)
	}
	if rerr != nil {
		return res, fmt.Errorf("vintage %s: read %s: %w", v, path, rerr)
	}
	return res, nil
}

// Check resolves the vintage of year and verifies that path can supply
// every expected field. Only the header, layout or file metadata is read.
func (n *Normalizer) Check(year int, path string) (Result, error) {
	res, _, stream, err := n.open(year, path)
	if err != nil {
		return res, err
	}
	release(stream)
	return res, nil
}

// open resolves the vintage and format of path and binds the expected
// sources. On error nothing is left open.
func (n *Normalizer) open(year int, path string) (Result, []registry.Binding, streamFunc, error) {
	v, err := For(year)
	if err != nil {
		return Result{}, nil, nil, err
	}
	f := FormatOf(path)
	if err := checkFormat(v, f); err != nil {
		return Result{}, nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	res := Result{Vintage: v, Format: f, Report: coerce.NewReport()}

	bindings := n.Registry.Expected(year)
	sources := make([]string, len(bindings))
	for i, b := range bindings {
		sources[i] = b.Alias.Source
	}

	stream, missing, err := openSource(v, f, path, sources, n.Options, n.chunk())
	if err != nil {
		return res, nil, nil, err
	}
	if len(missing) > 0 {
		return res, nil, nil, n.incomplete(v, path, bindings, missing)
	}
	return res, bindings, stream, nil
}

func (n *Normalizer) chunk() int {
	if n.ChunkRows <= 0 {
		return config.DefaultChunkRows
	}
	return n.ChunkRows
}

// NormalizeAll is Normalize collecting every chunk into one table.
func (n *Normalizer) NormalizeAll(ctx context.Context, year int, path string) (*frame.Table, Result, error) {
	var parts []*frame.Table
	res, err := n.Normalize(ctx, year, path, func(t *frame.Table) error {
		parts = append(parts, t)
		return nil
	})
	if err != nil {
		return nil, res, err
	}
	if len(parts) == 0 {
		return emptyTable(n.Registry.Schema(year)), res, nil
	}
	out, err := reconcile.Concat(parts...)
	if err != nil {
		return nil, res, err
	}
	return out, res, nil
}

func (n *Normalizer) incomplete(v Vintage, path string, bindings []registry.Binding, missing []string) error {
	gap := make(map[string]bool, len(missing))
	for _, m := range missing {
		gap[m] = true
	}
	e := &IncompleteMappingError{Vintage: v, Path: path}
	for _, b := range bindings {
		if gap[b.Alias.Source] {
			e.Fields = append(e.Fields, b.Field.Name)
			e.Sources = append(e.Sources, b.Alias.Source)
		}
	}
	return e
}

// buildTable coerces a batch of raw rows, whose V follows bindings, into a
// canonical table.
func (n *Normalizer) buildTable(year int, bindings []registry.Binding, rows []*transformer.Row, report *coerce.Report) (*frame.Table, error) {
	t := frame.NewTable(len(rows))
	values := make([]any, len(rows))
	for j, b := range bindings {
		for i, r := range rows {
			values[i] = recode(r.V[j], b.Alias.Recode)
		}
		spec := coerce.SpecFor(b.Field, n.NonInteger, n.OutOfRange)
		col, st, err := coerce.Column(b.Field.Name, values, spec)
		if err != nil {
			var line int
			if re, ok := err.(*coerce.RangeError); ok && re.Row < len(rows) {
				line = rows[re.Row].Line
			}
			return nil, fmt.Errorf("field %s (source %s) near line %d: %w", b.Field.Name, b.Alias.Source, line, err)
		}
		report.Add(b.Field.Name, st)
		if err := t.Add(col); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// recode maps a raw value through an alias recode table. Values without an
// entry pass through unchanged.
func recode(raw any, table map[string]string) any {
	if raw == nil || len(table) == 0 {
		return raw
	}
	var key string
	switch v := raw.(type) {
	case string:
		key = strings.TrimSpace(v)
	case float64:
		key = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		key = fmt.Sprint(v)
	}
	if to, ok := table[key]; ok {
		return to
	}
	return raw
}

func emptyTable(s frame.Schema) *frame.Table {
	t := frame.NewTable(0)
	for _, f := range s {
		_ = t.Add(frame.NewColumn(f.Name, f.Type, 0))
	}
	return t
}
