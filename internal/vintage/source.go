package vintage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/kshedden/datareader"
	"golang.org/x/text/encoding/charmap"

	"natality/internal/config"
	"natality/internal/parser/csv"
	"natality/internal/parser/fixedwidth"
	"natality/internal/transformer"
)

// streamFunc sends rows whose V follows the requested source order.
type streamFunc func(ctx context.Context, out chan<- *transformer.Row, onErr func(line int, err error)) error

// release runs stream under a canceled context, which closes whatever
// openSource left open without producing rows.
func release(stream streamFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = stream(ctx, make(chan *transformer.Row, 1), func(int, error) {})
}

// openSource prepares a stream over path for the given raw source names.
// missing lists requested sources the file or layout cannot supply; when it
// is non-empty the stream is nil and nothing is left open.
func openSource(v Vintage, f Format, path string, sources []string, opt config.Options, chunk int) (stream streamFunc, missing []string, err error) {
	switch f {
	case FormatFixedWidth:
		return openFixedWidth(v, path, sources, opt)
	case FormatCSV:
		return openCSV(path, sources, opt)
	case FormatSAS, FormatStata:
		return openStat(f, path, sources, chunk)
	}
	return nil, nil, fmt.Errorf("vintage %s: no reader for %s", v, f)
}

func openFixedWidth(v Vintage, path string, sources []string, opt config.Options) (streamFunc, []string, error) {
	layout, err := LayoutByName(v.Layout)
	if err != nil {
		return nil, nil, err
	}
	spans := make([]fixedwidth.Span, 0, len(sources))
	var missing []string
	for _, src := range sources {
		s, ok := layout.Span(src)
		if !ok {
			missing = append(missing, src)
			continue
		}
		spans = append(spans, s)
	}
	if len(missing) > 0 {
		return nil, missing, nil
	}
	return func(ctx context.Context, out chan<- *transformer.Row, onErr func(int, error)) error {
		fh, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		return fixedwidth.StreamRows(ctx, fh, spans, opt, out, onErr)
	}, nil, nil
}

// openCSV reads the header eagerly so that a missing column is reported as a
// mapping gap before any row is produced.
func openCSV(path string, sources []string, opt config.Options) (streamFunc, []string, error) {
	withRequire := config.Options{"require_columns": true}
	for k, v := range opt {
		withRequire[k] = v
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open source: %w", err)
	}
	// A canceled context stops StreamCSVRows right after the header check.
	probe := make(chan *transformer.Row, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = csv.StreamCSVRows(ctx, fh, sources, withRequire, probe, nil)
	var mc *csv.MissingColumnsError
	if errors.As(err, &mc) {
		return nil, mc.Columns, nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}

	return func(ctx context.Context, out chan<- *transformer.Row, onErr func(int, error)) error {
		fh, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		return csv.StreamCSVRows(ctx, fh, sources, withRequire, out, onErr)
	}, nil, nil
}

// statFile is the chunked reader surface shared by the SAS and Stata readers.
type statFile interface {
	ColumnNames() []string
	Read(n int) ([]*datareader.Series, error)
}

func newStatFile(f Format, r io.ReadSeeker) (statFile, error) {
	if f == FormatSAS {
		sas, err := datareader.NewSAS7BDATReader(r)
		if err != nil {
			return nil, err
		}
		sas.TrimStrings = true
		sas.ConvertDates = false
		sas.TextDecoder = charmap.ISO8859_1.NewDecoder()
		return sas, nil
	}
	dta, err := datareader.NewStataReader(r)
	if err != nil {
		return nil, err
	}
	dta.InsertStrls = true
	dta.InsertCategoryLabels = false
	dta.ConvertDates = false
	return dta, nil
}

func openStat(f Format, path string, sources []string, chunk int) (streamFunc, []string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open source: %w", err)
	}
	sf, err := newStatFile(f, fh)
	if err != nil {
		fh.Close()
		return nil, nil, fmt.Errorf("read %s header: %w", f, err)
	}

	index := make(map[string]int)
	for i, name := range sf.ColumnNames() {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	pick := make([]int, len(sources))
	var missing []string
	for j, src := range sources {
		i, ok := index[src]
		if !ok {
			missing = append(missing, src)
		}
		pick[j] = i
	}
	if len(missing) > 0 {
		fh.Close()
		return nil, missing, nil
	}

	return func(ctx context.Context, out chan<- *transformer.Row, onErr func(int, error)) error {
		defer fh.Close()
		return streamStat(ctx, sf, pick, chunk, out)
	}, nil, nil
}

func streamStat(ctx context.Context, sf statFile, pick []int, chunk int, out chan<- *transformer.Row) error {
	line := 0
	cols := make([][]any, len(pick))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		series, err := sf.Read(chunk)
		if err == io.EOF || (err == nil && len(series) == 0) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read chunk after row %d: %w", line, err)
		}

		n := -1
		for j, i := range pick {
			vals, err := seriesValues(series[i])
			if err != nil {
				return err
			}
			cols[j] = vals
			if n < 0 || len(vals) < n {
				n = len(vals)
			}
		}
		if n <= 0 {
			return nil
		}

		for r := 0; r < n; r++ {
			line++
			row := transformer.GetRow(len(pick))
			row.Line = line
			for j := range pick {
				row.V[j] = cols[j][r]
			}
			select {
			case out <- row:
			case <-ctx.Done():
				row.Drop()
				return ctx.Err()
			}
		}
	}
}

// seriesValues flattens a Series into raw values: float64, string or nil.
func seriesValues(s *datareader.Series) ([]any, error) {
	switch d := s.Data().(type) {
	case []uint64:
		return nil, fmt.Errorf("column %s: unresolved string references", s.Name)
	case []time.Time:
		miss := s.Missing()
		out := make([]any, len(d))
		for i, t := range d {
			if (miss == nil || !miss[i]) && !t.IsZero() {
				out[i] = t.Format(time.DateOnly)
			}
		}
		return out, nil
	}

	s = s.UpcastNumeric()
	if f, miss, err := s.AsFloat64Slice(); err == nil {
		out := make([]any, len(f))
		for i, v := range f {
			if (miss == nil || !miss[i]) && !math.IsNaN(v) {
				out[i] = v
			}
		}
		return out, nil
	}
	str, miss, err := s.AsStringSlice()
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", s.Name, err)
	}
	out := make([]any, len(str))
	for i, v := range str {
		if miss != nil && miss[i] {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			out[i] = v
		}
	}
	return out, nil
}
