// Package csv streams delimited exports into pooled rows aligned to a
// requested column order.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"natality/internal/config"
	"natality/internal/transformer"
)

// MissingColumnsError is returned before any row is sent when require_columns
// is set and the header lacks requested columns.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("csv: header is missing columns %s", strings.Join(e.Columns, ","))
}

// NormalizeHeader trims, strips a BOM, lowercases and replaces spaces with
// underscores.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(strings.TrimSpace(h), "\uFEFF")
	return strings.ReplaceAll(strings.ToLower(h), " ", "_")
}

// StreamCSVRows streams CSV into pooled *transformer.Row objects aligned to
// the target 'columns' order. Values are trimmed strings or nil.
//
// Options: has_header (true), comma (','), trim_space (true), lazy_quotes
// (false), fields_per_record (0 = variable), header_map (raw header ->
// column), require_columns (false).
//
// On ctx cancellation the in-flight row is dropped, not re-pooled.
func StreamCSVRows(
	ctx context.Context,
	src io.ReadCloser,
	columns []string,
	opt config.Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	var line int

	hasHeader := opt.Bool("has_header", true)
	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")
	fieldsPer := opt.Int("fields_per_record", 0)

	cr := csv.NewReader(src)
	cr.Comma = opt.Rune("comma", ',')
	cr.ReuseRecord = true
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	if fieldsPer != 0 {
		cr.FieldsPerRecord = fieldsPer
	} else {
		cr.FieldsPerRecord = -1
	}

	colIx := make([]int, len(columns))
	for i := range colIx {
		colIx[i] = -1
	}

	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	if hasHeader {
		hdr, err := readRec()
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("read header: %w", err))
			}
			return err
		}
		srcToIdx := make(map[string]int, len(hdr))
		for i, h := range hdr {
			if mapped, ok := hm[strings.TrimSpace(h)]; ok {
				h = mapped
			} else {
				h = NormalizeHeader(h)
			}
			srcToIdx[h] = i
		}
		var missing []string
		for t, target := range columns {
			if si, ok := srcToIdx[target]; ok {
				colIx[t] = si
			} else {
				missing = append(missing, target)
			}
		}
		if len(missing) > 0 && opt.Bool("require_columns", false) {
			return &MissingColumnsError{Columns: missing}
		}
	} else {
		for i := range columns {
			colIx[i] = i
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}

		row := transformer.GetRow(len(columns))
		row.Line = line

		for t := range columns {
			si := colIx[t]
			if si < 0 || si >= len(rec) {
				continue
			}
			v := rec[si]
			if trim {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row.V[t] = v
			}
		}

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
}

// ReadAll is a convenience for small files such as reference tables: it
// streams every row of src for columns and returns them as string slices
// ("" for nil).
func ReadAll(ctx context.Context, src io.ReadCloser, columns []string, opt config.Options) ([][]string, error) {
	out := make(chan *transformer.Row, 64)
	errc := make(chan error, 1)
	var firstErr error
	go func() {
		errc <- StreamCSVRows(ctx, src, columns, opt, out, func(line int, err error) {
			if firstErr == nil {
				firstErr = fmt.Errorf("line %d: %w", line, err)
			}
		})
		close(out)
	}()

	var rows [][]string
	for r := range out {
		rec := make([]string, len(r.V))
		for i, v := range r.V {
			if s, ok := v.(string); ok {
				rec[i] = s
			}
		}
		rows = append(rows, rec)
		r.Free()
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return rows, nil
}
