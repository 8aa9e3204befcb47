// Package reference loads the small year-keyed lookup tables joined into the
// unified table: prevalence by year, prevalence by maternal age band,
// elective-termination reduction rate, and Down syndrome case weights.
package reference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"

	"natality/internal/config"
	"natality/internal/frame"
	"natality/internal/parser/csv"
)

// ErrMissingReferenceYear is returned by lookups for a year the table does
// not list. Derived fields turn it into null.
var ErrMissingReferenceYear = errors.New("reference: year not in table")

// ErrEmptyCell is returned by lookups when the year exists but the requested
// cell is blank.
var ErrEmptyCell = errors.New("reference: empty cell")

// YearTable is a year -> values lookup, filled at load and read-only after.
type YearTable struct {
	Name    string
	Columns []string

	// Lo and Hi bound every non-empty value; checked at load.
	Lo, Hi float64

	rows map[int][]float64 // NaN marks an empty cell
}

// NewYearTable returns an empty table with the given value columns.
func NewYearTable(name string, lo, hi float64, columns ...string) *YearTable {
	return &YearTable{Name: name, Columns: columns, Lo: lo, Hi: hi, rows: map[int][]float64{}}
}

// Len is the number of years.
func (t *YearTable) Len() int { return len(t.rows) }

// Has reports whether year is listed.
func (t *YearTable) Has(year int) bool {
	_, ok := t.rows[year]
	return ok
}

// Years lists the table years in ascending order.
func (t *YearTable) Years() []int {
	ys := make([]int, 0, len(t.rows))
	for y := range t.rows {
		ys = append(ys, y)
	}
	slices.Sort(ys)
	return ys
}

// Lookup returns the value of column for year.
//
// Errors:
//   - ErrMissingReferenceYear when year is not listed.
//   - ErrEmptyCell when the cell is blank.
//   - a plain error for an unknown column (a programming error).
func (t *YearTable) Lookup(year int, column string) (float64, error) {
	ci := slices.Index(t.Columns, column)
	if ci < 0 {
		return 0, fmt.Errorf("reference %s: unknown column %q", t.Name, column)
	}
	row, ok := t.rows[year]
	if !ok {
		return 0, fmt.Errorf("reference %s year %d: %w", t.Name, year, ErrMissingReferenceYear)
	}
	if math.IsNaN(row[ci]) {
		return 0, fmt.Errorf("reference %s year %d column %s: %w", t.Name, year, column, ErrEmptyCell)
	}
	return row[ci], nil
}

// Set adds or replaces a row. Use NaN for an empty cell.
func (t *YearTable) Set(year int, values ...float64) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("reference %s: year %d has %d values, want %d", t.Name, year, len(values), len(t.Columns))
	}
	for i, v := range values {
		if !math.IsNaN(v) && (v < t.Lo || v > t.Hi) {
			return fmt.Errorf("reference %s: year %d %s=%v outside [%v,%v]", t.Name, year, t.Columns[i], v, t.Lo, t.Hi)
		}
	}
	t.rows[year] = slices.Clone(values)
	return nil
}

// Frame renders the table for persisting: a uint16 year column followed by
// one float64 column per value column, ordered by year.
func (t *YearTable) Frame() *frame.Table {
	years := t.Years()
	out := frame.NewTable(len(years))
	yc := frame.NewColumn("year", frame.Uint16, len(years))
	vals := make([]*frame.Column, len(t.Columns))
	for i, c := range t.Columns {
		vals[i] = frame.NewColumn(c, frame.Float64, len(years))
	}
	for r, y := range years {
		yc.SetNum(r, float64(y))
		for i, v := range t.rows[y] {
			if !math.IsNaN(v) {
				vals[i].SetNum(r, v)
			}
		}
	}
	_ = out.Add(yc)
	for _, c := range vals {
		_ = out.Add(c)
	}
	return out
}

// Parse reads a CSV with a "year" column and the table's value
// columns. Extra columns are ignored; a missing column, a duplicate year or
// a non-numeric cell is an error.
func (t *YearTable) Parse(ctx context.Context, r io.Reader) error {
	cols := append([]string{"year"}, t.Columns...)
	rows, err := csv.ReadAll(ctx, io.NopCloser(r), cols, config.Options{"require_columns": true})
	if err != nil {
		return fmt.Errorf("reference %s: %w", t.Name, err)
	}
	for i, rec := range rows {
		line := i + 2
		y, err := strconv.Atoi(rec[0])
		if err != nil {
			return fmt.Errorf("reference %s line %d: year %q: %w", t.Name, line, rec[0], err)
		}
		if t.Has(y) {
			return fmt.Errorf("reference %s line %d: duplicate year %d", t.Name, line, y)
		}
		vals := make([]float64, len(t.Columns))
		for j, cell := range rec[1:] {
			if cell == "" || cell == "NA" {
				vals[j] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return fmt.Errorf("reference %s line %d: %s %q: %w", t.Name, line, t.Columns[j], cell, err)
			}
			vals[j] = v
		}
		if err := t.Set(y, vals...); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return nil
}

// Load parses the CSV at path into t. An empty path leaves t empty.
func (t *YearTable) Load(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reference %s: %w", t.Name, err)
	}
	defer f.Close()
	return t.Parse(ctx, f)
}
