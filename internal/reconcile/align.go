package reconcile

import (
	"fmt"
	"strconv"
	"strings"

	"natality/internal/frame"
)

// CastError reports a value that cannot be represented in the target type.
type CastError struct {
	Column string
	From   frame.Type
	To     frame.Type
	Row    int
	Value  string
}

func (e *CastError) Error() string {
	return fmt.Sprintf("reconcile: cannot cast column %s from %s to %s without loss (row %d value %q)",
		e.Column, e.From, e.To, e.Row, e.Value)
}

// Align returns a table holding exactly the columns of schema, in
// lexicographic order: missing columns become all-null, present columns are
// cast strictly and extra columns are dropped.
//
// Align is idempotent: Align(Align(t, s), s) equals Align(t, s).
func Align(t *frame.Table, schema frame.Schema) (*frame.Table, error) {
	out := frame.NewTable(t.Rows())
	for _, f := range schema.Sorted() {
		var col *frame.Column
		if src, ok := t.Column(f.Name); ok {
			c, err := Cast(src, f.Type)
			if err != nil {
				return nil, err
			}
			col = c
		} else {
			col = frame.NewColumn(f.Name, f.Type, t.Rows())
		}
		if err := out.Add(col); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Cast converts c to type to. Nulls stay null. Any value that would change
// on the way is a *CastError.
func Cast(c *frame.Column, to frame.Type) (*frame.Column, error) {
	if c.Type == to {
		return c, nil
	}
	out := frame.NewColumn(c.Name, to, c.Len())
	fail := func(i int) error {
		return &CastError{Column: c.Name, From: c.Type, To: to, Row: i, Value: c.Text(i)}
	}

	for i := 0; i < c.Len(); i++ {
		if c.IsNull(i) {
			continue
		}
		switch {
		case to.IsText():
			out.SetStr(i, c.Text(i))

		case c.Type.IsNumeric():
			v, _ := c.Num(i)
			if !to.Represents(v) {
				return nil, fail(i)
			}
			out.SetNum(i, v)

		default:
			s, _ := c.Str(i)
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil || !to.Represents(v) {
				return nil, fail(i)
			}
			out.SetNum(i, v)
		}
	}
	return out, nil
}

// Concat appends tables that share one schema (as produced by Align).
func Concat(tables ...*frame.Table) (*frame.Table, error) {
	if len(tables) == 0 {
		return frame.NewTable(0), nil
	}
	schema := tables[0].Schema()
	rows := 0
	for _, t := range tables {
		got := t.Schema()
		if len(got) != len(schema) {
			return nil, fmt.Errorf("reconcile: concat width %d != %d", len(got), len(schema))
		}
		for i := range got {
			if got[i] != schema[i] {
				return nil, fmt.Errorf("reconcile: concat column %d is %s %s, want %s %s",
					i, got[i].Name, got[i].Type, schema[i].Name, schema[i].Type)
			}
		}
		rows += t.Rows()
	}

	out := frame.NewTable(rows)
	for ci, f := range schema {
		col := frame.NewColumn(f.Name, f.Type, rows)
		at := 0
		for _, t := range tables {
			src := t.Columns()[ci]
			for i := 0; i < t.Rows(); i++ {
				if v, ok := src.Num(i); ok {
					col.SetNum(at, v)
				} else if s, ok := src.Str(i); ok {
					col.SetStr(at, s)
				}
				at++
			}
		}
		if err := out.Add(col); err != nil {
			return nil, err
		}
	}
	return out, nil
}
