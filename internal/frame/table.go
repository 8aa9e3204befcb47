package frame

import (
	"fmt"
	"sort"
)

// Field names one column of a Schema.
type Field struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// Schema is an ordered list of fields.
type Schema []Field

func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Name
	}
	return out
}

// Lookup returns the type of name.
func (s Schema) Lookup(name string) (Type, bool) {
	for _, f := range s {
		if f.Name == name {
			return f.Type, true
		}
	}
	return Invalid, false
}

// Sorted returns a copy ordered lexicographically by name.
func (s Schema) Sorted() Schema {
	out := append(Schema(nil), s...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Table is a rectangular set of equally long columns.
type Table struct {
	rows  int
	cols  []*Column
	index map[string]int
}

// NewTable returns an empty table that accepts columns of exactly rows rows.
func NewTable(rows int) *Table {
	return &Table{rows: rows, index: map[string]int{}}
}

func (t *Table) Rows() int { return t.rows }

func (t *Table) Width() int { return len(t.cols) }

// Add appends c. The name must be new and the length must match.
func (t *Table) Add(c *Column) error {
	if c.Len() != t.rows {
		return fmt.Errorf("frame: column %s has %d rows, table has %d", c.Name, c.Len(), t.rows)
	}
	if _, dup := t.index[c.Name]; dup {
		return fmt.Errorf("frame: duplicate column %s", c.Name)
	}
	t.index[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// Put adds c or replaces the column with the same name in place.
func (t *Table) Put(c *Column) error {
	if c.Len() != t.rows {
		return fmt.Errorf("frame: column %s has %d rows, table has %d", c.Name, c.Len(), t.rows)
	}
	if i, ok := t.index[c.Name]; ok {
		t.cols[i] = c
		return nil
	}
	return t.Add(c)
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Has reports whether name is a column of t.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Columns returns the columns in table order. The slice must not be modified.
func (t *Table) Columns() []*Column { return t.cols }

func (t *Table) Names() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name
	}
	return out
}

func (t *Table) Schema() Schema {
	out := make(Schema, len(t.cols))
	for i, c := range t.cols {
		out[i] = Field{Name: c.Name, Type: c.Type}
	}
	return out
}

// Row fills dst with driver values for row i and returns it.
func (t *Table) Row(i int, dst []any) []any {
	dst = dst[:0]
	for _, c := range t.cols {
		dst = append(dst, c.Value(i))
	}
	return dst
}

// Slice returns rows [lo, hi) as a new table with the same columns.
func (t *Table) Slice(lo, hi int) *Table {
	out := NewTable(hi - lo)
	for _, c := range t.cols {
		_ = out.Add(c.Slice(lo, hi))
	}
	return out
}

// Equal compares row count, column order and every column.
func (t *Table) Equal(o *Table) bool {
	if t.rows != o.rows || len(t.cols) != len(o.cols) {
		return false
	}
	for i := range t.cols {
		if !t.cols[i].Equal(o.cols[i]) {
			return false
		}
	}
	return true
}
