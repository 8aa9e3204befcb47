package storage

import (
	"fmt"
	"strings"

	"natality/internal/frame"
)

// TableSpec describes one destination table. Column types are logical;
// each backend maps them to its own SQL types.
type TableSpec struct {
	Name    string       `json:"name"`
	Columns []ColumnSpec `json:"columns"`
}

type ColumnSpec struct {
	Name string     `json:"name"`
	Type frame.Type `json:"type"`
}

// SpecFor builds the spec of a table holding schema.
func SpecFor(name string, schema frame.Schema) TableSpec {
	cols := make([]ColumnSpec, len(schema))
	for i, f := range schema {
		cols[i] = ColumnSpec{Name: f.Name, Type: f.Type}
	}
	return TableSpec{Name: name, Columns: cols}
}

// ColumnNames lists the spec's column names in order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Validate rejects specs no backend can create.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("table %s has an unnamed column", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = true
		if c.Type == frame.Invalid {
			return fmt.Errorf("table %s: column %s has no type", t.Name, c.Name)
		}
	}
	return nil
}

// SQLTypes maps logical types to one backend's column types.
type SQLTypes map[frame.Type]string

// Columns renders "<ident> <type>" definitions for spec using quote for
// identifiers.
func (m SQLTypes) Columns(spec TableSpec, quote func(string) string) ([]string, error) {
	out := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		typ, ok := m[c.Type]
		if !ok {
			return nil, fmt.Errorf("table %s: column %s: no SQL type for %s", spec.Name, c.Name, c.Type)
		}
		out[i] = quote(c.Name) + " " + typ
	}
	return out, nil
}
