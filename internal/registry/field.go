// Package registry is the authoritative catalog of canonical natality fields:
// logical type, valid domain and the raw source name each vintage uses.
//
// The registry is pure data. Every other component (normalizer, coercion,
// reconciler, store writer) reads it; nothing mutates it after construction.
package registry

import (
	"fmt"

	"natality/internal/frame"
)

// Range is an inclusive numeric domain.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v is inside the range.
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Alias binds a canonical field to its raw source for an inclusive year range.
//
// Source is the lowercase column name in named-column vintages and the
// layout entry name in fixed-width vintages.
type Alias struct {
	From   int
	To     int
	Source string

	// Recode maps raw text values to canonical text values before coercion.
	// Values missing from a non-empty Recode are passed through unchanged.
	Recode map[string]string
}

// Covers reports whether the alias applies to year.
func (a Alias) Covers(year int) bool { return year >= a.From && year <= a.To }

func (a Alias) String() string {
	if a.From == a.To {
		return fmt.Sprintf("%s@%d", a.Source, a.From)
	}
	return fmt.Sprintf("%s@%d-%d", a.Source, a.From, a.To)
}

// Field is one canonical data element.
type Field struct {
	Name        string
	Type        frame.Type
	Description string

	// Range bounds numeric fields. Nil means the full range of Type.
	Range *Range

	// Categories is the closed domain of a Category field. Empty means any
	// non-empty value is accepted.
	Categories []string

	Aliases []Alias
}

// Bounds returns the effective numeric domain of the field.
func (f Field) Bounds() Range {
	if f.Range != nil {
		return *f.Range
	}
	lo, hi := f.Type.Limits()
	return Range{Min: lo, Max: hi}
}

// AliasFor returns the alias covering year.
func (f Field) AliasFor(year int) (Alias, bool) {
	for _, a := range f.Aliases {
		if a.Covers(year) {
			return a, true
		}
	}
	return Alias{}, false
}

// Binding pairs a field with the alias that supplies it in one vintage.
type Binding struct {
	Field Field
	Alias Alias
}
