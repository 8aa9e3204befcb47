package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"natality/internal/frame"
)

// Registry indexes a validated field catalog.
type Registry struct {
	fields []Field
	byName map[string]int
}

// New validates fields and builds a registry.
//
// Validation rules:
//   - names are non-empty, lowercase and unique
//   - types are valid; Categories only on Category fields
//   - Range lies inside the representable range of the type
//   - aliases have From <= To and do not overlap, so a vintage maps each
//     canonical field to at most one raw source
func New(fields []Field) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(fields))}
	var errs []error
	for _, f := range fields {
		if err := validateField(f); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := r.byName[f.Name]; dup {
			errs = append(errs, fmt.Errorf("registry: duplicate field %s", f.Name))
			continue
		}
		r.byName[f.Name] = len(r.fields)
		r.fields = append(r.fields, f)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// MustNew is New for static catalogs.
func MustNew(fields []Field) *Registry {
	r, err := New(fields)
	if err != nil {
		panic(err)
	}
	return r
}

var defaultRegistry = MustNew(catalog())

// Default returns the built-in natality catalog for 1989–2024.
func Default() *Registry { return defaultRegistry }

func validateField(f Field) error {
	if f.Name == "" || f.Name != strings.ToLower(f.Name) {
		return fmt.Errorf("registry: field name %q must be non-empty lowercase", f.Name)
	}
	if f.Type < frame.Uint8 || f.Type > frame.String {
		return fmt.Errorf("registry: field %s has invalid type %s", f.Name, f.Type)
	}
	if len(f.Categories) > 0 && f.Type != frame.Category {
		return fmt.Errorf("registry: field %s lists categories but is %s", f.Name, f.Type)
	}
	if f.Range != nil {
		if !f.Type.IsNumeric() {
			return fmt.Errorf("registry: field %s has a range but is %s", f.Name, f.Type)
		}
		lo, hi := f.Type.Limits()
		if f.Range.Min > f.Range.Max || f.Range.Min < lo || f.Range.Max > hi {
			return fmt.Errorf("registry: field %s range [%v,%v] invalid for %s", f.Name, f.Range.Min, f.Range.Max, f.Type)
		}
	}
	aliases := append([]Alias(nil), f.Aliases...)
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].From < aliases[j].From })
	for i, a := range aliases {
		if a.Source == "" || a.From > a.To {
			return fmt.Errorf("registry: field %s has malformed alias %s", f.Name, a)
		}
		if i > 0 && aliases[i-1].To >= a.From {
			return fmt.Errorf("registry: field %s aliases %s and %s overlap", f.Name, aliases[i-1], a)
		}
	}
	return nil
}

// Field returns the definition of a canonical field.
func (r *Registry) Field(name string) (Field, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Field{}, false
	}
	return r.fields[i], true
}

// Fields returns all fields in catalog order.
func (r *Registry) Fields() []Field { return append([]Field(nil), r.fields...) }

// Len is the number of canonical fields.
func (r *Registry) Len() int { return len(r.fields) }

// Expected returns the fields collected in year, with the alias that supplies
// each one, in catalog order.
func (r *Registry) Expected(year int) []Binding {
	var out []Binding
	for _, f := range r.fields {
		if a, ok := f.AliasFor(year); ok {
			out = append(out, Binding{Field: f, Alias: a})
		}
	}
	return out
}

// Resolve maps a raw source name in year back to its canonical field.
func (r *Registry) Resolve(year int, source string) (Field, bool) {
	source = strings.ToLower(source)
	for _, f := range r.fields {
		if a, ok := f.AliasFor(year); ok && a.Source == source {
			return f, true
		}
	}
	return Field{}, false
}

// Years returns the first and last year any alias covers.
func (r *Registry) Years() (first, last int) {
	for _, f := range r.fields {
		for _, a := range f.Aliases {
			if first == 0 || a.From < first {
				first = a.From
			}
			if a.To > last {
				last = a.To
			}
		}
	}
	return first, last
}

// Schema returns the declared schema of year in catalog order.
func (r *Registry) Schema(year int) frame.Schema {
	var out frame.Schema
	for _, b := range r.Expected(year) {
		out = append(out, frame.Field{Name: b.Field.Name, Type: b.Field.Type})
	}
	return out
}
