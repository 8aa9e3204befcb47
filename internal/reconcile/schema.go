// Package reconcile unifies the schemas of per-year tables and aligns each
// table to the unified schema so that row-wise concatenation is exact.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"natality/internal/frame"
)

// Input is one table schema and a label (usually the vintage year) used in errors.
type Input struct {
	Label  string
	Schema frame.Schema
}

// Options tunes schema unification.
type Options struct {
	// Strict turns numeric/text mixes into a SchemaConflictError instead of
	// falling back to String.
	Strict bool
}

// SchemaConflictError names a column whose declared types cannot be unified.
type SchemaConflictError struct {
	Column string
	Types  map[string]frame.Type // label -> declared type
}

func (e *SchemaConflictError) Error() string {
	labels := make([]string, 0, len(e.Types))
	for l := range e.Types {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l + "=" + e.Types[l].String()
	}
	return fmt.Sprintf("reconcile: column %s has incompatible types across inputs: %s", e.Column, strings.Join(parts, ", "))
}

// TargetSchema computes the unified schema over inputs.
//
// The result is the union of all column names, ordered lexicographically.
// Per column:
//   - one declared type everywhere: keep it
//   - numeric types only: widen (see Widen)
//   - anything else: String, or SchemaConflictError when opt.Strict
func TargetSchema(inputs []Input, opt Options) (frame.Schema, error) {
	seen := map[string][]frame.Type{}
	origin := map[string]map[string]frame.Type{}
	for _, in := range inputs {
		for _, f := range in.Schema {
			seen[f.Name] = append(seen[f.Name], f.Type)
			if origin[f.Name] == nil {
				origin[f.Name] = map[string]frame.Type{}
			}
			origin[f.Name][in.Label] = f.Type
		}
	}

	out := make(frame.Schema, 0, len(seen))
	for name, types := range seen {
		t, ok := Unify(types)
		if !ok {
			if opt.Strict {
				return nil, &SchemaConflictError{Column: name, Types: origin[name]}
			}
			t = frame.String
		}
		out = append(out, frame.Field{Name: name, Type: t})
	}
	return out.Sorted(), nil
}

// BuildTargetSchema is the non-strict TargetSchema over in-memory tables.
func BuildTargetSchema(tables ...*frame.Table) frame.Schema {
	inputs := make([]Input, len(tables))
	for i, t := range tables {
		inputs[i] = Input{Label: fmt.Sprint(i), Schema: t.Schema()}
	}
	s, _ := TargetSchema(inputs, Options{})
	return s
}

// Unify returns the single type every value of types fits into.
// ok is false when types mix text with numbers.
func Unify(types []frame.Type) (frame.Type, bool) {
	if len(types) == 0 {
		return frame.Invalid, false
	}
	first := types[0]
	same, numeric, text := true, true, true
	for _, t := range types {
		same = same && t == first
		numeric = numeric && t.IsNumeric()
		text = text && t.IsText()
	}
	switch {
	case same:
		return first, true
	case numeric:
		return Widen(types), true
	case text:
		return frame.String, true
	}
	return frame.Invalid, false
}

// Widen returns the narrowest numeric type that holds every value of every
// input type: the widest integer when all are integers, otherwise a float.
// Float32 is kept only when no integer wider than 16 bits is involved.
func Widen(types []frame.Type) frame.Type {
	widestInt, anyFloat64, anyFloat32 := frame.Invalid, false, false
	for _, t := range types {
		switch {
		case t == frame.Float64:
			anyFloat64 = true
		case t == frame.Float32:
			anyFloat32 = true
		case t.IsInteger() && t > widestInt:
			widestInt = t
		}
	}
	switch {
	case anyFloat64:
		return frame.Float64
	case anyFloat32 && widestInt.Bits() > 16:
		return frame.Float64
	case anyFloat32:
		return frame.Float32
	}
	return widestInt
}
