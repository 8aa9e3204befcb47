// Package frame is the columnar table model shared by the harmonizer:
// typed, nullable columns keyed by canonical field name.
//
// Numeric columns keep their values as float64 regardless of logical width.
// Every supported integer width (up to uint32) is exactly representable, so
// the logical Type is the contract and the storage is an implementation detail.
package frame

import (
	"fmt"
	"math"
	"strings"
)

// Type is the logical type of a column.
type Type int

const (
	Invalid Type = iota
	Uint8
	Uint16
	Uint32
	Float32
	Float64
	// Category is a string drawn from a small documented domain (e.g. Y/N/U).
	Category
	// String is free text and the fallback type for irreconcilable columns.
	String
)

var typeNames = map[Type]string{
	Uint8:    "uint8",
	Uint16:   "uint16",
	Uint32:   "uint32",
	Float32:  "float32",
	Float64:  "float64",
	Category: "category",
	String:   "string",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType accepts the names produced by Type.String.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return Invalid, fmt.Errorf("frame: unknown type %q", s)
}

// MarshalText lets Type appear as a string in JSON configs and staging metadata.
func (t Type) MarshalText() ([]byte, error) {
	if _, ok := typeNames[t]; !ok {
		return nil, fmt.Errorf("frame: cannot marshal %s", t)
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t Type) IsNumeric() bool { return t >= Uint8 && t <= Float64 }
func (t Type) IsInteger() bool { return t >= Uint8 && t <= Uint32 }
func (t Type) IsFloat() bool   { return t == Float32 || t == Float64 }
func (t Type) IsText() bool    { return t == Category || t == String }

// Bits is the storage width of a numeric type, 0 for text.
func (t Type) Bits() int {
	switch t {
	case Uint8:
		return 8
	case Uint16:
		return 16
	case Uint32, Float32:
		return 32
	case Float64:
		return 64
	}
	return 0
}

// Limits returns the representable range of an integer type.
// Float types report ±MaxFloat64.
func (t Type) Limits() (lo, hi float64) {
	switch t {
	case Uint8:
		return 0, math.MaxUint8
	case Uint16:
		return 0, math.MaxUint16
	case Uint32:
		return 0, math.MaxUint32
	case Float32:
		return -math.MaxFloat32, math.MaxFloat32
	case Float64:
		return -math.MaxFloat64, math.MaxFloat64
	}
	return 0, 0
}

// Represents reports whether v can be stored in t without loss.
func (t Type) Represents(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	switch {
	case t.IsInteger():
		lo, hi := t.Limits()
		return v == math.Trunc(v) && v >= lo && v <= hi
	case t == Float32:
		return float64(float32(v)) == v
	case t == Float64:
		return true
	}
	return false
}
