// Package coerce turns loosely typed raw columns into typed frame columns.
//
// Per-value problems never abort: the value becomes null and a counter for
// its Reason is incremented. The single exception is RangeError under
// RangeFail, which stops at the first violation.
package coerce

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"natality/internal/frame"
	"natality/internal/registry"
)

// NonIntegerPolicy decides what happens to a fractional value bound for an
// integer type.
type NonIntegerPolicy string

const (
	NonIntegerNull     NonIntegerPolicy = "null"
	// NonIntegerTruncate drops the fraction, rounding toward zero.
	NonIntegerTruncate NonIntegerPolicy = "truncate"
)

// RangePolicy decides what happens to a value outside the field domain.
type RangePolicy string

const (
	RangeNull RangePolicy = "null"
	RangeFail RangePolicy = "error"
)

// Reason classifies a rejected value.
type Reason int

const (
	ParseInvalid Reason = iota
	NonIntegerValue
	OutOfRange
)

func (r Reason) String() string {
	switch r {
	case ParseInvalid:
		return "parse_invalid"
	case NonIntegerValue:
		return "non_integer"
	case OutOfRange:
		return "range_invalid"
	}
	return "unknown"
}

// Spec is the coercion target of one column.
type Spec struct {
	Type frame.Type

	// Range bounds numeric targets. Nil means the limits of Type.
	Range *registry.Range

	// Categories restricts Category targets. Empty accepts any non-empty value.
	Categories []string

	NonInteger NonIntegerPolicy
	OutOfRange RangePolicy
}

// SpecFor builds a Spec from a registry field and run-wide policies.
func SpecFor(f registry.Field, nonInt NonIntegerPolicy, rng RangePolicy) Spec {
	return Spec{
		Type:       f.Type,
		Range:      f.Range,
		Categories: f.Categories,
		NonInteger: nonInt,
		OutOfRange: rng,
	}
}

// RangeError reports the first out-of-domain value under RangeFail.
type RangeError struct {
	Column string
	Row    int
	Value  any
	Domain string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("coerce: column %s row %d: value %v outside %s", e.Column, e.Row, e.Value, e.Domain)
}

// numericLiteral accepts "7", "-3", "1.0", "1.", ".5". No exponents, no
// thousands separators, no embedded spaces.
var numericLiteral = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)$`)

// Column coerces values into a column named name.
//
// Accepted raw representations: nil, string, []byte, every Go integer and
// float kind. NaN is treated as missing (the statistical-package encoding of
// a missing numeric). bool and other kinds are ParseInvalid: two-valued
// sources must be mapped by the caller first.
func Column(name string, values []any, spec Spec) (*frame.Column, Stats, error) {
	var st Stats
	if spec.Type == frame.Invalid {
		return nil, st, fmt.Errorf("coerce: column %s has no target type", name)
	}
	out := frame.NewColumn(name, spec.Type, len(values))
	c := coercer{spec: spec, name: name}
	if spec.Range != nil {
		c.lo, c.hi = spec.Range.Min, spec.Range.Max
	} else {
		c.lo, c.hi = spec.Type.Limits()
	}

	for i, raw := range values {
		var (
			reason Reason
			ok     bool
		)
		if spec.Type.IsText() {
			var s string
			s, reason, ok = c.text(raw)
			if ok {
				out.SetStr(i, s)
				continue
			}
		} else {
			var v float64
			v, reason, ok = c.number(raw)
			if ok {
				out.SetNum(i, v)
				continue
			}
		}
		if reason < 0 {
			continue // missing, not rejected
		}
		st.add(reason)
		if reason == OutOfRange && spec.OutOfRange == RangeFail {
			return nil, st, &RangeError{Column: name, Row: i, Value: raw, Domain: c.domain()}
		}
	}
	return out, st, nil
}

type coercer struct {
	spec   Spec
	name   string
	lo, hi float64
}

const missing Reason = -1

func (c coercer) domain() string {
	if c.spec.Type.IsText() {
		return "{" + strings.Join(c.spec.Categories, ",") + "}"
	}
	return fmt.Sprintf("[%v,%v]", c.lo, c.hi)
}

func (c coercer) number(raw any) (float64, Reason, bool) {
	x, reason, ok := toFloat(raw)
	if !ok {
		return 0, reason, false
	}
	if c.spec.Type.IsInteger() && x != math.Trunc(x) {
		if c.spec.NonInteger != NonIntegerTruncate {
			return 0, NonIntegerValue, false
		}
		x = math.Trunc(x)
	}
	if x < c.lo || x > c.hi {
		return 0, OutOfRange, false
	}
	if c.spec.Type == frame.Float32 {
		x = float64(float32(x))
	}
	return x, 0, true
}

func (c coercer) text(raw any) (string, Reason, bool) {
	var s string
	switch v := raw.(type) {
	case nil:
		return "", missing, false
	case string:
		s = v
	case []byte:
		s = string(v)
	case bool:
		return "", ParseInvalid, false
	default:
		x, reason, ok := toFloat(raw)
		if !ok {
			return "", reason, false
		}
		s = strconv.FormatFloat(x, 'f', -1, 64)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", missing, false
	}
	if c.spec.Type == frame.Category && len(c.spec.Categories) > 0 && !slices.Contains(c.spec.Categories, s) {
		return "", OutOfRange, false
	}
	return s, 0, true
}

func toFloat(raw any) (float64, Reason, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, missing, false
	case string:
		return parseLiteral(v)
	case []byte:
		return parseLiteral(string(v))
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return float64(v), 0, true
	case int8:
		return float64(v), 0, true
	case int16:
		return float64(v), 0, true
	case int32:
		return float64(v), 0, true
	case int64:
		return float64(v), 0, true
	case uint:
		return float64(v), 0, true
	case uint8:
		return float64(v), 0, true
	case uint16:
		return float64(v), 0, true
	case uint32:
		return float64(v), 0, true
	case uint64:
		return float64(v), 0, true
	}
	return 0, ParseInvalid, false
}

func finite(v float64) (float64, Reason, bool) {
	if math.IsNaN(v) {
		return 0, missing, false
	}
	if math.IsInf(v, 0) {
		return 0, ParseInvalid, false
	}
	return v, 0, true
}

func parseLiteral(s string) (float64, Reason, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, missing, false
	}
	if !numericLiteral.MatchString(s) {
		return 0, ParseInvalid, false
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ParseInvalid, false
	}
	return x, 0, true
}
