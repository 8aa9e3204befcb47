package frame

import (
	"math"
	"strconv"
)

// Column is a typed, nullable vector.
//
// Numeric types store values in num; text types store values in str.
// valid[i] == false means row i is null.
type Column struct {
	Name string
	Type Type

	num   []float64
	str   []string
	valid []bool
}

// NewColumn returns an all-null column of n rows.
func NewColumn(name string, t Type, n int) *Column {
	c := &Column{Name: name, Type: t, valid: make([]bool, n)}
	if t.IsText() {
		c.str = make([]string, n)
	} else {
		c.num = make([]float64, n)
	}
	return c
}

// NumericColumn builds a column from values with an explicit validity mask.
// A nil mask marks every row valid.
func NumericColumn(name string, t Type, vals []float64, valid []bool) *Column {
	c := NewColumn(name, t, len(vals))
	copy(c.num, vals)
	for i := range c.valid {
		c.valid[i] = valid == nil || valid[i]
	}
	return c
}

// TextColumn builds a text column; nil entries are null.
func TextColumn(name string, t Type, vals []*string) *Column {
	c := NewColumn(name, t, len(vals))
	for i, v := range vals {
		if v != nil {
			c.str[i] = *v
			c.valid[i] = true
		}
	}
	return c
}

func (c *Column) Len() int { return len(c.valid) }

func (c *Column) IsNull(i int) bool { return !c.valid[i] }

// Num returns the numeric value at i. ok is false for null rows and text columns.
func (c *Column) Num(i int) (v float64, ok bool) {
	if c.num == nil || !c.valid[i] {
		return 0, false
	}
	return c.num[i], true
}

// Str returns the text value at i. ok is false for null rows and numeric columns.
func (c *Column) Str(i int) (v string, ok bool) {
	if c.str == nil || !c.valid[i] {
		return "", false
	}
	return c.str[i], true
}

func (c *Column) SetNum(i int, v float64) {
	c.num[i] = v
	c.valid[i] = true
}

func (c *Column) SetStr(i int, v string) {
	c.str[i] = v
	c.valid[i] = true
}

func (c *Column) SetNull(i int) {
	c.valid[i] = false
	if c.num != nil {
		c.num[i] = 0
	} else {
		c.str[i] = ""
	}
}

// NullCount returns the number of null rows.
func (c *Column) NullCount() int {
	n := 0
	for _, ok := range c.valid {
		if !ok {
			n++
		}
	}
	return n
}

// Value returns the row as a driver-friendly scalar: nil, int64, float64 or string.
func (c *Column) Value(i int) any {
	if !c.valid[i] {
		return nil
	}
	switch {
	case c.Type.IsInteger():
		return int64(c.num[i])
	case c.Type == Float32:
		return float64(float32(c.num[i]))
	case c.Type == Float64:
		return c.num[i]
	default:
		return c.str[i]
	}
}

// Text renders the row the way a CSV export would; null renders as "".
func (c *Column) Text(i int) string {
	if !c.valid[i] {
		return ""
	}
	if c.str != nil {
		return c.str[i]
	}
	if c.Type.IsInteger() {
		return strconv.FormatFloat(c.num[i], 'f', 0, 64)
	}
	bits := 64
	if c.Type == Float32 {
		bits = 32
	}
	return strconv.FormatFloat(c.num[i], 'g', -1, bits)
}

// Clone returns a deep copy, optionally renamed when name is non-empty.
func (c *Column) Clone(name string) *Column {
	out := &Column{Name: c.Name, Type: c.Type, valid: append([]bool(nil), c.valid...)}
	if name != "" {
		out.Name = name
	}
	if c.num != nil {
		out.num = append([]float64(nil), c.num...)
	}
	if c.str != nil {
		out.str = append([]string(nil), c.str...)
	}
	return out
}

// Slice returns rows [lo, hi) as a new column.
func (c *Column) Slice(lo, hi int) *Column {
	out := &Column{Name: c.Name, Type: c.Type, valid: append([]bool(nil), c.valid[lo:hi]...)}
	if c.num != nil {
		out.num = append([]float64(nil), c.num[lo:hi]...)
	}
	if c.str != nil {
		out.str = append([]string(nil), c.str[lo:hi]...)
	}
	return out
}

// Equal compares name, type, validity and valid values.
func (c *Column) Equal(o *Column) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.Name != o.Name || c.Type != o.Type || c.Len() != o.Len() {
		return false
	}
	for i := range c.valid {
		if c.valid[i] != o.valid[i] {
			return false
		}
		if !c.valid[i] {
			continue
		}
		if c.num != nil {
			a, b := c.num[i], o.num[i]
			if a != b && !(math.IsNaN(a) && math.IsNaN(b)) {
				return false
			}
		} else if c.str[i] != o.str[i] {
			return false
		}
	}
	return true
}
