package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natality/internal/frame"
)

func TestDefault_IsValidAndCoversAllYears(t *testing.T) {
	t.Parallel()

	r := Default()
	first, last := r.Years()
	require.Equal(t, FirstYear, first)
	require.Equal(t, LastYear, last)

	for y := FirstYear; y <= LastYear; y++ {
		assert.NotEmptyf(t, r.Expected(y), "year %d expects no fields", y)
	}
}

func TestDefault_AtMostOneSourcePerVintage(t *testing.T) {
	t.Parallel()

	r := Default()
	for y := FirstYear; y <= LastYear; y++ {
		seen := map[string]string{}
		for _, b := range r.Expected(y) {
			prev, dup := seen[b.Alias.Source]
			require.Falsef(t, dup, "year %d: source %s feeds both %s and %s", y, b.Alias.Source, prev, b.Field.Name)
			seen[b.Alias.Source] = b.Field.Name
		}
	}
}

func TestDefault_DownSyndromeSpellings(t *testing.T) {
	t.Parallel()

	r := Default()
	tests := []struct {
		year   int
		source string
		ok     bool
	}{
		{year: 2003, ok: false},
		{year: 2004, source: "ca_down", ok: true},
		{year: 2011, source: "ca_down", ok: true},
		{year: 2012, source: "ca_downs", ok: true},
		{year: 2017, source: "ca_downs", ok: true},
		{year: 2018, source: "ca_down", ok: true},
		{year: 2024, source: "ca_down", ok: true},
	}
	f, ok := r.Field("ca_down")
	require.True(t, ok)
	for _, tc := range tests {
		a, ok := f.AliasFor(tc.year)
		require.Equalf(t, tc.ok, ok, "year %d", tc.year)
		if ok {
			assert.Equalf(t, tc.source, a.Source, "year %d", tc.year)
		}
	}

	got, ok := r.Resolve(2015, "CA_DOWNS")
	require.True(t, ok)
	assert.Equal(t, "ca_down", got.Name)
}

func TestDefault_SexRecodeForUnrevisedYears(t *testing.T) {
	t.Parallel()

	f, ok := Default().Field("sex")
	require.True(t, ok)
	a, ok := f.AliasFor(1995)
	require.True(t, ok)
	assert.Equal(t, "csex", a.Source)
	assert.Equal(t, "F", a.Recode["2"])
}

func TestNew_RejectsInvalidCatalogs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fields []Field
	}{
		{
			name:   "uppercase_name",
			fields: []Field{{Name: "MAGER", Type: frame.Uint8}},
		},
		{
			name:   "duplicate",
			fields: []Field{{Name: "a", Type: frame.Uint8}, {Name: "a", Type: frame.Uint8}},
		},
		{
			name: "overlapping_aliases",
			fields: []Field{{Name: "a", Type: frame.Uint8, Aliases: []Alias{
				{From: 2000, To: 2010, Source: "x"},
				{From: 2010, To: 2012, Source: "y"},
			}}},
		},
		{
			name:   "range_outside_type",
			fields: []Field{{Name: "a", Type: frame.Uint8, Range: &Range{Min: 0, Max: 300}}},
		},
		{
			name:   "categories_on_numeric",
			fields: []Field{{Name: "a", Type: frame.Uint8, Categories: []string{"Y"}}},
		},
		{
			name:   "inverted_alias",
			fields: []Field{{Name: "a", Type: frame.String, Aliases: []Alias{{From: 2010, To: 2000, Source: "x"}}}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.fields)
			require.Error(t, err)
		})
	}
}

func TestField_BoundsDefaultsToTypeLimits(t *testing.T) {
	t.Parallel()

	f := Field{Name: "x", Type: frame.Uint16}
	assert.Equal(t, Range{Min: 0, Max: 65535}, f.Bounds())

	f.Range = &Range{Min: 1989, Max: 2100}
	assert.True(t, f.Bounds().Contains(2024))
	assert.False(t, f.Bounds().Contains(1988))
}

func TestSchema_FollowsCatalogOrder(t *testing.T) {
	t.Parallel()

	s := Default().Schema(1990)
	require.NotEmpty(t, s)
	assert.Equal(t, "datayear", s[0].Name)
	typ, ok := s.Lookup("downs")
	require.True(t, ok)
	assert.Equal(t, frame.Uint8, typ)
	_, ok = s.Lookup("ca_down")
	assert.False(t, ok, "ca_down is not collected in 1990")
}
