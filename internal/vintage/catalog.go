// Package vintage turns one year's raw source file into a table keyed by
// canonical field names and typed by the field registry.
//
// A year belongs to an era. Named-column eras read labelled exports (SAS,
// Stata or CSV) and rename columns through registry aliases. Fixed-width
// eras slice records by a named Layout; years that reuse an earlier layout
// refer to it by name.
package vintage

import (
	"fmt"
	"path/filepath"
	"strings"

	"natality/internal/registry"
)

// Era groups years that share a source format.
type Era int

const (
	EraUnknown Era = iota
	EraUnrevised
	EraTransition
	EraFixedWidth
)

func (e Era) String() string {
	switch e {
	case EraUnrevised:
		return "unrevised"
	case EraTransition:
		return "transition"
	case EraFixedWidth:
		return "fixed_width"
	}
	return "unknown"
}

// Vintage describes how one year is read.
type Vintage struct {
	Year int
	Era  Era
	// Layout names the fixed-width layout. Empty for named-column eras.
	Layout string
}

func (v Vintage) Named() bool { return v.Layout == "" }

func (v Vintage) String() string {
	if v.Named() {
		return fmt.Sprintf("%d(%s)", v.Year, v.Era)
	}
	return fmt.Sprintf("%d(%s layout %s)", v.Year, v.Era, v.Layout)
}

// For returns the vintage of year.
func For(year int) (Vintage, error) {
	v := Vintage{Year: year}
	switch {
	case year < registry.FirstYear || year > registry.LastYear:
		return Vintage{}, fmt.Errorf("vintage: year %d outside %d-%d", year, registry.FirstYear, registry.LastYear)
	case year <= 2002:
		v.Era = EraUnrevised
	case year <= 2013:
		v.Era = EraTransition
	case year <= 2017:
		v.Era, v.Layout = EraFixedWidth, layout2014.Name
	default:
		v.Era, v.Layout = EraFixedWidth, layout2018.Name
	}
	return v, nil
}

// Format is the physical encoding of a source file.
type Format int

const (
	FormatUnknown Format = iota
	FormatFixedWidth
	FormatSAS
	FormatStata
	FormatCSV
)

func (f Format) String() string {
	switch f {
	case FormatFixedWidth:
		return "fixed_width"
	case FormatSAS:
		return "sas7bdat"
	case FormatStata:
		return "dta"
	case FormatCSV:
		return "csv"
	}
	return "unknown"
}

// FormatOf picks the reader for path from its extension.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".dat":
		return FormatFixedWidth
	case ".sas7bdat":
		return FormatSAS
	case ".dta":
		return FormatStata
	case ".csv":
		return FormatCSV
	}
	return FormatUnknown
}

// checkFormat rejects a file whose format does not fit the vintage era.
func checkFormat(v Vintage, f Format) error {
	switch {
	case f == FormatUnknown:
		return fmt.Errorf("vintage %s: unsupported file format", v)
	case v.Named() && f == FormatFixedWidth:
		return fmt.Errorf("vintage %s: named-column era cannot read a fixed-width file", v)
	case !v.Named() && f != FormatFixedWidth:
		return fmt.Errorf("vintage %s: fixed-width era cannot read %s", v, f)
	}
	return nil
}
