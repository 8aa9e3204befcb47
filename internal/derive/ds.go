package derive

import "strings"

// Down syndrome status codes of ca_down_c.
const (
	StatusConfirmed = "C"
	StatusPending   = "P"
	StatusNegative  = "N"
	StatusUnknown   = "U"
)

// DownSources carries the three encodings of the Down syndrome item. Empty
// strings and false flags mean the source is null for the row.
type DownSources struct {
	CaDown string // C/P/N/U, 2004 onward

	UcaDowns   float64 // 2003 unrevised coding: 1 yes, 2 no, 9 unknown
	UcaDownsOK bool

	Downs   float64 // 1989-2002: 1 yes, 2 no, 8 not on certificate, 9 unknown
	DownsOK bool
}

// Status collapses the sources into one status, preferring the newest
// encoding that is present. A present value outside its code list is null.
func (s DownSources) Status() (string, bool) {
	switch {
	case strings.TrimSpace(s.CaDown) != "":
		v := strings.ToUpper(strings.TrimSpace(s.CaDown))
		switch v {
		case StatusConfirmed, StatusPending, StatusNegative, StatusUnknown:
			return v, true
		}
		return "", false
	case s.UcaDownsOK:
		switch s.UcaDowns {
		case 1:
			return StatusConfirmed, true
		case 2:
			return StatusNegative, true
		case 9:
			return StatusUnknown, true
		}
		return "", false
	case s.DownsOK:
		switch s.Downs {
		case 1:
			return StatusConfirmed, true
		case 2:
			return StatusNegative, true
		case 8, 9:
			return StatusUnknown, true
		}
		return "", false
	}
	return "", false
}

// PositiveCount is the number of present sources that indicate confirmed or
// pending. ok is false when no source is present. More than one is a data
// quality anomaly: at most one source is collected per vintage.
func (s DownSources) PositiveCount() (n int, ok bool) {
	if v := strings.ToUpper(strings.TrimSpace(s.CaDown)); v != "" {
		ok = true
		if v == StatusConfirmed || v == StatusPending {
			n++
		}
	}
	if s.UcaDownsOK {
		ok = true
		if s.UcaDowns == 1 {
			n++
		}
	}
	if s.DownsOK {
		ok = true
		if s.Downs == 1 {
			n++
		}
	}
	return n, ok
}

// DownFlags is the collapse of one status.
type DownFlags struct {
	// Indicated is 1 for confirmed or pending, 0 for negative.
	Indicated   float64
	IndicatedOK bool

	// Confirmed, Pending, Negative and Unknown are mutually exclusive 0/1
	// flags, valid whenever a status is known.
	Confirmed, Pending, Negative, Unknown float64
	FlagsOK                               bool
}

// Collapse derives the indicator and the four flags from a status.
func Collapse(status string, ok bool) DownFlags {
	if !ok {
		return DownFlags{}
	}
	f := DownFlags{FlagsOK: true}
	switch status {
	case StatusConfirmed:
		f.Confirmed, f.Indicated, f.IndicatedOK = 1, 1, true
	case StatusPending:
		f.Pending, f.Indicated, f.IndicatedOK = 1, 1, true
	case StatusNegative:
		f.Negative, f.Indicated, f.IndicatedOK = 1, 0, true
	case StatusUnknown:
		f.Unknown = 1
	default:
		return DownFlags{}
	}
	return f
}
