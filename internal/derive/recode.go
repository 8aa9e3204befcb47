package derive

// bucket maps source codes in [lo, hi] either to themselves (keep) or to a
// fixed code.
type bucket struct {
	lo, hi float64
	to     float64
	keep   bool
}

func same(lo, hi float64) bucket    { return bucket{lo: lo, hi: hi, keep: true} }
func to(lo, hi, code float64) bucket { return bucket{lo: lo, hi: hi, to: code} }

// source is one alternative encoding in a precedence chain. A source with
// a skip range is not read for birth years in [skipFrom, skipTo], nor when
// the birth year is unknown.
type source struct {
	column           string
	buckets          []bucket
	skipFrom, skipTo int
}

func (s source) readFor(year float64, yearOK bool) bool {
	if s.skipFrom == 0 && s.skipTo == 0 {
		return true
	}
	return yearOK && (year < float64(s.skipFrom) || year > float64(s.skipTo))
}

// chain is an ordered list of alternative encodings of one concept. The
// first source with a non-null value decides the result; a value that falls
// in no bucket yields null and does not fall through.
type chain []source

func (c chain) columns() []string {
	out := make([]string, len(c))
	for i, s := range c {
		out[i] = s.column
	}
	return out
}

// resolve applies the chain to values given in chain order for a record
// born in year. present[i] reports whether values[i] is non-null.
func (c chain) resolve(values []float64, present []bool, year float64, yearOK bool) (float64, bool) {
	for i, s := range c {
		if !present[i] || !s.readFor(year, yearOK) {
			continue
		}
		v := values[i]
		for _, b := range s.buckets {
			if v >= b.lo && v <= b.hi {
				if b.keep {
					return v, true
				}
				return b.to, true
			}
		}
		return 0, false
	}
	return 0, false
}

// Mother's race, collapsed to 1 white, 2 black, 3 American Indian/Alaska
// Native, 4 Asian/Pacific Islander. Most granular and most recent first.
// mrace15 and mracerec are not read for 2014-2019 births, which leaves
// race null for those years.
var raceChain = chain{
	{column: "mrace15", buckets: []bucket{same(1, 3), to(4, 14, 4)}, skipFrom: 2014, skipTo: 2019},
	{column: "mracerec", buckets: []bucket{same(1, 4)}, skipFrom: 2014, skipTo: 2019},
	{column: "mbrace", buckets: []bucket{same(1, 4)}},
	{column: "mrace", buckets: []bucket{same(1, 3), to(4, 78, 4)}},
}

// Mother's Hispanic origin, collapsed to 0 not Hispanic, 1 Mexican,
// 2 Puerto Rican, 3 Cuban, 4 other Hispanic, 5 unknown.
var hispanicChain = chain{
	{column: "mhisp_r", buckets: []bucket{same(0, 3), to(4, 5, 4), to(9, 9, 5)}},
	{column: "mhispx", buckets: []bucket{same(0, 3), to(4, 6, 4), to(9, 9, 5)}},
	{column: "umhisp", buckets: []bucket{same(0, 3), to(4, 5, 4), to(9, 9, 5)}},
	{column: "orracem", buckets: []bucket{same(1, 3), to(6, 8, 0), to(4, 5, 4), to(9, 9, 5)}},
}

// Combined race/ethnicity codes.
const (
	RaceEthWhite    = 1
	RaceEthBlack    = 2
	RaceEthAIAN     = 3
	RaceEthAsianPI  = 4
	RaceEthHispanic = 5

	hispanicUnknown = 5
)

// RaceEthnicity combines the two recodes: a specific Hispanic origin (1-4)
// overrides race with RaceEthHispanic, unknown origin yields null, and
// otherwise the race recode passes through.
func RaceEthnicity(race float64, raceOK bool, hisp float64, hispOK bool) (float64, bool) {
	if hispOK {
		switch {
		case hisp >= 1 && hisp <= 4:
			return RaceEthHispanic, true
		case hisp == hispanicUnknown:
			return 0, false
		}
	}
	return race, raceOK
}
