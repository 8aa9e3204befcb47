// Package derive computes the analysis columns of the unified natality
// table from harmonized raw fields and the reference lookups.
//
// Derived columns are appended after the raw columns in Outputs order and
// only ever read raw columns or earlier derived columns, so applying the
// calculator twice yields the same table.
package derive

import (
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"strconv"
	"strings"

	"natality/internal/frame"
	"natality/internal/reference"
)

// Logger is the subset of *log.Logger the calculator writes to.
type Logger interface {
	Printf(format string, v ...any)
}

// Derived column names.
const (
	Year            = "year"
	MaternalAge     = "mage_c"
	MotherRace      = "mrace_c"
	MotherHispanic  = "mhisp_c"
	MotherRaceEth   = "mracehisp_c"
	DownStatus      = "ca_down_c"
	DownIndicated   = "down_ind"
	DownConfirmed   = "ds_confirmed"
	DownPending     = "ds_pending"
	DownNegative    = "ds_negative"
	DownUnknown     = "ds_unknown"
	DownSourceCount = "ds_cp_count"
	DownAnomaly     = "ds_anomaly"
	PAgeOnlyColumn  = "p_ds_lb_nt"
	PYear           = "p_ds_lb_wt"
	PAgeBand        = "p_ds_lb_wt_mage"
	PAgeOnlyReduced = "p_ds_lb_wt_mage_reduc"
	CaseWeight      = "ds_case_weight"
)

// Outputs is the schema Apply appends, in order.
var Outputs = frame.Schema{
	{Name: Year, Type: frame.Uint16},
	{Name: MaternalAge, Type: frame.Uint8},
	{Name: MotherRace, Type: frame.Uint8},
	{Name: MotherHispanic, Type: frame.Uint8},
	{Name: MotherRaceEth, Type: frame.Uint8},
	{Name: DownStatus, Type: frame.Category},
	{Name: DownIndicated, Type: frame.Uint8},
	{Name: DownConfirmed, Type: frame.Uint8},
	{Name: DownPending, Type: frame.Uint8},
	{Name: DownNegative, Type: frame.Uint8},
	{Name: DownUnknown, Type: frame.Uint8},
	{Name: DownSourceCount, Type: frame.Uint8},
	{Name: DownAnomaly, Type: frame.Uint8},
	{Name: PAgeOnlyColumn, Type: frame.Float64},
	{Name: PYear, Type: frame.Float64},
	{Name: PAgeBand, Type: frame.Float64},
	{Name: PAgeOnlyReduced, Type: frame.Float64},
	{Name: CaseWeight, Type: frame.Float64},
}

// Stats summarizes one Apply call.
type Stats struct {
	Rows int
	// Anomalies counts rows where more than one Down syndrome source
	// indicates confirmed or pending.
	Anomalies int64
	// MissingYears lists, per reference table, the years looked up but not
	// found. The affected cells are null.
	MissingYears map[string][]int
}

// Merge adds o into s.
func (s *Stats) Merge(o Stats) {
	s.Rows += o.Rows
	s.Anomalies += o.Anomalies
	for tb, ys := range o.MissingYears {
		if s.MissingYears == nil {
			s.MissingYears = map[string][]int{}
		}
		merged := append(s.MissingYears[tb], ys...)
		slices.Sort(merged)
		s.MissingYears[tb] = slices.Compact(merged)
	}
}

// Calculator appends the derived columns to a harmonized table.
type Calculator struct {
	Refs   *reference.Set
	Logger Logger
}

// NewCalculator returns a Calculator over refs. A nil refs behaves like an
// empty reference set: every looked-up value is null.
func NewCalculator(refs *reference.Set) *Calculator {
	if refs == nil {
		refs = reference.Empty()
	}
	return &Calculator{Refs: refs, Logger: log.New(io.Discard, "", 0)}
}

// Apply computes every column in Outputs and puts it into t, replacing a
// previous derivation. Source columns absent from t are treated as null.
//
// Errors: a source column with a non-numeric value where a code is expected
// is null for that row, not an error. Apply fails only when a derived name
// collides with a raw column of a different type.
func (c *Calculator) Apply(t *frame.Table) (Stats, error) {
	for _, f := range Outputs {
		if col, ok := t.Column(f.Name); ok && col.Type != f.Type {
			return Stats{}, fmt.Errorf("derive: column %s exists as %s, want %s", f.Name, col.Type, f.Type)
		}
	}
	n := t.Rows()
	st := Stats{Rows: n}
	missing := map[string]map[int]struct{}{}
	miss := func(table string, year int) {
		if missing[table] == nil {
			missing[table] = map[int]struct{}{}
		}
		missing[table][year] = struct{}{}
	}

	out := map[string]*frame.Column{}
	for _, f := range Outputs {
		out[f.Name] = frame.NewColumn(f.Name, f.Type, n)
	}

	dobYY, dataYear := numeric(t, "dob_yy"), numeric(t, "datayear")
	mager, dmage, mager41 := numeric(t, "mager"), numeric(t, "dmage"), numeric(t, "mager41")
	caDown := text(t, "ca_down")
	ucaDowns, downs := numeric(t, "uca_downs"), numeric(t, "downs")
	raceSrc := sources(t, raceChain)
	hispSrc := sources(t, hispanicChain)
	raceVals, racePresent := make([]float64, len(raceChain)), make([]bool, len(raceChain))
	hispVals, hispPresent := make([]float64, len(hispanicChain)), make([]bool, len(hispanicChain))

	for i := range n {
		year, yearOK := coalesce(i, dobYY, dataYear)
		if yearOK {
			out[Year].SetNum(i, year)
		}

		age, ageOK := coalesce(i, mager, dmage)
		if !ageOK {
			if v, ok := mager41(i); ok {
				age, ageOK = v+13, true
			}
		}
		if ageOK {
			out[MaternalAge].SetNum(i, age)
		}

		for j, src := range raceSrc {
			raceVals[j], racePresent[j] = src(i)
		}
		race, raceOK := raceChain.resolve(raceVals, racePresent, year, yearOK)
		setNum(out[MotherRace], i, race, raceOK)

		for j, src := range hispSrc {
			hispVals[j], hispPresent[j] = src(i)
		}
		hisp, hispOK := hispanicChain.resolve(hispVals, hispPresent, year, yearOK)
		setNum(out[MotherHispanic], i, hisp, hispOK)

		raceEth, raceEthOK := RaceEthnicity(race, raceOK, hisp, hispOK)
		setNum(out[MotherRaceEth], i, raceEth, raceEthOK)

		ds := DownSources{CaDown: caDown(i)}
		ds.UcaDowns, ds.UcaDownsOK = ucaDowns(i)
		ds.Downs, ds.DownsOK = downs(i)
		status, statusOK := ds.Status()
		if statusOK {
			out[DownStatus].SetStr(i, status)
		}
		flags := Collapse(status, statusOK)
		setNum(out[DownIndicated], i, flags.Indicated, flags.IndicatedOK)
		setNum(out[DownConfirmed], i, flags.Confirmed, flags.FlagsOK)
		setNum(out[DownPending], i, flags.Pending, flags.FlagsOK)
		setNum(out[DownNegative], i, flags.Negative, flags.FlagsOK)
		setNum(out[DownUnknown], i, flags.Unknown, flags.FlagsOK)
		if cnt, ok := ds.PositiveCount(); ok {
			out[DownSourceCount].SetNum(i, float64(cnt))
			anomaly := 0.0
			if cnt > 1 {
				anomaly = 1
				st.Anomalies++
			}
			out[DownAnomaly].SetNum(i, anomaly)
		}

		pNT, pNTOK := 0.0, false
		if ageOK {
			pNT, pNTOK = PAgeOnly(age)
		}
		setNum(out[PAgeOnlyColumn], i, pNT, pNTOK)

		if yearOK {
			y := int(year)
			lookup := func(tb *reference.YearTable, column string) (float64, bool) {
				v, err := tb.Lookup(y, column)
				if errors.Is(err, reference.ErrMissingReferenceYear) {
					miss(tb.Name, y)
				}
				return v, err == nil
			}

			v, ok := lookup(c.Refs.PrevalenceYear, reference.PrevalenceColumn)
			setNum(out[PYear], i, v, ok)

			if ageOK {
				col := reference.Under35Column
				if age >= AgeBandSplit {
					col = reference.From35Column
				}
				v, ok := lookup(c.Refs.PrevalenceAge, col)
				setNum(out[PAgeBand], i, v, ok)
			}

			if pNTOK {
				r, ok := lookup(c.Refs.ReductionRate, reference.ReductionColumn)
				setNum(out[PAgeOnlyReduced], i, pNT*(1-r), ok)
			}
		}

		switch {
		case flags.IndicatedOK && flags.Indicated == 1:
			if !yearOK {
				break
			}
			w, ok := c.caseWeight(int(year), raceEth, raceEthOK, miss)
			setNum(out[CaseWeight], i, w, ok)
		default:
			out[CaseWeight].SetNum(i, 0)
		}
	}

	for _, f := range Outputs {
		if err := t.Put(out[f.Name]); err != nil {
			return Stats{}, fmt.Errorf("derive: %w", err)
		}
	}
	if len(missing) > 0 {
		st.MissingYears = map[string][]int{}
		for tb, ys := range missing {
			for y := range ys {
				st.MissingYears[tb] = append(st.MissingYears[tb], y)
			}
			slices.Sort(st.MissingYears[tb])
		}
	}
	c.Logger.Printf("derive rows=%d anomalies=%d missing_reference=%v", st.Rows, st.Anomalies, st.MissingYears)
	return st, nil
}

// caseWeight picks the race/ethnicity specific weight of year, falling back
// to the total weight when the group is unknown or its cell is empty.
func (c *Calculator) caseWeight(year int, raceEth float64, raceEthOK bool, miss func(string, int)) (float64, bool) {
	tb := c.Refs.CaseWeights
	if !tb.Has(year) {
		miss(tb.Name, year)
		return 0, false
	}
	if raceEthOK && raceEth >= 1 && int(raceEth) <= len(reference.WeightColumns) {
		if w, err := tb.Lookup(year, reference.WeightColumns[int(raceEth)-1]); err == nil {
			return w, true
		}
	}
	w, err := tb.Lookup(year, reference.WeightTotal)
	return w, err == nil
}

type numFunc func(i int) (float64, bool)

// numeric reads name as numbers. Text columns are parsed; unparseable and
// absent values are null.
func numeric(t *frame.Table, name string) numFunc {
	col, ok := t.Column(name)
	if !ok {
		return func(int) (float64, bool) { return 0, false }
	}
	if col.Type.IsNumeric() {
		return col.Num
	}
	return func(i int) (float64, bool) {
		s, ok := col.Str(i)
		if !ok {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return v, err == nil
	}
}

// text reads name as trimmed text; null and absent values are "".
func text(t *frame.Table, name string) func(i int) string {
	col, ok := t.Column(name)
	if !ok {
		return func(int) string { return "" }
	}
	return func(i int) string { return strings.TrimSpace(col.Text(i)) }
}

func sources(t *frame.Table, c chain) []numFunc {
	out := make([]numFunc, 0, len(c))
	for _, name := range c.columns() {
		out = append(out, numeric(t, name))
	}
	return out
}

func coalesce(i int, fs ...numFunc) (float64, bool) {
	for _, f := range fs {
		if v, ok := f(i); ok {
			return v, true
		}
	}
	return 0, false
}

func setNum(c *frame.Column, i int, v float64, ok bool) {
	if ok {
		c.SetNum(i, v)
	}
}
