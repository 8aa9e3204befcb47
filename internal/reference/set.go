package reference

import (
	"bytes"
	"context"
	_ "embed"
	"math"

	"natality/internal/config"
)

// Table and column names. They double as store table names.
const (
	PrevalenceYearTable = "prevalence_year"
	PrevalenceAgeTable  = "prevalence_age"
	ReductionRateTable  = "reduction_rate_year"
	CaseWeightsTable    = "ds_case_weights"

	PrevalenceEthnicityTable = "us_births_est_prevalence_ethnicity"

	PrevalenceColumn = "p_ds_lb_wt"
	Under35Column    = "p_ds_lb_wt_lt35_sv"
	From35Column     = "p_ds_lb_wt_gte35_sv"
	ReductionColumn  = "reduction"

	WeightTotal = "total"
)

// WeightColumns are the case-weight columns by combined race/ethnicity code
// 1..5 (non-Hispanic white, black, American Indian/Alaska Native,
// Asian/Pacific Islander, Hispanic).
var WeightColumns = []string{"nhw", "nhb", "ai_an", "as_pi", "his"}

// Published live-birth prevalence of Down syndrome with terminations,
// 1989-2024.
//
//go:embed data/prevalence_year.csv
var defaultPrevalenceYear []byte

// Set holds every lookup table of a run.
type Set struct {
	PrevalenceYear *YearTable
	PrevalenceAge  *YearTable
	ReductionRate  *YearTable
	CaseWeights    *YearTable

	// PrevalenceEthnicity holds estimated prevalence per WeightColumns group.
	// It is persisted for downstream queries only.
	PrevalenceEthnicity *YearTable
}

// Empty returns a Set whose tables list no years.
func Empty() *Set {
	return &Set{
		PrevalenceYear: NewYearTable(PrevalenceYearTable, 0, 1, PrevalenceColumn),
		PrevalenceAge:  NewYearTable(PrevalenceAgeTable, 0, 1, Under35Column, From35Column),
		ReductionRate:  NewYearTable(ReductionRateTable, 0, 1, ReductionColumn),
		CaseWeights:    NewYearTable(CaseWeightsTable, 0, math.Inf(1), append([]string{WeightTotal}, WeightColumns...)...),

		PrevalenceEthnicity: NewYearTable(PrevalenceEthnicityTable, 0, 1, WeightColumns...),
	}
}

// Load builds a Set from the configured paths. An empty prevalence-by-year
// path selects the built-in series; other empty paths leave that table
// empty.
func Load(ctx context.Context, cfg config.Reference) (*Set, error) {
	s := Empty()
	if cfg.PrevalenceYear == "" {
		if err := s.PrevalenceYear.Parse(ctx, bytes.NewReader(defaultPrevalenceYear)); err != nil {
			return nil, err
		}
	} else if err := s.PrevalenceYear.Load(ctx, cfg.PrevalenceYear); err != nil {
		return nil, err
	}
	if err := s.PrevalenceAge.Load(ctx, cfg.PrevalenceAge); err != nil {
		return nil, err
	}
	if err := s.ReductionRate.Load(ctx, cfg.ReductionRate); err != nil {
		return nil, err
	}
	if err := s.CaseWeights.Load(ctx, cfg.CaseWeights); err != nil {
		return nil, err
	}
	if err := s.PrevalenceEthnicity.Load(ctx, cfg.PrevalenceEthnicity); err != nil {
		return nil, err
	}
	return s, nil
}

// Tables lists the tables in store order.
func (s *Set) Tables() []*YearTable {
	return []*YearTable{s.PrevalenceYear, s.PrevalenceAge, s.ReductionRate, s.CaseWeights, s.PrevalenceEthnicity}
}
