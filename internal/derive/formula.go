package derive

import "math"

// Age-only model of Down syndrome live-birth probability without
// terminations: Morris JK, Mutton DE, Alberman E. "Recurrences of free
// trisomy 21: analysis of data from the National Down Syndrome Cytogenetic
// Register." J Med Screen 2005;12(3):115-118, doi:10.1258/096914105775220679
// (corrected maternal-age curve, slope -0.2815).
const (
	logitBase      = 7.33
	logitAmplitude = 4.211
	logitSlope     = -0.2815
	logitMidpoint  = 37.23

	// MinMaternalAge and MaxMaternalAge bound the ages the curve is
	// evaluated for.
	MinMaternalAge = 12
	MaxMaternalAge = 55

	// AgeBandSplit separates the two age-stratified prevalence series.
	AgeBandSplit = 35
)

// PAgeOnly returns p(age) = 1 / (1 + exp(7.33 - 4.211 / (1 + exp(-0.2815 (age - 37.23))))).
// ok is false outside [MinMaternalAge, MaxMaternalAge].
func PAgeOnly(age float64) (p float64, ok bool) {
	if math.IsNaN(age) || age < MinMaternalAge || age > MaxMaternalAge {
		return 0, false
	}
	inner := 1 / (1 + math.Exp(logitSlope*(age-logitMidpoint)))
	return 1 / (1 + math.Exp(logitBase-logitAmplitude*inner)), true
}
