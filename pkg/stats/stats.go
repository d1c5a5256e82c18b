// Package stats provides the statistical primitives used by the APM
// analyzers. It wraps gonum and keeps the conventions in one place: sample
// standard deviation (n-1), linearly interpolated percentiles and two-tailed
// p-values.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Summary describes a sample.
type Summary struct {
	Count           int     `json:"count"`
	Mean            float64 `json:"mean"`
	Median          float64 `json:"median"`
	StdDev          float64 `json:"std_dev"`
	P95             float64 `json:"p95"`
	P99             float64 `json:"p99"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	CILower         float64 `json:"ci_lower"`
	CIUpper         float64 `json:"ci_upper"`
	ConfidenceLevel float64 `json:"confidence_level"`
}

// Describe computes descriptive statistics and a Student-t confidence
// interval for the mean. An empty sample yields the zero Summary.
func Describe(values []float64, confidence float64) Summary {
	if len(values) == 0 {
		return Summary{ConfidenceLevel: confidence}
	}

	sorted := Sorted(values)
	mean := stat.Mean(values, nil)
	sd := StdDev(values)
	lo, hi := ConfidenceInterval(values, confidence)

	return Summary{
		Count:           len(values),
		Mean:            mean,
		Median:          Percentile(sorted, 0.5),
		StdDev:          sd,
		P95:             Percentile(sorted, 0.95),
		P99:             Percentile(sorted, 0.99),
		Min:             sorted[0],
		Max:             sorted[len(sorted)-1],
		CILower:         lo,
		CIUpper:         hi,
		ConfidenceLevel: confidence,
	}
}

// Mean returns the arithmetic mean, 0 for an empty sample.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// StdDev returns the sample standard deviation, 0 for fewer than two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

// Sorted returns a sorted copy of values.
func Sorted(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// Percentile returns the p-quantile (0..1) of sorted values using linear
// interpolation between closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}

	index := p * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[lower]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// RemoveOutliersIQR drops values outside [Q1-1.5*IQR, Q3+1.5*IQR]. When more
// than half of the sample would be dropped the original values are returned
// unchanged. The second result is the number of values removed.
func RemoveOutliersIQR(values []float64) ([]float64, int) {
	out := make([]float64, len(values))
	copy(out, values)
	if len(values) < 4 {
		return out, 0
	}

	sorted := Sorted(values)
	q1 := Percentile(sorted, 0.25)
	q3 := Percentile(sorted, 0.75)
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if v >= lower && v <= upper {
			kept = append(kept, v)
		}
	}

	removed := len(values) - len(kept)
	if removed*2 > len(values) {
		return out, 0
	}
	return kept, removed
}

// ConfidenceInterval returns the Student-t confidence interval for the mean.
// With fewer than two values the interval collapses onto the mean.
func ConfidenceInterval(values []float64, confidence float64) (float64, float64) {
	mean := Mean(values)
	n := len(values)
	if n < 2 || confidence <= 0 || confidence >= 1 {
		return mean, mean
	}

	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}.Quantile((1 + confidence) / 2)
	margin := t * StdDev(values) / math.Sqrt(float64(n))
	return mean - margin, mean + margin
}

// ZTestPValue returns the two-tailed p-value of value against a normal
// distribution with the given mean and standard deviation. A zero standard
// deviation gives 1 when value equals the mean and 0 otherwise.
func ZTestPValue(value, mean, stdDev float64) float64 {
	if stdDev <= 0 || math.IsNaN(stdDev) {
		if value == mean {
			return 1
		}
		return 0
	}
	z := (value - mean) / stdDev
	return 2 * (1 - distuv.UnitNormal.CDF(math.Abs(z)))
}

// Range returns max-min, 0 for an empty sample.
func Range(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Max(values) - floats.Min(values)
}
