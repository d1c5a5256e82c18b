package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TTestResult is the outcome of a two-sample t-test.
type TTestResult struct {
	TStatistic       float64 `json:"t_statistic"`
	PValue           float64 `json:"p_value"`
	DegreesOfFreedom float64 `json:"degrees_of_freedom"`
}

// TTestIndependent runs Student's independent two-sample t-test with pooled
// variance. Samples with zero pooled variance give t=0, p=1 when the means
// match and an infinite statistic with p=0 otherwise.
func TTestIndependent(a, b []float64) TTestResult {
	n1, n2 := float64(len(a)), float64(len(b))
	df := n1 + n2 - 2
	if len(a) < 2 || len(b) < 2 {
		return TTestResult{PValue: 1, DegreesOfFreedom: math.Max(df, 0)}
	}

	m1, m2 := stat.Mean(a, nil), stat.Mean(b, nil)
	v1, v2 := stat.Variance(a, nil), stat.Variance(b, nil)
	pooled := ((n1-1)*v1 + (n2-1)*v2) / df
	se := math.Sqrt(pooled * (1/n1 + 1/n2))

	if se == 0 || math.IsNaN(se) {
		if m1 == m2 {
			return TTestResult{TStatistic: 0, PValue: 1, DegreesOfFreedom: df}
		}
		return TTestResult{TStatistic: math.Copysign(math.Inf(1), m1-m2), PValue: 0, DegreesOfFreedom: df}
	}

	t := (m1 - m2) / se
	return TTestResult{TStatistic: t, PValue: twoTailedT(t, df), DegreesOfFreedom: df}
}

// Pearson returns the correlation coefficient of x and y and the two-tailed
// p-value of the hypothesis r=0 (t-statistic with n-2 degrees of freedom).
// Degenerate inputs (fewer than three pairs, constant series) give r=0, p=1.
func Pearson(x, y []float64) (r, p float64) {
	n := len(x)
	if n != len(y) || n < 3 {
		return 0, 1
	}

	r = stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0, 1
	}
	if math.Abs(r) >= 1 {
		return math.Copysign(1, r), 0
	}

	df := float64(n - 2)
	t := r * math.Sqrt(df/(1-r*r))
	return r, twoTailedT(t, df)
}

// LinearFit is an ordinary least squares fit y = Intercept + Slope*x.
// SlopePValue is the two-tailed p-value of the hypothesis slope=0.
type LinearFit struct {
	Slope          float64 `json:"slope"`
	Intercept      float64 `json:"intercept"`
	RSquared       float64 `json:"r_squared"`
	SlopeStdErr    float64 `json:"slope_std_err"`
	SlopePValue    float64 `json:"slope_p_value"`
	ResidualStdDev float64 `json:"residual_std_dev"`
	N              int     `json:"n"`
}

// Predict evaluates the fitted line at x.
func (f LinearFit) Predict(x float64) float64 {
	return f.Intercept + f.Slope*x
}

// FitLinear fits y against x. It needs at least three points and some spread
// in x; otherwise it returns false.
func FitLinear(x, y []float64) (LinearFit, bool) {
	n := len(x)
	if n != len(y) || n < 3 {
		return LinearFit{}, false
	}

	meanX := stat.Mean(x, nil)
	var sxx float64
	for _, v := range x {
		sxx += (v - meanX) * (v - meanX)
	}
	if sxx == 0 {
		return LinearFit{}, false
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)

	var sse float64
	for i := range x {
		res := y[i] - (alpha + beta*x[i])
		sse += res * res
	}
	df := float64(n - 2)
	residualSD := math.Sqrt(sse / df)
	se := residualSD / math.Sqrt(sxx)

	r2 := stat.RSquared(x, y, nil, alpha, beta)
	if math.IsNaN(r2) {
		// constant y: the flat fit is exact
		r2 = 1
	}

	fit := LinearFit{
		Slope:          beta,
		Intercept:      alpha,
		RSquared:       r2,
		SlopeStdErr:    se,
		ResidualStdDev: residualSD,
		N:              n,
	}
	switch {
	case se == 0 && beta == 0:
		fit.SlopePValue = 1
	case se == 0:
		fit.SlopePValue = 0
	default:
		fit.SlopePValue = twoTailedT(beta/se, df)
	}
	return fit, true
}

func twoTailedT(t, df float64) float64 {
	if math.IsInf(t, 0) {
		return 0
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - dist.CDF(math.Abs(t)))
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
