package trend

import (
	"time"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
)

// Direction is the sign of a fitted trend.
type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionStable     Direction = "stable"
)

// Type labels how well a straight line explains the series. The
// exponential label marks a moderate fit; no exponential model is fitted.
type Type string

const (
	TypeLinear      Type = "linear"
	TypeExponential Type = "exponential"
	TypeVolatile    Type = "volatile"
)

func typeForRSquared(r2 float64) Type {
	switch {
	case r2 > 0.8:
		return TypeLinear
	case r2 > 0.5:
		return TypeExponential
	default:
		return TypeVolatile
	}
}

// ForecastPoint is one extrapolated value with its prediction band.
type ForecastPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
}

// Forecast extrapolates a metric along a fitted line.
type Forecast struct {
	MetricName     string          `json:"metric_name"`
	GeneratedAt    time.Time       `json:"generated_at"`
	Horizon        time.Duration   `json:"horizon"`
	SlopePerSecond float64         `json:"slope_per_second"`
	ResidualStdDev float64         `json:"residual_std_dev"`
	SampleCount    int             `json:"sample_count"`
	Points         []ForecastPoint `json:"points"`
}

// PerformanceTrend is the fitted trend of one metric over a period.
type PerformanceTrend struct {
	MetricName               string            `json:"metric_name"`
	Kind                     shared.MetricKind `json:"kind"`
	Direction                Direction         `json:"direction"`
	Type                     Type              `json:"trend_type"`
	SlopePerSecond           float64           `json:"slope_per_second"`
	Intercept                float64           `json:"intercept"`
	RSquared                 float64           `json:"r_squared"`
	TrendStrength            float64           `json:"trend_strength"`
	GrowthRatePerDay         float64           `json:"growth_rate_per_day"`
	PValue                   float64           `json:"p_value"`
	StatisticallySignificant bool              `json:"statistically_significant"`
	SampleCount              int               `json:"sample_count"`
	Mean                     float64           `json:"mean"`
	CurrentValue             float64           `json:"current_value"`
	PeriodStart              time.Time         `json:"period_start"`
	PeriodEnd                time.Time         `json:"period_end"`
	AnalyzedAt               time.Time         `json:"analyzed_at"`
	Forecast                 *Forecast         `json:"forecast,omitempty"`
}

// CapacityInsight projects a resource metric against its capacity limit.
type CapacityInsight struct {
	MetricName          string            `json:"metric_name"`
	Kind                shared.MetricKind `json:"kind"`
	CurrentValue        float64           `json:"current_value"`
	ProjectedValue      float64           `json:"projected_value"`
	PlanningHorizonDays float64           `json:"planning_horizon_days"`
	CapacityThreshold   float64           `json:"capacity_threshold"`
	DailyChange         float64           `json:"daily_change"`
	DaysToExhaustion    *float64          `json:"days_to_exhaustion,omitempty"`
	ExhaustionDate      *time.Time        `json:"exhaustion_date,omitempty"`
	Urgency             shared.Severity   `json:"urgency"`
	Recommendation      string            `json:"recommendation"`
	GeneratedAt         time.Time         `json:"generated_at"`
}
