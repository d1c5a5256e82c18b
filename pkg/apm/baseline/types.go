package baseline

import (
	"time"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
)

// Status is the lifecycle state of a baseline.
type Status string

const (
	StatusEstablishing  Status = "establishing"
	StatusEstablished   Status = "established"
	StatusUpdating      Status = "updating"
	StatusDriftDetected Status = "drift_detected"
	StatusInvalid       Status = "invalid"
)

// usable reports whether drift can be measured against a baseline in this state.
func (s Status) usable() bool {
	return s == StatusEstablished || s == StatusUpdating || s == StatusDriftDetected
}

// Statistics summarises the samples a baseline was built from.
type Statistics struct {
	Mean            float64 `json:"mean"`
	Median          float64 `json:"median"`
	StdDev          float64 `json:"std_dev"`
	P95             float64 `json:"p95"`
	P99             float64 `json:"p99"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	SampleCount     int     `json:"sample_count"`
	ConfidenceLower float64 `json:"confidence_lower"`
	ConfidenceUpper float64 `json:"confidence_upper"`
	ConfidenceLevel float64 `json:"confidence_level"`
}

// PerformanceBaseline is the statistical reference for one metric.
type PerformanceBaseline struct {
	MetricName      string        `json:"metric_name"`
	Status          Status        `json:"status"`
	Statistics      Statistics    `json:"statistics"`
	OutliersRemoved int           `json:"outliers_removed"`
	BaselinePeriod  time.Duration `json:"baseline_period"`
	WindowStart     time.Time     `json:"window_start"`
	WindowEnd       time.Time     `json:"window_end"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ToDict renders the baseline as a plain map, the shape used by the HTTP API
// and log payloads.
func (b *PerformanceBaseline) ToDict() map[string]interface{} {
	return map[string]interface{}{
		"metric_name":      b.MetricName,
		"status":           string(b.Status),
		"mean":             b.Statistics.Mean,
		"median":           b.Statistics.Median,
		"std_dev":          b.Statistics.StdDev,
		"p95":              b.Statistics.P95,
		"p99":              b.Statistics.P99,
		"min":              b.Statistics.Min,
		"max":              b.Statistics.Max,
		"sample_count":     b.Statistics.SampleCount,
		"confidence_lower": b.Statistics.ConfidenceLower,
		"confidence_upper": b.Statistics.ConfidenceUpper,
		"confidence_level": b.Statistics.ConfidenceLevel,
		"outliers_removed": b.OutliersRemoved,
		"baseline_period":  b.BaselinePeriod.String(),
		"created_at":       b.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":       b.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (b *PerformanceBaseline) clone() *PerformanceBaseline {
	c := *b
	return &c
}

// Direction of a drift relative to the baseline mean.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionNone     Direction = "none"
)

// BaselineDrift is the result of comparing one value against a baseline.
type BaselineDrift struct {
	MetricName               string          `json:"metric_name"`
	BaselineValue            float64         `json:"baseline_value"`
	CurrentValue             float64         `json:"current_value"`
	DriftPercentage          float64         `json:"drift_percentage"`
	Direction                Direction       `json:"direction"`
	DriftDetected            bool            `json:"drift_detected"`
	Severity                 shared.Severity `json:"severity"`
	PValue                   float64         `json:"p_value"`
	StatisticallySignificant bool            `json:"statistically_significant"`
	DetectedAt               time.Time       `json:"detected_at"`
}

// Summary is a point-in-time overview of all baselines.
type Summary struct {
	TotalBaselines int            `json:"total_baselines"`
	ByStatus       map[Status]int `json:"by_status"`
	DriftEvents    int            `json:"drift_events"`
	TrackedMetrics int            `json:"tracked_metrics"`
	Running        bool           `json:"running"`
}

// DriftCallback is notified of every detected drift.
type DriftCallback func(drift BaselineDrift)
