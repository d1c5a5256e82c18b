package regression

import (
	"time"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
)

// PerformanceRegression compares one metric between two versions.
type PerformanceRegression struct {
	ID                       string            `json:"id"`
	MetricName               string            `json:"metric_name"`
	Kind                     shared.MetricKind `json:"kind"`
	BaselineVersion          string            `json:"baseline_version"`
	CurrentVersion           string            `json:"current_version"`
	BaselineMean             float64           `json:"baseline_mean"`
	CurrentMean              float64           `json:"current_mean"`
	BaselineStdDev           float64           `json:"baseline_std_dev"`
	CurrentStdDev            float64           `json:"current_std_dev"`
	BaselineSamples          int               `json:"baseline_samples"`
	CurrentSamples           int               `json:"current_samples"`
	PercentageChange         float64           `json:"percentage_change"`
	TStatistic               float64           `json:"t_statistic"`
	PValue                   float64           `json:"p_value"`
	DegreesOfFreedom         float64           `json:"degrees_of_freedom"`
	StatisticallySignificant bool              `json:"statistically_significant"`
	RegressionDetected       bool              `json:"regression_detected"`
	Severity                 shared.Severity   `json:"severity"`
	Description              string            `json:"description"`
	DetectedAt               time.Time         `json:"detected_at"`
}

// VersionInfo describes the data held for one version.
type VersionInfo struct {
	Version    string   `json:"version"`
	Metrics    []string `json:"metrics"`
	IsBaseline bool     `json:"is_baseline"`
	IsCurrent  bool     `json:"is_current"`
}

// Callback is notified of every detected regression.
type Callback func(r PerformanceRegression)
