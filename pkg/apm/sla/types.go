package sla

import (
	"time"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
)

// MetricType is the kind of measurement an SLA is defined over.
type MetricType string

const (
	MetricResponseTime MetricType = "response_time"
	MetricThroughput   MetricType = "throughput"
	MetricErrorRate    MetricType = "error_rate"
	MetricAvailability MetricType = "availability"
)

// ParseMetricType converts a string to a MetricType.
func ParseMetricType(s string) (MetricType, bool) {
	switch mt := MetricType(s); mt {
	case MetricResponseTime, MetricThroughput, MetricErrorRate, MetricAvailability:
		return mt, true
	}
	return "", false
}

// MetricTypeForKind maps a metric kind onto the SLA metric it feeds, if any.
func MetricTypeForKind(k shared.MetricKind) (MetricType, bool) {
	switch k {
	case shared.KindLatency:
		return MetricResponseTime, true
	case shared.KindThroughput:
		return MetricThroughput, true
	case shared.KindErrorRate:
		return MetricErrorRate, true
	case shared.KindAvailability:
		return MetricAvailability, true
	}
	return "", false
}

// Operator compares an aggregated value with the SLA threshold. The SLA is
// met when "value <op> threshold" holds.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Holds reports whether value satisfies the operator against threshold.
func (o Operator) Holds(value, threshold float64) bool {
	switch o {
	case OpLess:
		return value < threshold
	case OpLessEqual:
		return value <= threshold
	case OpGreater:
		return value > threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	}
	return false
}

func (o Operator) valid() bool {
	switch o {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// Status is the current compliance state of an SLA.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusViolated Status = "violated"
	StatusCritical Status = "critical"
)

func (s Status) gaugeValue() float64 {
	switch s {
	case StatusHealthy:
		return 0
	case StatusWarning:
		return 1
	case StatusViolated:
		return 2
	case StatusCritical:
		return 3
	}
	return -1
}

// Definition describes one service level agreement.
type Definition struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Description        string        `json:"description,omitempty"`
	MetricType         MetricType    `json:"metric_type"`
	ThresholdValue     float64       `json:"threshold_value"`
	Operator           Operator      `json:"threshold_operator"`
	MeasurementWindow  time.Duration `json:"measurement_window"`
	ViolationThreshold int           `json:"violation_threshold"`
	Enabled            bool          `json:"enabled"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Violation records a period during which an SLA was breached.
type Violation struct {
	ID                    string          `json:"id"`
	SLAID                 string          `json:"sla_id"`
	SLAName               string          `json:"sla_name"`
	MetricType            MetricType      `json:"metric_type"`
	ActualValue           float64         `json:"actual_value"`
	ThresholdValue        float64         `json:"threshold_value"`
	Operator              Operator        `json:"threshold_operator"`
	Severity              shared.Severity `json:"severity"`
	DeviationPercentage   float64         `json:"deviation_percentage"`
	ConsecutiveViolations int             `json:"consecutive_violations"`
	StartTime             time.Time       `json:"start_time"`
	Resolved              bool            `json:"resolved"`
	ResolutionTime        *time.Time      `json:"resolution_time,omitempty"`
}

// Duration is the time from start to resolution, or to now while the
// violation is still open.
func (v Violation) Duration(now time.Time) time.Duration {
	if v.ResolutionTime != nil {
		return v.ResolutionTime.Sub(v.StartTime)
	}
	return now.Sub(v.StartTime)
}

func (v *Violation) clone() *Violation {
	c := *v
	if v.ResolutionTime != nil {
		t := *v.ResolutionTime
		c.ResolutionTime = &t
	}
	return &c
}

// StatusInfo is the evaluation state of one SLA.
type StatusInfo struct {
	SLAID                 string    `json:"sla_id"`
	Status                Status    `json:"status"`
	CurrentValue          float64   `json:"current_value"`
	SampleCount           int       `json:"sample_count"`
	ConsecutiveViolations int       `json:"consecutive_violations"`
	ActiveViolationID     string    `json:"active_violation_id,omitempty"`
	LastEvaluated         time.Time `json:"last_evaluated"`
}

// Evaluation is the outcome of a single SLA evaluation.
type Evaluation struct {
	SLAID       string     `json:"sla_id"`
	Status      Status     `json:"status"`
	Value       float64    `json:"value"`
	SampleCount int        `json:"sample_count"`
	Compliant   bool       `json:"compliant"`
	Violation   *Violation `json:"violation,omitempty"`
	// Resolved is set when this evaluation closed an open violation.
	Resolved *Violation `json:"resolved,omitempty"`
}

// ReportEntry summarizes one SLA over a report period.
type ReportEntry struct {
	SLAID              string        `json:"sla_id"`
	Name               string        `json:"name"`
	MetricType         MetricType    `json:"metric_type"`
	Status             Status        `json:"status"`
	Availability       float64       `json:"availability"`
	ViolationCount     int           `json:"violation_count"`
	ActiveViolations   int           `json:"active_violations"`
	MeanResolutionTime time.Duration `json:"mean_resolution_time"`
	Compliant          bool          `json:"compliant"`
}

// Report is an SLA compliance report.
type Report struct {
	GeneratedAt       time.Time     `json:"generated_at"`
	PeriodStart       time.Time     `json:"period_start"`
	PeriodEnd         time.Time     `json:"period_end"`
	TotalSLAs         int           `json:"total_slas"`
	CompliantSLAs     int           `json:"compliant_slas"`
	OverallCompliance float64       `json:"overall_compliance"`
	TotalViolations   int           `json:"total_violations"`
	Entries           []ReportEntry `json:"slas"`
}

// ViolationCallback is notified when a violation opens and when it resolves.
type ViolationCallback func(v Violation)
