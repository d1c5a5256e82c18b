package apm

import (
	"time"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/bottleneck"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/sla"
)

// PerformanceMetric is one recorded performance sample as seen by callbacks.
type PerformanceMetric struct {
	Name      string            `json:"name"`
	Kind      shared.MetricKind `json:"kind"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// AlertType classifies manager alerts.
type AlertType string

const (
	AlertComponentDown AlertType = "component_down"
	AlertBottleneck    AlertType = "bottleneck"
	AlertSLAViolation  AlertType = "sla_violation"
	AlertSLAResolved   AlertType = "sla_resolved"
	AlertBaselineDrift AlertType = "baseline_drift"
	AlertRegression    AlertType = "regression"
)

// Alert is raised by the manager for component failures and for findings of
// the analysis components.
type Alert struct {
	Type      AlertType              `json:"type"`
	Severity  shared.Severity        `json:"severity"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ComponentHealth is the liveness of one sub-component.
type ComponentHealth struct {
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Running   bool      `json:"running"`
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthStatus is the overall state reported in a summary.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// PerformanceSummary is the periodically recomputed overview of active
// problems.
type PerformanceSummary struct {
	GeneratedAt           time.Time                         `json:"generated_at"`
	OverallHealth         HealthStatus                      `json:"overall_health"`
	ActiveBottlenecks     int                               `json:"active_bottlenecks"`
	CriticalBottlenecks   int                               `json:"critical_bottlenecks"`
	BottlenecksByType     map[bottleneck.BottleneckType]int `json:"bottlenecks_by_type"`
	TopBottlenecks        []bottleneck.BottleneckAnalysis   `json:"top_bottlenecks"`
	ActiveSLAViolations   int                               `json:"active_sla_violations"`
	CriticalSLAViolations int                               `json:"critical_sla_violations"`
	SLAViolations         []sla.Violation                   `json:"sla_violations"`
	TrackedMetrics        int                               `json:"tracked_metrics"`
	Components            map[string]ComponentHealth        `json:"components"`
}

func (s PerformanceSummary) clone() PerformanceSummary {
	c := s
	if s.BottlenecksByType != nil {
		c.BottlenecksByType = make(map[bottleneck.BottleneckType]int, len(s.BottlenecksByType))
		for k, v := range s.BottlenecksByType {
			c.BottlenecksByType[k] = v
		}
	}
	if s.Components != nil {
		c.Components = make(map[string]ComponentHealth, len(s.Components))
		for k, v := range s.Components {
			c.Components[k] = v
		}
	}
	c.TopBottlenecks = append([]bottleneck.BottleneckAnalysis(nil), s.TopBottlenecks...)
	c.SLAViolations = append([]sla.Violation(nil), s.SLAViolations...)
	return c
}

// PerformanceCallback is notified after a performance metric has been fanned
// out to the analysis components.
type PerformanceCallback func(metric PerformanceMetric)

// AlertCallback is notified of every alert.
type AlertCallback func(alert Alert)

type recordOptions struct {
	kind      shared.MetricKind
	timestamp time.Time
	version   string
}

// RecordOption customizes RecordPerformanceMetric.
type RecordOption func(*recordOptions)

// WithKind tags the metric explicitly instead of inferring the kind from its
// name on first sight.
func WithKind(kind shared.MetricKind) RecordOption {
	return func(o *recordOptions) { o.kind = kind }
}

// WithTimestamp sets the sample time. The default is the current time.
func WithTimestamp(ts time.Time) RecordOption {
	return func(o *recordOptions) { o.timestamp = ts }
}

// WithVersion attributes the sample to a release for regression detection.
// Without it samples go to the current version, if one is set.
func WithVersion(version string) RecordOption {
	return func(o *recordOptions) { o.version = version }
}
