package bottleneck

import (
	"time"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
)

// ResourceType is the kind of resource a metric measures.
type ResourceType string

const (
	ResourceCPU      ResourceType = "cpu"
	ResourceMemory   ResourceType = "memory"
	ResourceIO       ResourceType = "io"
	ResourceNetwork  ResourceType = "network"
	ResourceDatabase ResourceType = "database"
)

// ParseResourceType converts a string to a ResourceType.
func ParseResourceType(s string) (ResourceType, bool) {
	switch rt := ResourceType(s); rt {
	case ResourceCPU, ResourceMemory, ResourceIO, ResourceNetwork, ResourceDatabase:
		return rt, true
	}
	return "", false
}

// Kind maps the resource type onto the shared metric vocabulary.
func (r ResourceType) Kind() shared.MetricKind {
	switch r {
	case ResourceCPU:
		return shared.KindCPU
	case ResourceMemory:
		return shared.KindMemory
	case ResourceIO:
		return shared.KindIO
	case ResourceNetwork:
		return shared.KindNetwork
	case ResourceDatabase:
		return shared.KindDatabase
	}
	return shared.KindGeneric
}

// BottleneckType categorizes the type of bottleneck.
type BottleneckType string

const (
	CPUBound      BottleneckType = "cpu_bound"
	MemoryBound   BottleneckType = "memory_bound"
	IOBound       BottleneckType = "io_bound"
	NetworkBound  BottleneckType = "network_bound"
	DatabaseBound BottleneckType = "database_bound"
)

func bottleneckTypeFor(r ResourceType) BottleneckType {
	switch r {
	case ResourceCPU:
		return CPUBound
	case ResourceMemory:
		return MemoryBound
	case ResourceIO:
		return IOBound
	case ResourceNetwork:
		return NetworkBound
	default:
		return DatabaseBound
	}
}

// impactWeight scales utilization into an impact score per bottleneck type.
var impactWeight = map[BottleneckType]float64{
	CPUBound:      1.0,
	MemoryBound:   0.9,
	IOBound:       0.8,
	DatabaseBound: 0.85,
	NetworkBound:  0.7,
}

// RecommendationType names the remediation strategy.
type RecommendationType string

const (
	RecommendScaleUp            RecommendationType = "scale_up"
	RecommendScaleOut           RecommendationType = "scale_out"
	RecommendOptimizeCode       RecommendationType = "optimize_code"
	RecommendCacheOptimization  RecommendationType = "cache_optimization"
	RecommendDatabaseOptimize   RecommendationType = "database_optimization"
	RecommendResourceAllocation RecommendationType = "resource_allocation"
	RecommendConfigTuning       RecommendationType = "configuration_tuning"
)

// PerformanceRecommendation is a suggested remediation.
type PerformanceRecommendation struct {
	ID                   string             `json:"id"`
	Type                 RecommendationType `json:"type"`
	Title                string             `json:"title"`
	Description          string             `json:"description"`
	Priority             shared.Severity    `json:"priority"`
	EstimatedImpact      string             `json:"estimated_impact"`
	ImplementationEffort string             `json:"implementation_effort"`
	Actions              []string           `json:"actions"`
	CreatedAt            time.Time          `json:"created_at"`
}

// BottleneckAnalysis describes one detected bottleneck.
type BottleneckAnalysis struct {
	ID              string                      `json:"id"`
	Type            BottleneckType              `json:"type"`
	Severity        shared.Severity             `json:"severity"`
	Resource        string                      `json:"resource"`
	ResourceType    ResourceType                `json:"resource_type"`
	Utilization     float64                     `json:"utilization"`
	Threshold       float64                     `json:"threshold"`
	ImpactScore     float64                     `json:"impact_score"`
	Description     string                      `json:"description"`
	Correlations    map[string]float64          `json:"correlations,omitempty"`
	Recommendations []PerformanceRecommendation `json:"recommendations"`
	DetectedAt      time.Time                   `json:"detected_at"`
	LastSeen        time.Time                   `json:"last_seen"`
	Occurrences     int                         `json:"occurrences"`
	Resolved        bool                        `json:"resolved"`
	ResolvedAt      *time.Time                  `json:"resolved_at,omitempty"`
}

func (b *BottleneckAnalysis) clone() *BottleneckAnalysis {
	c := *b
	if b.Correlations != nil {
		c.Correlations = make(map[string]float64, len(b.Correlations))
		for k, v := range b.Correlations {
			c.Correlations[k] = v
		}
	}
	c.Recommendations = append([]PerformanceRecommendation(nil), b.Recommendations...)
	if b.ResolvedAt != nil {
		t := *b.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// Summary is an overview of current and past bottlenecks.
type Summary struct {
	ActiveCount    int                     `json:"active_count"`
	TotalDetected  int                     `json:"total_detected"`
	BySeverity     map[shared.Severity]int `json:"by_severity"`
	ByType         map[BottleneckType]int  `json:"by_type"`
	HighestImpact  *BottleneckAnalysis     `json:"highest_impact,omitempty"`
	TrackedMetrics int                     `json:"tracked_metrics"`
}

// Callback is notified of every newly detected bottleneck.
type Callback func(analysis BottleneckAnalysis)
