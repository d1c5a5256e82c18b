package bottleneck

import (
	"time"

	"github.com/google/uuid"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
)

type recommendationTemplate struct {
	kind    RecommendationType
	title   string
	desc    string
	impact  string
	effort  string
	actions []string
}

var recommendationCatalog = map[BottleneckType][]recommendationTemplate{
	CPUBound: {
		{
			kind:   RecommendScaleOut,
			title:  "Add compute capacity",
			desc:   "Sustained CPU utilization is above threshold. Scale out instances or raise the CPU allocation.",
			impact: "high",
			effort: "low",
			actions: []string{
				"Increase CPU limits or requests for the affected workload",
				"Add instances behind the load balancer",
			},
		},
		{
			kind:   RecommendOptimizeCode,
			title:  "Profile CPU hot paths",
			desc:   "Capture a CPU profile and optimize the functions dominating on-CPU time.",
			impact: "high",
			effort: "medium",
			actions: []string{
				"Start a CPU profiling session during peak load",
				"Remove redundant serialization and tight polling loops",
			},
		},
	},
	MemoryBound: {
		{
			kind:   RecommendResourceAllocation,
			title:  "Increase memory allocation",
			desc:   "Memory utilization is above threshold. Raise the memory limit to avoid swapping or OOM kills.",
			impact: "high",
			effort: "low",
			actions: []string{
				"Raise the memory limit of the affected workload",
			},
		},
		{
			kind:   RecommendOptimizeCode,
			title:  "Investigate memory growth",
			desc:   "Capture a heap profile and look for leaks and oversized caches.",
			impact: "medium",
			effort: "medium",
			actions: []string{
				"Start a heap profiling session and compare allocations over time",
				"Bound in-memory caches and buffers",
			},
		},
	},
	IOBound: {
		{
			kind:   RecommendCacheOptimization,
			title:  "Reduce disk I/O",
			desc:   "Disk I/O utilization is above threshold. Cache hot reads and batch writes.",
			impact: "medium",
			effort: "medium",
			actions: []string{
				"Cache frequently read files or blocks",
				"Batch small writes and prefer sequential access",
			},
		},
		{
			kind:   RecommendScaleUp,
			title:  "Move to faster storage",
			desc:   "Provision storage with higher IOPS for the affected volume.",
			impact: "high",
			effort: "medium",
			actions: []string{
				"Upgrade the volume class or provisioned IOPS",
			},
		},
	},
	NetworkBound: {
		{
			kind:   RecommendConfigTuning,
			title:  "Reduce network overhead",
			desc:   "Network utilization is above threshold. Compress payloads and reuse connections.",
			impact: "medium",
			effort: "low",
			actions: []string{
				"Enable payload compression",
				"Enable keep-alive and connection pooling",
			},
		},
	},
	DatabaseBound: {
		{
			kind:   RecommendDatabaseOptimize,
			title:  "Optimize slow queries",
			desc:   "Database response time is above threshold. Review query plans and indexes.",
			impact: "high",
			effort: "medium",
			actions: []string{
				"Inspect the slowest queries with EXPLAIN",
				"Add missing indexes",
				"Tune the connection pool size",
			},
		},
		{
			kind:   RecommendCacheOptimization,
			title:  "Cache query results",
			desc:   "Serve repeated reads from a cache to take load off the database.",
			impact: "medium",
			effort: "medium",
			actions: []string{
				"Cache read-mostly query results with a bounded TTL",
			},
		},
	},
}

func generateRecommendations(t BottleneckType, severity shared.Severity, now time.Time) []PerformanceRecommendation {
	templates := recommendationCatalog[t]
	recs := make([]PerformanceRecommendation, 0, len(templates))
	for _, tpl := range templates {
		recs = append(recs, PerformanceRecommendation{
			ID:                   uuid.NewString(),
			Type:                 tpl.kind,
			Title:                tpl.title,
			Description:          tpl.desc,
			Priority:             severity,
			EstimatedImpact:      tpl.impact,
			ImplementationEffort: tpl.effort,
			Actions:              append([]string(nil), tpl.actions...),
			CreatedAt:            now,
		})
	}
	return recs
}
