// Package shared holds the vocabulary used across the APM analyzers.
package shared

import "strings"

// MetricKind tags a metric series with what it measures. Analyzers use the
// tag to decide direction of badness and capacity grouping.
type MetricKind string

const (
	KindLatency      MetricKind = "latency"
	KindThroughput   MetricKind = "throughput"
	KindErrorRate    MetricKind = "error_rate"
	KindAvailability MetricKind = "availability"
	KindCPU          MetricKind = "cpu"
	KindMemory       MetricKind = "memory"
	KindIO           MetricKind = "io"
	KindNetwork      MetricKind = "network"
	KindDatabase     MetricKind = "database"
	KindGeneric      MetricKind = "generic"
)

// AllKinds lists every known kind.
var AllKinds = []MetricKind{
	KindLatency, KindThroughput, KindErrorRate, KindAvailability,
	KindCPU, KindMemory, KindIO, KindNetwork, KindDatabase, KindGeneric,
}

// ParseKind converts a string to a MetricKind.
func ParseKind(s string) (MetricKind, bool) {
	k := MetricKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// HigherIsWorse reports whether an increase of the metric is a degradation.
// The second result is false when both directions are treated as bad.
func (k MetricKind) HigherIsWorse() (worse bool, directional bool) {
	switch k {
	case KindLatency, KindErrorRate, KindCPU, KindMemory, KindIO, KindNetwork, KindDatabase:
		return true, true
	case KindThroughput, KindAvailability:
		return false, true
	default:
		return false, false
	}
}

// IsResource reports whether the kind describes resource utilization.
func (k MetricKind) IsResource() bool {
	switch k {
	case KindCPU, KindMemory, KindIO, KindNetwork, KindDatabase:
		return true
	}
	return false
}

var inferenceRules = []struct {
	kind     MetricKind
	keywords []string
}{
	{KindErrorRate, []string{"error_rate", "error", "failure"}},
	{KindAvailability, []string{"availability", "uptime"}},
	{KindThroughput, []string{"throughput", "rps", "qps", "requests_per"}},
	{KindDatabase, []string{"db", "database", "query"}},
	{KindLatency, []string{"latency", "response_time", "duration", "time"}},
	{KindCPU, []string{"cpu"}},
	{KindMemory, []string{"memory", "mem", "heap"}},
	{KindIO, []string{"disk", "io"}},
	{KindNetwork, []string{"network", "net", "bandwidth"}},
}

// InferKind guesses a kind from a metric name. It is applied once, when a
// metric is registered without an explicit kind.
func InferKind(name string) MetricKind {
	lower := strings.ToLower(name)
	for _, rule := range inferenceRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.kind
			}
		}
	}
	return KindGeneric
}

// Severity is the common four level severity scale.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities, low being 1.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}
