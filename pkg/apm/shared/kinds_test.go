package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferKind(t *testing.T) {
	tests := map[string]MetricKind{
		"api_response_time_ms":  KindLatency,
		"checkout.latency":      KindLatency,
		"http_error_rate":       KindErrorRate,
		"service_availability":  KindAvailability,
		"orders_throughput":     KindThroughput,
		"db_query_time":         KindDatabase,
		"node1_cpu":             KindCPU,
		"heap_bytes":            KindMemory,
		"disk_io_util":          KindIO,
		"network_bandwidth_pct": KindNetwork,
		"queue_depth":           KindGeneric,
	}
	for name, want := range tests {
		assert.Equal(t, want, InferKind(name), name)
	}
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind(" Latency ")
	assert.True(t, ok)
	assert.Equal(t, KindLatency, k)

	_, ok = ParseKind("vibes")
	assert.False(t, ok)
}

func TestHigherIsWorse(t *testing.T) {
	worse, dir := KindLatency.HigherIsWorse()
	assert.True(t, worse)
	assert.True(t, dir)

	worse, dir = KindThroughput.HigherIsWorse()
	assert.False(t, worse)
	assert.True(t, dir)

	_, dir = KindGeneric.HigherIsWorse()
	assert.False(t, dir)
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
	assert.Zero(t, Severity("unknown").Rank())
}
