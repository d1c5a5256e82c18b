package regression

import (
	"context"
	"math/rand"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/metricstore"
)

func newTestDetector(logger logr.Logger) *Detector {
	return NewDetector(config.DefaultRegressionConfig(), metricstore.NewMemoryStore(10000), logger, prometheus.NewRegistry())
}

func normal(seed int64, n int, mean, sd float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + rng.NormFloat64()*sd
	}
	return out
}

func setup(t *testing.T, d *Detector, metric string, baseline, current []float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, d.SetBaselineVersion(ctx, "v1.0.0", map[string][]float64{metric: baseline}))
	require.NoError(t, d.SetCurrentVersion("v1.1.0"))
	for _, v := range current {
		require.NoError(t, d.AddPerformanceData(ctx, "", metric, v))
	}
}

func TestLatencyIncreaseIsRegression(t *testing.T) {
	d := newTestDetector(testr.New(t))
	setup(t, d, "checkout_response_time", normal(1, 40, 100, 5), normal(2, 40, 130, 5))

	var notified []PerformanceRegression
	d.AddCallback(func(r PerformanceRegression) { notified = append(notified, r) })

	r, err := d.DetectRegression(context.Background(), "checkout_response_time", "", "")
	require.NoError(t, err)
	assert.True(t, r.RegressionDetected)
	assert.True(t, r.StatisticallySignificant)
	assert.Equal(t, shared.KindLatency, r.Kind)
	assert.InDelta(t, 30, r.PercentageChange, 5)
	assert.Equal(t, shared.SeverityHigh, r.Severity)
	assert.Equal(t, "v1.0.0", r.BaselineVersion)
	assert.Equal(t, "v1.1.0", r.CurrentVersion)
	assert.Len(t, notified, 1)
	assert.Len(t, d.GetRegressionHistory(0), 1)
}

func TestDirectionOfBadness(t *testing.T) {
	tests := []struct {
		name     string
		kind     shared.MetricKind
		baseline float64
		current  float64
		want     bool
	}{
		{"throughput drop", shared.KindThroughput, 1000, 800, true},
		{"throughput gain", shared.KindThroughput, 1000, 1200, false},
		{"latency drop", shared.KindLatency, 100, 70, false},
		{"generic drop", shared.KindGeneric, 100, 70, true},
		{"generic gain", shared.KindGeneric, 100, 130, true},
		{"small latency change", shared.KindLatency, 100, 105, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(testr.New(t))
			d.RegisterMetric("m", tt.kind)
			setup(t, d, "m", normal(3, 40, tt.baseline, 2), normal(4, 40, tt.current, 2))

			r, err := d.DetectRegression(context.Background(), "m", "", "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.RegressionDetected)
			assert.Equal(t, tt.kind, r.Kind)
		})
	}
}

func TestThresholdWithoutSignificance(t *testing.T) {
	d := newTestDetector(testr.New(t))
	var base, cur []float64
	for i := 0; i < 15; i++ {
		base = append(base, 50, 150)
		cur = append(cur, 60, 170)
	}
	setup(t, d, "api_latency", base, cur)

	r, err := d.DetectRegression(context.Background(), "api_latency", "", "")
	require.NoError(t, err)
	assert.InDelta(t, 15, r.PercentageChange, 1e-9)
	assert.False(t, r.StatisticallySignificant)
	assert.False(t, r.RegressionDetected)
	assert.Empty(t, d.GetRegressionHistory(0))
}

func TestSeverityTiers(t *testing.T) {
	tests := []struct {
		change float64
		want   shared.Severity
	}{
		{12, shared.SeverityLow},
		{15, shared.SeverityMedium},
		{-20, shared.SeverityHigh},
		{40, shared.SeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, severityFor(tt.change, 10), "change=%v", tt.change)
	}
}

func TestDetectRegressionErrors(t *testing.T) {
	d := newTestDetector(testr.New(t))
	ctx := context.Background()

	_, err := d.DetectRegression(ctx, "latency", "", "")
	assert.ErrorIs(t, err, apmerrors.ErrInvalidArgument)
	assert.ErrorIs(t, err, apmerrors.ErrRegression)

	assert.ErrorIs(t, d.AddPerformanceData(ctx, "", "latency", 1), apmerrors.ErrInvalidArgument)

	setup(t, d, "latency", normal(5, 29, 100, 5), normal(6, 40, 100, 5))
	_, err = d.DetectRegression(ctx, "latency", "", "")
	assert.True(t, apmerrors.IsInsufficientData(err))
}

func TestDetectAllRegressions(t *testing.T) {
	d := newTestDetector(testr.New(t))
	ctx := context.Background()

	require.NoError(t, d.SetBaselineVersion(ctx, "v1", map[string][]float64{
		"a_latency":    normal(1, 40, 100, 5),
		"b_throughput": normal(2, 40, 500, 10),
		"c_errors":     normal(3, 40, 1, 0.1),
	}))
	require.NoError(t, d.SetCurrentVersion("v2"))
	for _, v := range normal(4, 40, 500, 10) {
		require.NoError(t, d.AddPerformanceData(ctx, "v2", "b_throughput", v))
	}
	for _, v := range normal(5, 10, 1, 0.1) {
		require.NoError(t, d.AddPerformanceData(ctx, "v2", "c_errors", v))
	}
	require.NoError(t, d.AddPerformanceData(ctx, "v2", "d_new_metric", 1))

	results, err := d.DetectAllRegressions(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, results, 1, "c_errors lacks samples and the others are not in both versions")
	assert.Equal(t, "b_throughput", results[0].MetricName)

	versions := d.Versions()
	require.Len(t, versions, 2)
	assert.True(t, versions[0].IsBaseline)
	assert.Equal(t, []string{"a_latency", "b_throughput", "c_errors"}, versions[0].Metrics)
	assert.True(t, versions[1].IsCurrent)
	assert.Equal(t, []string{"b_throughput", "c_errors", "d_new_metric"}, versions[1].Metrics)
}

func TestSetBaselineVersionReplacesSamples(t *testing.T) {
	d := newTestDetector(testr.New(t))
	ctx := context.Background()

	setup(t, d, "latency", normal(1, 40, 500, 5), normal(2, 40, 100, 5))
	require.NoError(t, d.SetBaselineVersion(ctx, "v1.0.0", map[string][]float64{"latency": normal(3, 40, 100, 5)}))

	r, err := d.DetectRegression(ctx, "latency", "", "")
	require.NoError(t, err)
	assert.Equal(t, 40, r.BaselineSamples)
	assert.InDelta(t, 100, r.BaselineMean, 5)
}

func TestIdenticalDistributionsNeverRegress(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("identical samples never regress", prop.ForAll(
		func(values []float64, name string) bool {
			d := newTestDetector(logr.Discard())
			ctx := context.Background()
			if err := d.SetBaselineVersion(ctx, "base", map[string][]float64{name: values}); err != nil {
				return false
			}
			if err := d.SetCurrentVersion("next"); err != nil {
				return false
			}
			for _, v := range values {
				if err := d.AddPerformanceData(ctx, "next", name, v); err != nil {
					return false
				}
			}
			r, err := d.DetectRegression(ctx, name, "", "")
			return err == nil && !r.RegressionDetected && r.PercentageChange == 0
		},
		gen.SliceOfN(30, gen.Float64Range(0.1, 5000)),
		gen.OneConstOf("response_time", "throughput", "error_rate", "queue_depth"),
	))

	properties.TestingRun(t)
}
