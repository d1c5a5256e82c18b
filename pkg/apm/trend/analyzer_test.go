package trend

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/metricstore"
)

var epoch = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a := NewAnalyzer(config.DefaultTrendConfig(), metricstore.NewMemoryStore(10000), testr.New(t), prometheus.NewRegistry())
	a.now = func() time.Time { return epoch.Add(47 * time.Hour) }
	return a
}

// hourly feeds n hourly samples starting at epoch.
func hourly(t *testing.T, a *Analyzer, name string, n int, fn func(i int) float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, a.AddMetricData(context.Background(), name, fn(i), epoch.Add(time.Duration(i)*time.Hour)))
	}
}

func TestAnalyzeIncreasingTrend(t *testing.T) {
	a := newTestAnalyzer(t)
	hourly(t, a, "api_latency", 48, func(i int) float64 { return 10 + float64(i) })

	trend, err := a.AnalyzeTrend(context.Background(), "api_latency", 0)
	require.NoError(t, err)

	assert.Equal(t, DirectionIncreasing, trend.Direction)
	assert.Equal(t, TypeLinear, trend.Type)
	assert.Equal(t, shared.KindLatency, trend.Kind)
	assert.InDelta(t, 1.0/3600, trend.SlopePerSecond, 1e-12)
	assert.InDelta(t, 1.0, trend.RSquared, 1e-9)
	assert.InDelta(t, 1.0, trend.TrendStrength, 1e-9)
	assert.InDelta(t, 24/33.5*100, trend.GrowthRatePerDay, 1e-6)
	assert.True(t, trend.StatisticallySignificant)
	assert.Equal(t, 48, trend.SampleCount)
	assert.Equal(t, 57.0, trend.CurrentValue)

	require.NotNil(t, trend.Forecast)
	points := trend.Forecast.Points
	require.Len(t, points, 24)
	assert.Equal(t, epoch.Add(48*time.Hour), points[0].Timestamp)
	assert.Equal(t, epoch.Add(71*time.Hour), points[23].Timestamp)
	assert.InDelta(t, 81.0, points[23].Value, 1e-6)

	stored, ok := a.GetTrend("api_latency")
	require.True(t, ok)
	assert.Equal(t, trend.SlopePerSecond, stored.SlopePerSecond)
	assert.Len(t, a.GetTrends(), 1)
}

func TestAnalyzeStableTrend(t *testing.T) {
	a := newTestAnalyzer(t)
	hourly(t, a, "rps", 30, func(int) float64 { return 50 })

	trend, err := a.AnalyzeTrend(context.Background(), "rps", 0)
	require.NoError(t, err)
	assert.Equal(t, DirectionStable, trend.Direction)
	assert.Zero(t, trend.SlopePerSecond)
	assert.Zero(t, trend.TrendStrength)
	assert.Zero(t, trend.GrowthRatePerDay)
	assert.False(t, trend.StatisticallySignificant)
}

func TestAnalyzeDecreasingAndVolatile(t *testing.T) {
	a := newTestAnalyzer(t)
	ctx := context.Background()

	hourly(t, a, "throughput", 30, func(i int) float64 { return 1000 - 10*float64(i) })
	trend, err := a.AnalyzeTrend(ctx, "throughput", 0)
	require.NoError(t, err)
	assert.Equal(t, DirectionDecreasing, trend.Direction)
	assert.Negative(t, trend.GrowthRatePerDay)

	rng := rand.New(rand.NewSource(7))
	hourly(t, a, "noise", 200, func(int) float64 { return 100 + rng.NormFloat64()*5 })
	a.now = func() time.Time { return epoch.Add(200 * time.Hour) }
	trend, err = a.AnalyzeTrend(ctx, "noise", 0)
	require.NoError(t, err)
	assert.Equal(t, TypeVolatile, trend.Type)
}

func TestAnalyzeTrendInsufficientData(t *testing.T) {
	a := newTestAnalyzer(t)
	ctx := context.Background()

	hourly(t, a, "cpu_usage", 19, func(i int) float64 { return float64(i) })
	_, err := a.AnalyzeTrend(ctx, "cpu_usage", 0)
	require.Error(t, err)
	assert.True(t, apmerrors.IsInsufficientData(err))
	assert.ErrorIs(t, err, apmerrors.ErrTrend)
	_, ok := a.GetTrend("cpu_usage")
	assert.False(t, ok)

	// samples outside the period do not count
	hourly(t, a, "cpu_usage", 19, func(i int) float64 { return float64(i) })
	_, err = a.AnalyzeTrend(ctx, "cpu_usage", 2*time.Hour)
	assert.True(t, apmerrors.IsInsufficientData(err))

	for i := 0; i < 25; i++ {
		require.NoError(t, a.AddMetricData(ctx, "burst", float64(i), epoch))
	}
	_, err = a.AnalyzeTrend(ctx, "burst", 0)
	assert.True(t, apmerrors.IsInsufficientData(err))
}

func TestForecastClampsAtZero(t *testing.T) {
	a := newTestAnalyzer(t)
	hourly(t, a, "queue_depth", 25, func(i int) float64 { return 100 - 4*float64(i) })

	f, err := a.ForecastMetric(context.Background(), "queue_depth", 12*time.Hour)
	require.NoError(t, err)
	require.Len(t, f.Points, 24)
	assert.Equal(t, 12*time.Hour, f.Horizon)
	for i, p := range f.Points {
		assert.GreaterOrEqual(t, p.Value, 0.0)
		assert.GreaterOrEqual(t, p.Lower, 0.0)
		assert.GreaterOrEqual(t, p.Upper, p.Value)
		if i > 0 {
			assert.Equal(t, 30*time.Minute, p.Timestamp.Sub(f.Points[i-1].Timestamp))
		}
	}
	assert.Zero(t, f.Points[23].Value)

	_, err = a.ForecastMetric(context.Background(), "unknown", 0)
	assert.True(t, apmerrors.IsInsufficientData(err))
}

func TestCapacityInsights(t *testing.T) {
	a := newTestAnalyzer(t)
	ctx := context.Background()

	series := map[string]func(i int) float64{
		"node-a": func(i int) float64 { return 60 + 0.05*float64(i) },
		"node-b": func(i int) float64 { return 50 + 0.025*float64(i) },
		"node-c": func(int) float64 { return 85 },
		"node-d": func(i int) float64 { return 40 + 0.02*float64(i) },
		"node-e": func(int) float64 { return 95 },
	}
	for name, fn := range series {
		a.RegisterMetric(name, shared.KindCPU)
		hourly(t, a, name, 48, fn)
	}
	a.RegisterMetric("cpu_lookalike", shared.KindGeneric)
	hourly(t, a, "cpu_lookalike", 48, func(i int) float64 { return 99 })
	hourly(t, a, "heap_used", 48, func(i int) float64 { return 99 })

	insights, err := a.GenerateCapacityInsights(ctx, shared.KindCPU)
	require.NoError(t, err)
	require.Len(t, insights, 5)

	got := make(map[string]CapacityInsight)
	var order []string
	for _, in := range insights {
		got[in.MetricName] = in
		order = append(order, in.MetricName)
	}
	assert.Equal(t, []string{"node-a", "node-e", "node-b", "node-c", "node-d"}, order)

	assert.Equal(t, shared.SeverityCritical, got["node-a"].Urgency)
	require.NotNil(t, got["node-a"].DaysToExhaustion)
	assert.InDelta(t, 27.65/1.2, *got["node-a"].DaysToExhaustion, 1e-6)
	require.NotNil(t, got["node-a"].ExhaustionDate)
	assert.True(t, got["node-a"].ExhaustionDate.After(a.now()))

	assert.Equal(t, shared.SeverityCritical, got["node-e"].Urgency)
	assert.Equal(t, 0.0, *got["node-e"].DaysToExhaustion)

	assert.Equal(t, shared.SeverityHigh, got["node-b"].Urgency)

	assert.Equal(t, shared.SeverityMedium, got["node-c"].Urgency)
	assert.Nil(t, got["node-c"].DaysToExhaustion)
	assert.InDelta(t, 85.0, got["node-c"].ProjectedValue, 1e-9)

	assert.Equal(t, shared.SeverityLow, got["node-d"].Urgency)
	assert.InDelta(t, 40.94+0.48*30, got["node-d"].ProjectedValue, 1e-6)

	memory, err := a.GenerateCapacityInsights(ctx, shared.KindMemory)
	require.NoError(t, err)
	require.Len(t, memory, 1)
	assert.Equal(t, "heap_used", memory[0].MetricName)
}

func TestKindRegistration(t *testing.T) {
	a := newTestAnalyzer(t)
	ctx := context.Background()

	require.NoError(t, a.AddMetricData(ctx, "api_response_time", 1, time.Time{}))
	k, ok := a.Kind("api_response_time")
	require.True(t, ok)
	assert.Equal(t, shared.KindLatency, k)

	a.RegisterMetric("api_response_time", shared.KindGeneric)
	k, _ = a.Kind("api_response_time")
	assert.Equal(t, shared.KindGeneric, k)

	a.RegisterMetric("db_cpu_throttle_count", shared.KindDatabase)
	require.NoError(t, a.AddMetricData(ctx, "db_cpu_throttle_count", 1, time.Time{}))
	k, _ = a.Kind("db_cpu_throttle_count")
	assert.Equal(t, shared.KindDatabase, k, "an explicit tag is never re-inferred")

	assert.ErrorIs(t, a.AddMetricData(ctx, "", 1, time.Time{}), apmerrors.ErrInvalidArgument)
}

func TestAnalyzeAllSkipsShortSeries(t *testing.T) {
	a := newTestAnalyzer(t)
	hourly(t, a, "long", 30, func(i int) float64 { return float64(i) })
	hourly(t, a, "short", 5, func(i int) float64 { return float64(i) })

	trends, err := a.AnalyzeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, trends, 1)
	assert.Equal(t, "long", trends[0].MetricName)
	assert.Equal(t, []string{"long", "short"}, a.TrackedMetrics())
}

func TestAnalyzerStartStop(t *testing.T) {
	a := newTestAnalyzer(t)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	assert.True(t, a.IsRunning())
	require.NoError(t, a.Stop(ctx))
	assert.False(t, a.IsRunning())
}
