package baseline

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"
	"time"

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

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T, mutate ...func(*config.BaselineConfig)) (*Manager, *fakeClock) {
	t.Helper()
	cfg := config.DefaultBaselineConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	m := NewManager(cfg, metricstore.NewMemoryStore(10000), testr.New(t), prometheus.NewRegistry())
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	m.now = clock.now
	return m, clock
}

func feedNormal(t *testing.T, m *Manager, name string, n int, mean, sd float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < n; i++ {
		require.NoError(t, m.AddMetricData(context.Background(), name, mean+rng.NormFloat64()*sd, time.Time{}))
	}
}

func TestAutoEstablishAndDetectDrift(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	feedNormal(t, m, "checkout_latency", 99, 300, 50)
	_, ok := m.GetBaseline("checkout_latency")
	assert.False(t, ok, "baseline must wait for min_data_points")

	feedNormal(t, m, "checkout_latency", 1, 300, 50)
	b, ok := m.GetBaseline("checkout_latency")
	require.True(t, ok)
	assert.Equal(t, StatusEstablished, b.Status)
	assert.GreaterOrEqual(t, b.Statistics.Mean, 280.0)
	assert.LessOrEqual(t, b.Statistics.Mean, 320.0)
	assert.LessOrEqual(t, b.Statistics.ConfidenceLower, b.Statistics.Mean)
	assert.GreaterOrEqual(t, b.Statistics.ConfidenceUpper, b.Statistics.Mean)

	drift, err := m.DetectDrift(ctx, "checkout_latency", 900)
	require.NoError(t, err)
	assert.True(t, drift.DriftDetected)
	assert.Equal(t, DirectionIncrease, drift.Direction)
	assert.True(t, drift.Severity.AtLeast(shared.SeverityHigh))
	assert.True(t, drift.StatisticallySignificant)

	b, _ = m.GetBaseline("checkout_latency")
	assert.Equal(t, StatusDriftDetected, b.Status)
	assert.Len(t, m.GetDriftHistory("checkout_latency", 0), 1)
}

func TestDetectDriftAtBaselineMean(t *testing.T) {
	m, _ := newTestManager(t)
	feedNormal(t, m, "rps", 100, 50, 5)
	b, ok := m.GetBaseline("rps")
	require.True(t, ok)

	drift, err := m.DetectDrift(context.Background(), "rps", b.Statistics.Mean)
	require.NoError(t, err)
	assert.Zero(t, drift.DriftPercentage)
	assert.False(t, drift.DriftDetected)
	assert.Equal(t, DirectionNone, drift.Direction)
	assert.Equal(t, shared.SeverityLow, drift.Severity)
	assert.Empty(t, m.GetDriftHistory("", 0))
}

func TestEstablishBaselineErrors(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	feedNormal(t, m, "latency", 10, 100, 10)
	_, err := m.EstablishBaseline(ctx, "latency", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apmerrors.ErrBaseline)
	assert.ErrorIs(t, err, apmerrors.ErrInsufficientData)

	_, err = m.UpdateBaseline(ctx, "latency")
	assert.ErrorIs(t, err, apmerrors.ErrNotFound)

	_, err = m.DetectDrift(ctx, "latency", 100)
	assert.ErrorIs(t, err, apmerrors.ErrNotFound)

	feedNormal(t, m, "latency", 90, 100, 10)
	_, err = m.EstablishBaseline(ctx, "latency", false)
	assert.ErrorIs(t, err, apmerrors.ErrAlreadyExists)

	b, err := m.EstablishBaseline(ctx, "latency", true)
	require.NoError(t, err)
	assert.Equal(t, 100, b.Statistics.SampleCount+b.OutliersRemoved)
}

func TestEstablishUsesOnlyBaselinePeriod(t *testing.T) {
	m, clock := newTestManager(t, func(c *config.BaselineConfig) {
		c.MinDataPoints = 5
		c.BaselinePeriod = time.Hour
		c.OutlierRemoval = false
	})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, m.AddMetricData(ctx, "mem", 1000, clock.t))
	}
	clock.advance(2 * time.Hour)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.AddMetricData(ctx, "mem", 10, clock.t))
	}

	_, err := m.EstablishBaseline(ctx, "mem", false)
	assert.ErrorIs(t, err, apmerrors.ErrInsufficientData, "old samples must not count")

	require.NoError(t, m.AddMetricData(ctx, "mem", 10, clock.t))
	b, ok := m.GetBaseline("mem")
	require.True(t, ok)
	assert.Equal(t, 10.0, b.Statistics.Mean)
	assert.Equal(t, 5, b.Statistics.SampleCount)
}

func TestAutoUpdateRebuildsStaleBaseline(t *testing.T) {
	m, clock := newTestManager(t, func(c *config.BaselineConfig) {
		c.MinDataPoints = 5
		c.UpdateFrequency = time.Hour
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.AddMetricData(ctx, "io", 40, time.Time{}))
	}
	first, ok := m.GetBaseline("io")
	require.True(t, ok)

	clock.advance(90 * time.Minute)
	require.NoError(t, m.AddMetricData(ctx, "io", 40, time.Time{}))

	second, ok := m.GetBaseline("io")
	require.True(t, ok)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestDriftCallbacksAndHistoryCap(t *testing.T) {
	m, _ := newTestManager(t, func(c *config.BaselineConfig) {
		c.MinDataPoints = 5
		c.MaxDriftHistory = 3
	})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.AddMetricData(ctx, "cpu", 50, time.Time{}))
	}

	var seen []BaselineDrift
	m.AddDriftCallback(func(d BaselineDrift) { seen = append(seen, d) })
	m.AddDriftCallback(func(d BaselineDrift) { panic("callback failure must be contained") })

	for _, v := range []float64{70, 80, 90, 100, 110} {
		_, err := m.DetectDrift(ctx, "cpu", v)
		require.NoError(t, err)
	}

	assert.Len(t, seen, 5)
	history := m.GetDriftHistory("cpu", 0)
	require.Len(t, history, 3)
	assert.Equal(t, 110.0, history[2].CurrentValue)
	assert.Len(t, m.GetDriftHistory("cpu", 2), 2)
}

func TestDriftSeverityTiers(t *testing.T) {
	tests := []struct {
		pct  float64
		want shared.Severity
	}{
		{10, shared.SeverityLow},
		{20, shared.SeverityLow},
		{20.1, shared.SeverityMedium},
		{40, shared.SeverityMedium},
		{40.1, shared.SeverityHigh},
		{80, shared.SeverityHigh},
		{80.1, shared.SeverityCritical},
		{500, shared.SeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, driftSeverity(tt.pct, 20), "pct=%v", tt.pct)
	}
}

func TestDriftAtThresholdBoundary(t *testing.T) {
	m, _ := newTestManager(t, func(c *config.BaselineConfig) {
		c.MinDataPoints = 5
		c.OutlierRemoval = false
	})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.AddMetricData(ctx, "rt", 100, time.Time{}))
	}

	// drift_threshold 0.2: exactly 20 % is not drift
	at, err := m.DetectDrift(ctx, "rt", 120)
	require.NoError(t, err)
	assert.InDelta(t, 20, at.DriftPercentage, 1e-9)
	assert.False(t, at.DriftDetected)
	assert.Equal(t, shared.SeverityLow, at.Severity)

	above, err := m.DetectDrift(ctx, "rt", 121)
	require.NoError(t, err)
	assert.True(t, above.DriftDetected)
	assert.Equal(t, shared.SeverityMedium, above.Severity)
}

// gatedStore blocks Range until released so an establishment can be
// observed in flight.
type gatedStore struct {
	metricstore.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Range(ctx context.Context, name string, since time.Time) ([]metricstore.Sample, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Store.Range(ctx, name, since)
}

func TestBaselineEstablishingWhileBuilding(t *testing.T) {
	inner := metricstore.NewMemoryStore(100)
	cfg := config.DefaultBaselineConfig()
	cfg.MinDataPoints = 3
	m := NewManager(cfg, inner, testr.New(t), nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, inner.Append(ctx, "baseline:db", metricstore.Sample{Timestamp: time.Now(), Value: 7}))
	}
	gate := &gatedStore{Store: inner, entered: make(chan struct{}), release: make(chan struct{})}
	m.store = gate

	done := make(chan error, 1)
	go func() {
		_, err := m.EstablishBaseline(ctx, "db", false)
		done <- err
	}()
	<-gate.entered

	b, ok := m.GetBaseline("db")
	require.True(t, ok)
	assert.Equal(t, StatusEstablishing, b.Status)
	assert.Equal(t, 1, m.GetSummary().ByStatus[StatusEstablishing])

	_, err := m.EstablishBaseline(ctx, "db", false)
	assert.ErrorIs(t, err, apmerrors.ErrAlreadyExists)
	_, err = m.EstablishBaseline(ctx, "db", true)
	assert.ErrorIs(t, err, apmerrors.ErrBusy)
	_, err = m.DetectDrift(ctx, "db", 7)
	assert.ErrorIs(t, err, apmerrors.ErrNotFound)

	close(gate.release)
	require.NoError(t, <-done)
	b, _ = m.GetBaseline("db")
	assert.Equal(t, StatusEstablished, b.Status)
}

func TestBaselineInvalidWhenWindowEmpties(t *testing.T) {
	m, clock := newTestManager(t, func(c *config.BaselineConfig) {
		c.MinDataPoints = 3
		c.BaselinePeriod = time.Hour
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, m.AddMetricData(ctx, "gc_pause", 5, time.Time{}))
	}
	clock.advance(2 * time.Hour)

	_, err := m.UpdateBaseline(ctx, "gc_pause")
	assert.ErrorIs(t, err, apmerrors.ErrInsufficientData)
	b, ok := m.GetBaseline("gc_pause")
	require.True(t, ok)
	assert.Equal(t, StatusInvalid, b.Status)

	_, err = m.DetectDrift(ctx, "gc_pause", 50)
	assert.ErrorIs(t, err, apmerrors.ErrNotFound, "an invalid baseline cannot judge drift")

	for i := 0; i < 3; i++ {
		require.NoError(t, m.AddMetricData(ctx, "gc_pause", 6, time.Time{}))
	}
	b, err = m.UpdateBaseline(ctx, "gc_pause")
	require.NoError(t, err)
	assert.Equal(t, StatusEstablished, b.Status)
}

func TestFailedFirstEstablishLeavesNoBaseline(t *testing.T) {
	m, _ := newTestManager(t)
	feedNormal(t, m, "sparse", 3, 10, 1)
	_, err := m.EstablishBaseline(context.Background(), "sparse", false)
	assert.ErrorIs(t, err, apmerrors.ErrInsufficientData)
	_, ok := m.GetBaseline("sparse")
	assert.False(t, ok)
}

func TestDeleteBaseline(t *testing.T) {
	m, _ := newTestManager(t, func(c *config.BaselineConfig) { c.MinDataPoints = 3 })
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, m.AddMetricData(ctx, "net", 5, time.Time{}))
	}
	require.Len(t, m.ListBaselines(), 1)

	require.NoError(t, m.DeleteBaseline("net"))
	assert.Empty(t, m.ListBaselines())
	assert.ErrorIs(t, m.DeleteBaseline("net"), apmerrors.ErrNotFound)

	summary := m.GetSummary()
	assert.Equal(t, 0, summary.TotalBaselines)
	assert.Equal(t, 1, summary.TrackedMetrics)
}

func TestPerformanceBaselineRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	feedNormal(t, m, "api_latency", 100, 120, 15)
	b, ok := m.GetBaseline("api_latency")
	require.True(t, ok)

	data, err := json.Marshal(b)
	require.NoError(t, err)
	var restored PerformanceBaseline
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, b.MetricName, restored.MetricName)
	assert.Equal(t, b.Status, restored.Status)
	assert.Equal(t, b.Statistics, restored.Statistics)
	assert.True(t, b.CreatedAt.Equal(restored.CreatedAt))

	dict := b.ToDict()
	assert.Equal(t, "api_latency", dict["metric_name"])
	assert.Equal(t, "established", dict["status"])
	assert.Equal(t, b.Statistics.Mean, dict["mean"])
}

func TestZeroDeviationNeverDrifts(t *testing.T) {
	m, _ := newTestManager(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("value equal to the baseline mean has zero drift", prop.ForAll(
		func(mean, sd float64) bool {
			b := PerformanceBaseline{
				MetricName: "p",
				Status:     StatusEstablished,
				Statistics: Statistics{Mean: mean, StdDev: sd, ConfidenceLevel: 0.95},
			}
			d := m.computeDrift(b, mean)
			return d.DriftPercentage == 0 && !d.DriftDetected && d.Direction == DirectionNone
		},
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(0, 1e3),
	))

	properties.TestingRun(t)
}

func TestCheckDriftLoopUsesRecentSamples(t *testing.T) {
	m, _ := newTestManager(t, func(c *config.BaselineConfig) {
		c.MinDataPoints = 10
		c.AutoUpdate = false
	})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, m.AddMetricData(ctx, "db_query_time", 100, time.Time{}))
	}
	for _, v := range []float64{100, 300, 300, 300} {
		require.NoError(t, m.AddMetricData(ctx, "db_query_time", v, time.Time{}))
	}

	require.NoError(t, m.checkDrift(ctx))
	assert.Len(t, m.GetDriftHistory("db_query_time", 0), 3)
}

func TestStartStopIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx))
	assert.True(t, m.IsRunning())
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx))
	assert.False(t, m.IsRunning())
}
