// Package trend fits linear trends to metric series, forecasts them and
// derives capacity planning insights.
package trend

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/logging"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/metricstore"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/periodic"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/stats"
)

const (
	secondsPerDay = 86400.0
	// z value of the 95% forecast band
	forecastZ = 1.96
	// projected utilization above which an insight is at least medium urgency
	mediumUrgencyLevel = 80.0
)

// Analyzer keeps per-metric series and their latest fitted trends.
type Analyzer struct {
	cfg     config.TrendConfig
	store   metricstore.Store
	logger  logr.Logger
	metrics *analyzerMetrics
	now     func() time.Time

	mu     sync.RWMutex
	kinds  map[string]shared.MetricKind
	trends map[string]*PerformanceTrend

	task    *periodic.Task
	running atomic.Bool
}

// NewAnalyzer creates a trend analyzer. reg may be nil.
func NewAnalyzer(cfg config.TrendConfig, store metricstore.Store, logger logr.Logger, reg prometheus.Registerer) *Analyzer {
	a := &Analyzer{
		cfg:     cfg,
		store:   store,
		logger:  logging.ForComponent(logging.OrDiscard(logger), "trend"),
		metrics: newAnalyzerMetrics(reg),
		now:     time.Now,
		kinds:   make(map[string]shared.MetricKind),
		trends:  make(map[string]*PerformanceTrend),
	}
	a.task = periodic.New("trend-analysis", cfg.AnalysisInterval, a.analyzeAll, periodic.WithLogger(a.logger))
	return a
}

// Start launches the periodic analysis loop.
func (a *Analyzer) Start(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := a.task.Start(ctx); err != nil {
		a.running.Store(false)
		return apmerrors.TrendAnalysisError("start", "failed to start analysis loop", err)
	}
	a.logger.Info("Trend analyzer started", "analysis_interval", a.cfg.AnalysisInterval)
	return nil
}

// Stop halts the analysis loop.
func (a *Analyzer) Stop(ctx context.Context) error {
	if !a.running.CompareAndSwap(true, false) {
		return nil
	}
	a.task.Stop()
	a.logger.Info("Trend analyzer stopped")
	return nil
}

// IsRunning reports whether the analysis loop is active.
func (a *Analyzer) IsRunning() bool {
	return a.running.Load() && a.task.Running()
}

// RegisterMetric tags a metric with its kind. Registering again replaces
// the tag.
func (a *Analyzer) RegisterMetric(name string, kind shared.MetricKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kinds[name] = kind
}

// Kind returns the kind a metric is tagged with.
func (a *Analyzer) Kind(name string) (shared.MetricKind, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	k, ok := a.kinds[name]
	return k, ok
}

func seriesKey(name string) string {
	return "trend:" + name
}

// AddMetricData stores a sample. Metrics seen for the first time without a
// registration get a kind inferred from their name.
func (a *Analyzer) AddMetricData(ctx context.Context, name string, value float64, ts time.Time) error {
	if name == "" {
		return apmerrors.TrendAnalysisError("add_metric_data", "metric name is required", apmerrors.ErrInvalidArgument)
	}
	if ts.IsZero() {
		ts = a.now()
	}
	if err := a.store.Append(ctx, seriesKey(name), metricstore.Sample{Timestamp: ts, Value: value}); err != nil {
		return apmerrors.TrendAnalysisError("add_metric_data", "failed to store sample", err).WithContext("metric", name)
	}

	a.mu.Lock()
	if _, ok := a.kinds[name]; !ok {
		a.kinds[name] = shared.InferKind(name)
	}
	a.mu.Unlock()
	return nil
}

// elapsedSeconds converts sample timestamps into seconds since the first one.
func elapsedSeconds(samples []metricstore.Sample) []float64 {
	xs := make([]float64, len(samples))
	origin := samples[0].Timestamp
	for i, s := range samples {
		xs[i] = s.Timestamp.Sub(origin).Seconds()
	}
	return xs
}

// AnalyzeTrend fits a line to the samples within period (the configured
// analysis period when non positive). The trend is stable when the fitted
// change across the observed span stays below the stability threshold as a
// fraction of the mean.
func (a *Analyzer) AnalyzeTrend(ctx context.Context, name string, period time.Duration) (*PerformanceTrend, error) {
	if period <= 0 {
		period = a.cfg.AnalysisPeriod
	}
	now := a.now()
	samples, err := a.store.Range(ctx, seriesKey(name), now.Add(-period))
	if err != nil {
		return nil, apmerrors.TrendAnalysisError("analyze_trend", "failed to read samples", err).WithContext("metric", name)
	}
	if len(samples) < a.cfg.MinDataPoints {
		a.metrics.analyses.WithLabelValues("insufficient_data").Inc()
		return nil, apmerrors.InsufficientData(apmerrors.ComponentTrend, "analyze_trend", len(samples), a.cfg.MinDataPoints).
			WithContext("metric", name)
	}

	xs := elapsedSeconds(samples)
	ys := metricstore.Values(samples)
	fit, ok := stats.FitLinear(xs, ys)
	if !ok {
		a.metrics.analyses.WithLabelValues("insufficient_data").Inc()
		return nil, apmerrors.InsufficientData(apmerrors.ComponentTrend, "analyze_trend", 1, 2).
			WithContext("metric", name).
			WithContext("reason", "samples share a single timestamp")
	}

	mean := stats.Mean(ys)
	span := xs[len(xs)-1]
	change := fit.Slope * span

	direction := DirectionStable
	if math.Abs(change) > a.cfg.StabilityThreshold*math.Abs(mean) {
		if change > 0 {
			direction = DirectionIncreasing
		} else {
			direction = DirectionDecreasing
		}
	}

	var strength float64
	if r := stats.Range(ys); r > 0 {
		strength = math.Min(1, math.Abs(change)/r)
	}

	var growth float64
	if mean != 0 {
		growth = fit.Slope * secondsPerDay / math.Abs(mean) * 100
	}

	a.mu.RLock()
	kind := a.kinds[name]
	a.mu.RUnlock()
	if kind == "" {
		kind = shared.InferKind(name)
	}

	trend := &PerformanceTrend{
		MetricName:               name,
		Kind:                     kind,
		Direction:                direction,
		Type:                     typeForRSquared(fit.RSquared),
		SlopePerSecond:           fit.Slope,
		Intercept:                fit.Intercept,
		RSquared:                 fit.RSquared,
		TrendStrength:            strength,
		GrowthRatePerDay:         growth,
		PValue:                   fit.SlopePValue,
		StatisticallySignificant: fit.SlopePValue < a.cfg.SignificanceLevel,
		SampleCount:              len(samples),
		Mean:                     mean,
		CurrentValue:             ys[len(ys)-1],
		PeriodStart:              samples[0].Timestamp,
		PeriodEnd:                samples[len(samples)-1].Timestamp,
		AnalyzedAt:               now,
	}

	if forecast, err := a.ForecastMetric(ctx, name, a.cfg.ForecastHorizon); err == nil {
		trend.Forecast = forecast
	} else {
		a.logger.V(1).Info("Forecast unavailable", "metric", name, "error", err.Error())
	}

	a.mu.Lock()
	a.trends[name] = trend
	a.mu.Unlock()

	a.metrics.analyses.WithLabelValues("ok").Inc()
	a.metrics.slope.WithLabelValues(name).Set(fit.Slope * secondsPerDay)
	a.metrics.rSquared.WithLabelValues(name).Set(fit.RSquared)
	a.logger.V(1).Info("Trend analyzed",
		"metric", name,
		"direction", direction,
		"r_squared", fit.RSquared,
		"growth_rate_per_day", growth)

	out := *trend
	return &out, nil
}

// ForecastMetric fits a fresh line over the most recent samples and
// extrapolates evenly spaced points up to horizon past the last sample.
// Values and band edges are clamped at zero.
func (a *Analyzer) ForecastMetric(ctx context.Context, name string, horizon time.Duration) (*Forecast, error) {
	if horizon <= 0 {
		horizon = a.cfg.ForecastHorizon
	}
	samples, err := a.store.Last(ctx, seriesKey(name), a.cfg.ForecastSamples)
	if err != nil {
		return nil, apmerrors.TrendAnalysisError("forecast_metric", "failed to read samples", err).WithContext("metric", name)
	}
	const minForecastSamples = 3
	if len(samples) < minForecastSamples {
		return nil, apmerrors.InsufficientData(apmerrors.ComponentTrend, "forecast_metric", len(samples), minForecastSamples).
			WithContext("metric", name)
	}

	xs := elapsedSeconds(samples)
	fit, ok := stats.FitLinear(xs, metricstore.Values(samples))
	if !ok {
		return nil, apmerrors.InsufficientData(apmerrors.ComponentTrend, "forecast_metric", 1, 2).
			WithContext("metric", name).
			WithContext("reason", "samples share a single timestamp")
	}

	last := samples[len(samples)-1].Timestamp
	origin := samples[0].Timestamp
	band := forecastZ * fit.ResidualStdDev
	points := make([]ForecastPoint, 0, a.cfg.ForecastPoints)
	for i := 1; i <= a.cfg.ForecastPoints; i++ {
		ts := last.Add(time.Duration(float64(horizon) * float64(i) / float64(a.cfg.ForecastPoints)))
		v := fit.Predict(ts.Sub(origin).Seconds())
		points = append(points, ForecastPoint{
			Timestamp: ts,
			Value:     math.Max(0, v),
			Lower:     math.Max(0, v-band),
			Upper:     math.Max(0, v+band),
		})
	}

	return &Forecast{
		MetricName:     name,
		GeneratedAt:    a.now(),
		Horizon:        horizon,
		SlopePerSecond: fit.Slope,
		ResidualStdDev: fit.ResidualStdDev,
		SampleCount:    len(samples),
		Points:         points,
	}, nil
}

// GenerateCapacityInsights projects every metric tagged kind over the
// planning horizon. Metrics without enough data are skipped. Insights are
// ordered by urgency, most urgent first.
func (a *Analyzer) GenerateCapacityInsights(ctx context.Context, kind shared.MetricKind) ([]CapacityInsight, error) {
	a.mu.RLock()
	var names []string
	for name, k := range a.kinds {
		if k == kind {
			names = append(names, name)
		}
	}
	a.mu.RUnlock()
	sort.Strings(names)

	now := a.now()
	insights := make([]CapacityInsight, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return insights, err
		}
		trend, err := a.AnalyzeTrend(ctx, name, 0)
		if err != nil {
			if !apmerrors.IsInsufficientData(err) {
				a.logger.Error(err, "Capacity analysis failed", "metric", name)
			}
			continue
		}
		insights = append(insights, a.capacityInsight(trend, now))
	}

	sort.SliceStable(insights, func(i, j int) bool {
		return insights[i].Urgency.Rank() > insights[j].Urgency.Rank()
	})
	return insights, nil
}

func (a *Analyzer) capacityInsight(t *PerformanceTrend, now time.Time) CapacityInsight {
	daily := t.SlopePerSecond * secondsPerDay
	threshold := a.cfg.CapacityThreshold
	insight := CapacityInsight{
		MetricName:          t.MetricName,
		Kind:                t.Kind,
		CurrentValue:        t.CurrentValue,
		ProjectedValue:      t.CurrentValue + daily*a.cfg.PlanningHorizonDays,
		PlanningHorizonDays: a.cfg.PlanningHorizonDays,
		CapacityThreshold:   threshold,
		DailyChange:         daily,
		GeneratedAt:         now,
	}

	var days float64
	switch {
	case t.CurrentValue >= threshold:
		days = 0
	case daily > 0:
		days = (threshold - t.CurrentValue) / daily
	default:
		days = math.Inf(1)
	}
	if !math.IsInf(days, 1) {
		d := days
		date := now.Add(time.Duration(days * secondsPerDay * float64(time.Second)))
		insight.DaysToExhaustion = &d
		insight.ExhaustionDate = &date
	}

	switch {
	case days < 30:
		insight.Urgency = shared.SeverityCritical
		insight.Recommendation = fmt.Sprintf("Capacity for %s runs out in %.0f days; add capacity now", t.MetricName, days)
	case days < 90:
		insight.Urgency = shared.SeverityHigh
		insight.Recommendation = fmt.Sprintf("Capacity for %s runs out in %.0f days; plan an expansion this quarter", t.MetricName, days)
	case insight.ProjectedValue > mediumUrgencyLevel:
		insight.Urgency = shared.SeverityMedium
		insight.Recommendation = fmt.Sprintf("%s is projected at %.1f in %.0f days; review capacity", t.MetricName, insight.ProjectedValue, a.cfg.PlanningHorizonDays)
	default:
		insight.Urgency = shared.SeverityLow
		insight.Recommendation = fmt.Sprintf("%s has sufficient headroom", t.MetricName)
	}
	return insight
}

// GetTrend returns the last analyzed trend of a metric.
func (a *Analyzer) GetTrend(name string) (*PerformanceTrend, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.trends[name]
	if !ok {
		return nil, false
	}
	out := *t
	return &out, true
}

// GetTrends returns the last analyzed trend of every metric, ordered by name.
func (a *Analyzer) GetTrends() []PerformanceTrend {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]PerformanceTrend, 0, len(a.trends))
	for _, t := range a.trends {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricName < out[j].MetricName })
	return out
}

// TrackedMetrics returns the names of all metrics with a kind tag.
func (a *Analyzer) TrackedMetrics() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.kinds))
	for name := range a.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AnalyzeAll analyzes every tracked metric and returns the trends that had
// enough data.
func (a *Analyzer) AnalyzeAll(ctx context.Context) ([]PerformanceTrend, error) {
	var out []PerformanceTrend
	for _, name := range a.TrackedMetrics() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		t, err := a.AnalyzeTrend(ctx, name, 0)
		if err != nil {
			if !apmerrors.IsInsufficientData(err) {
				a.logger.Error(err, "Trend analysis failed", "metric", name)
			}
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (a *Analyzer) analyzeAll(ctx context.Context) error {
	trends, err := a.AnalyzeAll(ctx)
	if err != nil {
		return err
	}
	a.logger.V(1).Info("Trend analysis cycle completed", "analyzed", len(trends))
	return nil
}
