// Package regression compares metric distributions between a baseline
// version and a current version of a service.
package regression

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/logging"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/metricstore"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/stats"
)

// Detector holds per-version samples and runs version comparisons.
type Detector struct {
	cfg     config.RegressionConfig
	store   metricstore.Store
	logger  logr.Logger
	metrics *detectorMetrics
	now     func() time.Time

	mu              sync.RWMutex
	versions        map[string]map[string]struct{}
	kinds           map[string]shared.MetricKind
	baselineVersion string
	currentVersion  string
	history         []PerformanceRegression
	callbacks       []Callback
}

// NewDetector creates a regression detector. reg may be nil.
func NewDetector(cfg config.RegressionConfig, store metricstore.Store, logger logr.Logger, reg prometheus.Registerer) *Detector {
	return &Detector{
		cfg:      cfg,
		store:    store,
		logger:   logging.ForComponent(logging.OrDiscard(logger), "regression"),
		metrics:  newDetectorMetrics(reg),
		now:      time.Now,
		versions: make(map[string]map[string]struct{}),
		kinds:    make(map[string]shared.MetricKind),
	}
}

func seriesKey(version, metric string) string {
	return "regression:" + version + ":" + metric
}

// AddCallback registers fn for detected regressions.
func (d *Detector) AddCallback(fn Callback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, fn)
}

// RegisterMetric tags a metric with its kind, which decides the direction
// in which a change counts as a regression.
func (d *Detector) RegisterMetric(name string, kind shared.MetricKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kinds[name] = kind
}

func (d *Detector) kindOf(name string) shared.MetricKind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if k, ok := d.kinds[name]; ok {
		return k
	}
	return shared.InferKind(name)
}

// SetBaselineVersion makes version the comparison baseline. Samples passed
// in metrics replace any data previously held for those metrics.
func (d *Detector) SetBaselineVersion(ctx context.Context, version string, metrics map[string][]float64) error {
	if version == "" {
		return apmerrors.RegressionDetectionError("set_baseline_version", "version is required", apmerrors.ErrInvalidArgument)
	}
	ts := d.now()
	for metric, values := range metrics {
		key := seriesKey(version, metric)
		if err := d.store.Delete(ctx, key); err != nil {
			return apmerrors.RegressionDetectionError("set_baseline_version", "failed to reset samples", err).
				WithContext("version", version).
				WithContext("metric", metric)
		}
		for _, v := range values {
			if err := d.store.Append(ctx, key, metricstore.Sample{Timestamp: ts, Value: v}); err != nil {
				return apmerrors.RegressionDetectionError("set_baseline_version", "failed to store sample", err).
					WithContext("version", version).
					WithContext("metric", metric)
			}
		}
	}

	d.mu.Lock()
	d.baselineVersion = version
	set := d.versionSet(version)
	for metric := range metrics {
		set[metric] = struct{}{}
	}
	d.mu.Unlock()

	d.logger.Info("Baseline version set", "version", version, "metrics", len(metrics))
	return nil
}

// SetCurrentVersion makes version the one compared against the baseline.
func (d *Detector) SetCurrentVersion(version string) error {
	if version == "" {
		return apmerrors.RegressionDetectionError("set_current_version", "version is required", apmerrors.ErrInvalidArgument)
	}
	d.mu.Lock()
	d.currentVersion = version
	d.versionSet(version)
	d.mu.Unlock()
	d.logger.Info("Current version set", "version", version)
	return nil
}

// CurrentVersion returns the version new samples are attributed to, or ""
// when none is set.
func (d *Detector) CurrentVersion() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.currentVersion
}

// versionSet must be called with d.mu held.
func (d *Detector) versionSet(version string) map[string]struct{} {
	set, ok := d.versions[version]
	if !ok {
		set = make(map[string]struct{})
		d.versions[version] = set
	}
	return set
}

// AddPerformanceData appends a sample for metric under version. An empty
// version means the current version.
func (d *Detector) AddPerformanceData(ctx context.Context, version, metric string, value float64) error {
	if metric == "" {
		return apmerrors.RegressionDetectionError("add_performance_data", "metric name is required", apmerrors.ErrInvalidArgument)
	}
	if version == "" {
		d.mu.RLock()
		version = d.currentVersion
		d.mu.RUnlock()
		if version == "" {
			return apmerrors.RegressionDetectionError("add_performance_data", "no current version set", apmerrors.ErrInvalidArgument).
				WithContext("metric", metric)
		}
	}

	if err := d.store.Append(ctx, seriesKey(version, metric), metricstore.Sample{Timestamp: d.now(), Value: value}); err != nil {
		return apmerrors.RegressionDetectionError("add_performance_data", "failed to store sample", err).
			WithContext("version", version).
			WithContext("metric", metric)
	}

	d.mu.Lock()
	d.versionSet(version)[metric] = struct{}{}
	d.mu.Unlock()
	return nil
}

// Versions lists the known versions ordered by name.
func (d *Detector) Versions() []VersionInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]VersionInfo, 0, len(d.versions))
	for v, set := range d.versions {
		info := VersionInfo{
			Version:    v,
			IsBaseline: v == d.baselineVersion,
			IsCurrent:  v == d.currentVersion,
		}
		for m := range set {
			info.Metrics = append(info.Metrics, m)
		}
		sort.Strings(info.Metrics)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (d *Detector) resolveVersions(op, baseline, current string) (string, string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if baseline == "" {
		baseline = d.baselineVersion
	}
	if current == "" {
		current = d.currentVersion
	}
	if baseline == "" || current == "" {
		return "", "", apmerrors.RegressionDetectionError(op, "baseline and current versions are required", apmerrors.ErrInvalidArgument).
			WithContext("baseline_version", baseline).
			WithContext("current_version", current)
	}
	return baseline, current, nil
}

func percentChange(baseline, current float64) float64 {
	if baseline == 0 {
		if current == 0 {
			return 0
		}
		return math.Copysign(100, current)
	}
	return (current - baseline) / math.Abs(baseline) * 100
}

// exceedsThreshold applies the direction of badness for kind. Kinds without
// a direction count a change either way.
func exceedsThreshold(kind shared.MetricKind, change, thresholdPct float64) bool {
	worse, directional := kind.HigherIsWorse()
	switch {
	case !directional:
		return math.Abs(change) > thresholdPct
	case worse:
		return change > thresholdPct
	default:
		return change < -thresholdPct
	}
}

func severityFor(change, thresholdPct float64) shared.Severity {
	ratio := math.Abs(change) / thresholdPct
	switch {
	case ratio >= 4:
		return shared.SeverityCritical
	case ratio >= 2:
		return shared.SeverityHigh
	case ratio >= 1.5:
		return shared.SeverityMedium
	default:
		return shared.SeverityLow
	}
}

// DetectRegression compares metric between two versions. Empty versions
// default to the configured baseline and current versions. A regression is
// reported only when the change exceeds the threshold in the bad direction
// and the t-test is significant.
func (d *Detector) DetectRegression(ctx context.Context, metric, baseline, current string) (*PerformanceRegression, error) {
	baseline, current, err := d.resolveVersions("detect_regression", baseline, current)
	if err != nil {
		return nil, err
	}

	base, err := d.store.Last(ctx, seriesKey(baseline, metric), d.cfg.MaxSamplesPerMetric)
	if err != nil {
		return nil, apmerrors.RegressionDetectionError("detect_regression", "failed to read baseline samples", err).WithContext("metric", metric)
	}
	cur, err := d.store.Last(ctx, seriesKey(current, metric), d.cfg.MaxSamplesPerMetric)
	if err != nil {
		return nil, apmerrors.RegressionDetectionError("detect_regression", "failed to read current samples", err).WithContext("metric", metric)
	}
	if have := min(len(base), len(cur)); have < d.cfg.MinSamples {
		d.metrics.checks.WithLabelValues("insufficient_data").Inc()
		return nil, apmerrors.InsufficientData(apmerrors.ComponentRegression, "detect_regression", have, d.cfg.MinSamples).
			WithContext("metric", metric).
			WithContext("baseline_version", baseline).
			WithContext("current_version", current)
	}

	bv, cv := metricstore.Values(base), metricstore.Values(cur)
	bMean, cMean := stats.Mean(bv), stats.Mean(cv)
	change := percentChange(bMean, cMean)
	ttest := stats.TTestIndependent(bv, cv)
	kind := d.kindOf(metric)
	thresholdPct := d.cfg.RegressionThreshold * 100

	significant := ttest.PValue < d.cfg.SignificanceLevel
	detected := significant && exceedsThreshold(kind, change, thresholdPct)

	r := PerformanceRegression{
		ID:                       uuid.NewString(),
		MetricName:               metric,
		Kind:                     kind,
		BaselineVersion:          baseline,
		CurrentVersion:           current,
		BaselineMean:             bMean,
		CurrentMean:              cMean,
		BaselineStdDev:           stats.StdDev(bv),
		CurrentStdDev:            stats.StdDev(cv),
		BaselineSamples:          len(bv),
		CurrentSamples:           len(cv),
		PercentageChange:         change,
		TStatistic:               ttest.TStatistic,
		PValue:                   ttest.PValue,
		DegreesOfFreedom:         ttest.DegreesOfFreedom,
		StatisticallySignificant: significant,
		RegressionDetected:       detected,
		Severity:                 shared.SeverityLow,
		DetectedAt:               d.now(),
	}
	d.metrics.change.WithLabelValues(metric).Set(change)

	if !detected {
		r.Description = fmt.Sprintf("No regression in %s between %s and %s (change %.2f%%, p=%.4f)", metric, baseline, current, change, ttest.PValue)
		d.metrics.checks.WithLabelValues("no_regression").Inc()
		return &r, nil
	}

	r.Severity = severityFor(change, thresholdPct)
	r.Description = fmt.Sprintf("%s regressed by %.2f%% from %s to %s (p=%.4f)", metric, change, baseline, current, ttest.PValue)

	d.mu.Lock()
	d.history = append(d.history, r)
	if over := len(d.history) - d.cfg.MaxHistory; over > 0 {
		d.history = append([]PerformanceRegression(nil), d.history[over:]...)
	}
	callbacks := append([]Callback(nil), d.callbacks...)
	d.mu.Unlock()

	d.metrics.checks.WithLabelValues("regression").Inc()
	d.metrics.detected.WithLabelValues(string(r.Severity)).Inc()
	d.logger.Info("Performance regression detected",
		"metric", metric,
		"baseline_version", baseline,
		"current_version", current,
		"change_percent", change,
		"p_value", ttest.PValue,
		"severity", r.Severity)

	for _, cb := range callbacks {
		d.safeCallback(cb, r)
	}
	return &r, nil
}

func (d *Detector) safeCallback(cb Callback, r PerformanceRegression) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Info("Regression callback panicked", "metric", r.MetricName, "panic", rec)
		}
	}()
	cb(r)
}

// DetectAllRegressions compares every metric present in both versions and
// returns one result per metric with enough data.
func (d *Detector) DetectAllRegressions(ctx context.Context, baseline, current string) ([]*PerformanceRegression, error) {
	baseline, current, err := d.resolveVersions("detect_all_regressions", baseline, current)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	var metrics []string
	for m := range d.versions[baseline] {
		if _, ok := d.versions[current][m]; ok {
			metrics = append(metrics, m)
		}
	}
	d.mu.RUnlock()
	sort.Strings(metrics)

	results := make([]*PerformanceRegression, 0, len(metrics))
	for _, m := range metrics {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r, err := d.DetectRegression(ctx, m, baseline, current)
		if err != nil {
			if apmerrors.IsInsufficientData(err) {
				continue
			}
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// GetRegressionHistory returns up to limit of the most recent detected
// regressions, oldest first. limit <= 0 returns all.
func (d *Detector) GetRegressionHistory(limit int) []PerformanceRegression {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h := d.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]PerformanceRegression(nil), h...)
}
