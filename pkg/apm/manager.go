// Package apm is the composition root of the performance analysis pipeline.
// The Manager owns the baseline, bottleneck, SLA, trend, regression and
// profiling components, fans recorded samples out to them and exposes their
// operations behind a single error type.
package apm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/baseline"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/bottleneck"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/profiling"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/regression"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/sla"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/trend"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/logging"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/metricstore"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/periodic"
)

const (
	tracerName        = "apm"
	topBottlenecksMax = 5
)

// Component names used in health reports and alerts.
const (
	ComponentBaseline   = "baseline"
	ComponentBottleneck = "bottleneck"
	ComponentSLA        = "sla"
	ComponentTrend      = "trend"
	ComponentRegression = "regression"
	ComponentProfiling  = "profiling"
)

type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// component is one owned sub-component. Passive components have no loops
// and a nil lifecycle.
type component struct {
	name    string
	enabled bool
	lc      lifecycle
}

// Manager wires the analysis components together.
type Manager struct {
	cfg     *config.APMConfig
	logger  logr.Logger
	store   metricstore.Store
	reg     prometheus.Registerer
	tracer  trace.Tracer
	archive profiling.Archiver
	metrics *managerMetrics
	now     func() time.Time

	baseline   *baseline.Manager
	bottleneck *bottleneck.Detector
	sla        *sla.Monitor
	trend      *trend.Analyzer
	regression *regression.Detector
	profiler   *profiling.Profiler

	mu             sync.RWMutex
	kinds          map[string]shared.MetricKind
	perfCallbacks  []PerformanceCallback
	alertCallbacks []AlertCallback
	summary        PerformanceSummary

	aggregationTask *periodic.Task
	healthTask      *periodic.Task
	summaryTask     *periodic.Task
	running         atomic.Bool
}

// NewManager validates cfg and builds every sub-component. A nil cfg uses
// the defaults.
func NewManager(cfg *config.APMConfig, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, apmerrors.New(apmerrors.ComponentConfig, "new_manager", "invalid configuration", err)
	}

	m := &Manager{
		cfg:    cfg,
		logger: logr.Discard(),
		now:    time.Now,
		kinds:  make(map[string]shared.MetricKind),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = metricstore.NewMemoryStore(cfg.Store.Capacity)
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}

	base := logging.OrDiscard(m.logger)
	m.logger = logging.ForComponent(base, "apm-manager")
	m.metrics = newManagerMetrics(m.reg)

	m.baseline = baseline.NewManager(cfg.Baseline, m.store, base, m.reg)
	m.bottleneck = bottleneck.NewDetector(cfg.Bottleneck, m.store, base, m.reg)
	m.sla = sla.NewMonitor(cfg.SLA, m.store, base, m.reg)
	m.trend = trend.NewAnalyzer(cfg.Trend, m.store, base, m.reg)
	m.regression = regression.NewDetector(cfg.Regression, m.store, base, m.reg)
	m.profiler = profiling.NewProfiler(cfg.Profiling, base, m.reg)
	if m.archive != nil {
		m.profiler.SetArchiver(m.archive)
	}

	m.bottleneck.AddCallback(m.onBottleneck)
	m.sla.AddViolationCallback(m.onViolation)
	m.baseline.AddDriftCallback(m.onDrift)
	m.regression.AddCallback(m.onRegression)

	taskOpts := []periodic.Option{periodic.WithLogger(m.logger)}
	m.aggregationTask = periodic.New("apm-aggregation", cfg.Manager.AggregationInterval, m.aggregate, taskOpts...)
	m.healthTask = periodic.New("apm-health", cfg.Manager.HealthCheckInterval, m.checkHealth, taskOpts...)
	m.summaryTask = periodic.New("apm-summary", cfg.Manager.SummaryInterval, func(context.Context) error {
		m.RefreshSummary()
		return nil
	}, taskOpts...)

	m.summary = PerformanceSummary{GeneratedAt: m.now(), OverallHealth: HealthHealthy}
	return m, nil
}

func (m *Manager) components() []component {
	return []component{
		{name: ComponentBaseline, enabled: m.cfg.Baseline.Enabled, lc: m.baseline},
		{name: ComponentBottleneck, enabled: m.cfg.Bottleneck.Enabled, lc: m.bottleneck},
		{name: ComponentSLA, enabled: m.cfg.SLA.Enabled, lc: m.sla},
		{name: ComponentTrend, enabled: m.cfg.Trend.Enabled, lc: m.trend},
		{name: ComponentRegression, enabled: m.cfg.Regression.Enabled},
		{name: ComponentProfiling, enabled: m.cfg.Profiling.Enabled},
	}
}

func (m *Manager) tasks() []*periodic.Task {
	return []*periodic.Task{m.aggregationTask, m.healthTask, m.summaryTask}
}

// Start starts every enabled sub-component and then the manager's own loops.
// The loops run until Stop is called or ctx is cancelled. Starting a running
// manager logs and does nothing.
func (m *Manager) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Info("APM manager already running, ignoring start")
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "apm.start")
	defer span.End()

	var started []component
	rollback := func() {
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].lc.Stop(ctx); err != nil {
				m.logger.Error(err, "Failed to stop component during rollback", "component", started[i].name)
			}
		}
		m.running.Store(false)
	}

	for _, c := range m.components() {
		if !c.enabled || c.lc == nil {
			continue
		}
		if err := c.lc.Start(ctx); err != nil {
			rollback()
			return m.fail(span, "start", err, attribute.String("component", c.name))
		}
		started = append(started, c)
	}

	for i, t := range m.tasks() {
		if err := t.Start(ctx); err != nil {
			for _, prev := range m.tasks()[:i] {
				prev.Stop()
			}
			rollback()
			return m.fail(span, "start", err, attribute.String("task", t.Name()))
		}
	}

	m.logger.Info("APM manager started",
		"service", m.cfg.ServiceName,
		"components", len(started),
		"aggregation_interval", m.cfg.Manager.AggregationInterval,
		"health_check_interval", m.cfg.Manager.HealthCheckInterval,
		"summary_interval", m.cfg.Manager.SummaryInterval)
	return nil
}

// Stop halts the manager's loops first, then stops the sub-components in
// parallel. Stopping a stopped manager logs and does nothing.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.running.CompareAndSwap(true, false) {
		m.logger.Info("APM manager not running, ignoring stop")
		return nil
	}

	for _, t := range m.tasks() {
		t.Stop()
	}
	m.profiler.StopAll(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range m.components() {
		if c.lc == nil {
			continue
		}
		c := c
		g.Go(func() error {
			if err := c.lc.Stop(gctx); err != nil {
				return fmt.Errorf("%s: %w", c.name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return apmerrors.New(apmerrors.ComponentManager, "stop", "failed to stop components", err)
	}

	m.logger.Info("APM manager stopped")
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// AddPerformanceCallback registers fn for every recorded performance metric.
func (m *Manager) AddPerformanceCallback(fn PerformanceCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perfCallbacks = append(m.perfCallbacks, fn)
}

// AddAlertCallback registers fn for every alert.
func (m *Manager) AddAlertCallback(fn AlertCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertCallbacks = append(m.alertCallbacks, fn)
}

// registerKind returns the kind of name. An explicit kind wins and replaces
// an earlier one; otherwise the kind is inferred once, on first sight.
func (m *Manager) registerKind(name string, explicit shared.MetricKind) shared.MetricKind {
	m.mu.Lock()
	existing, known := m.kinds[name]
	kind := existing
	switch {
	case explicit != "" && explicit != existing:
		kind = explicit
	case !known:
		kind = shared.InferKind(name)
	}
	changed := !known || kind != existing
	m.kinds[name] = kind
	m.mu.Unlock()

	if changed {
		m.trend.RegisterMetric(name, kind)
		m.regression.RegisterMetric(name, kind)
		m.logger.V(1).Info("Metric kind registered", "metric", name, "kind", kind)
	}
	return kind
}

// MetricKind returns the kind recorded for name.
func (m *Manager) MetricKind(name string) (shared.MetricKind, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.kinds[name]
	return k, ok
}

// RecordPerformanceMetric fans a sample out to the baseline, trend and
// bottleneck correlation tracking, to the SLA monitor when the kind maps to
// an SLA metric type, and to the regression detector when a version applies.
// Performance callbacks run afterwards.
func (m *Manager) RecordPerformanceMetric(ctx context.Context, name string, value float64, opts ...RecordOption) error {
	const op = "record_performance_metric"
	if name == "" {
		return apmerrors.New(apmerrors.ComponentManager, op, "metric name is required", apmerrors.ErrInvalidArgument)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return apmerrors.New(apmerrors.ComponentManager, op, "value must be finite", apmerrors.ErrInvalidArgument).
			WithContext("metric", name)
	}

	o := recordOptions{timestamp: m.now()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.kind != "" {
		if _, ok := shared.ParseKind(string(o.kind)); !ok {
			return apmerrors.Newf(apmerrors.ComponentManager, op, apmerrors.ErrInvalidArgument, "unknown metric kind %q", o.kind)
		}
	}
	kind := m.registerKind(name, o.kind)

	var errs []error
	if m.cfg.Baseline.Enabled {
		errs = append(errs, m.baseline.AddMetricData(ctx, name, value, o.timestamp))
	}
	if m.cfg.Trend.Enabled {
		errs = append(errs, m.trend.AddMetricData(ctx, name, value, o.timestamp))
	}
	if m.cfg.Bottleneck.Enabled {
		errs = append(errs, m.bottleneck.AddPerformanceMetric(ctx, name, value, o.timestamp))
	}
	if mt, ok := sla.MetricTypeForKind(kind); ok && m.cfg.SLA.Enabled {
		errs = append(errs, m.sla.RecordMetric(ctx, mt, value, o.timestamp))
	}
	if m.cfg.Regression.Enabled {
		version := o.version
		if version == "" {
			version = m.regression.CurrentVersion()
		}
		if version != "" {
			errs = append(errs, m.regression.AddPerformanceData(ctx, version, name, value))
		}
	}
	m.metrics.recorded.WithLabelValues("performance", string(kind)).Inc()

	metric := PerformanceMetric{Name: name, Kind: kind, Value: value, Timestamp: o.timestamp, Version: o.version}
	m.mu.RLock()
	callbacks := append([]PerformanceCallback(nil), m.perfCallbacks...)
	m.mu.RUnlock()
	for _, cb := range callbacks {
		m.safePerformanceCallback(cb, metric)
	}

	if err := errors.Join(errs...); err != nil {
		m.metrics.operationErrors.WithLabelValues(op).Inc()
		return apmerrors.New(apmerrors.ComponentManager, op, "failed to record metric", err).WithContext("metric", name)
	}
	return nil
}

// ResourceSeriesName is the series name under which resource samples are
// kept by the baseline and trend components.
func ResourceSeriesName(resource string, rtype bottleneck.ResourceType) string {
	return resource + "_" + string(rtype)
}

// RecordResourceMetric feeds a utilization sample to the bottleneck detector
// and tracks it as a baseline and trend series named by ResourceSeriesName.
func (m *Manager) RecordResourceMetric(ctx context.Context, resource string, rtype bottleneck.ResourceType, value float64, opts ...RecordOption) error {
	const op = "record_resource_metric"
	if resource == "" {
		return apmerrors.New(apmerrors.ComponentManager, op, "resource name is required", apmerrors.ErrInvalidArgument)
	}
	if _, ok := bottleneck.ParseResourceType(string(rtype)); !ok {
		return apmerrors.Newf(apmerrors.ComponentManager, op, apmerrors.ErrInvalidArgument, "unknown resource type %q", rtype).
			WithContext("resource", resource)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return apmerrors.New(apmerrors.ComponentManager, op, "value must be finite", apmerrors.ErrInvalidArgument).
			WithContext("resource", resource)
	}

	o := recordOptions{timestamp: m.now()}
	for _, opt := range opts {
		opt(&o)
	}
	series := ResourceSeriesName(resource, rtype)
	kind := m.registerKind(series, rtype.Kind())

	var errs []error
	if m.cfg.Bottleneck.Enabled {
		errs = append(errs, m.bottleneck.AddResourceMetric(ctx, resource, rtype, value, o.timestamp))
	}
	if m.cfg.Baseline.Enabled {
		errs = append(errs, m.baseline.AddMetricData(ctx, series, value, o.timestamp))
	}
	if m.cfg.Trend.Enabled {
		errs = append(errs, m.trend.AddMetricData(ctx, series, value, o.timestamp))
	}
	m.metrics.recorded.WithLabelValues("resource", string(kind)).Inc()

	if err := errors.Join(errs...); err != nil {
		m.metrics.operationErrors.WithLabelValues(op).Inc()
		return apmerrors.New(apmerrors.ComponentManager, op, "failed to record resource metric", err).
			WithContext("resource", resource).
			WithContext("resource_type", string(rtype))
	}
	return nil
}

// fail records err on span and wraps it in a manager error.
func (m *Manager) fail(span trace.Span, op string, err error, attrs ...attribute.KeyValue) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if !apmerrors.IsInsufficientData(err) {
		m.metrics.operationErrors.WithLabelValues(op).Inc()
	}
	return apmerrors.New(apmerrors.ComponentManager, op, "operation failed", err)
}

func (m *Manager) requireEnabled(span trace.Span, op, name string, enabled bool) error {
	if enabled {
		return nil
	}
	err := apmerrors.New(apmerrors.ComponentManager, op, name+" component is disabled", apmerrors.ErrNotRunning).
		WithContext("component", name)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// StartProfiling opens a profiling session.
func (m *Manager) StartProfiling(ctx context.Context, name string, pt profiling.ProfileType) (*profiling.Session, error) {
	const op = "start_profiling"
	ctx, span := m.tracer.Start(ctx, "apm."+op, trace.WithAttributes(
		attribute.String("profile.name", name),
		attribute.String("profile.type", string(pt)),
	))
	defer span.End()

	s, err := m.profiler.StartProfiling(ctx, name, pt)
	if err != nil {
		return nil, m.fail(span, op, err)
	}
	span.SetAttributes(attribute.String("profile.session_id", s.ID))
	return s, nil
}

// StopProfiling ends a profiling session and returns its results.
func (m *Manager) StopProfiling(ctx context.Context, id string) (*profiling.Session, error) {
	const op = "stop_profiling"
	ctx, span := m.tracer.Start(ctx, "apm."+op, trace.WithAttributes(attribute.String("profile.session_id", id)))
	defer span.End()

	s, err := m.profiler.StopProfiling(ctx, id)
	if err != nil {
		return nil, m.fail(span, op, err)
	}
	return s, nil
}

// DetectBottlenecks runs a full detection pass, correlations included.
func (m *Manager) DetectBottlenecks(ctx context.Context) ([]*bottleneck.BottleneckAnalysis, error) {
	const op = "detect_bottlenecks"
	ctx, span := m.tracer.Start(ctx, "apm."+op)
	defer span.End()

	if err := m.requireEnabled(span, op, ComponentBottleneck, m.cfg.Bottleneck.Enabled); err != nil {
		return nil, err
	}
	found, err := m.bottleneck.DetectBottlenecks(ctx)
	if err != nil {
		return nil, m.fail(span, op, err)
	}
	span.SetAttributes(attribute.Int("bottlenecks.count", len(found)))
	return found, nil
}

// ResolveBottleneck marks an active bottleneck as resolved.
func (m *Manager) ResolveBottleneck(ctx context.Context, id string) (*bottleneck.BottleneckAnalysis, error) {
	const op = "resolve_bottleneck"
	_, span := m.tracer.Start(ctx, "apm."+op, trace.WithAttributes(attribute.String("bottleneck.id", id)))
	defer span.End()

	b, err := m.bottleneck.ResolveBottleneck(id)
	if err != nil {
		return nil, m.fail(span, op, err)
	}
	return b, nil
}

// GenerateSLAReport builds a compliance report over the trailing period.
func (m *Manager) GenerateSLAReport(ctx context.Context, period time.Duration) (*sla.Report, error) {
	const op = "generate_sla_report"
	ctx, span := m.tracer.Start(ctx, "apm."+op, trace.WithAttributes(attribute.String("report.period", period.String())))
	defer span.End()

	if err := m.requireEnabled(span, op, ComponentSLA, m.cfg.SLA.Enabled); err != nil {
		return nil, err
	}
	r, err := m.sla.GenerateSLAReport(ctx, period)
	if err != nil {
		return nil, m.fail(span, op, err)
	}
	span.SetAttributes(attribute.Float64("report.overall_compliance", r.OverallCompliance))
	return r, nil
}

// AnalyzeTrend fits a trend to one metric over period. A non-positive period
// uses the configured analysis period.
func (m *Manager) AnalyzeTrend(ctx context.Context, name string, period time.Duration) (*trend.PerformanceTrend, error) {
	const op = "analyze_trend"
	ctx, span := m.tracer.Start(ctx, "apm."+op, trace.WithAttributes(attribute.String("metric", name)))
	defer span.End()

	if err := m.requireEnabled(span, op, ComponentTrend, m.cfg.Trend.Enabled); err != nil {
		return nil, err
	}
	t, err := m.trend.AnalyzeTrend(ctx, name, period)
	if err != nil {
		return nil, m.fail(span, op, err)
	}
	return t, nil
}

// AnalyzeTrends analyzes every tracked metric with enough data.
func (m *Manager) AnalyzeTrends(ctx context.Context) ([]trend.PerformanceTrend, error) {
	const op = "analyze_trends"
	ctx, span := m.tracer.Start(ctx, "apm."+op)
	defer span.End()

	if err := m.requireEnabled(span, op, ComponentTrend, m.cfg.Trend.Enabled); err != nil {
		return nil, err
	}
	trends, err := m.trend.AnalyzeAll(ctx)
	if err != nil {
		return trends, m.fail(span, op, err)
	}
	span.SetAttributes(attribute.Int("trends.count", len(trends)))
	return trends, nil
}

// ForecastMetric projects a metric horizon ahead of its last sample.
func (m *Manager) ForecastMetric(ctx context.Context, name string, horizon time.Duration) (*trend.Forecast, error) {
	const op = "forecast_metric"
	ctx, span := m.tracer.Start(ctx, "apm."+op, trace.WithAttributes(
		attribute.String("metric", name),
		attribute.String("forecast.horizon", horizon.String()),
	))
	defer span.End()

	if err := m.requireEnabled(span, op, ComponentTrend, m.cfg.Trend.Enabled); err != nil {
		return nil, err
	}
	f, err := m.trend.ForecastMetric(ctx, name, horizon)
	if err != nil {
		return nil, m.fail(span, op, err)
	}
	return f, nil
}

// GenerateCapacityInsights projects every metric of kind towards the
// capacity threshold.
func (m *Manager) GenerateCapacityInsights(ctx context.Context, kind shared.MetricKind) ([]trend.CapacityInsight, error) {
	const op = "generate_capacity_insights"
	ctx, span := m.tracer.Start(ctx, "apm."+op, trace.WithAttributes(attribute.String("kind", string(kind))))
	defer span.End()

	if err := m.requireEnabled(span, op, ComponentTrend, m.cfg.Trend.Enabled); err != nil {
		return nil, err
	}
	insights, err := m.trend.GenerateCapacityInsights(ctx, kind)
	if err != nil {
		return nil, m.fail(span, op, err)
	}
	return insights, nil
}

// DetectRegressions compares every metric present in both versions. Empty
// version names select the configured baseline and current versions.
func (m *Manager) DetectRegressions(ctx context.Context, baselineVersion, currentVersion string) ([]*regression.PerformanceRegression, error) {
	const op = "detect_regressions"
	ctx, span := m.tracer.Start(ctx, "apm."+op, trace.WithAttributes(
		attribute.String("version.baseline", baselineVersion),
		attribute.String("version.current", currentVersion),
	))
	defer span.End()

	if err := m.requireEnabled(span, op, ComponentRegression, m.cfg.Regression.Enabled); err != nil {
		return nil, err
	}
	results, err := m.regression.DetectAllRegressions(ctx, baselineVersion, currentVersion)
	if err != nil {
		return nil, m.fail(span, op, err)
	}
	detected := 0
	for _, r := range results {
		if r.RegressionDetected {
			detected++
		}
	}
	span.SetAttributes(attribute.Int("regressions.compared", len(results)), attribute.Int("regressions.detected", detected))
	return results, nil
}

// Sub-component accessors for read-only views such as the HTTP API.

func (m *Manager) Baseline() *baseline.Manager { return m.baseline }
func (m *Manager) Bottleneck() *bottleneck.Detector { return m.bottleneck }
func (m *Manager) SLA() *sla.Monitor { return m.sla }
func (m *Manager) Trend() *trend.Analyzer { return m.trend }
func (m *Manager) Regression() *regression.Detector { return m.regression }
func (m *Manager) Profiler() *profiling.Profiler { return m.profiler }
func (m *Manager) Config() *config.APMConfig { return m.cfg }

// GetComponentHealth reports the liveness of every sub-component. Passive
// components are running whenever they are enabled.
func (m *Manager) GetComponentHealth() map[string]ComponentHealth {
	now := m.now()
	out := make(map[string]ComponentHealth)
	for _, c := range m.components() {
		running := c.enabled
		if c.lc != nil {
			running = c.lc.IsRunning()
		}
		out[c.name] = ComponentHealth{
			Name:      c.name,
			Enabled:   c.enabled,
			Running:   running,
			Healthy:   !c.enabled || running,
			CheckedAt: now,
		}
	}
	return out
}

// checkHealth raises a component_down alert for every enabled component that
// is not running.
func (m *Manager) checkHealth(ctx context.Context) error {
	health := m.GetComponentHealth()
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		h := health[name]
		if !h.Enabled {
			continue
		}
		if h.Running {
			m.metrics.componentUp.WithLabelValues(name).Set(1)
			continue
		}
		m.metrics.componentUp.WithLabelValues(name).Set(0)
		m.raiseAlert(Alert{
			Type:      AlertComponentDown,
			Severity:  shared.SeverityCritical,
			Component: name,
			Message:   fmt.Sprintf("%s component is not running", name),
			Timestamp: h.CheckedAt,
		})
	}
	return nil
}

// aggregate refreshes the tracked-series gauges.
func (m *Manager) aggregate(ctx context.Context) error {
	m.metrics.trackedSeries.WithLabelValues(ComponentBaseline).Set(float64(len(m.baseline.TrackedMetrics())))
	m.metrics.trackedSeries.WithLabelValues(ComponentTrend).Set(float64(len(m.trend.TrackedMetrics())))
	m.metrics.trackedSeries.WithLabelValues(ComponentBottleneck).Set(float64(m.bottleneck.GetSummary().TrackedMetrics))
	m.metrics.trackedSeries.WithLabelValues(ComponentSLA).Set(float64(len(m.sla.ListSLAs())))
	versions := 0
	for _, v := range m.regression.Versions() {
		versions += len(v.Metrics)
	}
	m.metrics.trackedSeries.WithLabelValues(ComponentRegression).Set(float64(versions))
	return nil
}

// RefreshSummary recomputes the performance summary from the active
// bottlenecks and SLA violations and returns a copy.
func (m *Manager) RefreshSummary() PerformanceSummary {
	s := PerformanceSummary{
		GeneratedAt:       m.now(),
		OverallHealth:     HealthHealthy,
		BottlenecksByType: make(map[bottleneck.BottleneckType]int),
		Components:        m.GetComponentHealth(),
	}

	for _, b := range m.bottleneck.GetActiveBottlenecks() {
		s.ActiveBottlenecks++
		s.BottlenecksByType[b.Type]++
		if b.Severity == shared.SeverityCritical {
			s.CriticalBottlenecks++
		}
		if len(s.TopBottlenecks) < topBottlenecksMax {
			s.TopBottlenecks = append(s.TopBottlenecks, *b)
		}
	}
	s.SLAViolations = m.sla.GetActiveViolations()
	s.ActiveSLAViolations = len(s.SLAViolations)
	for _, v := range s.SLAViolations {
		if v.Severity == shared.SeverityCritical {
			s.CriticalSLAViolations++
		}
	}

	unhealthy := false
	for _, h := range s.Components {
		if !h.Healthy {
			unhealthy = true
		}
	}
	switch {
	case s.CriticalBottlenecks > 0 || s.CriticalSLAViolations > 0 || (unhealthy && m.running.Load()):
		s.OverallHealth = HealthCritical
	case s.ActiveBottlenecks > 0 || s.ActiveSLAViolations > 0:
		s.OverallHealth = HealthDegraded
	}

	m.mu.Lock()
	s.TrackedMetrics = len(m.kinds)
	m.summary = s
	m.mu.Unlock()

	m.logger.V(1).Info("Performance summary refreshed",
		"overall_health", s.OverallHealth,
		"active_bottlenecks", s.ActiveBottlenecks,
		"active_sla_violations", s.ActiveSLAViolations)
	return s.clone()
}

// GetPerformanceSummary returns a copy of the last computed summary.
func (m *Manager) GetPerformanceSummary() PerformanceSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summary.clone()
}

func (m *Manager) onBottleneck(a bottleneck.BottleneckAnalysis) {
	m.raiseAlert(Alert{
		Type:      AlertBottleneck,
		Severity:  a.Severity,
		Component: ComponentBottleneck,
		Message:   a.Description,
		Details: map[string]interface{}{
			"bottleneck_id": a.ID,
			"resource":      a.Resource,
			"resource_type": string(a.ResourceType),
			"utilization":   a.Utilization,
			"impact_score":  a.ImpactScore,
		},
		Timestamp: a.DetectedAt,
	})
}

func (m *Manager) onViolation(v sla.Violation) {
	alert := Alert{
		Type:      AlertSLAViolation,
		Severity:  v.Severity,
		Component: ComponentSLA,
		Message:   fmt.Sprintf("SLA %s violated: %.2f %s %.2f does not hold", v.SLAName, v.ActualValue, v.Operator, v.ThresholdValue),
		Details: map[string]interface{}{
			"violation_id":           v.ID,
			"sla_id":                 v.SLAID,
			"metric_type":            string(v.MetricType),
			"deviation_percentage":   v.DeviationPercentage,
			"consecutive_violations": v.ConsecutiveViolations,
		},
		Timestamp: v.StartTime,
	}
	if v.Resolved {
		alert.Type = AlertSLAResolved
		alert.Severity = shared.SeverityLow
		alert.Message = fmt.Sprintf("SLA %s violation resolved", v.SLAName)
		if v.ResolutionTime != nil {
			alert.Timestamp = *v.ResolutionTime
		}
	}
	m.raiseAlert(alert)
}

func (m *Manager) onDrift(d baseline.BaselineDrift) {
	m.raiseAlert(Alert{
		Type:      AlertBaselineDrift,
		Severity:  d.Severity,
		Component: ComponentBaseline,
		Message:   fmt.Sprintf("%s drifted %.1f%% from its baseline", d.MetricName, d.DriftPercentage),
		Details: map[string]interface{}{
			"metric":         d.MetricName,
			"baseline_value": d.BaselineValue,
			"current_value":  d.CurrentValue,
			"direction":      string(d.Direction),
		},
		Timestamp: d.DetectedAt,
	})
}

func (m *Manager) onRegression(r regression.PerformanceRegression) {
	m.raiseAlert(Alert{
		Type:      AlertRegression,
		Severity:  r.Severity,
		Component: ComponentRegression,
		Message:   r.Description,
		Details: map[string]interface{}{
			"metric":            r.MetricName,
			"baseline_version":  r.BaselineVersion,
			"current_version":   r.CurrentVersion,
			"percentage_change": r.PercentageChange,
			"p_value":           r.PValue,
		},
		Timestamp: r.DetectedAt,
	})
}

func (m *Manager) raiseAlert(a Alert) {
	if a.Timestamp.IsZero() {
		a.Timestamp = m.now()
	}
	m.metrics.alerts.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	m.logger.Info("Alert raised", "type", a.Type, "severity", a.Severity, "component", a.Component, "message", a.Message)

	m.mu.RLock()
	callbacks := append([]AlertCallback(nil), m.alertCallbacks...)
	m.mu.RUnlock()
	for _, cb := range callbacks {
		m.safeAlertCallback(cb, a)
	}
}

func (m *Manager) safePerformanceCallback(cb PerformanceCallback, metric PerformanceMetric) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.callbackPanics.Inc()
			m.logger.Error(fmt.Errorf("panic: %v", r), "Performance callback panicked", "metric", metric.Name)
		}
	}()
	cb(metric)
}

func (m *Manager) safeAlertCallback(cb AlertCallback, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.callbackPanics.Inc()
			m.logger.Error(fmt.Errorf("panic: %v", r), "Alert callback panicked", "type", a.Type)
		}
	}()
	cb(a)
}
