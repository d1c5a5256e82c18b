// Package baseline establishes statistical baselines for metric series and
// detects drift away from them.
package baseline

import (
	"context"
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
	driftSampleWindow = 10
	driftCheckCount   = 3
)

// Manager owns the baselines of all tracked metrics.
type Manager struct {
	cfg     config.BaselineConfig
	store   metricstore.Store
	logger  logr.Logger
	metrics *managerMetrics
	now     func() time.Time

	mu           sync.RWMutex
	baselines    map[string]*PerformanceBaseline
	tracked      map[string]struct{}
	driftHistory []BaselineDrift
	callbacks    []DriftCallback

	updateTask *periodic.Task
	driftTask  *periodic.Task
	running    atomic.Bool
}

// NewManager creates a baseline manager. reg may be nil.
func NewManager(cfg config.BaselineConfig, store metricstore.Store, logger logr.Logger, reg prometheus.Registerer) *Manager {
	m := &Manager{
		cfg:       cfg,
		store:     store,
		logger:    logging.ForComponent(logging.OrDiscard(logger), "baseline"),
		metrics:   newManagerMetrics(reg),
		now:       time.Now,
		baselines: make(map[string]*PerformanceBaseline),
		tracked:   make(map[string]struct{}),
	}

	updateEvery := cfg.UpdateFrequency / 4
	if updateEvery <= 0 {
		updateEvery = time.Hour
	}
	m.updateTask = periodic.New("baseline-update", updateEvery, m.updateDueBaselines, periodic.WithLogger(m.logger))
	m.driftTask = periodic.New("baseline-drift", cfg.DriftWindow, m.checkDrift, periodic.WithLogger(m.logger))
	return m
}

// Start launches the update and drift loops.
func (m *Manager) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := m.updateTask.Start(ctx); err != nil {
		m.running.Store(false)
		return apmerrors.BaselineError("start", "failed to start update loop", err)
	}
	if err := m.driftTask.Start(ctx); err != nil {
		m.updateTask.Stop()
		m.running.Store(false)
		return apmerrors.BaselineError("start", "failed to start drift loop", err)
	}
	m.logger.Info("Baseline manager started",
		"update_frequency", m.cfg.UpdateFrequency,
		"drift_window", m.cfg.DriftWindow,
		"min_data_points", m.cfg.MinDataPoints)
	return nil
}

// Stop halts both loops and waits for them.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	m.updateTask.Stop()
	m.driftTask.Stop()
	m.logger.Info("Baseline manager stopped")
	return nil
}

// IsRunning reports whether the background loops are active. A loop that
// exited on its own makes the manager report not running.
func (m *Manager) IsRunning() bool {
	return m.running.Load() && m.updateTask.Running() && m.driftTask.Running()
}

// AddDriftCallback registers fn to be called for every detected drift.
func (m *Manager) AddDriftCallback(fn DriftCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

func (m *Manager) seriesKey(name string) string {
	return "baseline:" + name
}

// AddMetricData records a sample. Once enough samples fall inside the
// baseline period a baseline is established automatically, and with
// auto-update enabled a stale baseline is rebuilt.
func (m *Manager) AddMetricData(ctx context.Context, name string, value float64, ts time.Time) error {
	if name == "" {
		return apmerrors.BaselineError("add_metric_data", "metric name is required", apmerrors.ErrInvalidArgument)
	}
	if ts.IsZero() {
		ts = m.now()
	}
	if err := m.store.Append(ctx, m.seriesKey(name), metricstore.Sample{Timestamp: ts, Value: value}); err != nil {
		return apmerrors.BaselineError("add_metric_data", "failed to store sample", err)
	}

	m.mu.Lock()
	m.tracked[name] = struct{}{}
	existing, ok := m.baselines[name]
	var due bool
	if ok {
		due = m.cfg.AutoUpdate && m.now().Sub(existing.UpdatedAt) >= m.cfg.UpdateFrequency
	}
	m.mu.Unlock()

	switch {
	case !ok:
		n, err := m.store.Len(ctx, m.seriesKey(name))
		if err != nil || n < m.cfg.MinDataPoints {
			return nil
		}
		samples, err := m.windowSamples(ctx, name)
		if err != nil {
			return err
		}
		if len(samples) >= m.cfg.MinDataPoints {
			if _, err := m.EstablishBaseline(ctx, name, false); err != nil && !apmerrors.Is(err, apmerrors.ErrAlreadyExists) && !apmerrors.Is(err, apmerrors.ErrBusy) {
				return err
			}
		}
	case due:
		_, err := m.EstablishBaseline(ctx, name, true)
		if err != nil && !apmerrors.IsInsufficientData(err) && !apmerrors.Is(err, apmerrors.ErrBusy) {
			return err
		}
	}
	return nil
}

func (m *Manager) windowSamples(ctx context.Context, name string) ([]metricstore.Sample, error) {
	samples, err := m.store.Range(ctx, m.seriesKey(name), m.now().Add(-m.cfg.BaselinePeriod))
	if err != nil {
		return nil, apmerrors.BaselineError("read_samples", "failed to read samples", err)
	}
	return samples, nil
}

// EstablishBaseline builds a baseline from the samples inside the baseline
// period. Without force an existing baseline is an error.
func (m *Manager) EstablishBaseline(ctx context.Context, name string, force bool) (*PerformanceBaseline, error) {
	m.mu.Lock()
	existing, exists := m.baselines[name]
	if exists && !force {
		m.mu.Unlock()
		return nil, apmerrors.BaselineError("establish_baseline", "baseline already established", apmerrors.ErrAlreadyExists).
			WithContext("metric", name)
	}
	if exists && existing.Status == StatusEstablishing {
		m.mu.Unlock()
		return nil, apmerrors.BaselineError("establish_baseline", "baseline is being established", apmerrors.ErrBusy).
			WithContext("metric", name)
	}
	var prevStatus Status
	if exists {
		prevStatus = existing.Status
		existing.Status = StatusUpdating
	} else {
		// placeholder so concurrent first establishments do not race
		existing = &PerformanceBaseline{MetricName: name, Status: StatusEstablishing, CreatedAt: m.now()}
		m.baselines[name] = existing
	}
	m.mu.Unlock()

	// fail settles the baseline after an unsuccessful build: a new one is
	// dropped, an existing one whose window ran dry becomes invalid, and any
	// other failure restores its previous status.
	fail := func(insufficient bool) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.baselines[name] != existing {
			return
		}
		switch {
		case !exists:
			delete(m.baselines, name)
		case insufficient:
			existing.Status = StatusInvalid
		case existing.Status == StatusUpdating:
			existing.Status = prevStatus
		}
	}

	samples, err := m.windowSamples(ctx, name)
	if err != nil {
		fail(false)
		return nil, err
	}
	if len(samples) < m.cfg.MinDataPoints {
		fail(true)
		return nil, apmerrors.InsufficientData(apmerrors.ComponentBaseline, "establish_baseline", len(samples), m.cfg.MinDataPoints).
			WithContext("metric", name)
	}

	values := metricstore.Values(samples)
	removed := 0
	if m.cfg.OutlierRemoval {
		values, removed = stats.RemoveOutliersIQR(values)
	}
	summary := stats.Describe(values, m.cfg.ConfidenceLevel)

	now := m.now()
	b := &PerformanceBaseline{
		MetricName: name,
		Status:     StatusEstablished,
		Statistics: Statistics{
			Mean:            summary.Mean,
			Median:          summary.Median,
			StdDev:          summary.StdDev,
			P95:             summary.P95,
			P99:             summary.P99,
			Min:             summary.Min,
			Max:             summary.Max,
			SampleCount:     summary.Count,
			ConfidenceLower: summary.CILower,
			ConfidenceUpper: summary.CIUpper,
			ConfidenceLevel: summary.ConfidenceLevel,
		},
		OutliersRemoved: removed,
		BaselinePeriod:  m.cfg.BaselinePeriod,
		WindowStart:     samples[0].Timestamp,
		WindowEnd:       samples[len(samples)-1].Timestamp,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if exists {
		b.CreatedAt = existing.CreatedAt
	}

	m.mu.Lock()
	m.baselines[name] = b
	m.mu.Unlock()

	m.metrics.observeBaseline(b)
	m.logger.Info("Baseline established",
		"metric", name,
		"mean", b.Statistics.Mean,
		"std_dev", b.Statistics.StdDev,
		"samples", b.Statistics.SampleCount,
		"outliers_removed", removed,
		"updated", exists)
	return b.clone(), nil
}

// UpdateBaseline forces a rebuild of an existing baseline.
func (m *Manager) UpdateBaseline(ctx context.Context, name string) (*PerformanceBaseline, error) {
	m.mu.RLock()
	_, ok := m.baselines[name]
	m.mu.RUnlock()
	if !ok {
		return nil, apmerrors.BaselineError("update_baseline", "no baseline to update", apmerrors.ErrNotFound).
			WithContext("metric", name)
	}
	return m.EstablishBaseline(ctx, name, true)
}

// DetectDrift compares value against the metric's baseline.
func (m *Manager) DetectDrift(ctx context.Context, name string, value float64) (*BaselineDrift, error) {
	m.mu.RLock()
	b, ok := m.baselines[name]
	var snapshot PerformanceBaseline
	if ok {
		snapshot = *b
	}
	m.mu.RUnlock()

	if !ok || !snapshot.Status.usable() {
		return nil, apmerrors.BaselineError("detect_drift", "no established baseline", apmerrors.ErrNotFound).
			WithContext("metric", name)
	}

	drift := m.computeDrift(snapshot, value)

	if drift.DriftDetected {
		m.mu.Lock()
		if drift.Severity.AtLeast(shared.SeverityHigh) {
			if cur, ok := m.baselines[name]; ok {
				cur.Status = StatusDriftDetected
			}
		}
		m.driftHistory = append(m.driftHistory, drift)
		if over := len(m.driftHistory) - m.cfg.MaxDriftHistory; over > 0 {
			m.driftHistory = append([]BaselineDrift(nil), m.driftHistory[over:]...)
		}
		callbacks := append([]DriftCallback(nil), m.callbacks...)
		m.mu.Unlock()

		m.metrics.driftEvents.WithLabelValues(string(drift.Severity)).Inc()
		m.logger.Info("Baseline drift detected",
			"metric", name,
			"baseline", drift.BaselineValue,
			"current", drift.CurrentValue,
			"drift_percentage", drift.DriftPercentage,
			"severity", drift.Severity)
		m.notify(callbacks, drift)
	}
	return &drift, nil
}

func (m *Manager) computeDrift(b PerformanceBaseline, value float64) BaselineDrift {
	mean := b.Statistics.Mean

	denom := math.Abs(mean)
	if denom == 0 {
		denom = math.Abs(value)
	}
	var pct float64
	if denom > 0 {
		pct = math.Abs(value-mean) / denom * 100
	}

	dir := DirectionNone
	switch {
	case value > mean:
		dir = DirectionIncrease
	case value < mean:
		dir = DirectionDecrease
	}

	threshold := m.cfg.DriftThreshold * 100
	p := stats.ZTestPValue(value, mean, b.Statistics.StdDev)

	return BaselineDrift{
		MetricName:               b.MetricName,
		BaselineValue:            mean,
		CurrentValue:             value,
		DriftPercentage:          pct,
		Direction:                dir,
		DriftDetected:            exceeds(pct, threshold),
		Severity:                 driftSeverity(pct, threshold),
		PValue:                   p,
		StatisticallySignificant: p < 1-b.Statistics.ConfidenceLevel,
		DetectedAt:               m.now(),
	}
}

func exceeds(pct, limit float64) bool { return pct > limit }

// driftSeverity maps a drift percentage onto tiers above 1x, 2x and 4x the
// threshold. It is medium or worse exactly when drift is detected.
func driftSeverity(pct, threshold float64) shared.Severity {
	switch {
	case exceeds(pct, 4*threshold):
		return shared.SeverityCritical
	case exceeds(pct, 2*threshold):
		return shared.SeverityHigh
	case exceeds(pct, threshold):
		return shared.SeverityMedium
	default:
		return shared.SeverityLow
	}
}

func (m *Manager) notify(callbacks []DriftCallback, drift BaselineDrift) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Info("Drift callback panicked", "metric", drift.MetricName, "panic", r)
				}
			}()
			cb(drift)
		}()
	}
}

// GetBaseline returns a copy of the metric's baseline.
func (m *Manager) GetBaseline(name string) (*PerformanceBaseline, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.baselines[name]
	if !ok {
		return nil, false
	}
	return b.clone(), true
}

// ListBaselines returns copies of all baselines ordered by metric name.
func (m *Manager) ListBaselines() []*PerformanceBaseline {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PerformanceBaseline, 0, len(m.baselines))
	for _, b := range m.baselines {
		out = append(out, b.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricName < out[j].MetricName })
	return out
}

// DeleteBaseline removes a baseline. Its samples are kept, so it will be
// re-established on the next qualifying sample.
func (m *Manager) DeleteBaseline(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.baselines[name]; !ok {
		return apmerrors.BaselineError("delete_baseline", "no such baseline", apmerrors.ErrNotFound).
			WithContext("metric", name)
	}
	delete(m.baselines, name)
	m.metrics.forget(name)
	return nil
}

// GetDriftHistory returns the most recent drift events, newest last. An
// empty name matches every metric; limit <= 0 returns all.
func (m *Manager) GetDriftHistory(name string, limit int) []BaselineDrift {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []BaselineDrift
	for _, d := range m.driftHistory {
		if name == "" || d.MetricName == name {
			out = append(out, d)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// GetSummary returns counts of baselines by status.
func (m *Manager) GetSummary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		TotalBaselines: len(m.baselines),
		ByStatus:       make(map[Status]int),
		DriftEvents:    len(m.driftHistory),
		TrackedMetrics: len(m.tracked),
		Running:        m.running.Load(),
	}
	for _, b := range m.baselines {
		s.ByStatus[b.Status]++
	}
	return s
}

// TrackedMetrics returns the names of every metric that has received data.
func (m *Manager) TrackedMetrics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tracked))
	for n := range m.tracked {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) updateDueBaselines(ctx context.Context) error {
	now := m.now()
	var due []string

	m.mu.RLock()
	for name := range m.tracked {
		b, ok := m.baselines[name]
		if !ok || now.Sub(b.UpdatedAt) >= m.cfg.UpdateFrequency {
			due = append(due, name)
		}
	}
	m.mu.RUnlock()

	for _, name := range due {
		if ctx.Err() != nil {
			return nil
		}
		_, err := m.EstablishBaseline(ctx, name, true)
		switch {
		case err == nil:
		case apmerrors.IsInsufficientData(err):
			m.logger.V(1).Info("Skipping baseline update, not enough samples", "metric", name)
		case apmerrors.Is(err, apmerrors.ErrBusy):
		default:
			m.logger.Error(err, "Baseline update failed", "metric", name)
		}
	}
	return nil
}

func (m *Manager) checkDrift(ctx context.Context) error {
	m.mu.RLock()
	names := make([]string, 0, len(m.baselines))
	for name, b := range m.baselines {
		if b.Status.usable() {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	for _, name := range names {
		if ctx.Err() != nil {
			return nil
		}
		recent, err := m.store.Last(ctx, m.seriesKey(name), driftSampleWindow)
		if err != nil {
			m.logger.Error(err, "Failed to read recent samples", "metric", name)
			continue
		}
		if len(recent) > driftCheckCount {
			recent = recent[len(recent)-driftCheckCount:]
		}
		for _, s := range recent {
			if _, err := m.DetectDrift(ctx, name, s.Value); err != nil {
				m.logger.V(1).Info("Drift check skipped", "metric", name, "reason", err.Error())
				break
			}
		}
	}
	return nil
}
