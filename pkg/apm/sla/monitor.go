// Package sla evaluates metric windows against service level agreements and
// tracks the resulting violations.
package sla

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
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/logging"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/metricstore"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/periodic"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/stats"
)

// IDs of the definitions every monitor starts with.
const (
	DefaultResponseTimeID = "response_time_default"
	DefaultErrorRateID    = "error_rate_default"
	DefaultAvailabilityID = "availability_default"
)

// Monitor evaluates SLA definitions on a schedule.
type Monitor struct {
	cfg     config.SLAConfig
	store   metricstore.Store
	logger  logr.Logger
	metrics *monitorMetrics
	now     func() time.Time

	mu          sync.RWMutex
	definitions map[string]*Definition
	statuses    map[string]*StatusInfo
	active      map[string]*Violation
	history     []*Violation
	callbacks   []ViolationCallback
	lastReport  *Report

	evalTask   *periodic.Task
	reportTask *periodic.Task
	running    atomic.Bool
}

// NewMonitor creates a monitor with the three default SLAs. reg may be nil.
func NewMonitor(cfg config.SLAConfig, store metricstore.Store, logger logr.Logger, reg prometheus.Registerer) *Monitor {
	m := &Monitor{
		cfg:         cfg,
		store:       store,
		logger:      logging.ForComponent(logging.OrDiscard(logger), "sla"),
		metrics:     newMonitorMetrics(reg),
		now:         time.Now,
		definitions: make(map[string]*Definition),
		statuses:    make(map[string]*StatusInfo),
		active:      make(map[string]*Violation),
	}

	m.evalTask = periodic.New("sla-evaluation", cfg.EvaluationInterval, func(ctx context.Context) error {
		_, err := m.EvaluateAll(ctx)
		return err
	}, periodic.WithLogger(m.logger))
	m.reportTask = periodic.New("sla-report", cfg.ReportInterval, func(ctx context.Context) error {
		_, err := m.GenerateSLAReport(ctx, cfg.ReportInterval)
		return err
	}, periodic.WithLogger(m.logger))

	for _, def := range m.defaultDefinitions() {
		if _, err := m.AddSLA(def); err != nil {
			m.logger.Error(err, "Failed to add default SLA", "sla", def.ID)
		}
	}
	return m
}

func (m *Monitor) defaultDefinitions() []Definition {
	return []Definition{
		{
			ID:             DefaultResponseTimeID,
			Name:           "Response Time",
			Description:    "Mean response time stays within the configured limit",
			MetricType:     MetricResponseTime,
			ThresholdValue: m.cfg.DefaultResponseTimeThreshold,
			Operator:       OpLessEqual,
			Enabled:        true,
		},
		{
			ID:             DefaultErrorRateID,
			Name:           "Error Rate",
			Description:    "Percentage of failed requests stays within the configured limit",
			MetricType:     MetricErrorRate,
			ThresholdValue: m.cfg.DefaultErrorRateThreshold,
			Operator:       OpLessEqual,
			Enabled:        true,
		},
		{
			ID:             DefaultAvailabilityID,
			Name:           "Availability",
			Description:    "Service availability stays above the configured target",
			MetricType:     MetricAvailability,
			ThresholdValue: m.cfg.DefaultAvailabilityThreshold,
			Operator:       OpGreaterEqual,
			Enabled:        true,
		},
	}
}

// Start launches the evaluation and report loops.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := m.evalTask.Start(ctx); err != nil {
		m.running.Store(false)
		return apmerrors.SLAViolationError("start", "failed to start evaluation loop", err)
	}
	if err := m.reportTask.Start(ctx); err != nil {
		m.evalTask.Stop()
		m.running.Store(false)
		return apmerrors.SLAViolationError("start", "failed to start report loop", err)
	}
	m.logger.Info("SLA monitor started",
		"evaluation_interval", m.cfg.EvaluationInterval,
		"report_interval", m.cfg.ReportInterval)
	return nil
}

// Stop halts both loops.
func (m *Monitor) Stop(ctx context.Context) error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	m.evalTask.Stop()
	m.reportTask.Stop()
	m.logger.Info("SLA monitor stopped")
	return nil
}

// IsRunning reports whether the loops are active.
func (m *Monitor) IsRunning() bool {
	return m.running.Load() && m.evalTask.Running() && m.reportTask.Running()
}

// AddViolationCallback registers fn for violation openings and resolutions.
func (m *Monitor) AddViolationCallback(fn ViolationCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// AddSLA registers a definition. Missing IDs are generated; a zero window or
// violation threshold falls back to the configured defaults.
func (m *Monitor) AddSLA(def Definition) (*Definition, error) {
	if def.Name == "" {
		return nil, apmerrors.SLAViolationError("add_sla", "name is required", apmerrors.ErrInvalidArgument)
	}
	if _, ok := ParseMetricType(string(def.MetricType)); !ok {
		return nil, apmerrors.SLAViolationError("add_sla", fmt.Sprintf("unknown metric type %q", def.MetricType), apmerrors.ErrInvalidArgument)
	}
	if !def.Operator.valid() {
		return nil, apmerrors.SLAViolationError("add_sla", fmt.Sprintf("unknown operator %q", def.Operator), apmerrors.ErrInvalidArgument)
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.MeasurementWindow <= 0 {
		def.MeasurementWindow = m.cfg.MeasurementWindow
	}
	if def.ViolationThreshold <= 0 {
		def.ViolationThreshold = m.cfg.ViolationThreshold
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.definitions[def.ID]; exists {
		return nil, apmerrors.SLAViolationError("add_sla", "sla already defined", apmerrors.ErrAlreadyExists).
			WithContext("sla_id", def.ID)
	}
	stored := def
	m.definitions[def.ID] = &stored
	m.statuses[def.ID] = &StatusInfo{SLAID: def.ID, Status: StatusUnknown}

	m.logger.V(1).Info("SLA added",
		"sla_id", def.ID,
		"metric_type", def.MetricType,
		"threshold", def.ThresholdValue,
		"operator", def.Operator)
	out := stored
	return &out, nil
}

// RemoveSLA deletes a definition. Its violations stay in history.
func (m *Monitor) RemoveSLA(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.definitions[id]; !ok {
		return notFound("remove_sla", id)
	}
	delete(m.definitions, id)
	delete(m.statuses, id)
	delete(m.active, id)
	m.metrics.status.DeleteLabelValues(id)
	return nil
}

// GetSLA returns a definition by id.
func (m *Monitor) GetSLA(id string) (*Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.definitions[id]
	if !ok {
		return nil, notFound("get_sla", id)
	}
	out := *def
	return &out, nil
}

// ListSLAs returns all definitions ordered by id.
func (m *Monitor) ListSLAs() []Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Definition, 0, len(m.definitions))
	for _, def := range m.definitions {
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetStatus returns the evaluation state of an SLA.
func (m *Monitor) GetStatus(id string) (StatusInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[id]
	if !ok {
		return StatusInfo{}, notFound("get_status", id)
	}
	return *st, nil
}

func notFound(op, id string) error {
	return apmerrors.SLAViolationError(op, "sla not defined", apmerrors.ErrNotFound).WithContext("sla_id", id)
}

func seriesKey(mt MetricType) string {
	return "sla:" + string(mt)
}

// RecordMetric stores a sample. Error rate and availability samples are
// evaluated immediately against every enabled SLA on that metric.
func (m *Monitor) RecordMetric(ctx context.Context, mt MetricType, value float64, ts time.Time) error {
	if _, ok := ParseMetricType(string(mt)); !ok {
		return apmerrors.SLAViolationError("record_metric", fmt.Sprintf("unknown metric type %q", mt), apmerrors.ErrInvalidArgument)
	}
	if ts.IsZero() {
		ts = m.now()
	}
	if err := m.store.Append(ctx, seriesKey(mt), metricstore.Sample{Timestamp: ts, Value: value}); err != nil {
		return apmerrors.SLAViolationError("record_metric", "failed to store sample", err)
	}

	if mt != MetricErrorRate && mt != MetricAvailability {
		return nil
	}
	for _, def := range m.ListSLAs() {
		if !def.Enabled || def.MetricType != mt {
			continue
		}
		if _, err := m.EvaluateSLA(ctx, def.ID); err != nil && !apmerrors.IsInsufficientData(err) {
			m.logger.Error(err, "Immediate SLA evaluation failed", "sla_id", def.ID)
		}
	}
	return nil
}

// aggregate reduces the window's samples to the value compared with the
// threshold. Error rate and availability samples are fractions and are
// reported as percentages.
func aggregate(mt MetricType, values []float64, window time.Duration) float64 {
	switch mt {
	case MetricThroughput:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / window.Seconds()
	case MetricErrorRate, MetricAvailability:
		return stats.Mean(values) * 100
	default:
		return stats.Mean(values)
	}
}

// deviationPercent is the distance of value from threshold relative to the
// threshold.
func deviationPercent(value, threshold float64) float64 {
	if threshold == 0 {
		if value == 0 {
			return 0
		}
		return 100
	}
	return math.Abs(value-threshold) / math.Abs(threshold) * 100
}

func severityForDeviation(pct float64) shared.Severity {
	switch {
	case pct >= 50:
		return shared.SeverityCritical
	case pct >= 20:
		return shared.SeverityHigh
	case pct >= 10:
		return shared.SeverityMedium
	default:
		return shared.SeverityLow
	}
}

func statusForSeverity(s shared.Severity) Status {
	if s == shared.SeverityCritical {
		return StatusCritical
	}
	return StatusViolated
}

// EvaluateSLA aggregates the SLA's measurement window and updates its state.
// A violation opens only after ViolationThreshold consecutive breaching
// evaluations; any passing evaluation resets the count and resolves an open
// violation. An empty window returns an insufficient data error and leaves
// the state untouched.
func (m *Monitor) EvaluateSLA(ctx context.Context, id string) (*Evaluation, error) {
	m.mu.RLock()
	d, ok := m.definitions[id]
	var def Definition
	if ok {
		def = *d
	}
	m.mu.RUnlock()
	if !ok {
		return nil, notFound("evaluate_sla", id)
	}
	if !def.Enabled {
		return nil, apmerrors.SLAViolationError("evaluate_sla", "sla is disabled", apmerrors.ErrInvalidArgument).
			WithContext("sla_id", id)
	}

	now := m.now()
	samples, err := m.store.Range(ctx, seriesKey(def.MetricType), now.Add(-def.MeasurementWindow))
	if err != nil {
		return nil, apmerrors.SLAViolationError("evaluate_sla", "failed to read samples", err).WithContext("sla_id", id)
	}
	if len(samples) == 0 {
		m.metrics.evaluations.WithLabelValues("no_data").Inc()
		return nil, apmerrors.InsufficientData(apmerrors.ComponentSLA, "evaluate_sla", 0, 1).WithContext("sla_id", id)
	}

	value := aggregate(def.MetricType, metricstore.Values(samples), def.MeasurementWindow)
	compliant := def.Operator.Holds(value, def.ThresholdValue)

	eval := &Evaluation{
		SLAID:       id,
		Value:       value,
		SampleCount: len(samples),
		Compliant:   compliant,
	}
	var events []Violation

	m.mu.Lock()
	st, ok := m.statuses[id]
	if !ok {
		// removed while we were reading samples
		m.mu.Unlock()
		return nil, notFound("evaluate_sla", id)
	}
	st.CurrentValue = value
	st.SampleCount = len(samples)
	st.LastEvaluated = now

	if compliant {
		st.ConsecutiveViolations = 0
		if v, open := m.active[id]; open {
			resolvedAt := now
			v.Resolved = true
			v.ResolutionTime = &resolvedAt
			delete(m.active, id)
			eval.Resolved = v.clone()
			events = append(events, *v)
		}
		st.Status = StatusHealthy
		st.ActiveViolationID = ""
	} else {
		st.ConsecutiveViolations++
		deviation := deviationPercent(value, def.ThresholdValue)
		severity := severityForDeviation(deviation)

		switch v, open := m.active[id]; {
		case open:
			v.ActualValue = value
			v.DeviationPercentage = deviation
			v.ConsecutiveViolations = st.ConsecutiveViolations
			if severity.Rank() > v.Severity.Rank() {
				v.Severity = severity
			}
			st.Status = statusForSeverity(v.Severity)
			eval.Violation = v.clone()
		case st.ConsecutiveViolations >= def.ViolationThreshold:
			v := &Violation{
				ID:                    uuid.NewString(),
				SLAID:                 id,
				SLAName:               def.Name,
				MetricType:            def.MetricType,
				ActualValue:           value,
				ThresholdValue:        def.ThresholdValue,
				Operator:              def.Operator,
				Severity:              severity,
				DeviationPercentage:   deviation,
				ConsecutiveViolations: st.ConsecutiveViolations,
				StartTime:             now,
			}
			m.active[id] = v
			m.history = append(m.history, v)
			if over := len(m.history) - m.cfg.MaxViolationHistory; over > 0 {
				m.history = append([]*Violation(nil), m.history[over:]...)
			}
			st.Status = statusForSeverity(severity)
			st.ActiveViolationID = v.ID
			eval.Violation = v.clone()
			events = append(events, *v)
			m.metrics.violations.WithLabelValues(id, string(severity)).Inc()
		default:
			st.Status = StatusWarning
		}
	}
	eval.Status = st.Status
	callbacks := append([]ViolationCallback(nil), m.callbacks...)
	m.mu.Unlock()

	m.metrics.status.WithLabelValues(id).Set(eval.Status.gaugeValue())
	m.metrics.value.WithLabelValues(id, string(def.MetricType)).Set(value)
	if compliant {
		m.metrics.evaluations.WithLabelValues("pass").Inc()
	} else {
		m.metrics.evaluations.WithLabelValues("breach").Inc()
	}

	for _, v := range events {
		if v.Resolved {
			m.logger.Info("SLA violation resolved", "sla_id", id, "violation_id", v.ID, "duration", v.Duration(now))
		} else {
			m.logger.Info("SLA violation detected",
				"sla_id", id,
				"violation_id", v.ID,
				"actual", v.ActualValue,
				"threshold", v.ThresholdValue,
				"operator", v.Operator,
				"severity", v.Severity)
		}
		for _, cb := range callbacks {
			m.safeCallback(cb, v)
		}
	}
	return eval, nil
}

func (m *Monitor) safeCallback(cb ViolationCallback, v Violation) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Info("Violation callback panicked", "violation_id", v.ID, "panic", r)
		}
	}()
	cb(v)
}

// EvaluateAll evaluates every enabled SLA. SLAs without samples in their
// window are skipped.
func (m *Monitor) EvaluateAll(ctx context.Context) ([]*Evaluation, error) {
	var (
		out  []*Evaluation
		errs []error
	)
	for _, def := range m.ListSLAs() {
		if !def.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		eval, err := m.EvaluateSLA(ctx, def.ID)
		switch {
		case apmerrors.IsInsufficientData(err), apmerrors.IsNotFound(err):
			continue
		case err != nil:
			errs = append(errs, err)
			continue
		}
		out = append(out, eval)
	}
	return out, errors.Join(errs...)
}

// GetViolations returns the violation history, oldest first.
func (m *Monitor) GetViolations() []Violation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Violation, len(m.history))
	for i, v := range m.history {
		out[i] = *v.clone()
	}
	return out
}

// GetActiveViolations returns the unresolved violations ordered by start time.
func (m *Monitor) GetActiveViolations() []Violation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Violation, 0, len(m.active))
	for _, v := range m.active {
		out = append(out, *v.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// GenerateSLAReport summarizes every SLA over the trailing period. A non
// positive period uses the report interval. Violation time is clipped to
// the period when computing availability, and an SLA is compliant when it
// had no violation during the period.
func (m *Monitor) GenerateSLAReport(ctx context.Context, period time.Duration) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if period <= 0 {
		period = m.cfg.ReportInterval
	}
	end := m.now()
	start := end.Add(-period)

	report := &Report{
		GeneratedAt: end,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	m.mu.RLock()
	defs := make([]*Definition, 0, len(m.definitions))
	for _, d := range m.definitions {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	for _, def := range defs {
		entry := ReportEntry{
			SLAID:      def.ID,
			Name:       def.Name,
			MetricType: def.MetricType,
			Status:     m.statuses[def.ID].Status,
		}

		var downtime, resolutionSum time.Duration
		var resolvedCount int
		for _, v := range m.history {
			if v.SLAID != def.ID {
				continue
			}
			vEnd := end
			if v.ResolutionTime != nil {
				vEnd = *v.ResolutionTime
			}
			s, e := v.StartTime, vEnd
			if s.Before(start) {
				s = start
			}
			if e.After(end) {
				e = end
			}
			overlaps := e.After(s)
			startsInPeriod := !v.StartTime.Before(start) && !v.StartTime.After(end)
			if !overlaps && !startsInPeriod {
				continue
			}
			if overlaps {
				downtime += e.Sub(s)
			}
			entry.ViolationCount++
			if v.Resolved {
				resolvedCount++
				resolutionSum += v.Duration(end)
			} else {
				entry.ActiveViolations++
			}
		}

		entry.Availability = math.Max(0, math.Min(100, float64(period-downtime)/float64(period)*100))
		if resolvedCount > 0 {
			entry.MeanResolutionTime = resolutionSum / time.Duration(resolvedCount)
		}
		entry.Compliant = entry.ViolationCount == 0
		if entry.Compliant {
			report.CompliantSLAs++
		}
		report.TotalViolations += entry.ViolationCount
		report.Entries = append(report.Entries, entry)
	}
	m.mu.RUnlock()

	report.TotalSLAs = len(report.Entries)
	if report.TotalSLAs > 0 {
		report.OverallCompliance = float64(report.CompliantSLAs) / float64(report.TotalSLAs) * 100
	} else {
		report.OverallCompliance = 100
	}

	m.mu.Lock()
	m.lastReport = report
	m.mu.Unlock()
	m.metrics.compliance.Set(report.OverallCompliance)

	m.logger.Info("SLA report generated",
		"period", period,
		"total_slas", report.TotalSLAs,
		"compliant_slas", report.CompliantSLAs,
		"overall_compliance", report.OverallCompliance)
	return report, nil
}

// LastReport returns the most recently generated report, or nil.
func (m *Monitor) LastReport() *Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastReport
}
