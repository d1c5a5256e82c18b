// Package bottleneck finds resources whose sustained utilization exceeds
// their thresholds and relates them to application performance metrics.
package bottleneck

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/logging"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/metricstore"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/periodic"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/stats"
)

type resourceInfo struct {
	name  string
	rtype ResourceType
}

// Detector analyzes resource metrics for bottlenecks.
type Detector struct {
	cfg     config.BottleneckConfig
	store   metricstore.Store
	logger  logr.Logger
	metrics *detectorMetrics
	now     func() time.Time

	mu               sync.RWMutex
	resources        map[string]resourceInfo
	perfMetrics      map[string]struct{}
	active           map[string]*BottleneckAnalysis
	activeByResource map[string]string
	history          []BottleneckAnalysis
	limiters         map[string]*rate.Limiter
	callbacks        []Callback

	task    *periodic.Task
	running atomic.Bool
}

// NewDetector creates a bottleneck detector. reg may be nil.
func NewDetector(cfg config.BottleneckConfig, store metricstore.Store, logger logr.Logger, reg prometheus.Registerer) *Detector {
	d := &Detector{
		cfg:              cfg,
		store:            store,
		logger:           logging.ForComponent(logging.OrDiscard(logger), "bottleneck"),
		metrics:          newDetectorMetrics(reg),
		now:              time.Now,
		resources:        make(map[string]resourceInfo),
		perfMetrics:      make(map[string]struct{}),
		active:           make(map[string]*BottleneckAnalysis),
		activeByResource: make(map[string]string),
		limiters:         make(map[string]*rate.Limiter),
	}
	d.task = periodic.New("bottleneck-detection", cfg.DetectionInterval, func(ctx context.Context) error {
		_, err := d.DetectBottlenecks(ctx)
		return err
	}, periodic.WithLogger(d.logger))
	return d
}

// Start launches the periodic detection loop.
func (d *Detector) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := d.task.Start(ctx); err != nil {
		d.running.Store(false)
		return apmerrors.BottleneckDetectionError("start", "failed to start detection loop", err)
	}
	d.logger.Info("Bottleneck detector started", "detection_interval", d.cfg.DetectionInterval)
	return nil
}

// Stop halts the detection loop.
func (d *Detector) Stop(ctx context.Context) error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}
	d.task.Stop()
	d.logger.Info("Bottleneck detector stopped")
	return nil
}

// IsRunning reports whether the detection loop is active.
func (d *Detector) IsRunning() bool {
	return d.running.Load() && d.task.Running()
}

// AddCallback registers fn for newly detected bottlenecks.
func (d *Detector) AddCallback(fn Callback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, fn)
}

func resourceKey(resource string, rtype ResourceType) string {
	return string(rtype) + ":" + resource
}

func (d *Detector) seriesKey(key string) string {
	return "bottleneck:resource:" + key
}

func (d *Detector) perfKey(name string) string {
	return "bottleneck:perf:" + name
}

// AddResourceMetric records a utilization sample (percent, or milliseconds
// for databases). A value above the immediate trigger threshold analyzes the
// resource right away, at most once per cooldown per resource. The immediate
// path skips correlation analysis, which the periodic scan performs.
func (d *Detector) AddResourceMetric(ctx context.Context, resource string, rtype ResourceType, value float64, ts time.Time) error {
	if resource == "" {
		return apmerrors.BottleneckDetectionError("add_resource_metric", "resource name is required", apmerrors.ErrInvalidArgument)
	}
	if _, ok := ParseResourceType(string(rtype)); !ok {
		return apmerrors.BottleneckDetectionError("add_resource_metric", fmt.Sprintf("unknown resource type %q", rtype), apmerrors.ErrInvalidArgument)
	}
	if ts.IsZero() {
		ts = d.now()
	}

	key := resourceKey(resource, rtype)
	if err := d.store.Append(ctx, d.seriesKey(key), metricstore.Sample{Timestamp: ts, Value: value}); err != nil {
		return apmerrors.BottleneckDetectionError("add_resource_metric", "failed to store sample", err)
	}

	d.mu.Lock()
	d.resources[key] = resourceInfo{name: resource, rtype: rtype}
	var limiter *rate.Limiter
	if value > d.cfg.ImmediateTriggerThreshold {
		limiter = d.limiterFor(key)
	}
	d.mu.Unlock()

	if limiter != nil && limiter.Allow() {
		d.metrics.immediateAnalyses.Inc()
		if _, err := d.analyzeResource(ctx, key, false); err != nil {
			return err
		}
	}
	return nil
}

// limiterFor must be called with d.mu held.
func (d *Detector) limiterFor(key string) *rate.Limiter {
	l, ok := d.limiters[key]
	if !ok {
		limit := rate.Inf
		if d.cfg.ImmediateCooldown > 0 {
			limit = rate.Every(d.cfg.ImmediateCooldown)
		}
		l = rate.NewLimiter(limit, 1)
		d.limiters[key] = l
	}
	return l
}

// AddPerformanceMetric records an application metric that resource
// utilization is correlated against.
func (d *Detector) AddPerformanceMetric(ctx context.Context, name string, value float64, ts time.Time) error {
	if name == "" {
		return apmerrors.BottleneckDetectionError("add_performance_metric", "metric name is required", apmerrors.ErrInvalidArgument)
	}
	if ts.IsZero() {
		ts = d.now()
	}
	if err := d.store.Append(ctx, d.perfKey(name), metricstore.Sample{Timestamp: ts, Value: value}); err != nil {
		return apmerrors.BottleneckDetectionError("add_performance_metric", "failed to store sample", err)
	}
	d.mu.Lock()
	d.perfMetrics[name] = struct{}{}
	d.mu.Unlock()
	return nil
}

// DetectBottlenecks scans every tracked resource and returns the bottlenecks
// found in this pass, new or refreshed.
func (d *Detector) DetectBottlenecks(ctx context.Context) ([]*BottleneckAnalysis, error) {
	start := time.Now()
	defer func() {
		d.metrics.detectionDuration.Observe(time.Since(start).Seconds())
	}()

	d.mu.RLock()
	keys := make([]string, 0, len(d.resources))
	for k := range d.resources {
		keys = append(keys, k)
	}
	d.mu.RUnlock()
	sort.Strings(keys)

	var found []*BottleneckAnalysis
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		a, err := d.analyzeResource(ctx, key, true)
		if err != nil {
			d.logger.Error(err, "Resource analysis failed", "resource", key)
			continue
		}
		if a != nil {
			found = append(found, a)
		}
	}

	if len(found) > 0 {
		d.logger.Info("Bottleneck scan completed", "resources", len(keys), "bottlenecks", len(found))
	}
	return found, nil
}

func (d *Detector) thresholdFor(rtype ResourceType) float64 {
	switch rtype {
	case ResourceCPU:
		return d.cfg.CPUThreshold
	case ResourceMemory:
		return d.cfg.MemoryThreshold
	case ResourceIO:
		return d.cfg.IOThreshold
	case ResourceNetwork:
		return d.cfg.NetworkThreshold
	default:
		return d.cfg.DatabaseResponseTimeThreshold
	}
}

// analyzeResource checks one resource and records a bottleneck when the mean
// of its recent samples is strictly above the threshold. It returns nil when
// the resource is healthy or has too few samples.
func (d *Detector) analyzeResource(ctx context.Context, key string, withCorrelation bool) (*BottleneckAnalysis, error) {
	d.mu.RLock()
	info, ok := d.resources[key]
	d.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	samples, err := d.store.Last(ctx, d.seriesKey(key), d.cfg.SampleWindow)
	if err != nil {
		return nil, apmerrors.BottleneckDetectionError("analyze_resource", "failed to read samples", err)
	}
	if len(samples) < d.cfg.MinSamples {
		return nil, nil
	}

	utilization := stats.Mean(metricstore.Values(samples))
	threshold := d.thresholdFor(info.rtype)
	if utilization <= threshold {
		return nil, nil
	}

	var correlations map[string]float64
	if withCorrelation {
		correlations = d.correlate(ctx, key)
	}

	btype := bottleneckTypeFor(info.rtype)
	severity := severityFor(utilization, threshold)
	impact := math.Min(utilization, 100) * impactWeight[btype]
	now := d.now()

	d.mu.Lock()
	if id, ok := d.activeByResource[key]; ok {
		a := d.active[id]
		a.Utilization = utilization
		a.Severity = severity
		a.ImpactScore = impact
		a.LastSeen = now
		a.Occurrences++
		if correlations != nil {
			a.Correlations = correlations
		}
		out := a.clone()
		d.mu.Unlock()
		return out, nil
	}

	a := &BottleneckAnalysis{
		ID:              uuid.NewString(),
		Type:            btype,
		Severity:        severity,
		Resource:        info.name,
		ResourceType:    info.rtype,
		Utilization:     utilization,
		Threshold:       threshold,
		ImpactScore:     impact,
		Description:     describe(info, utilization, threshold),
		Correlations:    correlations,
		Recommendations: generateRecommendations(btype, severity, now),
		DetectedAt:      now,
		LastSeen:        now,
		Occurrences:     1,
	}
	d.active[a.ID] = a
	d.activeByResource[key] = a.ID
	d.history = append(d.history, *a.clone())
	if over := len(d.history) - d.cfg.MaxHistory; over > 0 {
		d.history = append([]BottleneckAnalysis(nil), d.history[over:]...)
	}
	callbacks := append([]Callback(nil), d.callbacks...)
	activeCount := len(d.active)
	out := a.clone()
	d.mu.Unlock()

	d.metrics.detected.WithLabelValues(string(btype), string(severity)).Inc()
	d.metrics.active.Set(float64(activeCount))
	d.logger.Info("Bottleneck detected",
		"id", a.ID,
		"type", btype,
		"resource", info.name,
		"utilization", utilization,
		"threshold", threshold,
		"severity", severity)

	for _, cb := range callbacks {
		d.safeCallback(cb, *out)
	}
	return out, nil
}

func describe(info resourceInfo, utilization, threshold float64) string {
	if info.rtype == ResourceDatabase {
		return fmt.Sprintf("Database %s mean response time %.1fms exceeds %.1fms", info.name, utilization, threshold)
	}
	return fmt.Sprintf("%s utilization on %s at %.1f%% exceeds %.1f%%", info.rtype, info.name, utilization, threshold)
}

// severityFor grades utilization relative to its threshold.
func severityFor(utilization, threshold float64) shared.Severity {
	ratio := utilization / threshold
	switch {
	case ratio >= 1.2:
		return shared.SeverityCritical
	case ratio >= 1.1:
		return shared.SeverityHigh
	case ratio >= 1.05:
		return shared.SeverityMedium
	default:
		return shared.SeverityLow
	}
}

func (d *Detector) safeCallback(cb Callback, a BottleneckAnalysis) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Info("Bottleneck callback panicked", "id", a.ID, "panic", r)
		}
	}()
	cb(a)
}

// correlate relates the resource's recent samples to every tracked
// performance metric, pairing each resource sample with the nearest
// performance sample inside the alignment window. Only correlations with
// p below the configured level are kept.
func (d *Detector) correlate(ctx context.Context, key string) map[string]float64 {
	resSamples, err := d.store.Last(ctx, d.seriesKey(key), d.cfg.CorrelationSamples)
	if err != nil || len(resSamples) < 3 {
		return nil
	}

	d.mu.RLock()
	names := make([]string, 0, len(d.perfMetrics))
	for n := range d.perfMetrics {
		names = append(names, n)
	}
	d.mu.RUnlock()
	sort.Strings(names)
	if len(names) > d.cfg.MaxCorrelationMetrics {
		names = names[:d.cfg.MaxCorrelationMetrics]
	}

	window := d.cfg.CorrelationAlignWindow
	since := resSamples[0].Timestamp.Add(-window)
	out := make(map[string]float64)

	for _, name := range names {
		perf, err := d.store.Range(ctx, d.perfKey(name), since)
		if err != nil || len(perf) < 3 {
			continue
		}
		xs, ys := align(resSamples, perf, window)
		if len(xs) < 3 {
			continue
		}
		r, p := stats.Pearson(xs, ys)
		if p < d.cfg.CorrelationPValue {
			out[name] = r
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// align pairs each resource sample with the nearest performance sample by
// timestamp, dropping pairs further apart than window. perf must be sorted
// by timestamp.
func align(res, perf []metricstore.Sample, window time.Duration) ([]float64, []float64) {
	xs := make([]float64, 0, len(res))
	ys := make([]float64, 0, len(res))
	for _, r := range res {
		i := sort.Search(len(perf), func(i int) bool {
			return !perf[i].Timestamp.Before(r.Timestamp)
		})
		best := -1
		bestGap := time.Duration(math.MaxInt64)
		for _, j := range []int{i - 1, i} {
			if j < 0 || j >= len(perf) {
				continue
			}
			gap := r.Timestamp.Sub(perf[j].Timestamp)
			if gap < 0 {
				gap = -gap
			}
			if gap < bestGap {
				best, bestGap = j, gap
			}
		}
		if best >= 0 && bestGap <= window {
			xs = append(xs, r.Value)
			ys = append(ys, perf[best].Value)
		}
	}
	return xs, ys
}

// ResolveBottleneck removes a bottleneck from the active set. History keeps
// the record as it was detected.
func (d *Detector) ResolveBottleneck(id string) (*BottleneckAnalysis, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.active[id]
	if !ok {
		return nil, apmerrors.BottleneckDetectionError("resolve_bottleneck", "no active bottleneck with this id", apmerrors.ErrNotFound).
			WithContext("id", id)
	}
	delete(d.active, id)
	delete(d.activeByResource, resourceKey(a.Resource, a.ResourceType))

	now := d.now()
	a.Resolved = true
	a.ResolvedAt = &now
	d.metrics.active.Set(float64(len(d.active)))
	d.logger.Info("Bottleneck resolved", "id", id, "resource", a.Resource, "duration", now.Sub(a.DetectedAt))
	return a.clone(), nil
}

// GetActiveBottlenecks returns the active bottlenecks, highest impact first.
func (d *Detector) GetActiveBottlenecks() []*BottleneckAnalysis {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*BottleneckAnalysis, 0, len(d.active))
	for _, a := range d.active {
		out = append(out, a.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ImpactScore != out[j].ImpactScore {
			return out[i].ImpactScore > out[j].ImpactScore
		}
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	return out
}

// GetBottleneckHistory returns up to limit of the most recent detections,
// oldest first. limit <= 0 returns all.
func (d *Detector) GetBottleneckHistory(limit int) []BottleneckAnalysis {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h := d.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]BottleneckAnalysis, len(h))
	for i := range h {
		out[i] = *h[i].clone()
	}
	return out
}

// GetSummary returns an overview of active and historical bottlenecks.
func (d *Detector) GetSummary() Summary {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Summary{
		ActiveCount:    len(d.active),
		TotalDetected:  len(d.history),
		BySeverity:     make(map[shared.Severity]int),
		ByType:         make(map[BottleneckType]int),
		TrackedMetrics: len(d.resources) + len(d.perfMetrics),
	}
	for _, a := range d.active {
		s.BySeverity[a.Severity]++
		s.ByType[a.Type]++
		if s.HighestImpact == nil || a.ImpactScore > s.HighestImpact.ImpactScore {
			s.HighestImpact = a.clone()
		}
	}
	return s
}
