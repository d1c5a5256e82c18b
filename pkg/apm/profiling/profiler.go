// Package profiling runs on-demand CPU, heap and goroutine profiling
// sessions and summarizes their hottest functions.
package profiling

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"runtime/pprof"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/logging"
)

// Archiver stores raw pprof data of completed sessions and returns where
// it was written.
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte) (string, error)
}

type activeSession struct {
	session *Session
	buf     *bytes.Buffer
	timer   *time.Timer
}

// Profiler owns the profiling sessions of the process. Only one CPU session
// can run at a time because the runtime supports a single CPU profile.
type Profiler struct {
	cfg     config.ProfilingConfig
	logger  logr.Logger
	metrics *profilerMetrics
	now     func() time.Time

	archiver Archiver

	mu         sync.Mutex
	sessions   map[string]*activeSession
	order      []string
	cpuSession string
}

// NewProfiler creates a profiler. reg may be nil.
func NewProfiler(cfg config.ProfilingConfig, logger logr.Logger, reg prometheus.Registerer) *Profiler {
	return &Profiler{
		cfg:      cfg,
		logger:   logging.ForComponent(logging.OrDiscard(logger), "profiling"),
		metrics:  newProfilerMetrics(reg),
		now:      time.Now,
		sessions: make(map[string]*activeSession),
	}
}

// SetArchiver enables upload of completed profiles. It must be called before
// the first session starts.
func (p *Profiler) SetArchiver(a Archiver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.archiver = a
}

// archiveKey lays objects out by type and day, e.g. cpu/2024/05/01/<id>.pb.gz.
func archiveKey(s *Session) string {
	return fmt.Sprintf("%s/%s/%s.pb.gz", s.Type, s.StartedAt.UTC().Format("2006/01/02"), s.ID)
}

func preferredSampleType(pt ProfileType) string {
	switch pt {
	case ProfileCPU:
		return "cpu"
	case ProfileHeap:
		return "inuse_space"
	default:
		return "goroutine"
	}
}

// StartProfiling opens a session. It stops itself after the configured
// maximum duration unless stopped earlier.
func (p *Profiler) StartProfiling(ctx context.Context, name string, pt ProfileType) (*Session, error) {
	if !p.cfg.Enabled {
		return nil, apmerrors.ProfilingError("start_profiling", "profiling is disabled", apmerrors.ErrInvalidArgument)
	}
	if _, ok := ParseProfileType(string(pt)); !ok {
		return nil, apmerrors.ProfilingError("start_profiling", fmt.Sprintf("unknown profile type %q", pt), apmerrors.ErrInvalidArgument)
	}
	if name == "" {
		name = string(pt) + "-" + p.now().Format("20060102T150405")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if pt == ProfileCPU && p.cpuSession != "" {
		return nil, apmerrors.ProfilingError("start_profiling", "a cpu profiling session is already running", apmerrors.ErrBusy).
			WithContext("session_id", p.cpuSession)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := &Session{
		ID:             uuid.NewString(),
		Name:           name,
		Type:           pt,
		Status:         StatusRunning,
		StartedAt:      p.now(),
		HeapAllocStart: ms.HeapAlloc,
	}
	as := &activeSession{session: s, buf: new(bytes.Buffer)}

	if pt == ProfileCPU {
		if err := pprof.StartCPUProfile(as.buf); err != nil {
			return nil, apmerrors.ProfilingError("start_profiling", "cpu profiler unavailable", apmerrors.ErrBusy).
				WithContext("error", err.Error())
		}
		p.cpuSession = s.ID
	}

	id := s.ID
	as.timer = time.AfterFunc(p.cfg.MaxDuration, func() {
		if _, err := p.stop(context.Background(), id, true); err != nil {
			p.logger.Error(err, "Automatic profiling stop failed", "session_id", id)
		}
	})

	p.sessions[id] = as
	p.order = append(p.order, id)
	p.evictLocked()
	p.metrics.active.Inc()

	p.logger.Info("Profiling session started", "session_id", id, "name", name, "type", pt, "max_duration", p.cfg.MaxDuration)
	return s.clone(), nil
}

// evictLocked drops the oldest finished sessions beyond the retention limit.
func (p *Profiler) evictLocked() {
	for len(p.order) > p.cfg.MaxSessions {
		idx := -1
		for i, id := range p.order {
			if p.sessions[id].session.Status != StatusRunning {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		delete(p.sessions, p.order[idx])
		p.order = append(p.order[:idx], p.order[idx+1:]...)
	}
}

// StopProfiling ends a session and returns its results. Stopping a session
// that already finished returns it unchanged.
func (p *Profiler) StopProfiling(ctx context.Context, id string) (*Session, error) {
	return p.stop(ctx, id, false)
}

func (p *Profiler) stop(ctx context.Context, id string, auto bool) (*Session, error) {
	s, raw, archiver, err := p.finish(id, auto)
	if err != nil || archiver == nil || len(raw) == 0 {
		return s, err
	}

	if p.cfg.ArchiveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ArchiveTimeout)
		defer cancel()
	}
	location, aerr := archiver.Archive(ctx, archiveKey(s), raw)
	if aerr != nil {
		p.logger.Error(aerr, "Failed to archive profile", "session_id", id)
	} else {
		p.logger.V(1).Info("Profile archived", "session_id", id, "location", location)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	as, ok := p.sessions[id]
	if !ok {
		// evicted while uploading
		if aerr != nil {
			s.ArchiveError = aerr.Error()
		} else {
			s.ArchiveLocation = location
		}
		return s, nil
	}
	if aerr != nil {
		as.session.ArchiveError = aerr.Error()
	} else {
		as.session.ArchiveLocation = location
	}
	return as.session.clone(), nil
}

// finish stops a running session and summarizes it. raw is the encoded
// profile of a session that completed during this call.
func (p *Profiler) finish(id string, auto bool) (*Session, []byte, Archiver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	as, ok := p.sessions[id]
	if !ok {
		return nil, nil, nil, apmerrors.ProfilingError("stop_profiling", "unknown session", apmerrors.ErrNotFound).WithContext("session_id", id)
	}
	s := as.session
	if s.Status != StatusRunning {
		return s.clone(), nil, nil, nil
	}
	as.timer.Stop()

	switch s.Type {
	case ProfileCPU:
		pprof.StopCPUProfile()
		p.cpuSession = ""
	case ProfileHeap:
		// the heap profile reflects the state as of the last collection
		runtime.GC()
		if err := pprof.Lookup("heap").WriteTo(as.buf, 0); err != nil {
			s.Error = err.Error()
		}
	case ProfileGoroutine:
		if err := pprof.Lookup("goroutine").WriteTo(as.buf, 0); err != nil {
			s.Error = err.Error()
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stoppedAt := p.now()
	s.StoppedAt = &stoppedAt
	s.Duration = stoppedAt.Sub(s.StartedAt)
	s.AutoStopped = auto
	s.HeapAllocEnd = ms.HeapAlloc
	s.HeapAllocDelta = int64(ms.HeapAlloc) - int64(s.HeapAllocStart)
	s.Goroutines = runtime.NumGoroutine()
	s.ProfileSize = as.buf.Len()

	if s.Error == "" && as.buf.Len() > 0 {
		sum, err := summarize(as.buf.Bytes(), preferredSampleType(s.Type), p.cfg.TopFunctions)
		if err != nil {
			s.Error = err.Error()
		} else {
			s.SampleType = sum.sampleType
			s.SampleUnit = sum.unit
			s.Total = sum.total
			s.TopFunctions = sum.top
		}
	}
	// the session keeps only the summary; raw goes to the archiver, if any
	raw := as.buf.Bytes()
	as.buf = new(bytes.Buffer)

	if s.Error != "" {
		s.Status = StatusFailed
	} else {
		s.Status = StatusCompleted
	}
	p.metrics.active.Dec()
	p.metrics.sessions.WithLabelValues(string(s.Type), string(s.Status)).Inc()

	p.logger.Info("Profiling session stopped",
		"session_id", id,
		"type", s.Type,
		"status", s.Status,
		"duration", s.Duration,
		"auto_stopped", auto,
		"top_functions", len(s.TopFunctions))
	if s.Status != StatusCompleted {
		raw = nil
	}
	return s.clone(), raw, p.archiver, nil
}

// GetSession returns a session by id.
func (p *Profiler) GetSession(id string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	as, ok := p.sessions[id]
	if !ok {
		return nil, apmerrors.ProfilingError("get_session", "unknown session", apmerrors.ErrNotFound).WithContext("session_id", id)
	}
	return as.session.clone(), nil
}

// ListSessions returns all retained sessions, newest first.
func (p *Profiler) ListSessions() []Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Session, 0, len(p.sessions))
	for _, as := range p.sessions {
		out = append(out, *as.session.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// ActiveSessions returns the number of running sessions.
func (p *Profiler) ActiveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, as := range p.sessions {
		if as.session.Status == StatusRunning {
			n++
		}
	}
	return n
}

// StopAll ends every running session. It is used on shutdown.
func (p *Profiler) StopAll(ctx context.Context) {
	p.mu.Lock()
	var running []string
	for id, as := range p.sessions {
		if as.session.Status == StatusRunning {
			running = append(running, id)
		}
	}
	p.mu.Unlock()

	for _, id := range running {
		if _, err := p.StopProfiling(ctx, id); err != nil {
			p.logger.Error(err, "Failed to stop profiling session", "session_id", id)
		}
	}
}
