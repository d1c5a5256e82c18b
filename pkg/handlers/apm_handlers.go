// Package handlers exposes the APM manager over a JSON HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/bottleneck"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/profiling"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/logging"
)

const (
	maxBodyBytes        = 1 << 20
	defaultReportPeriod = 24 * time.Hour
)

// APMHandler serves the APM API.
type APMHandler struct {
	manager *apm.Manager
	logger  logr.Logger
}

// NewAPMHandler creates a handler for manager.
func NewAPMHandler(manager *apm.Manager, logger logr.Logger) *APMHandler {
	return &APMHandler{
		manager: manager,
		logger:  logging.ForComponent(logging.OrDiscard(logger), "http"),
	}
}

// NewRouter builds the full router: the API under /api/v1, Prometheus
// exposition of gatherer under /metrics and a liveness endpoint at /healthz.
func NewRouter(manager *apm.Manager, gatherer prometheus.Gatherer, logger logr.Logger) *mux.Router {
	h := NewAPMHandler(manager, logger)
	r := mux.NewRouter()
	r.Use(h.logRequests)
	h.RegisterRoutes(r.PathPrefix("/api/v1").Subrouter())
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}

// RegisterRoutes mounts the API on r.
func (h *APMHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/metrics/performance", h.HandleRecordPerformance).Methods(http.MethodPost)
	r.HandleFunc("/metrics/resource", h.HandleRecordResource).Methods(http.MethodPost)
	r.HandleFunc("/summary", h.HandleGetSummary).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HandleGetHealth).Methods(http.MethodGet)
	r.HandleFunc("/baselines", h.HandleListBaselines).Methods(http.MethodGet)
	r.HandleFunc("/baselines/{metric}", h.HandleGetBaseline).Methods(http.MethodGet)
	r.HandleFunc("/bottlenecks", h.HandleListBottlenecks).Methods(http.MethodGet)
	r.HandleFunc("/bottlenecks/detect", h.HandleDetectBottlenecks).Methods(http.MethodPost)
	r.HandleFunc("/bottlenecks/{id}/resolve", h.HandleResolveBottleneck).Methods(http.MethodPost)
	r.HandleFunc("/sla/report", h.HandleSLAReport).Methods(http.MethodGet)
	r.HandleFunc("/sla/violations", h.HandleSLAViolations).Methods(http.MethodGet)
	r.HandleFunc("/trends/{metric}", h.HandleGetTrend).Methods(http.MethodGet)
	r.HandleFunc("/forecast/{metric}", h.HandleGetForecast).Methods(http.MethodGet)
	r.HandleFunc("/capacity/{kind}", h.HandleGetCapacity).Methods(http.MethodGet)
	r.HandleFunc("/regressions/detect", h.HandleDetectRegressions).Methods(http.MethodPost)
	r.HandleFunc("/profiling/sessions", h.HandleListProfilingSessions).Methods(http.MethodGet)
	r.HandleFunc("/profiling/sessions", h.HandleStartProfiling).Methods(http.MethodPost)
	r.HandleFunc("/profiling/sessions/{id}/stop", h.HandleStopProfiling).Methods(http.MethodPost)
}

type performanceMetricRequest struct {
	Name      string     `json:"name"`
	Value     *float64   `json:"value"`
	Kind      string     `json:"kind,omitempty"`
	Version   string     `json:"version,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type resourceMetricRequest struct {
	Resource     string     `json:"resource"`
	ResourceType string     `json:"resource_type"`
	Value        *float64   `json:"value"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

type regressionRequest struct {
	BaselineVersion string `json:"baseline_version"`
	CurrentVersion  string `json:"current_version"`
}

type profilingRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// HandleRecordPerformance handles POST /metrics/performance.
func (h *APMHandler) HandleRecordPerformance(w http.ResponseWriter, r *http.Request) {
	var req performanceMetricRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Value == nil {
		h.writeBadRequest(w, "value is required")
		return
	}

	var opts []apm.RecordOption
	if req.Kind != "" {
		kind, ok := shared.ParseKind(req.Kind)
		if !ok {
			h.writeBadRequest(w, fmt.Sprintf("unknown metric kind %q", req.Kind))
			return
		}
		opts = append(opts, apm.WithKind(kind))
	}
	if req.Timestamp != nil {
		opts = append(opts, apm.WithTimestamp(*req.Timestamp))
	}
	if req.Version != "" {
		opts = append(opts, apm.WithVersion(req.Version))
	}

	if err := h.manager.RecordPerformanceMetric(r.Context(), req.Name, *req.Value, opts...); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded", "metric": req.Name})
}

// HandleRecordResource handles POST /metrics/resource.
func (h *APMHandler) HandleRecordResource(w http.ResponseWriter, r *http.Request) {
	var req resourceMetricRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Value == nil {
		h.writeBadRequest(w, "value is required")
		return
	}
	var opts []apm.RecordOption
	if req.Timestamp != nil {
		opts = append(opts, apm.WithTimestamp(*req.Timestamp))
	}

	rtype := bottleneck.ResourceType(req.ResourceType)
	if err := h.manager.RecordResourceMetric(r.Context(), req.Resource, rtype, *req.Value, opts...); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "recorded",
		"series": apm.ResourceSeriesName(req.Resource, rtype),
	})
}

// HandleGetSummary handles GET /summary. ?refresh=true recomputes it first.
func (h *APMHandler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	if refresh {
		writeJSON(w, http.StatusOK, h.manager.RefreshSummary())
		return
	}
	writeJSON(w, http.StatusOK, h.manager.GetPerformanceSummary())
}

// HandleGetHealth handles GET /health and answers 503 when any enabled
// component is down.
func (h *APMHandler) HandleGetHealth(w http.ResponseWriter, r *http.Request) {
	components := h.manager.GetComponentHealth()
	status := http.StatusOK
	for _, c := range components {
		if !c.Healthy {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, map[string]interface{}{
		"running":    h.manager.IsRunning(),
		"components": components,
	})
}

// HandleListBaselines handles GET /baselines.
func (h *APMHandler) HandleListBaselines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Baseline().ListBaselines())
}

// HandleGetBaseline handles GET /baselines/{metric}.
func (h *APMHandler) HandleGetBaseline(w http.ResponseWriter, r *http.Request) {
	metric := mux.Vars(r)["metric"]
	b, ok := h.manager.Baseline().GetBaseline(metric)
	if !ok {
		h.writeError(w, apmerrors.BaselineError("get_baseline", "no baseline for metric", apmerrors.ErrNotFound).
			WithContext("metric", metric))
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// HandleListBottlenecks handles GET /bottlenecks. ?history=N returns the
// last N detections instead of the active set.
func (h *APMHandler) HandleListBottlenecks(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("history"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeBadRequest(w, "history must be a non-negative integer")
			return
		}
		writeJSON(w, http.StatusOK, h.manager.Bottleneck().GetBottleneckHistory(limit))
		return
	}
	writeJSON(w, http.StatusOK, h.manager.Bottleneck().GetActiveBottlenecks())
}

// HandleDetectBottlenecks handles POST /bottlenecks/detect.
func (h *APMHandler) HandleDetectBottlenecks(w http.ResponseWriter, r *http.Request) {
	found, err := h.manager.DetectBottlenecks(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if found == nil {
		found = []*bottleneck.BottleneckAnalysis{}
	}
	writeJSON(w, http.StatusOK, found)
}

// HandleResolveBottleneck handles POST /bottlenecks/{id}/resolve.
func (h *APMHandler) HandleResolveBottleneck(w http.ResponseWriter, r *http.Request) {
	b, err := h.manager.ResolveBottleneck(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// HandleSLAReport handles GET /sla/report?period=24h.
func (h *APMHandler) HandleSLAReport(w http.ResponseWriter, r *http.Request) {
	period, ok := h.durationParam(w, r, "period", defaultReportPeriod)
	if !ok {
		return
	}
	report, err := h.manager.GenerateSLAReport(r.Context(), period)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleSLAViolations handles GET /sla/violations. ?active=true limits the
// result to open violations.
func (h *APMHandler) HandleSLAViolations(w http.ResponseWriter, r *http.Request) {
	active, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	if active {
		writeJSON(w, http.StatusOK, h.manager.SLA().GetActiveViolations())
		return
	}
	writeJSON(w, http.StatusOK, h.manager.SLA().GetViolations())
}

// HandleGetTrend handles GET /trends/{metric}?period=168h.
func (h *APMHandler) HandleGetTrend(w http.ResponseWriter, r *http.Request) {
	period, ok := h.durationParam(w, r, "period", 0)
	if !ok {
		return
	}
	t, err := h.manager.AnalyzeTrend(r.Context(), mux.Vars(r)["metric"], period)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandleGetForecast handles GET /forecast/{metric}?horizon=24h.
func (h *APMHandler) HandleGetForecast(w http.ResponseWriter, r *http.Request) {
	horizon, ok := h.durationParam(w, r, "horizon", h.manager.Config().Trend.ForecastHorizon)
	if !ok {
		return
	}
	f, err := h.manager.ForecastMetric(r.Context(), mux.Vars(r)["metric"], horizon)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// HandleGetCapacity handles GET /capacity/{kind}.
func (h *APMHandler) HandleGetCapacity(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["kind"]
	kind, ok := shared.ParseKind(raw)
	if !ok {
		h.writeBadRequest(w, fmt.Sprintf("unknown metric kind %q", raw))
		return
	}
	insights, err := h.manager.GenerateCapacityInsights(r.Context(), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

// HandleDetectRegressions handles POST /regressions/detect. An empty body
// compares the configured baseline and current versions.
func (h *APMHandler) HandleDetectRegressions(w http.ResponseWriter, r *http.Request) {
	var req regressionRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	results, err := h.manager.DetectRegressions(r.Context(), req.BaselineVersion, req.CurrentVersion)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// HandleListProfilingSessions handles GET /profiling/sessions.
func (h *APMHandler) HandleListProfilingSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Profiler().ListSessions())
}

// HandleStartProfiling handles POST /profiling/sessions.
func (h *APMHandler) HandleStartProfiling(w http.ResponseWriter, r *http.Request) {
	var req profilingRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := h.manager.StartProfiling(r.Context(), req.Name, profiling.ProfileType(req.Type))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// HandleStopProfiling handles POST /profiling/sessions/{id}/stop.
func (h *APMHandler) HandleStopProfiling(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.StopProfiling(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *APMHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeBadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *APMHandler) durationParam(w http.ResponseWriter, r *http.Request, name string, def time.Duration) (time.Duration, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		h.writeBadRequest(w, fmt.Sprintf("%s must be a positive duration", name))
		return 0, false
	}
	return d, true
}

// StatusFor maps an APM error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apmerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apmerrors.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apmerrors.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, apmerrors.ErrAlreadyExists), errors.Is(err, apmerrors.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, apmerrors.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Component string `json:"component,omitempty"`
	Status    int    `json:"status"`
}

func (h *APMHandler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	resp := errorResponse{Error: err.Error(), Status: status}
	if c, ok := apmerrors.ComponentOf(err); ok {
		resp.Component = string(c)
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(err, "Request failed", "status", status)
	} else {
		h.logger.V(1).Info("Request rejected", "status", status, "error", err.Error())
	}
	writeJSON(w, status, resp)
}

func (h *APMHandler) writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Status: http.StatusBadRequest})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *APMHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.V(1).Info("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
