package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
)

func newTestRouter(t *testing.T) (*mux.Router, *apm.Manager) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Bottleneck.ImmediateTriggerThreshold = 100
	reg := prometheus.NewRegistry()
	m, err := apm.NewManager(cfg, apm.WithLogger(testr.New(t)), apm.WithRegisterer(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return NewRouter(m, reg, testr.New(t)), m
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

func TestRecordPerformanceMetric(t *testing.T) {
	r, m := newTestRouter(t)

	rr := do(t, r, http.MethodPost, "/api/v1/metrics/performance", `{"name":"queue_depth","value":4,"kind":"throughput"}`)
	assert.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	kind, ok := m.MetricKind("queue_depth")
	require.True(t, ok)
	assert.Equal(t, "throughput", string(kind))

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"name":`},
		{"unknown field", `{"name":"x","value":1,"color":"red"}`},
		{"missing value", `{"name":"x"}`},
		{"missing name", `{"value":1}`},
		{"unknown kind", `{"name":"x","value":1,"kind":"bogus"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, http.MethodPost, "/api/v1/metrics/performance", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func TestBottleneckLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)

	for i := 0; i < 20; i++ {
		rr := do(t, r, http.MethodPost, "/api/v1/metrics/resource", `{"resource":"node-1","resource_type":"cpu","value":95}`)
		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	}

	rr := do(t, r, http.MethodPost, "/api/v1/bottlenecks/detect", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var found []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	decodeBody(t, rr, &found)
	require.Len(t, found, 1)
	assert.Equal(t, "cpu_bound", found[0].Type)

	rr = do(t, r, http.MethodGet, "/api/v1/bottlenecks", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, r, http.MethodPost, "/api/v1/bottlenecks/"+found[0].ID+"/resolve", "")
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, r, http.MethodPost, "/api/v1/bottlenecks/"+found[0].ID+"/resolve", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	var errResp errorResponse
	decodeBody(t, rr, &errResp)
	assert.Equal(t, "bottleneck", errResp.Component, "the originating component is reported")

	rr = do(t, r, http.MethodPost, "/api/v1/metrics/resource", `{"resource":"node-1","resource_type":"gpu","value":95}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAnalysisEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := do(t, r, http.MethodGet, "/api/v1/forecast/unknown", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())

	rr = do(t, r, http.MethodGet, "/api/v1/trends/unknown?period=1h", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/v1/trends/unknown?period=soon", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/v1/capacity/bogus", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/v1/capacity/cpu", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/v1/baselines/unknown", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, r, http.MethodPost, "/api/v1/regressions/detect", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code, "no versions configured")
}

func TestSLAEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := do(t, r, http.MethodGet, "/api/v1/sla/report?period=1h", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var report struct {
		TotalSLAs         int     `json:"total_slas"`
		OverallCompliance float64 `json:"overall_compliance"`
	}
	decodeBody(t, rr, &report)
	assert.Equal(t, 3, report.TotalSLAs)
	assert.Equal(t, 100.0, report.OverallCompliance)

	rr = do(t, r, http.MethodGet, "/api/v1/sla/report?period=-1h", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	for i := 0; i < 3; i++ {
		rr = do(t, r, http.MethodPost, "/api/v1/metrics/performance", `{"name":"error_rate","value":0.05}`)
		require.Equal(t, http.StatusAccepted, rr.Code)
	}
	rr = do(t, r, http.MethodGet, "/api/v1/sla/violations?active=true", "")
	var violations []map[string]interface{}
	decodeBody(t, rr, &violations)
	assert.Len(t, violations, 1)
}

func TestProfilingEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := do(t, r, http.MethodPost, "/api/v1/profiling/sessions", `{"name":"snap","type":"goroutine"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var session struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeBody(t, rr, &session)
	assert.Equal(t, "running", session.Status)

	rr = do(t, r, http.MethodPost, "/api/v1/profiling/sessions/"+session.ID+"/stop", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decodeBody(t, rr, &session)
	assert.Equal(t, "completed", session.Status)

	rr = do(t, r, http.MethodPost, "/api/v1/profiling/sessions/missing/stop", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, r, http.MethodPost, "/api/v1/profiling/sessions", `{"type":"mutex"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/v1/profiling/sessions", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r, m := newTestRouter(t)

	rr := do(t, r, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "components are not running before start")

	require.NoError(t, m.Start(context.Background()))
	rr = do(t, r, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, r, http.MethodGet, "/api/v1/summary?refresh=true", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "apm_sla_overall_compliance_percent")

	rr = do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apmerrors.BaselineError("get", "missing", apmerrors.ErrNotFound), http.StatusNotFound},
		{apmerrors.InsufficientData(apmerrors.ComponentTrend, "analyze", 1, 20), http.StatusUnprocessableEntity},
		{apmerrors.SLAViolationError("add", "bad", apmerrors.ErrInvalidArgument), http.StatusBadRequest},
		{apmerrors.SLAViolationError("add", "dup", apmerrors.ErrAlreadyExists), http.StatusConflict},
		{apmerrors.ProfilingError("start", "busy", apmerrors.ErrBusy), http.StatusConflict},
		{apmerrors.New(apmerrors.ComponentManager, "detect", "disabled", apmerrors.ErrNotRunning), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
