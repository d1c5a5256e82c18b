package apm

import "github.com/prometheus/client_golang/prometheus"

type managerMetrics struct {
	recorded        *prometheus.CounterVec
	alerts          *prometheus.CounterVec
	componentUp     *prometheus.GaugeVec
	trackedSeries   *prometheus.GaugeVec
	callbackPanics  prometheus.Counter
	operationErrors *prometheus.CounterVec
}

func newManagerMetrics(reg prometheus.Registerer) *managerMetrics {
	m := &managerMetrics{
		recorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apm_metrics_recorded_total",
			Help: "Number of recorded samples by source and metric kind",
		}, []string{"source", "kind"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apm_alerts_total",
			Help: "Number of alerts raised by type and severity",
		}, []string{"type", "severity"}),
		componentUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apm_component_up",
			Help: "Whether an enabled sub-component is running (1) or not (0)",
		}, []string{"component"}),
		trackedSeries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apm_tracked_series",
			Help: "Number of series tracked by each sub-component",
		}, []string{"component"}),
		callbackPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apm_callback_panics_total",
			Help: "Number of recovered panics in performance and alert callbacks",
		}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apm_operation_errors_total",
			Help: "Number of failed manager operations",
		}, []string{"operation"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.recorded,
			m.alerts,
			m.componentUp,
			m.trackedSeries,
			m.callbackPanics,
			m.operationErrors,
		)
	}
	return m
}
