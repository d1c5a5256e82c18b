package sla

import (
	"github.com/prometheus/client_golang/prometheus"
)

type monitorMetrics struct {
	violations  *prometheus.CounterVec
	status      *prometheus.GaugeVec
	value       *prometheus.GaugeVec
	compliance  prometheus.Gauge
	evaluations *prometheus.CounterVec
}

func newMonitorMetrics(reg prometheus.Registerer) *monitorMetrics {
	m := &monitorMetrics{
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apm_sla_violations_total",
			Help: "Number of SLA violations by SLA and severity",
		}, []string{"sla", "severity"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apm_sla_status",
			Help: "Current SLA status (0 healthy, 1 warning, 2 violated, 3 critical)",
		}, []string{"sla"}),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apm_sla_current_value",
			Help: "Aggregated value of the last SLA evaluation",
		}, []string{"sla", "metric_type"}),
		compliance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apm_sla_overall_compliance_percent",
			Help: "Overall SLA compliance of the last generated report",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apm_sla_evaluations_total",
			Help: "Number of SLA evaluations by outcome",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.violations, m.status, m.value, m.compliance, m.evaluations)
	}
	return m
}
