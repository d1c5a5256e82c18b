package baseline

import (
	"github.com/prometheus/client_golang/prometheus"
)

type managerMetrics struct {
	baselineMean   *prometheus.GaugeVec
	baselineStdDev *prometheus.GaugeVec
	established    *prometheus.CounterVec
	driftEvents    *prometheus.CounterVec
}

func newManagerMetrics(reg prometheus.Registerer) *managerMetrics {
	m := &managerMetrics{
		baselineMean: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apm_baseline_mean",
			Help: "Mean of the current baseline per metric",
		}, []string{"metric"}),
		baselineStdDev: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apm_baseline_std_dev",
			Help: "Standard deviation of the current baseline per metric",
		}, []string{"metric"}),
		established: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apm_baseline_established_total",
			Help: "Number of baselines established or rebuilt",
		}, []string{"metric"}),
		driftEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apm_baseline_drift_events_total",
			Help: "Number of detected baseline drifts by severity",
		}, []string{"severity"}),
	}

	if reg != nil {
		reg.MustRegister(m.baselineMean, m.baselineStdDev, m.established, m.driftEvents)
	}
	return m
}

func (m *managerMetrics) observeBaseline(b *PerformanceBaseline) {
	m.baselineMean.WithLabelValues(b.MetricName).Set(b.Statistics.Mean)
	m.baselineStdDev.WithLabelValues(b.MetricName).Set(b.Statistics.StdDev)
	m.established.WithLabelValues(b.MetricName).Inc()
}

func (m *managerMetrics) forget(metric string) {
	m.baselineMean.DeleteLabelValues(metric)
	m.baselineStdDev.DeleteLabelValues(metric)
}
