package regression

import "github.com/prometheus/client_golang/prometheus"

type detectorMetrics struct {
	detected *prometheus.CounterVec
	checks   *prometheus.CounterVec
	change   *prometheus.GaugeVec
}

func newDetectorMetrics(reg prometheus.Registerer) *detectorMetrics {
	m := &detectorMetrics{
		detected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apm_regressions_detected_total",
			Help: "Number of detected performance regressions by severity",
		}, []string{"severity"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apm_regression_checks_total",
			Help: "Number of version comparisons by outcome",
		}, []string{"outcome"}),
		change: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apm_regression_percentage_change",
			Help: "Change of the metric mean between the compared versions",
		}, []string{"metric"}),
	}

	if reg != nil {
		reg.MustRegister(m.detected, m.checks, m.change)
	}
	return m
}
