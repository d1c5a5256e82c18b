package profiling

import "github.com/prometheus/client_golang/prometheus"

type profilerMetrics struct {
	sessions *prometheus.CounterVec
	active   prometheus.Gauge
}

func newProfilerMetrics(reg prometheus.Registerer) *profilerMetrics {
	m := &profilerMetrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apm_profiling_sessions_total",
			Help: "Number of finished profiling sessions by type and status",
		}, []string{"type", "status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apm_profiling_active_sessions",
			Help: "Number of running profiling sessions",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.sessions, m.active)
	}
	return m
}
