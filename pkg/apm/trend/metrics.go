package trend

import "github.com/prometheus/client_golang/prometheus"

type analyzerMetrics struct {
	slope    *prometheus.GaugeVec
	rSquared *prometheus.GaugeVec
	analyses *prometheus.CounterVec
}

func newAnalyzerMetrics(reg prometheus.Registerer) *analyzerMetrics {
	m := &analyzerMetrics{
		slope: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apm_trend_slope_per_day",
			Help: "Fitted change per day of the last trend analysis",
		}, []string{"metric"}),
		rSquared: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apm_trend_r_squared",
			Help: "Coefficient of determination of the last trend fit",
		}, []string{"metric"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apm_trend_analyses_total",
			Help: "Number of trend analyses by outcome",
		}, []string{"outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.slope, m.rSquared, m.analyses)
	}
	return m
}
