package bottleneck

import "github.com/prometheus/client_golang/prometheus"

type detectorMetrics struct {
	detected          *prometheus.CounterVec
	active            prometheus.Gauge
	immediateAnalyses prometheus.Counter
	detectionDuration prometheus.Histogram
}

func newDetectorMetrics(reg prometheus.Registerer) *detectorMetrics {
	m := &detectorMetrics{
		detected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apm_bottlenecks_detected_total",
			Help: "Number of bottlenecks detected by type and severity",
		}, []string{"type", "severity"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apm_bottlenecks_active",
			Help: "Number of unresolved bottlenecks",
		}),
		immediateAnalyses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apm_bottleneck_immediate_analyses_total",
			Help: "Number of analyses triggered by a single sample above the immediate threshold",
		}),
		detectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "apm_bottleneck_detection_duration_seconds",
			Help:    "Duration of full bottleneck scans",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.detected, m.active, m.immediateAnalyses, m.detectionDuration)
	}
	return m
}
