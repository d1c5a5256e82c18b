package apm

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/bottleneck"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/profiling"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/apm/shared"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/config"
	apmerrors "github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/errors"
	"github.com/Luc4sfdez/sdk-fastapi-sub006/pkg/metricstore"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *alertRecorder) record(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *alertRecorder) ofType(t AlertType) []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Alert
	for _, a := range r.alerts {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

var _ = Describe("Manager", func() {
	var (
		ctx     context.Context
		cfg     *config.APMConfig
		manager *Manager
		alerts  *alertRecorder
	)

	build := func() {
		var err error
		manager, err = NewManager(cfg,
			WithLogger(GinkgoLogr),
			WithStore(metricstore.NewMemoryStore(cfg.Store.Capacity)),
			WithRegisterer(prometheus.NewRegistry()),
		)
		Expect(err).NotTo(HaveOccurred())
		alerts = &alertRecorder{}
		manager.AddAlertCallback(alerts.record)
	}

	BeforeEach(func() {
		ctx = context.Background()
		cfg = config.DefaultConfig()
		cfg.Bottleneck.ImmediateTriggerThreshold = 100
	})

	JustBeforeEach(func() {
		build()
	})

	AfterEach(func() {
		Expect(manager.Stop(ctx)).To(Succeed())
	})

	Describe("construction", func() {
		It("rejects an invalid configuration", func() {
			bad := config.DefaultConfig()
			bad.ServiceName = ""
			_, err := NewManager(bad)
			Expect(err).To(MatchError(apmerrors.ErrConfig))
		})

		It("uses defaults when no configuration is given", func() {
			m, err := NewManager(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Config().ServiceName).To(Equal("apm-monitor"))
		})
	})

	Describe("lifecycle", func() {
		It("starts components before its loops and stops them again", func() {
			Expect(manager.Start(ctx)).To(Succeed())
			Expect(manager.IsRunning()).To(BeTrue())
			Expect(manager.Baseline().IsRunning()).To(BeTrue())
			Expect(manager.Bottleneck().IsRunning()).To(BeTrue())
			Expect(manager.SLA().IsRunning()).To(BeTrue())
			Expect(manager.Trend().IsRunning()).To(BeTrue())
			for _, t := range manager.tasks() {
				Expect(t.Running()).To(BeTrue(), t.Name())
			}

			Expect(manager.Start(ctx)).To(Succeed(), "a second start is a no-op")

			Expect(manager.Stop(ctx)).To(Succeed())
			Expect(manager.IsRunning()).To(BeFalse())
			Expect(manager.Trend().IsRunning()).To(BeFalse())
			for _, t := range manager.tasks() {
				Expect(t.Running()).To(BeFalse(), t.Name())
			}
			Expect(manager.Stop(ctx)).To(Succeed(), "a second stop is a no-op")
		})

		Context("with a disabled component", func() {
			BeforeEach(func() {
				cfg.Trend.Enabled = false
			})

			It("does not start it and refuses its operations", func() {
				Expect(manager.Start(ctx)).To(Succeed())
				Expect(manager.Trend().IsRunning()).To(BeFalse())

				health := manager.GetComponentHealth()
				Expect(health[ComponentTrend].Enabled).To(BeFalse())
				Expect(health[ComponentTrend].Healthy).To(BeTrue())

				_, err := manager.AnalyzeTrends(ctx)
				Expect(err).To(MatchError(apmerrors.ErrNotRunning))
			})
		})
	})

	Describe("recording performance metrics", func() {
		It("fans out to baseline, trend and bottleneck tracking and notifies callbacks", func() {
			var got []PerformanceMetric
			manager.AddPerformanceCallback(func(m PerformanceMetric) { got = append(got, m) })

			Expect(manager.RecordPerformanceMetric(ctx, "checkout_latency", 120)).To(Succeed())

			Expect(manager.Baseline().TrackedMetrics()).To(ContainElement("checkout_latency"))
			kind, ok := manager.Trend().Kind("checkout_latency")
			Expect(ok).To(BeTrue())
			Expect(kind).To(Equal(shared.KindLatency))
			Expect(manager.Bottleneck().GetSummary().TrackedMetrics).To(Equal(1))

			Expect(got).To(HaveLen(1))
			Expect(got[0].Name).To(Equal("checkout_latency"))
			Expect(got[0].Kind).To(Equal(shared.KindLatency))
			Expect(got[0].Value).To(Equal(120.0))
		})

		It("infers the kind once and lets an explicit tag replace it", func() {
			Expect(manager.RecordPerformanceMetric(ctx, "queue_depth", 3)).To(Succeed())
			kind, _ := manager.MetricKind("queue_depth")
			Expect(kind).To(Equal(shared.KindGeneric))

			Expect(manager.RecordPerformanceMetric(ctx, "queue_depth", 4, WithKind(shared.KindThroughput))).To(Succeed())
			kind, _ = manager.MetricKind("queue_depth")
			Expect(kind).To(Equal(shared.KindThroughput))

			Expect(manager.RecordPerformanceMetric(ctx, "queue_depth", 5)).To(Succeed())
			kind, _ = manager.MetricKind("queue_depth")
			Expect(kind).To(Equal(shared.KindThroughput), "later untagged samples keep the registered kind")
		})

		It("rejects invalid input", func() {
			err := manager.RecordPerformanceMetric(ctx, "", 1)
			Expect(err).To(MatchError(apmerrors.ErrInvalidArgument))
			Expect(err).To(MatchError(apmerrors.ErrManager))

			err = manager.RecordPerformanceMetric(ctx, "latency", 1, WithKind("bogus"))
			Expect(err).To(MatchError(apmerrors.ErrInvalidArgument))
		})

		It("opens an SLA violation after consecutive error rate breaches", func() {
			for i := 0; i < 3; i++ {
				Expect(manager.RecordPerformanceMetric(ctx, "error_rate", 0.05)).To(Succeed())
			}

			violations := manager.SLA().GetActiveViolations()
			Expect(violations).To(HaveLen(1))
			Expect(alerts.ofType(AlertSLAViolation)).To(HaveLen(1))

			summary := manager.RefreshSummary()
			Expect(summary.ActiveSLAViolations).To(Equal(1))
			Expect(summary.OverallHealth).NotTo(Equal(HealthHealthy))
		})

		It("survives panicking callbacks", func() {
			called := false
			manager.AddPerformanceCallback(func(PerformanceMetric) { panic("boom") })
			manager.AddPerformanceCallback(func(PerformanceMetric) { called = true })

			Expect(manager.RecordPerformanceMetric(ctx, "api_latency", 10)).To(Succeed())
			Expect(called).To(BeTrue())
		})
	})

	Describe("resource metrics and bottlenecks", func() {
		feedCPU := func(resource string, value float64, n int) {
			for i := 0; i < n; i++ {
				Expect(manager.RecordResourceMetric(ctx, resource, bottleneck.ResourceCPU, value)).To(Succeed())
			}
		}

		It("tracks resources as series and detects bottlenecks on demand", func() {
			feedCPU("node-1", 95, 20)

			series := ResourceSeriesName("node-1", bottleneck.ResourceCPU)
			Expect(manager.Baseline().TrackedMetrics()).To(ContainElement(series))
			kind, _ := manager.MetricKind(series)
			Expect(kind).To(Equal(shared.KindCPU))

			found, err := manager.DetectBottlenecks(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))
			Expect(found[0].Type).To(Equal(bottleneck.CPUBound))
			Expect(alerts.ofType(AlertBottleneck)).To(HaveLen(1))

			summary := manager.RefreshSummary()
			Expect(summary.ActiveBottlenecks).To(Equal(1))
			Expect(summary.BottlenecksByType).To(HaveKeyWithValue(bottleneck.CPUBound, 1))
			Expect(summary.TopBottlenecks).To(HaveLen(1))
			Expect(summary.OverallHealth).To(Equal(HealthDegraded))
			Expect(manager.GetPerformanceSummary().ActiveBottlenecks).To(Equal(1))

			resolved, err := manager.ResolveBottleneck(ctx, found[0].ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved.Resolved).To(BeTrue())
			Expect(manager.RefreshSummary().OverallHealth).To(Equal(HealthHealthy))
		})

		It("rejects unknown resource types", func() {
			err := manager.RecordResourceMetric(ctx, "node-1", bottleneck.ResourceType("gpu"), 50)
			Expect(err).To(MatchError(apmerrors.ErrInvalidArgument))
		})

		It("wraps component errors in a manager error", func() {
			_, err := manager.ResolveBottleneck(ctx, "missing")
			Expect(apmerrors.IsNotFound(err)).To(BeTrue())
			Expect(err).To(MatchError(apmerrors.ErrManager))
			Expect(err).To(MatchError(apmerrors.ErrBottleneck))
		})
	})

	Describe("summaries", func() {
		It("returns copies", func() {
			feedMemory := func() {
				for i := 0; i < 20; i++ {
					Expect(manager.RecordResourceMetric(ctx, "db-1", bottleneck.ResourceMemory, 99)).To(Succeed())
				}
			}
			feedMemory()
			_, err := manager.DetectBottlenecks(ctx)
			Expect(err).NotTo(HaveOccurred())
			manager.RefreshSummary()

			s := manager.GetPerformanceSummary()
			s.BottlenecksByType[bottleneck.MemoryBound] = 42
			s.TopBottlenecks[0].Resource = "changed"

			again := manager.GetPerformanceSummary()
			Expect(again.BottlenecksByType[bottleneck.MemoryBound]).To(Equal(1))
			Expect(again.TopBottlenecks[0].Resource).To(Equal("db-1"))
		})
	})

	Describe("health monitoring", func() {
		It("alerts for enabled components that are not running", func() {
			Expect(manager.Start(ctx)).To(Succeed())
			Expect(manager.checkHealth(ctx)).To(Succeed())
			Expect(alerts.ofType(AlertComponentDown)).To(BeEmpty())

			Expect(manager.Trend().Stop(ctx)).To(Succeed())
			Expect(manager.checkHealth(ctx)).To(Succeed())

			down := alerts.ofType(AlertComponentDown)
			Expect(down).To(HaveLen(1))
			Expect(down[0].Component).To(Equal(ComponentTrend))
			Expect(down[0].Severity).To(Equal(shared.SeverityCritical))
			Expect(manager.GetComponentHealth()[ComponentTrend].Healthy).To(BeFalse())
			Expect(manager.RefreshSummary().OverallHealth).To(Equal(HealthCritical))
		})

		It("alerts when loops die with the start context", func() {
			startCtx, cancel := context.WithCancel(ctx)
			Expect(manager.Start(startCtx)).To(Succeed())
			Expect(manager.checkHealth(ctx)).To(Succeed())
			Expect(alerts.ofType(AlertComponentDown)).To(BeEmpty())

			cancel()
			Eventually(func() bool {
				return manager.GetComponentHealth()[ComponentTrend].Running
			}).Should(BeFalse())
			Eventually(func() bool {
				return manager.GetComponentHealth()[ComponentBaseline].Running
			}).Should(BeFalse())

			Expect(manager.checkHealth(ctx)).To(Succeed())
			var names []string
			for _, a := range alerts.ofType(AlertComponentDown) {
				names = append(names, a.Component)
			}
			Expect(names).To(ContainElements(ComponentTrend, ComponentBaseline))
		})
	})

	Describe("pass-through analysis", func() {
		It("reports insufficient data uniformly", func() {
			_, err := manager.ForecastMetric(ctx, "unknown_metric", time.Hour)
			Expect(apmerrors.IsInsufficientData(err)).To(BeTrue())

			_, err = manager.AnalyzeTrend(ctx, "unknown_metric", 0)
			Expect(apmerrors.IsInsufficientData(err)).To(BeTrue())
			Expect(err).To(MatchError(apmerrors.ErrTrend))
		})

		It("detects regressions between versions", func() {
			var base []float64
			for i := 0; i < 20; i++ {
				base = append(base, 95, 105)
			}
			Expect(manager.Regression().SetBaselineVersion(ctx, "v1", map[string][]float64{"api_latency": base})).To(Succeed())
			Expect(manager.Regression().SetCurrentVersion("v2")).To(Succeed())
			for i := 0; i < 20; i++ {
				Expect(manager.RecordPerformanceMetric(ctx, "api_latency", 125)).To(Succeed())
				Expect(manager.RecordPerformanceMetric(ctx, "api_latency", 135)).To(Succeed())
			}

			results, err := manager.DetectRegressions(ctx, "", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].RegressionDetected).To(BeTrue())
			Expect(results[0].PercentageChange).To(BeNumerically("~", 30, 1e-9))
			Expect(alerts.ofType(AlertRegression)).To(HaveLen(1))
		})

		It("runs profiling sessions", func() {
			s, err := manager.StartProfiling(ctx, "snapshot", profiling.ProfileGoroutine)
			Expect(err).NotTo(HaveOccurred())

			done, err := manager.StopProfiling(ctx, s.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(done.Status).To(Equal(profiling.StatusCompleted))

			_, err = manager.StartProfiling(ctx, "bad", profiling.ProfileType("mutex"))
			Expect(err).To(MatchError(apmerrors.ErrProfiling))
		})

		It("generates an SLA report covering the default SLAs", func() {
			report, err := manager.GenerateSLAReport(ctx, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.TotalSLAs).To(Equal(3))
			Expect(report.OverallCompliance).To(Equal(100.0))
		})
	})
})
