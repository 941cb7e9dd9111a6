package evaluation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 评测编排指标
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunsActive     prometheus.Gauge
	RunDuration    *prometheus.HistogramVec
	CasesTotal     *prometheus.CounterVec
	CaseDuration   prometheus.Histogram
	LaunchRejected prometheus.Counter
}

// NewMetrics 在 reg 上注册评测指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agent_eval",
				Name:      "runs_total",
				Help:      "Finished evaluation runs by terminal status",
			},
			[]string{"status"},
		),
		RunsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agent_eval",
				Name:      "runs_active",
				Help:      "Evaluation runs currently executing",
			},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agent_eval",
				Name:      "run_duration_seconds",
				Help:      "Evaluation run duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"status"},
		),
		CasesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agent_eval",
				Name:      "cases_total",
				Help:      "Evaluated corpus cases by result status",
			},
			[]string{"status"},
		),
		CaseDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "agent_eval",
				Name:      "case_duration_seconds",
				Help:      "Agent query plus scoring time per case",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		LaunchRejected: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agent_eval",
				Name:      "launch_rejected_total",
				Help:      "Runs rejected because the launcher pool was full",
			},
		),
	}
}

// RecordRunFinished 记录执行结束
func (m *Metrics) RecordRunFinished(status string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordCase 记录单条语料
func (m *Metrics) RecordCase(status string, duration time.Duration) {
	m.CasesTotal.WithLabelValues(status).Inc()
	m.CaseDuration.Observe(duration.Seconds())
}
