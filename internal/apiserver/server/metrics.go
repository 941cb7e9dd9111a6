// Package server Prometheus 指标导出
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 包含 API Server 的 HTTP 指标
//
// 评测执行相关指标（runs_total、cases_total 等）由 internal/evaluation 在同一注册表上注册。
type Metrics struct {
	namespace string

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// NewMetrics 在 reg 上创建指标实例
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		namespace: namespace,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
	}
}

// poolStats 协程池占用情况
type poolStats interface {
	Running() int
	Capacity() int
	Waiting() int
}

// RegisterPool 注册评测协程池的占用、容量与排队指标（采集时读取）
func (m *Metrics) RegisterPool(reg prometheus.Registerer, pool poolStats) {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "eval_pool_running",
		Help:      "Evaluation workers currently running",
	}, func() float64 { return float64(pool.Running()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "eval_pool_capacity",
		Help:      "Evaluation worker pool capacity",
	}, func() float64 { return float64(pool.Capacity()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "eval_pool_waiting",
		Help:      "Evaluation runs queued for a free worker",
	}, func() float64 { return float64(pool.Waiting()) })
}

// MetricsMiddleware 创建 HTTP 指标中间件
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// 包装 ResponseWriter 以捕获状态码
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// 不含 ID 的固定子路径
var fixedSegments = map[string]bool{"live": true, "status": true, "cancel": true}

// normalizePath 规范化路径，将 ID 替换为占位符
//
// 例如 /api/v1/evaluations/run-123/status -> /api/v1/evaluations/{id}/status
func normalizePath(path string) string {
	for _, prefix := range []string{"/api/v1/evaluations/", "/api/v1/datasets/"} {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || rest == "" {
			continue
		}
		id, tail, _ := strings.Cut(rest, "/")
		if fixedSegments[id] && tail == "" {
			return path
		}
		if tail == "" {
			return prefix + "{id}"
		}
		return prefix + "{id}/" + tail
	}
	return path
}

// MetricsHandler 返回 Prometheus HTTP Handler
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
