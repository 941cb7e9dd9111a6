// Package server 路由配置与核心基础设施
//
// 本包把各领域 Handler 组装为统一的 HTTP 入口：
//   - common.go: Handler 定义、健康检查与通用工具函数
//   - handler.go: 路由表与中间件链
//   - metrics.go: HTTP 与协程池 Prometheus 指标
//
// 领域处理逻辑分别位于 apiserver/evaluation（评测执行）与 apiserver/dataset（评测集）。
package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"agent-eval/internal/agentapi"
	"agent-eval/internal/evaluation"
	"agent-eval/internal/report"
	"agent-eval/internal/shared/cache"
	"agent-eval/internal/shared/eventbus"
	"agent-eval/internal/shared/storage"
	"agent-eval/pkg/logging"
)

// Deps Handler 依赖
//
// Registry 同时作为指标注册与 /metrics 采集的来源；为 nil 时使用 prometheus 默认注册表。
// Logger 为 nil 时访问日志写到 stdout；Archiver 为 nil 时不提供归档下载。
type Deps struct {
	Store           storage.PersistentStore
	Orchestrator    *evaluation.Orchestrator
	Launcher        *evaluation.Launcher
	Agent           *agentapi.Client
	Status          cache.RunStatusCache
	Events          eventbus.RunEventBus
	Archiver        *report.Archiver
	ImportBatchSize int
	Registry        *prometheus.Registry
	Logger          *logging.Logger
}

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 组装评测执行与评测集两个领域的路由
//   - 暴露健康检查与 Prometheus 指标
type Handler struct {
	store           storage.PersistentStore
	orch            *evaluation.Orchestrator
	launcher        *evaluation.Launcher
	agent           *agentapi.Client
	status          cache.RunStatusCache
	events          eventbus.RunEventBus
	archiver        *report.Archiver
	importBatchSize int

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	metrics    *Metrics
	logger     *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(d Deps) *Handler {
	h := &Handler{
		store:           d.Store,
		orch:            d.Orchestrator,
		launcher:        d.Launcher,
		agent:           d.Agent,
		status:          d.Status,
		events:          d.Events,
		archiver:        d.Archiver,
		importBatchSize: d.ImportBatchSize,
		registerer:      prometheus.DefaultRegisterer,
		gatherer:        prometheus.DefaultGatherer,
		logger:          d.Logger,
	}
	if h.logger == nil {
		h.logger = logging.Default("api-server")
	}
	if d.Registry != nil {
		h.registerer = d.Registry
		h.gatherer = d.Registry
	}
	h.metrics = NewMetrics("api", h.registerer)
	if h.launcher != nil {
		h.metrics.RegisterPool(h.registerer, h.launcher)
	}
	return h
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 返回 {"status": "ok"} 以及当前进程内正在执行的评测数、协程池容量与排队数。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if h.orch != nil {
		resp["live_runs"] = h.orch.Registry().Len()
	}
	if h.launcher != nil {
		resp["pool_running"] = h.launcher.Running()
		resp["pool_capacity"] = h.launcher.Capacity()
		resp["pool_waiting"] = h.launcher.Waiting()
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
