package server

import (
	"net"
	"net/http"
	"time"

	"agent-eval/internal/apiserver/dataset"
	"agent-eval/internal/apiserver/evaluation"
	"agent-eval/pkg/logging"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查与指标:
//   - GET /health  - 服务健康检查
//   - GET /metrics - Prometheus 指标
//
// 评测执行 (Evaluation):
//   - POST /api/v1/evaluations                 - 触发评测（每个评测集一次执行）
//   - GET  /api/v1/evaluations                 - 最近的执行记录
//   - GET  /api/v1/evaluations/live            - 本进程内正在执行的评测
//   - GET  /api/v1/evaluations/status?run_id=  - 实时快照
//   - POST /api/v1/evaluations/cancel          - 取消执行（表单/JSON run_id）
//   - GET  /api/v1/evaluations/{id}            - 执行详情与逐条结果
//   - GET  /api/v1/evaluations/{id}/status     - 实时快照
//   - POST /api/v1/evaluations/{id}/cancel     - 取消执行
//   - GET  /api/v1/evaluations/{id}/events     - 事件回放
//   - GET  /api/v1/evaluations/{id}/export     - 导出 xlsx
//   - GET  /api/v1/evaluations/{id}/archive    - 下载对象存储中的归档
//
// 评测集 (Dataset):
//   - POST   /api/v1/datasets               - 上传 xlsx 创建评测集
//   - GET    /api/v1/datasets               - 列出评测集
//   - GET    /api/v1/datasets/{id}?page=    - 分页查看语料
//   - DELETE /api/v1/datasets/{id}          - 删除评测集
//   - GET    /api/v1/datasets/{id}/intents  - 意图分布
//   - GET    /api/v1/overview               - 首页概览
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler(h.gatherer))

	// 评测执行接口
	evalHandler := evaluation.NewHandler(h.store, h.orch, h.launcher, h.agent, h.status, h.events, h.archiver)
	evalHandler.RegisterRoutes(mux)

	// 评测集接口
	datasetHandler := dataset.NewHandler(h.store, h.importBatchSize)
	datasetHandler.RegisterRoutes(mux)

	// 应用访问日志与指标中间件
	apiHandler := h.metrics.MetricsMiddleware(accessLogMiddleware(h.logger, mux))

	// 应用 CORS 中间件
	return corsMiddleware(apiHandler)
}

// accessLogMiddleware 记录每个请求的方法、路径、状态码与耗时
func accessLogMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			clientIP = r.RemoteAddr
		}
		logger.HTTPRequestLog(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), clientIP)
	})
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
