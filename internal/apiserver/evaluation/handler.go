// Package evaluation 评测执行领域 - HTTP 处理
//
// 负责触发评测、查询实时快照、取消执行，以及历史执行的查询、事件回放与结果导出。
// 执行本身由 internal/evaluation 的 Launcher 在后台完成，本包只做请求校验与编排入口。
package evaluation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agent-eval/internal/agentapi"
	"agent-eval/internal/evaluation"
	"agent-eval/internal/report"
	"agent-eval/internal/shared/cache"
	"agent-eval/internal/shared/eventbus"
	"agent-eval/internal/shared/model"
	"agent-eval/internal/shared/storage"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100
	agentInfoTimeout   = 10 * time.Second
)

// EvaluationStore 定义 evaluation handler 需要的存储接口（用于测试 mock）
type EvaluationStore interface {
	GetEvaluationSet(ctx context.Context, id string) (*model.EvaluationSet, error)
	CreateEvaluationRun(ctx context.Context, run *model.EvaluationRun) error
	UpdateEvaluationRunStatus(ctx context.Context, id string, status model.RunStatus) error
	GetEvaluationRun(ctx context.Context, id string) (*model.EvaluationRun, error)
	ListRecentEvaluationRuns(ctx context.Context, limit int) ([]*model.EvaluationRun, error)
	ListCorpusResults(ctx context.Context, runID string) ([]*model.CorpusResult, error)
	ListCorpora(ctx context.Context, setID string) ([]*model.Corpus, error)
}

// RunLauncher 启动后台执行
type RunLauncher interface {
	Launch(ctx context.Context, runID, credential string) error
}

// RunCanceller 请求取消执行，返回该执行是否存在
type RunCanceller interface {
	Cancel(ctx context.Context, runID string) (bool, error)
}

// LiveRunLister 列出本进程内正在执行的评测
type LiveRunLister interface {
	List() []evaluation.LiveRunInfo
}

// AgentInfoFetcher 获取被测 Agent 的自描述信息（用于确定版本号）
type AgentInfoFetcher interface {
	FetchAgentInfo(ctx context.Context, credential string) (agentapi.AgentInfo, error)
}

// ArchiveReader 读取对象存储中归档的结果表格
type ArchiveReader interface {
	Open(ctx context.Context, runID string) (io.ReadCloser, error)
}

// Deps 处理器依赖
type Deps struct {
	Store          EvaluationStore
	Launcher       RunLauncher
	Canceller      RunCanceller
	Live           LiveRunLister
	Agent          AgentInfoFetcher
	Status         cache.RunStatusCache
	Events         eventbus.RunEventBus // 可选，为 nil 时事件回放返回空列表
	Archives       ArchiveReader        // 可选，为 nil 时归档下载返回 404
	DefaultVersion string
}

// Handler 评测执行领域 HTTP 处理器
type Handler struct {
	store          EvaluationStore
	launcher       RunLauncher
	canceller      RunCanceller
	live           LiveRunLister
	agent          AgentInfoFetcher
	status         cache.RunStatusCache
	events         eventbus.RunEventBus
	archives       ArchiveReader
	defaultVersion string
}

// NewHandler 使用真实组件创建处理器，agent 与 archives 可为 nil
func NewHandler(store storage.PersistentStore, orch *evaluation.Orchestrator, launcher *evaluation.Launcher,
	agent *agentapi.Client, status cache.RunStatusCache, events eventbus.RunEventBus, archives *report.Archiver) *Handler {
	d := Deps{
		Store:          store,
		Launcher:       launcher,
		Canceller:      orch,
		Live:           orch.Registry(),
		Status:         status,
		Events:         events,
		DefaultVersion: orch.DefaultVersion(),
	}
	if agent != nil {
		d.Agent = agent
	}
	if archives != nil {
		d.Archives = archives
	}
	return NewHandlerWithInterfaces(d)
}

// NewHandlerWithInterfaces 使用接口创建处理器（用于测试）
func NewHandlerWithInterfaces(d Deps) *Handler {
	if d.DefaultVersion == "" {
		d.DefaultVersion = model.DefaultVersion
	}
	return &Handler{
		store:          d.Store,
		launcher:       d.Launcher,
		canceller:      d.Canceller,
		live:           d.Live,
		agent:          d.Agent,
		status:         d.Status,
		events:         d.Events,
		archives:       d.Archives,
		defaultVersion: d.DefaultVersion,
	}
}

// RegisterRoutes 注册评测执行相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/evaluations", h.Trigger)
	mux.HandleFunc("GET /api/v1/evaluations", h.ListRecent)
	mux.HandleFunc("GET /api/v1/evaluations/live", h.ListLive)
	mux.HandleFunc("GET /api/v1/evaluations/status", h.Status)
	mux.HandleFunc("POST /api/v1/evaluations/cancel", h.Cancel)
	mux.HandleFunc("GET /api/v1/evaluations/{id}", h.Get)
	mux.HandleFunc("GET /api/v1/evaluations/{id}/status", h.Status)
	mux.HandleFunc("POST /api/v1/evaluations/{id}/cancel", h.Cancel)
	mux.HandleFunc("GET /api/v1/evaluations/{id}/events", h.Events)
	mux.HandleFunc("GET /api/v1/evaluations/{id}/export", h.Export)
	mux.HandleFunc("GET /api/v1/evaluations/{id}/archive", h.Archive)
}

// TriggerRequest 触发评测请求体
//
// 兼容表单提交：evaluation_sets 可重复出现，等价于 evaluation_set_ids。
type TriggerRequest struct {
	EvaluationSetIDs []string `json:"evaluation_set_ids"`
	APIKey           string   `json:"api_key"`
}

// Trigger 对一个或多个评测集发起评测
// POST /api/v1/evaluations
//
// 流程：
//  1. 校验评测集列表与凭据，所有评测集必须存在
//  2. 通过 Agent 自描述确定版本号，失败时使用默认版本
//  3. 每个评测集创建一条 running 执行记录；全部写入成功后才逐个交给 Launcher
//
// 重复的评测集 ID 只计一次。任一执行记录写入失败时，已写入的记录标记为 failed，
// 不启动任何执行。
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := decodeTriggerRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.EvaluationSetIDs) == 0 {
		writeError(w, http.StatusBadRequest, "请至少选择一个评测集")
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "请输入API密钥")
		return
	}

	log.Printf("[evaluation.trigger.start] sets=%d", len(req.EvaluationSetIDs))

	sets := make([]*model.EvaluationSet, 0, len(req.EvaluationSetIDs))
	for _, id := range req.EvaluationSetIDs {
		set, err := h.store.GetEvaluationSet(ctx, id)
		if err != nil {
			log.Printf("[evaluation.trigger.set.failed] set_id=%s error=%v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to get evaluation set")
			return
		}
		if set == nil {
			log.Printf("[evaluation.trigger.set.not_found] set_id=%s", id)
			writeError(w, http.StatusBadRequest, "请选择正确的评测集")
			return
		}
		sets = append(sets, set)
	}

	version := h.resolveVersion(ctx, req.APIKey)

	runIDs := make([]string, 0, len(sets))
	for _, set := range sets {
		runID := generateID("run")
		run := &model.EvaluationRun{
			ID:              runID,
			EvaluationSetID: set.ID,
			RunName:         "Run " + version,
			StartTime:       time.Now().UTC(),
			Status:          model.RunStatusRunning,
			Config:          model.NewRunConfig(req.APIKey),
			Version:         version,
		}
		if err := h.store.CreateEvaluationRun(ctx, run); err != nil {
			log.Printf("[evaluation.trigger.db.failed] run_id=%s set_id=%s error=%v", runID, set.ID, err)
			h.abandonRuns(ctx, runIDs)
			writeError(w, http.StatusInternalServerError, "failed to create evaluation run")
			return
		}
		log.Printf("[evaluation.trigger.db.success] run_id=%s set_id=%s version=%s", runID, set.ID, version)
		runIDs = append(runIDs, runID)
	}

	for _, runID := range runIDs {
		// Launch 失败时执行记录已被标记为 failed，其余评测集继续启动
		if err := h.launcher.Launch(ctx, runID, req.APIKey); err != nil {
			log.Printf("[evaluation.trigger.launch.failed] run_id=%s error=%v", runID, err)
		}
	}

	log.Printf("[evaluation.trigger.complete] runs=%d version=%s", len(runIDs), version)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": fmt.Sprintf("已启动 %d 个评测任务", len(runIDs)),
		"run_ids": runIDs,
	})
}

// abandonRuns 把未启动的执行记录标记为 failed
func (h *Handler) abandonRuns(ctx context.Context, runIDs []string) {
	ctx = context.WithoutCancel(ctx)
	for _, runID := range runIDs {
		if err := h.store.UpdateEvaluationRunStatus(ctx, runID, model.RunStatusFailed); err != nil {
			log.Printf("[evaluation.trigger.abandon.failed] run_id=%s error=%v", runID, err)
			continue
		}
		log.Printf("[evaluation.trigger.abandon] run_id=%s", runID)
	}
}

// resolveVersion 以 Agent 自报名称作为版本号
func (h *Handler) resolveVersion(ctx context.Context, credential string) string {
	if h.agent == nil {
		return h.defaultVersion
	}
	ctx, cancel := context.WithTimeout(ctx, agentInfoTimeout)
	defer cancel()

	info, err := h.agent.FetchAgentInfo(ctx, credential)
	if err != nil {
		log.Printf("[evaluation.trigger.version.fallback] default=%s error=%v", h.defaultVersion, err)
		return h.defaultVersion
	}
	return info.Name(h.defaultVersion)
}

// Status 查询执行的实时快照
// GET /api/v1/evaluations/{id}/status
// GET /api/v1/evaluations/status?run_id=
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		runID = r.URL.Query().Get("run_id")
	}
	if runID == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_found"})
		return
	}

	snap, err := h.status.GetRunStatus(r.Context(), runID)
	if err != nil {
		log.Printf("[evaluation.status.failed] run_id=%s error=%v", runID, err)
		writeError(w, http.StatusInternalServerError, "failed to get run status")
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Cancel 请求取消执行
// POST /api/v1/evaluations/{id}/cancel
// POST /api/v1/evaluations/cancel（表单或 JSON 中的 run_id）
//
// 取消是协作式的：执行体在下一条语料开始前观察到标记后停止。
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		runID = runIDFromBody(r)
	}
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}

	found, err := h.canceller.Cancel(r.Context(), runID)
	if err != nil {
		log.Printf("[evaluation.cancel.failed] run_id=%s error=%v", runID, err)
		writeError(w, http.StatusInternalServerError, "failed to cancel run")
		return
	}
	if !found {
		log.Printf("[evaluation.cancel.not_found] run_id=%s", runID)
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	log.Printf("[evaluation.cancel.requested] run_id=%s", runID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "任务已取消"})
}

// ListRecent 列出最近的执行记录
// GET /api/v1/evaluations?limit=
func (h *Handler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxRecentLimit)
	}
	runs, err := h.store.ListRecentEvaluationRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	for _, run := range runs {
		run.Config = nil
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

// ListLive 列出本进程内正在执行的评测
// GET /api/v1/evaluations/live
func (h *Handler) ListLive(w http.ResponseWriter, r *http.Request) {
	runs := h.live.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

// Get 获取执行记录及其逐条结果
// GET /api/v1/evaluations/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	results, err := h.store.ListCorpusResults(ctx, run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	run.Config = nil
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": run, "results": results})
}

// Events 回放执行事件
// GET /api/v1/evaluations/{id}/events?count=
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if h.events == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": []*eventbus.RunEvent{}, "count": 0})
		return
	}
	var count int64
	if v, err := strconv.ParseInt(r.URL.Query().Get("count"), 10, 64); err == nil && v > 0 {
		count = v
	}
	events, err := h.events.GetRunEvents(r.Context(), runID, count)
	if err != nil {
		log.Printf("[evaluation.events.failed] run_id=%s error=%v", runID, err)
		writeError(w, http.StatusInternalServerError, "failed to get run events")
		return
	}
	if events == nil {
		events = []*eventbus.RunEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

// Export 以 xlsx 导出执行结果
// GET /api/v1/evaluations/{id}/export
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	results, err := h.store.ListCorpusResults(ctx, run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	corpora, err := h.store.ListCorpora(ctx, run.EvaluationSetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list corpora")
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": run.ID + ".xlsx",
	}))
	if err := report.Write(w, run, report.Rows(results, corpora)); err != nil {
		log.Printf("[evaluation.export.failed] run_id=%s error=%v", run.ID, err)
	}
}

// Archive 下载执行结束时归档到对象存储的结果表格
// GET /api/v1/evaluations/{id}/archive
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotFound, "result archive is not enabled")
		return
	}
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	obj, err := h.archives.Open(r.Context(), run.ID)
	if err != nil {
		log.Printf("[evaluation.archive.not_found] run_id=%s error=%v", run.ID, err)
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": run.ID + ".xlsx",
	}))
	if _, err := io.Copy(w, obj); err != nil {
		log.Printf("[evaluation.archive.failed] run_id=%s error=%v", run.ID, err)
	}
}

// loadRun 按路径参数读取执行记录，不存在时写入 404
func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*model.EvaluationRun, bool) {
	id := r.PathValue("id")
	run, err := h.store.GetEvaluationRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return nil, false
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	return run, true
}

// ============================================================================
// 请求解析
// ============================================================================

func isJSON(r *http.Request) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/json"
}

// decodeTriggerRequest 支持 JSON 与表单两种提交方式
func decodeTriggerRequest(r *http.Request) (*TriggerRequest, error) {
	var req TriggerRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
	} else {
		if err := parseForm(r); err != nil {
			return nil, err
		}
		req.EvaluationSetIDs = append(append([]string{}, r.Form["evaluation_set_ids"]...), r.Form["evaluation_sets"]...)
		req.APIKey = r.FormValue("api_key")
	}

	ids := make([]string, 0, len(req.EvaluationSetIDs))
	seen := make(map[string]bool, len(req.EvaluationSetIDs))
	for _, id := range req.EvaluationSetIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	req.EvaluationSetIDs = ids
	req.APIKey = strings.TrimSpace(req.APIKey)
	return &req, nil
}

func parseForm(r *http.Request) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		return r.ParseMultipartForm(1 << 20)
	}
	return r.ParseForm()
}

// runIDFromBody 从 JSON 或表单中读取 run_id
func runIDFromBody(r *http.Request) string {
	if isJSON(r) {
		var body struct {
			RunID string `json:"run_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return ""
		}
		return strings.TrimSpace(body.RunID)
	}
	if err := parseForm(r); err != nil {
		return ""
	}
	return strings.TrimSpace(r.FormValue("run_id"))
}

// ============================================================================
// 工具函数
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
