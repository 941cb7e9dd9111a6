// Package dataset 评测集领域 - HTTP 处理
//
// 评测集的导入（xlsx 上传）、列表、分页详情、删除、意图分布，以及首页概览。
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"agent-eval/internal/ingest"
	"agent-eval/internal/shared/model"
	"agent-eval/internal/shared/storage"
)

const (
	pageSize        = 10
	topIntentsLimit = 5
	recentRunsLimit = 10
	maxUploadMemory = 32 << 20

	defaultDescription = "Uploaded from Excel file"
)

// DatasetStore 定义 dataset handler 需要的存储接口（用于测试 mock）
type DatasetStore interface {
	GetEvaluationSet(ctx context.Context, id string) (*model.EvaluationSet, error)
	ListEvaluationSets(ctx context.Context, status model.EvaluationSetStatus) ([]*model.EvaluationSet, error)
	CountEvaluationSets(ctx context.Context, status model.EvaluationSetStatus) (int, error)
	DeleteEvaluationSet(ctx context.Context, id string) (int, error)
	ListCorporaPage(ctx context.Context, setID string, offset, limit int) ([]*model.Corpus, error)
	CountCorpora(ctx context.Context, setID string) (int, error)
	CountAllCorpora(ctx context.Context) (int, error)
	TopIntents(ctx context.Context, setID string, limit int) ([]model.IntentCount, error)
	ListRecentEvaluationRuns(ctx context.Context, limit int) ([]*model.EvaluationRun, error)
	ListEvaluationRunsBySet(ctx context.Context, setID string, limit int) ([]*model.EvaluationRun, error)
}

// Importer 评测集导入
type Importer interface {
	Import(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// Handler 评测集领域 HTTP 处理器
type Handler struct {
	store    DatasetStore
	importer Importer
}

// NewHandler 创建评测集处理器
func NewHandler(store storage.PersistentStore, batchSize int) *Handler {
	return &Handler{store: store, importer: ingest.NewImporter(store, batchSize)}
}

// NewHandlerWithInterfaces 使用接口创建处理器（用于测试）
func NewHandlerWithInterfaces(store DatasetStore, importer Importer) *Handler {
	return &Handler{store: store, importer: importer}
}

// RegisterRoutes 注册评测集相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/datasets", h.Create)
	mux.HandleFunc("GET /api/v1/datasets", h.List)
	mux.HandleFunc("GET /api/v1/datasets/{id}", h.Get)
	mux.HandleFunc("DELETE /api/v1/datasets/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/datasets/{id}/intents", h.Intents)
	mux.HandleFunc("GET /api/v1/overview", h.Overview)
}

// Create 上传 xlsx 创建评测集
// POST /api/v1/datasets（multipart：excel_file、evaluation_set_name、evaluation_set_desc）
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	req := ingest.Request{
		Name:        strings.TrimSpace(r.FormValue("evaluation_set_name")),
		Description: strings.TrimSpace(r.FormValue("evaluation_set_desc")),
	}
	if req.Description == "" {
		req.Description = defaultDescription
	}
	if file, _, err := r.FormFile("excel_file"); err == nil {
		defer file.Close()
		req.File = file
	}

	log.Printf("[dataset.create.start] name=%q", req.Name)

	result, err := h.importer.Import(r.Context(), req)
	if err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			log.Printf("[dataset.create.invalid] name=%q field=%s message=%s", req.Name, verr.Field, verr.Message)
			writeError(w, http.StatusBadRequest, verr.Message)
			return
		}
		log.Printf("[dataset.create.failed] name=%q error=%v", req.Name, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[dataset.create.complete] set_id=%s created=%d", result.EvaluationSet.ID, result.Created)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status":         "success",
		"message":        "Created",
		"id":             result.EvaluationSet.ID,
		"evaluation_set": result.EvaluationSet,
		"created":        result.Created,
		"total_time":     result.TotalTime,
		"rows_per_sec":   result.RowsPerSec,
		"batch_stats":    result.BatchStats,
	})
}

// datasetItem 列表项：评测集 + 最近一次执行
type datasetItem struct {
	*model.EvaluationSet
	LatestRun *model.EvaluationRun `json:"latest_run,omitempty"`
}

// List 列出启用中的评测集
// GET /api/v1/datasets
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sets, err := h.store.ListEvaluationSets(ctx, model.EvaluationSetActive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list evaluation sets")
		return
	}

	items := make([]datasetItem, 0, len(sets))
	for _, set := range sets {
		item := datasetItem{EvaluationSet: set}
		runs, err := h.store.ListEvaluationRunsBySet(ctx, set.ID, 1)
		if err != nil {
			log.Printf("[dataset.list.latest_run.failed] set_id=%s error=%v", set.ID, err)
		} else if len(runs) > 0 {
			item.LatestRun = runs[0]
			item.LatestRun.Config = nil
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "data": items, "count": len(items)})
}

// Get 分页查看评测集语料，每页 10 条
// GET /api/v1/datasets/{id}?page=
//
// page 非整数时返回第 1 页，超出范围时返回最后一页。
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	set, ok := h.loadSet(w, r)
	if !ok {
		return
	}

	total, err := h.store.CountCorpora(ctx, set.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count corpora")
		return
	}
	numPages := max(1, (total+pageSize-1)/pageSize)

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	page = min(page, numPages)

	corpora, err := h.store.ListCorporaPage(ctx, set.ID, (page-1)*pageSize, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list corpora")
		return
	}
	if corpora == nil {
		corpora = []*model.Corpus{}
	}
	set.CorpusCount = total

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "success",
		"evaluation_set": set,
		"data":           corpora,
		"page":           page,
		"num_pages":      numPages,
		"total":          total,
	})
}

// Delete 删除评测集（级联删除语料、执行与结果）
// DELETE /api/v1/datasets/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := h.store.DeleteEvaluationSet(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "evaluation set not found")
			return
		}
		log.Printf("[dataset.delete.failed] set_id=%s error=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to delete evaluation set")
		return
	}
	log.Printf("[dataset.delete.complete] set_id=%s deleted=%d", id, deleted)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "deleted": deleted})
}

// Intents 评测集中出现最多的意图
// GET /api/v1/datasets/{id}/intents
func (h *Handler) Intents(w http.ResponseWriter, r *http.Request) {
	set, ok := h.loadSet(w, r)
	if !ok {
		return
	}
	intents, err := h.store.TopIntents(r.Context(), set.ID, topIntentsLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count intents")
		return
	}
	if intents == nil {
		intents = []model.IntentCount{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "data": intents})
}

// Overview 首页概览：评测集数、语料总数、最近执行
// GET /api/v1/overview
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	setCount, err := h.store.CountEvaluationSets(ctx, model.EvaluationSetActive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count evaluation sets")
		return
	}
	corpusCount, err := h.store.CountAllCorpora(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count corpora")
		return
	}
	runs, err := h.store.ListRecentEvaluationRuns(ctx, recentRunsLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	for _, run := range runs {
		run.Config = nil
	}
	if runs == nil {
		runs = []*model.EvaluationRun{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"evaluation_sets_count": setCount,
		"total_corpora":         corpusCount,
		"recent_runs":           runs,
	})
}

func (h *Handler) loadSet(w http.ResponseWriter, r *http.Request) (*model.EvaluationSet, bool) {
	set, err := h.store.GetEvaluationSet(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get evaluation set")
		return nil, false
	}
	if set == nil {
		writeError(w, http.StatusNotFound, "evaluation set not found")
		return nil, false
	}
	return set, true
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
