// Package ingest 评测集导入
//
// 从上传的 Excel 创建评测集：
//   - 第 1 行为表头（必须存在）
//   - 之后每行：列 0 = 问题内容，列 1 = 期望回答（可选），列 2 = 意图（可选）
//   - 内容为空的行跳过
//   - 语料按批写入（默认每批 1000 条），返回写入统计
//
// 语料写入失败时删除刚创建的评测集，不留下半导入的数据。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"agent-eval/internal/shared/model"
	"agent-eval/internal/shared/storage"
)

// DefaultBatchSize 默认批大小
const DefaultBatchSize = 1000

// ValidationError 导入参数校验失败
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Store 导入需要的存储接口
type Store interface {
	GetEvaluationSetByName(ctx context.Context, name string) (*model.EvaluationSet, error)
	CreateEvaluationSet(ctx context.Context, set *model.EvaluationSet) error
	CreateCorpora(ctx context.Context, corpora []*model.Corpus) error
	DeleteEvaluationSet(ctx context.Context, id string) (int, error)
}

// Request 导入请求
type Request struct {
	Name        string
	Description string
	File        io.Reader
}

// BatchStats 批写入耗时统计（秒）
type BatchStats struct {
	Batches int     `json:"batches"`
	Min     float64 `json:"batch_min"`
	Max     float64 `json:"batch_max"`
	Mean    float64 `json:"batch_mean"`
}

// Result 导入结果
type Result struct {
	EvaluationSet *model.EvaluationSet `json:"evaluation_set"`
	Created       int                  `json:"created"`
	TotalTime     float64              `json:"total_time"`
	RowsPerSec    float64              `json:"rows_per_sec"`
	BatchStats    BatchStats           `json:"batch_stats"`
}

// Importer 评测集导入器
type Importer struct {
	store     Store
	batchSize int
	idPrefix  string
}

// NewImporter 创建导入器，batchSize <= 0 时使用 DefaultBatchSize
func NewImporter(store Store, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Importer{store: store, batchSize: batchSize, idPrefix: "set"}
}

// Import 校验参数、解析表格、创建评测集并批量写入语料
func (im *Importer) Import(ctx context.Context, req Request) (*Result, error) {
	if req.Name == "" {
		return nil, &ValidationError{Field: "evaluation_set_name", Message: "请输入评测集名称"}
	}
	if req.File == nil {
		return nil, &ValidationError{Field: "excel_file", Message: "请选择要上传的Excel文件"}
	}

	existing, err := im.store.GetEvaluationSetByName(ctx, req.Name)
	if err != nil {
		return nil, fmt.Errorf("check evaluation set name: %w", err)
	}
	if existing != nil {
		return nil, duplicateName(req.Name)
	}

	wb, err := OpenWorkbook(req.File)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	set := &model.EvaluationSet{
		ID:          im.idPrefix + "-" + uuid.NewString()[:12],
		Name:        req.Name,
		Description: req.Description,
		Status:      model.EvaluationSetActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := im.store.CreateEvaluationSet(ctx, set); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, duplicateName(req.Name)
		}
		return nil, fmt.Errorf("create evaluation set: %w", err)
	}

	result, err := im.insertCorpora(ctx, set, wb)
	if err != nil {
		if _, derr := im.store.DeleteEvaluationSet(context.WithoutCancel(ctx), set.ID); derr != nil {
			log.Printf("[ingest.rollback.failed] set_id=%s error=%v", set.ID, derr)
		}
		return nil, err
	}
	set.CorpusCount = result.Created
	result.EvaluationSet = set

	log.Printf("[ingest.complete] set_id=%s created=%d total_time=%.3fs rows_per_sec=%.2f batches=%d",
		set.ID, result.Created, result.TotalTime, result.RowsPerSec, result.BatchStats.Batches)
	return result, nil
}

// insertCorpora 按批写入，返回统计
func (im *Importer) insertCorpora(ctx context.Context, set *model.EvaluationSet, wb *Workbook) (*Result, error) {
	start := time.Now()
	batch := make([]*model.Corpus, 0, im.batchSize)
	var durations []float64
	created := 0
	seq := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		t0 := time.Now()
		if err := im.store.CreateCorpora(ctx, batch); err != nil {
			return fmt.Errorf("insert corpora batch %d: %w", len(durations)+1, err)
		}
		elapsed := time.Since(t0).Seconds()
		durations = append(durations, elapsed)
		created += len(batch)
		log.Printf("[ingest.batch] set_id=%s rows=%d elapsed=%.3fs", set.ID, len(batch), elapsed)
		batch = make([]*model.Corpus, 0, im.batchSize)
		return nil
	}

	err := wb.Each(func(row Row) error {
		seq++
		batch = append(batch, &model.Corpus{
			ID:               uuid.NewString(),
			EvaluationSetID:  set.ID,
			Seq:              seq,
			Content:          row.Content,
			ExpectedResponse: row.ExpectedResponse,
			Intent:           row.Intent,
			CreatedAt:        time.Now().UTC(),
		})
		if len(batch) >= im.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}

	total := time.Since(start).Seconds()
	result := &Result{
		Created:    created,
		TotalTime:  total,
		BatchStats: summarize(durations),
	}
	if total > 0 {
		result.RowsPerSec = float64(created) / total
	}
	return result, nil
}

func summarize(durations []float64) BatchStats {
	stats := BatchStats{Batches: len(durations)}
	if len(durations) == 0 {
		return stats
	}
	stats.Min, stats.Max = durations[0], durations[0]
	sum := 0.0
	for _, d := range durations {
		if d < stats.Min {
			stats.Min = d
		}
		if d > stats.Max {
			stats.Max = d
		}
		sum += d
	}
	stats.Mean = sum / float64(len(durations))
	return stats
}

func duplicateName(name string) error {
	return &ValidationError{
		Field:   "evaluation_set_name",
		Message: fmt.Sprintf("评测集名称 \"%s\" 已存在，请使用其他名称", name),
	}
}
