// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在 repository/ 中，方言与驱动在 driver/ 中
//   - 初始化时通过依赖注入传入实现
//
// 运行状态快照（临时、高频）不在此层，见 cache/ 包。
package storage

import (
	"context"

	"agent-eval/internal/shared/model"
)

// ============================================================================
// 细粒度接口
// ============================================================================

// EvaluationSetStore 评测集存储接口
type EvaluationSetStore interface {
	// CreateEvaluationSet 名称重复时返回 ErrDuplicate
	CreateEvaluationSet(ctx context.Context, set *model.EvaluationSet) error
	// GetEvaluationSet 不存在时返回 nil, nil
	GetEvaluationSet(ctx context.Context, id string) (*model.EvaluationSet, error)
	GetEvaluationSetByName(ctx context.Context, name string) (*model.EvaluationSet, error)
	// ListEvaluationSets status 为空时返回全部，结果带 CorpusCount
	ListEvaluationSets(ctx context.Context, status model.EvaluationSetStatus) ([]*model.EvaluationSet, error)
	CountEvaluationSets(ctx context.Context, status model.EvaluationSetStatus) (int, error)
	UpdateEvaluationSetStatus(ctx context.Context, id string, status model.EvaluationSetStatus) error
	// DeleteEvaluationSet 级联删除语料、执行与结果，返回被删除的语料数
	DeleteEvaluationSet(ctx context.Context, id string) (int, error)
}

// CorpusStore 语料存储接口
type CorpusStore interface {
	// CreateCorpora 在单个事务内批量写入
	CreateCorpora(ctx context.Context, corpora []*model.Corpus) error
	// ListCorpora 按创建顺序 (seq, created_at) 返回评测集全部语料
	ListCorpora(ctx context.Context, setID string) ([]*model.Corpus, error)
	ListCorporaPage(ctx context.Context, setID string, offset, limit int) ([]*model.Corpus, error)
	CountCorpora(ctx context.Context, setID string) (int, error)
	CountAllCorpora(ctx context.Context) (int, error)
	// TopIntents 按出现次数降序返回前 limit 个非空意图
	TopIntents(ctx context.Context, setID string, limit int) ([]model.IntentCount, error)
}

// EvaluationRunStore 执行记录存储接口
type EvaluationRunStore interface {
	CreateEvaluationRun(ctx context.Context, run *model.EvaluationRun) error
	// GetEvaluationRun 不存在时返回 nil, nil
	GetEvaluationRun(ctx context.Context, id string) (*model.EvaluationRun, error)
	// UpdateEvaluationRunStatus 不存在时返回 ErrNotFound
	UpdateEvaluationRunStatus(ctx context.Context, id string, status model.RunStatus) error
	// FinishEvaluationRun 写入终态：status、end_time、duration、summary_metrics、version
	FinishEvaluationRun(ctx context.Context, run *model.EvaluationRun) error
	ListRecentEvaluationRuns(ctx context.Context, limit int) ([]*model.EvaluationRun, error)
	ListEvaluationRunsBySet(ctx context.Context, setID string, limit int) ([]*model.EvaluationRun, error)
}

// CorpusResultStore 语料结果存储接口
type CorpusResultStore interface {
	// CreateCorpusResult 同一 (run, corpus) 重复写入时返回 ErrDuplicate
	CreateCorpusResult(ctx context.Context, result *model.CorpusResult) error
	// ListCorpusResults 按 execution_order 升序返回
	ListCorpusResults(ctx context.Context, runID string) ([]*model.CorpusResult, error)
	CountCorpusResults(ctx context.Context, runID string) (int, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// PersistentStore 持久化存储组合接口
type PersistentStore interface {
	EvaluationSetStore
	CorpusStore
	EvaluationRunStore
	CorpusResultStore
	Close() error
}
