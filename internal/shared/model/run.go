// Package model 定义核心数据模型
//
// run.go 包含评测执行相关的数据模型定义：
//   - EvaluationRun：评测集的单次执行记录
//   - RunStatus：执行状态枚举
//   - CorpusResult：单条语料在某次执行中的结果
package model

import (
	"encoding/json"
	"time"
)

// DefaultVersion 无法获取 Agent 自报版本时使用的默认版本号
const DefaultVersion = "1.0"

// ============================================================================
// RunStatus - 执行状态
// ============================================================================

// RunStatus 评测执行状态
//
// 生命周期：
//
//	创建 → running → success / failed / cancelled
//
// 终态不可再变更。cancelled 表示用户请求取消后循环在语料边界停止，
// 已完成的结果保留。
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal 是否为终态
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// ============================================================================
// EvaluationRun - 执行记录
// ============================================================================

// EvaluationRun 评测集的一次执行
//
// 触发时以 running 状态创建，此后只由其所属的编排执行体修改，核心流程从不删除。
// Config 至少包含本次使用的凭据（api_key）；SummaryMetrics 在终态时写入。
type EvaluationRun struct {
	ID              string          `json:"id" db:"id"`
	EvaluationSetID string          `json:"evaluation_set_id" db:"evaluation_set_id"`
	RunName         string          `json:"run_name,omitempty" db:"run_name"`
	StartTime       time.Time       `json:"start_time" db:"start_time"`
	EndTime         *time.Time      `json:"end_time,omitempty" db:"end_time"`
	Duration        *float64        `json:"duration,omitempty" db:"duration"` // 秒，保留 3 位小数
	Status          RunStatus       `json:"status" db:"status"`
	Config          json.RawMessage `json:"config,omitempty" db:"config"`
	SummaryMetrics  json.RawMessage `json:"summary_metrics,omitempty" db:"summary_metrics"`
	Version         string          `json:"version" db:"version"`

	// EvaluationSetName 所属评测集名称（列表查询时关联填充）
	EvaluationSetName string `json:"evaluation_set_name,omitempty" db:"-"`
}

// RunConfig 执行配置
type RunConfig struct {
	APIKey string `json:"api_key"`
}

// NewRunConfig 序列化执行配置
func NewRunConfig(apiKey string) json.RawMessage {
	b, _ := json.Marshal(RunConfig{APIKey: apiKey})
	return b
}

// ParseConfig 解析执行配置
func (r *EvaluationRun) ParseConfig() (RunConfig, error) {
	var cfg RunConfig
	if len(r.Config) == 0 {
		return cfg, nil
	}
	err := json.Unmarshal(r.Config, &cfg)
	return cfg, err
}

// SummaryMetrics 执行汇总指标
//
// 成功、取消时填充计数字段；初始化阶段失败时只有 Error。
type SummaryMetrics struct {
	TotalProcessed int      `json:"total_processed"`
	SuccessCount   int      `json:"success_count"`
	FailedCount    int      `json:"failed_count"`
	AverageScore   *float64 `json:"average_score,omitempty"`
	Cancelled      bool     `json:"cancelled,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// Raw 序列化为 JSON
func (m SummaryMetrics) Raw() json.RawMessage {
	if m.Error != "" && m.TotalProcessed == 0 && m.SuccessCount == 0 {
		b, _ := json.Marshal(map[string]string{"error": m.Error})
		return b
	}
	b, _ := json.Marshal(m)
	return b
}

// ============================================================================
// CorpusResult - 单条语料结果
// ============================================================================

// CorpusResultStatus 单条语料执行状态
type CorpusResultStatus string

const (
	CorpusResultSuccess CorpusResultStatus = "success"
	CorpusResultFailed  CorpusResultStatus = "failed"
)

// CorpusResult 单条语料在某次执行中的结果
//
// 每个 (EvaluationRunID, CorpusID) 至多一条；创建后不再修改，
// 失败以 failed 记录终结而不是重试。
type CorpusResult struct {
	ID              string             `json:"id" db:"id"`
	EvaluationRunID string             `json:"evaluation_run_id" db:"evaluation_run_id"`
	CorpusID        string             `json:"corpus_id" db:"corpus_id"`
	ActualResponse  string             `json:"actual_response" db:"actual_response"`
	Score           *float64           `json:"score,omitempty" db:"score"`
	Status          CorpusResultStatus `json:"status" db:"status"`
	ErrorMsg        *string            `json:"error_msg,omitempty" db:"error_msg"`
	Version         string             `json:"version" db:"version"`
	ExecutionOrder  int                `json:"execution_order" db:"execution_order"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
}
