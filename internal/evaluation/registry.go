package evaluation

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// LiveRun 进程内正在执行的评测
type LiveRun struct {
	RunID             string
	EvaluationSetID   string
	EvaluationSetName string
	Total             int
	StartedAt         time.Time

	processed atomic.Int64
	cancelled atomic.Bool
}

// Cancelled 是否已请求取消
func (r *LiveRun) Cancelled() bool {
	return r.cancelled.Load()
}

// LiveRunInfo LiveRun 的只读视图
type LiveRunInfo struct {
	RunID             string    `json:"run_id"`
	EvaluationSetID   string    `json:"evaluation_set_id"`
	EvaluationSetName string    `json:"evaluation_set_name"`
	Processed         int       `json:"processed"`
	Total             int       `json:"total"`
	Cancelled         bool      `json:"cancelled"`
	StartedAt         time.Time `json:"started_at"`
}

// Registry 按 run_id 索引的进程内执行表
//
// 由 Launcher 在提交时登记、执行结束时移除；用于 /evaluations/live
// 和本地取消。跨进程的取消仍依赖运行快照中的 cancelled 标记。
type Registry struct {
	mu   sync.Mutex
	runs map[string]*LiveRun
}

// NewRegistry 创建执行表
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*LiveRun)}
}

// Add 登记执行
func (r *Registry) Add(run *LiveRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.RunID] = run
}

// Remove 移除执行
func (r *Registry) Remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// Get 查询执行，不存在时返回 nil
func (r *Registry) Get(runID string) *LiveRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[runID]
}

// Cancel 设置取消标记，返回执行是否存在
func (r *Registry) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return false
	}
	run.cancelled.Store(true)
	return true
}

// Len 当前执行数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// List 按开始时间返回全部执行
func (r *Registry) List() []LiveRunInfo {
	r.mu.Lock()
	out := make([]LiveRunInfo, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, LiveRunInfo{
			RunID:             run.RunID,
			EvaluationSetID:   run.EvaluationSetID,
			EvaluationSetName: run.EvaluationSetName,
			Processed:         int(run.processed.Load()),
			Total:             run.Total,
			Cancelled:         run.cancelled.Load(),
			StartedAt:         run.StartedAt,
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
