// Package evaluation 评测执行编排
//
// 每次执行（EvaluationRun）由一个执行体独占，生命周期：
//
//	created → running → success / failed / cancelled
//
// 两个阶段：
//   - Prepare（同步，在触发请求内完成）：发布初始快照，加载评测集与语料，
//     标记 running，发布带 total 的快照
//   - Execute（异步，在 Launcher 的协程池中）：解析 Agent 版本，逐条语料
//     Query → Score → 持久化结果 → 发布进度，最后写入终态
//
// 单次执行内严格串行；多次执行之间完全并行，只共享运行快照存储（按 run_id 隔离）。
// 单条语料失败记为 failed 结果后继续；只有初始化阶段的失败会让整次执行失败。
// 取消是协作式的：每条语料开始前检查取消标记，不中断进行中的调用。
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"agent-eval/internal/agentapi"
	"agent-eval/internal/config"
	"agent-eval/internal/report"
	"agent-eval/internal/shared/cache"
	"agent-eval/internal/shared/eventbus"
	"agent-eval/internal/shared/model"
	"agent-eval/internal/shared/storage"
	"agent-eval/pkg/logging"
)

var (
	// ErrRunNotFound 执行记录不存在
	ErrRunNotFound = errors.New("evaluation run not found")
	// ErrSetNotFound 评测集不存在
	ErrSetNotFound = errors.New("evaluation set not found")
)

// ============================================================================
// 依赖接口
// ============================================================================

// AgentClient 被测 Agent
type AgentClient interface {
	FetchAgentInfo(ctx context.Context, credential string) (agentapi.AgentInfo, error)
	Query(ctx context.Context, credential, text string) (string, error)
}

// Scorer 评分服务
type Scorer interface {
	Score(ctx context.Context, input, actual, expected string) (string, error)
}

// Store 编排需要的持久化接口
type Store interface {
	GetEvaluationSet(ctx context.Context, id string) (*model.EvaluationSet, error)
	ListCorpora(ctx context.Context, setID string) ([]*model.Corpus, error)
	GetEvaluationRun(ctx context.Context, id string) (*model.EvaluationRun, error)
	UpdateEvaluationRunStatus(ctx context.Context, id string, status model.RunStatus) error
	FinishEvaluationRun(ctx context.Context, run *model.EvaluationRun) error
	CreateCorpusResult(ctx context.Context, result *model.CorpusResult) error
}

// Archiver 终态结果归档
type Archiver interface {
	Archive(ctx context.Context, run *model.EvaluationRun, rows []report.Row) error
}

// Deps 编排器依赖
//
// Events、Archiver 可为 nil；Registry、Metrics、Logger 为 nil 时使用默认实例。
type Deps struct {
	Store    Store
	Cache    cache.RunStatusCache
	Events   eventbus.RunEventBus
	Agent    AgentClient
	Judge    Scorer
	Archiver Archiver
	Registry *Registry
	Metrics  *Metrics
	Logger   *logging.Logger
}

// ============================================================================
// Orchestrator
// ============================================================================

// Orchestrator 评测编排器
type Orchestrator struct {
	store    Store
	cache    cache.RunStatusCache
	events   eventbus.RunEventBus
	agent    AgentClient
	judge    Scorer
	archiver Archiver
	registry *Registry
	metrics  *Metrics
	logger   *logging.Logger

	cfg config.EvaluationConfig
	now func() time.Time
}

// NewOrchestrator 创建编排器
func NewOrchestrator(d Deps, cfg config.EvaluationConfig) *Orchestrator {
	o := &Orchestrator{
		store:    d.Store,
		cache:    d.Cache,
		events:   d.Events,
		agent:    d.Agent,
		judge:    d.Judge,
		archiver: d.Archiver,
		registry: d.Registry,
		metrics:  d.Metrics,
		logger:   d.Logger,
		cfg:      cfg,
		now:      time.Now,
	}
	if o.events == nil {
		o.events = eventbus.NewNoOpEventBus()
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if o.logger == nil {
		o.logger = logging.Default("evaluation")
	}
	if o.cfg.DefaultVersion == "" {
		o.cfg.DefaultVersion = model.DefaultVersion
	}
	if o.cfg.ActiveTTL <= 0 {
		o.cfg.ActiveTTL = cache.TTLRunActive
	}
	if o.cfg.TerminalTTL <= 0 {
		o.cfg.TerminalTTL = cache.TTLRunTerminal
	}
	return o
}

// Registry 返回进程内执行表
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// DefaultVersion 无法获取 Agent 版本时使用的版本号
func (o *Orchestrator) DefaultVersion() string {
	return o.cfg.DefaultVersion
}

// Execution 一次执行的状态，只由其执行体访问
type Execution struct {
	runID      string
	credential string
	startTime  time.Time

	run     *model.EvaluationRun
	set     *model.EvaluationSet
	corpora []*model.Corpus
	version string
	live    *LiveRun

	rows         []cache.ResultRow
	results      []*model.CorpusResult
	processed    int
	successCount int
	scoreSum     float64
	cancelled    bool
	seq          int

	logger *logging.Logger
}

// RunID 执行 ID
func (e *Execution) RunID() string {
	return e.runID
}

// Total 语料总数
func (e *Execution) Total() int {
	return len(e.corpora)
}

func (e *Execution) nextSeq() int {
	e.seq++
	return e.seq
}

// snapshot 以执行体的本地状态构造完整快照
func (e *Execution) snapshot(status cache.SnapshotStatus) *cache.RunStatus {
	s := &cache.RunStatus{
		Status:      status,
		Processed:   e.processed,
		Total:       len(e.corpora),
		Data:        e.rows,
		CorpusCount: len(e.corpora),
		Version:     e.version,
		StartTime:   e.startTime,
	}
	if s.Data == nil {
		s.Data = []cache.ResultRow{}
	}
	if e.set != nil {
		s.EvaluationSetID = e.set.ID
		s.EvaluationSetName = e.set.Name
	}
	return s
}

// ============================================================================
// Prepare：初始化阶段
// ============================================================================

// Prepare 初始化一次执行
//
// 返回时运行快照已是 processing、processed=0、total=语料数。
// 任一步骤失败时执行被标记为 failed 并发布终态快照，同时返回错误。
func (o *Orchestrator) Prepare(ctx context.Context, runID, credential string) (*Execution, error) {
	exec := &Execution{
		runID:      runID,
		credential: credential,
		startTime:  o.now().UTC(),
		version:    o.cfg.DefaultVersion,
		logger:     o.logger.WithRunID(runID),
	}

	if err := o.cache.SetRunStatus(ctx, runID, exec.snapshot(cache.StatusProcessing), o.cfg.ActiveTTL); err != nil {
		exec.logger.WithError(err).Warn("Publish initial run status failed")
	}

	if err := o.load(ctx, exec); err != nil {
		o.fail(ctx, exec, err)
		return nil, err
	}

	exec.live = &LiveRun{
		RunID:             runID,
		EvaluationSetID:   exec.set.ID,
		EvaluationSetName: exec.set.Name,
		Total:             len(exec.corpora),
		StartedAt:         exec.startTime,
	}
	o.publishProgress(ctx, exec, cache.StatusProcessing)

	exec.logger.Info("Evaluation run prepared",
		"evaluation_set_id", exec.set.ID, "total", len(exec.corpora))
	return exec, nil
}

func (o *Orchestrator) load(ctx context.Context, exec *Execution) error {
	run, err := o.store.GetEvaluationRun(ctx, exec.runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("%w: %s", ErrRunNotFound, exec.runID)
	}
	exec.run = run
	if run.Version != "" {
		exec.version = run.Version
	}
	if !run.StartTime.IsZero() {
		exec.startTime = run.StartTime.UTC()
	}

	set, err := o.store.GetEvaluationSet(ctx, run.EvaluationSetID)
	if err != nil {
		return fmt.Errorf("load evaluation set: %w", err)
	}
	if set == nil {
		return fmt.Errorf("%w: %s", ErrSetNotFound, run.EvaluationSetID)
	}
	exec.set = set
	exec.logger = exec.logger.WithSetID(set.ID)

	corpora, err := o.store.ListCorpora(ctx, set.ID)
	if err != nil {
		return fmt.Errorf("load corpora: %w", err)
	}
	exec.corpora = corpora

	if err := o.store.UpdateEvaluationRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	run.Status = model.RunStatusRunning
	return nil
}

// ============================================================================
// Execute：逐条执行
// ============================================================================

// Execute 执行全部语料直到完成、取消或失败
func (o *Orchestrator) Execute(ctx context.Context, exec *Execution) {
	o.metrics.RunsActive.Inc()
	defer o.metrics.RunsActive.Dec()

	defer func() {
		if r := recover(); r != nil {
			o.fail(ctx, exec, fmt.Errorf("panic during execution: %v", r))
		}
	}()

	o.emit(ctx, exec, eventbus.EventRunStarted, map[string]interface{}{
		"evaluation_set_id": exec.set.ID,
		"total":             len(exec.corpora),
	})

	exec.version = o.resolveVersion(ctx, exec)

	for i, corpus := range exec.corpora {
		if o.cancelRequested(ctx, exec) {
			exec.cancelled = true
			break
		}
		o.runCase(ctx, exec, i+1, corpus)
	}
	// 最后一条已派发后才到达的取消不改变结果：全部语料已执行即为 success

	o.finish(ctx, exec)
}

// resolveVersion 取 Agent 自报名称作为版本号，失败时使用默认值
func (o *Orchestrator) resolveVersion(ctx context.Context, exec *Execution) string {
	info, err := o.agent.FetchAgentInfo(ctx, exec.credential)
	if err != nil {
		exec.logger.WithError(err).Warn("Fetch agent info failed, using default version",
			"version", o.cfg.DefaultVersion)
		return o.cfg.DefaultVersion
	}
	return info.Name(o.cfg.DefaultVersion)
}

// cancelRequested 检查本地标记、上下文和运行快照中的取消标记
func (o *Orchestrator) cancelRequested(ctx context.Context, exec *Execution) bool {
	if exec.live.Cancelled() {
		return true
	}
	if ctx.Err() != nil {
		exec.live.cancelled.Store(true)
		return true
	}
	cur, err := o.cache.GetRunStatus(ctx, exec.runID)
	if err != nil {
		exec.logger.WithError(err).Warn("Read run status failed")
		return false
	}
	if cur != nil && cur.Cancelled {
		exec.live.cancelled.Store(true)
		return true
	}
	return false
}

// runCase 执行单条语料并发布进度
func (o *Orchestrator) runCase(ctx context.Context, exec *Execution, order int, corpus *model.Corpus) {
	start := time.Now()
	answer, score, err := o.evaluateCase(ctx, exec.credential, corpus)
	elapsed := time.Since(start)

	result := &model.CorpusResult{
		ID:              uuid.NewString(),
		EvaluationRunID: exec.runID,
		CorpusID:        corpus.ID,
		Version:         exec.version,
		ExecutionOrder:  order,
		CreatedAt:       o.now().UTC(),
	}
	row := cache.ResultRow{
		CorpusID:         corpus.ID,
		ExecutionOrder:   order,
		Content:          corpus.Content,
		ExpectedResponse: corpus.Expected(),
		CorpusType:       corpus.IntentLabel(),
		CreatedAt:        result.CreatedAt,
		Version:          exec.version,
	}

	if err == nil {
		result.Status = model.CorpusResultSuccess
		result.ActualResponse = answer
		result.Score = &score
		exec.successCount++
		exec.scoreSum += score
		row.ActualResponse = answer
		row.Score = &score
	} else {
		msg := err.Error()
		result.Status = model.CorpusResultFailed
		result.ErrorMsg = &msg
		row.Error = msg
	}
	row.Status = string(result.Status)

	if perr := o.store.CreateCorpusResult(ctx, result); perr != nil {
		if errors.Is(perr, storage.ErrDuplicate) {
			exec.logger.WithError(perr).Error("Duplicate corpus result, skipping",
				"corpus_id", corpus.ID, "execution_order", order)
		} else {
			exec.logger.WithError(perr).Error("Persist corpus result failed",
				"corpus_id", corpus.ID, "execution_order", order)
		}
	}

	exec.results = append(exec.results, result)
	exec.rows = append(exec.rows, row)
	exec.processed++
	exec.live.processed.Store(int64(exec.processed))

	o.publishProgress(ctx, exec, cache.StatusProcessing)

	eventType := eventbus.EventCaseCompleted
	payload := map[string]interface{}{
		"corpus_id":       corpus.ID,
		"execution_order": order,
		"processed":       exec.processed,
		"total":           len(exec.corpora),
	}
	if err != nil {
		eventType = eventbus.EventCaseFailed
		payload["error"] = err.Error()
	} else {
		payload["score"] = score
	}
	o.emit(ctx, exec, eventType, payload)

	o.metrics.RecordCase(string(result.Status), elapsed)
	o.logger.CaseLog(exec.runID, corpus.ID, order, string(result.Status), elapsed, err)
}

// evaluateCase Query + Score，任一步失败都返回错误
func (o *Orchestrator) evaluateCase(ctx context.Context, credential string, corpus *model.Corpus) (string, float64, error) {
	answer, err := o.agent.Query(ctx, credential, corpus.Content)
	if err != nil {
		return "", 0, fmt.Errorf("query agent: %w", err)
	}
	text, err := o.judge.Score(ctx, corpus.Content, answer, corpus.Expected())
	if err != nil {
		return "", 0, fmt.Errorf("score answer: %w", err)
	}
	return answer, ExtractScore(text), nil
}

// publishProgress 发布执行中快照，保留并发写入的取消标记
func (o *Orchestrator) publishProgress(ctx context.Context, exec *Execution, status cache.SnapshotStatus) {
	err := o.cache.UpdateRunStatus(ctx, exec.runID, o.cfg.ActiveTTL, func(cur *cache.RunStatus) (*cache.RunStatus, error) {
		s := exec.snapshot(status)
		if cur != nil && cur.Cancelled {
			s.Cancelled = true
			s.Status = cache.StatusCancelled
			if exec.live != nil {
				exec.live.cancelled.Store(true)
			}
		}
		return s, nil
	})
	if err != nil {
		exec.logger.WithError(err).Warn("Publish run status failed")
	}
}

// ============================================================================
// 终态
// ============================================================================

// finish 写入 success 或 cancelled 终态
func (o *Orchestrator) finish(ctx context.Context, exec *Execution) {
	ctx = context.WithoutCancel(ctx)
	end := o.now().UTC()
	duration := roundTo(end.Sub(exec.startTime).Seconds(), 3)

	runStatus := model.RunStatusSuccess
	snapStatus := cache.StatusCompleted
	eventType := eventbus.EventRunCompleted
	if exec.cancelled {
		runStatus = model.RunStatusCancelled
		snapStatus = cache.StatusCancelled
		eventType = eventbus.EventRunCancelled
	}

	summary := model.SummaryMetrics{
		TotalProcessed: exec.processed,
		SuccessCount:   exec.successCount,
		FailedCount:    exec.processed - exec.successCount,
		Cancelled:      exec.cancelled,
	}
	if exec.successCount > 0 {
		avg := roundTo(exec.scoreSum/float64(exec.successCount), 2)
		summary.AverageScore = &avg
	}

	run := exec.run
	run.Status = runStatus
	run.EndTime = &end
	run.Duration = &duration
	run.SummaryMetrics = summary.Raw()
	run.Version = exec.version
	run.EvaluationSetName = exec.set.Name
	if err := o.store.FinishEvaluationRun(ctx, run); err != nil {
		exec.logger.WithError(err).Error("Persist run outcome failed", "status", runStatus)
	}

	err := o.cache.UpdateRunStatus(ctx, exec.runID, o.cfg.TerminalTTL, func(cur *cache.RunStatus) (*cache.RunStatus, error) {
		s := exec.snapshot(snapStatus)
		s.EndTime = &end
		s.Cancelled = exec.cancelled
		return s, nil
	})
	if err != nil {
		exec.logger.WithError(err).Warn("Publish terminal run status failed")
	}

	o.emit(ctx, exec, eventType, map[string]interface{}{
		"total_processed": summary.TotalProcessed,
		"success_count":   summary.SuccessCount,
		"failed_count":    summary.FailedCount,
		"duration":        duration,
	})

	o.archive(ctx, exec)

	o.metrics.RecordRunFinished(string(runStatus), end.Sub(exec.startTime))
	exec.logger.WithDuration(end.Sub(exec.startTime)).Info("Evaluation run finished",
		"status", runStatus, "processed", exec.processed, "success", exec.successCount)
}

// Fail 将执行标记为 failed 并发布终态快照
func (o *Orchestrator) Fail(ctx context.Context, exec *Execution, cause error) {
	o.fail(ctx, exec, cause)
}

func (o *Orchestrator) fail(ctx context.Context, exec *Execution, cause error) {
	ctx = context.WithoutCancel(ctx)
	end := o.now().UTC()
	duration := roundTo(end.Sub(exec.startTime).Seconds(), 3)

	run := exec.run
	if run == nil {
		run = &model.EvaluationRun{ID: exec.runID}
	}
	run.Status = model.RunStatusFailed
	run.EndTime = &end
	run.Duration = &duration
	run.Version = exec.version

	summary := model.SummaryMetrics{Error: cause.Error()}
	if exec.processed > 0 {
		summary.TotalProcessed = exec.processed
		summary.SuccessCount = exec.successCount
		summary.FailedCount = exec.processed - exec.successCount
	}
	run.SummaryMetrics = summary.Raw()

	if err := o.store.FinishEvaluationRun(ctx, run); err != nil {
		exec.logger.WithError(err).Error("Persist failed run outcome failed")
	}

	err := o.cache.UpdateRunStatus(ctx, exec.runID, o.cfg.TerminalTTL, func(cur *cache.RunStatus) (*cache.RunStatus, error) {
		s := exec.snapshot(cache.StatusFailed)
		s.Error = cause.Error()
		s.EndTime = &end
		if cur != nil {
			s.Cancelled = cur.Cancelled
		}
		return s, nil
	})
	if err != nil {
		exec.logger.WithError(err).Warn("Publish failed run status failed")
	}

	o.emit(ctx, exec, eventbus.EventRunFailed, map[string]interface{}{"error": cause.Error()})
	o.metrics.RecordRunFinished(string(model.RunStatusFailed), end.Sub(exec.startTime))
	exec.logger.WithError(cause).Error("Evaluation run failed")
}

// archive 上传结果表格（未配置对象存储或未开启归档时跳过）
func (o *Orchestrator) archive(ctx context.Context, exec *Execution) {
	if o.archiver == nil || !o.cfg.ArchiveResults {
		return
	}
	rows := report.Rows(exec.results, exec.corpora)
	if err := o.archiver.Archive(ctx, exec.run, rows); err != nil {
		exec.logger.WithError(err).Warn("Archive run results failed")
		return
	}
	exec.logger.Info("Run results archived")
}

// emit 发布执行事件，失败只记日志
func (o *Orchestrator) emit(ctx context.Context, exec *Execution, eventType string, payload map[string]interface{}) {
	ev := &eventbus.RunEvent{
		ID:        uuid.NewString(),
		RunID:     exec.runID,
		Seq:       exec.nextSeq(),
		Type:      eventType,
		Timestamp: o.now().UTC(),
		Payload:   payload,
	}
	if err := o.events.PublishRunEvent(ctx, exec.runID, ev); err != nil {
		exec.logger.WithError(err).Warn("Publish run event failed", "type", eventType)
	}
}

// ============================================================================
// 取消
// ============================================================================

// Cancel 请求取消一次执行
//
// 快照存在且未结束时置 cancelled 标记与状态并重新发布；快照已是终态时不做修改。
// 快照与本地执行表都不存在时返回 false，且不产生任何写入。
func (o *Orchestrator) Cancel(ctx context.Context, runID string) (bool, error) {
	local := o.registry.Cancel(runID)

	found := false
	err := o.cache.UpdateRunStatus(ctx, runID, o.cfg.ActiveTTL, func(cur *cache.RunStatus) (*cache.RunStatus, error) {
		found = cur != nil
		if cur == nil || cur.Status.IsTerminal() {
			return nil, nil
		}
		cur.Cancelled = true
		cur.Status = cache.StatusCancelled
		return cur, nil
	})
	if err != nil {
		return local, fmt.Errorf("update run status: %w", err)
	}
	return found || local, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
