package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agent-eval/internal/agentapi"
	"agent-eval/internal/config"
	"agent-eval/internal/report"
	"agent-eval/internal/shared/cache"
	"agent-eval/internal/shared/eventbus"
	"agent-eval/internal/shared/model"
	"agent-eval/internal/shared/storage/dbutil"
	"agent-eval/internal/shared/storage/repository"
	"agent-eval/pkg/logging"
)

// ============================================================================
// 测试替身
// ============================================================================

// fakeAgent 按问题内容返回 "ans:{content}"，可按内容注入错误或阻塞
type fakeAgent struct {
	mu      sync.Mutex
	name    string
	infoErr error
	fail    map[string]error
	gate    chan struct{}
	started chan string
	calls   []string
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{name: "agent-v2", fail: map[string]error{}, started: make(chan string, 64)}
}

func (a *fakeAgent) FetchAgentInfo(ctx context.Context, credential string) (agentapi.AgentInfo, error) {
	if a.infoErr != nil {
		return nil, a.infoErr
	}
	return agentapi.AgentInfo{"name": a.name}, nil
}

func (a *fakeAgent) Query(ctx context.Context, credential, text string) (string, error) {
	a.mu.Lock()
	a.calls = append(a.calls, text)
	err := a.fail[text]
	gate := a.gate
	a.mu.Unlock()

	select {
	case a.started <- text:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "ans:" + text, nil
}

func (a *fakeAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type fakeJudge struct {
	text string
	err  error
}

func (j *fakeJudge) Score(ctx context.Context, input, actual, expected string) (string, error) {
	if j.err != nil {
		return "", j.err
	}
	return j.text, nil
}

// recordingBus 记录发布的事件
type recordingBus struct {
	mu     sync.Mutex
	events map[string][]*eventbus.RunEvent
}

func newRecordingBus() *recordingBus {
	return &recordingBus{events: map[string][]*eventbus.RunEvent{}}
}

func (b *recordingBus) PublishRunEvent(ctx context.Context, runID string, event *eventbus.RunEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[runID] = append(b.events[runID], event)
	return nil
}

func (b *recordingBus) GetRunEvents(ctx context.Context, runID string, count int64) ([]*eventbus.RunEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*eventbus.RunEvent(nil), b.events[runID]...), nil
}

func (b *recordingBus) GetRunEventCount(ctx context.Context, runID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.events[runID])), nil
}

func (b *recordingBus) DeleteRunEvents(ctx context.Context, runID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, runID)
	return nil
}

func (b *recordingBus) types(runID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, ev := range b.events[runID] {
		out = append(out, ev.Type)
	}
	return out
}

type fakeArchiver struct {
	mu   sync.Mutex
	runs map[string][]report.Row
}

func (a *fakeArchiver) Archive(ctx context.Context, run *model.EvaluationRun, rows []report.Row) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runs == nil {
		a.runs = map[string][]report.Row{}
	}
	a.runs[run.ID] = rows
	return nil
}

// failingCorporaStore 加载语料时失败
type failingCorporaStore struct {
	*repository.Store
}

func (s failingCorporaStore) ListCorpora(ctx context.Context, setID string) ([]*model.Corpus, error) {
	return nil, errors.New("disk on fire")
}

// ============================================================================
// fixture
// ============================================================================

type fixture struct {
	store  *repository.Store
	cache  *cache.MemoryCache
	agent  *fakeAgent
	judge  *fakeJudge
	events *recordingBus
	orch   *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := repository.Open(dbutil.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:  store,
		cache:  cache.NewMemoryCache(),
		agent:  newFakeAgent(),
		judge:  &fakeJudge{text: "得分: 4.5, 满分5"},
		events: newRecordingBus(),
	}
	f.orch = f.newOrchestrator(store, nil, config.EvaluationConfig{})
	return f
}

func (f *fixture) newOrchestrator(store Store, archiver Archiver, cfg config.EvaluationConfig) *Orchestrator {
	return NewOrchestrator(Deps{
		Store:    store,
		Cache:    f.cache,
		Events:   f.events,
		Agent:    f.agent,
		Judge:    f.judge,
		Archiver: archiver,
		Logger:   logging.Discard(),
	}, cfg)
}

func (f *fixture) newLauncher(t *testing.T, size int) *Launcher {
	t.Helper()
	l, err := NewLauncher(f.orch, size)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close(5 * time.Second) })
	return l
}

// seed 创建评测集（n 条语料）与一条 running 执行，返回 run_id
func (f *fixture) seed(t *testing.T, setID string, n int) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, f.store.CreateEvaluationSet(ctx, &model.EvaluationSet{
		ID: setID, Name: "set " + setID, Status: model.EvaluationSetActive, CreatedAt: now,
	}))
	corpora := make([]*model.Corpus, 0, n)
	for i := 1; i <= n; i++ {
		expected := fmt.Sprintf("%s expected %d", setID, i)
		corpora = append(corpora, &model.Corpus{
			ID:               fmt.Sprintf("%s-c%02d", setID, i),
			EvaluationSetID:  setID,
			Seq:              i,
			Content:          fmt.Sprintf("%s question %d", setID, i),
			ExpectedResponse: &expected,
			CreatedAt:        now,
		})
	}
	if n > 0 {
		require.NoError(t, f.store.CreateCorpora(ctx, corpora))
	}

	runID := "run-" + setID
	require.NoError(t, f.store.CreateEvaluationRun(ctx, &model.EvaluationRun{
		ID:              runID,
		EvaluationSetID: setID,
		RunName:         "Run 1.0",
		StartTime:       now,
		Status:          model.RunStatusRunning,
		Config:          model.NewRunConfig("app-key"),
		Version:         model.DefaultVersion,
	}))
	return runID
}

func (f *fixture) snapshot(t *testing.T, runID string) *cache.RunStatus {
	t.Helper()
	s, err := f.cache.GetRunStatus(context.Background(), runID)
	require.NoError(t, err)
	return s
}

// waitTerminal 等待快照进入终态
func (f *fixture) waitTerminal(t *testing.T, runID string) *cache.RunStatus {
	t.Helper()
	var s *cache.RunStatus
	require.Eventually(t, func() bool {
		s = f.snapshot(t, runID)
		return s != nil && s.Status.IsTerminal() && s.EndTime != nil
	}, 5*time.Second, 10*time.Millisecond)
	return s
}

func (f *fixture) summary(t *testing.T, runID string) (*model.EvaluationRun, map[string]interface{}) {
	t.Helper()
	run, err := f.store.GetEvaluationRun(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	m := map[string]interface{}{}
	if len(run.SummaryMetrics) > 0 {
		require.NoError(t, jsonUnmarshal(run.SummaryMetrics, &m))
	}
	return run, m
}
