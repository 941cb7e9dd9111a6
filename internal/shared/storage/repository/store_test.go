// Package repository SQLite 集成测试
//
// 使用 SQLite 内存数据库验证 repository 层所有存储接口的正确性。
// 无需外部数据库依赖，可在任何环境下运行。
package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"agent-eval/internal/shared/model"
	"agent-eval/internal/shared/storage"
	"agent-eval/internal/shared/storage/dbutil"
	sqlitedriver "agent-eval/internal/shared/storage/driver/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore 创建用于测试的 SQLite 内存数据库 Store
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(dbutil.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

// seedSet 创建评测集及 n 条语料
func seedSet(t *testing.T, s *Store, id, name string, n int) *model.EvaluationSet {
	t.Helper()
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	set := &model.EvaluationSet{ID: id, Name: name, Status: model.EvaluationSetActive, CreatedAt: now}
	require.NoError(t, s.CreateEvaluationSet(ctx, set))

	corpora := make([]*model.Corpus, 0, n)
	for i := 1; i <= n; i++ {
		corpora = append(corpora, &model.Corpus{
			ID:               fmt.Sprintf("%s-c%02d", id, i),
			EvaluationSetID:  id,
			Seq:              i,
			Content:          fmt.Sprintf("question %d", i),
			ExpectedResponse: strPtr(fmt.Sprintf("answer %d", i)),
			CreatedAt:        now,
		})
	}
	require.NoError(t, s.CreateCorpora(ctx, corpora))
	return set
}

func seedRun(t *testing.T, s *Store, id, setID string, start time.Time) *model.EvaluationRun {
	t.Helper()
	run := &model.EvaluationRun{
		ID:              id,
		EvaluationSetID: setID,
		RunName:         "Run 1.0",
		StartTime:       start,
		Status:          model.RunStatusRunning,
		Config:          model.NewRunConfig("key-1"),
		Version:         model.DefaultVersion,
	}
	require.NoError(t, s.CreateEvaluationRun(context.Background(), run))
	return run
}

// ============================================================================
// Dialect 基础测试
// ============================================================================

func TestDialectTypes(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, dbutil.DriverSQLite, d.DriverType())
	assert.Equal(t, "datetime('now')", d.CurrentTimestamp())
	assert.False(t, d.IsUniqueViolation(nil))
	assert.True(t, d.IsUniqueViolation(fmt.Errorf("constraint failed: UNIQUE constraint failed: evaluation_sets.name (2067)")))
}

func TestRebind(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, "SELECT * FROM t WHERE id = ? AND name = ?",
		d.Rebind("SELECT * FROM t WHERE id = $1 AND name = $2"))
	// 应去除 PG 类型转换
	assert.Equal(t, "UPDATE t SET status = ? WHERE id = ?",
		d.Rebind("UPDATE t SET status = $1::varchar WHERE id = $2"))
	assert.Equal(t, "$3, $4", dbutil.PlaceholderList(3, 2))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(dbutil.DriverType("mongodb"), "x")
	require.Error(t, err)
}

// ============================================================================
// EvaluationSet 测试
// ============================================================================

func TestEvaluationSetCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	set := seedSet(t, s, "set-1", "billing", 3)

	got, err := s.GetEvaluationSet(ctx, set.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "billing", got.Name)
	assert.Equal(t, model.EvaluationSetActive, got.Status)
	assert.True(t, got.CreatedAt.Equal(set.CreatedAt))

	byName, err := s.GetEvaluationSetByName(ctx, "billing")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, set.ID, byName.ID)

	missing, err := s.GetEvaluationSet(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := s.ListEvaluationSets(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].CorpusCount)

	require.NoError(t, s.UpdateEvaluationSetStatus(ctx, set.ID, model.EvaluationSetInactive))
	active, err := s.ListEvaluationSets(ctx, model.EvaluationSetActive)
	require.NoError(t, err)
	assert.Empty(t, active)

	n, err := s.CountEvaluationSets(ctx, model.EvaluationSetInactive)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, s.UpdateEvaluationSetStatus(ctx, "nope", model.EvaluationSetActive), storage.ErrNotFound)
}

func TestEvaluationSetDuplicateName(t *testing.T) {
	s := newTestStore(t)
	seedSet(t, s, "set-1", "billing", 0)

	err := s.CreateEvaluationSet(context.Background(), &model.EvaluationSet{
		ID: "set-2", Name: "billing", Status: model.EvaluationSetActive, CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestDeleteEvaluationSetCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	set := seedSet(t, s, "set-1", "billing", 2)
	run := seedRun(t, s, "run-1", set.ID, time.Now())
	require.NoError(t, s.CreateCorpusResult(ctx, &model.CorpusResult{
		ID: "res-1", EvaluationRunID: run.ID, CorpusID: "set-1-c01",
		Status: model.CorpusResultSuccess, Version: "1.0", ExecutionOrder: 1, CreatedAt: time.Now(),
	}))

	deleted, err := s.DeleteEvaluationSet(ctx, set.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	total, err := s.CountAllCorpora(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)

	gotRun, err := s.GetEvaluationRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, gotRun)

	results, err := s.CountCorpusResults(ctx, run.ID)
	require.NoError(t, err)
	assert.Zero(t, results)

	_, err = s.DeleteEvaluationSet(ctx, set.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// ============================================================================
// Corpus 测试
// ============================================================================

func TestCorporaOrderingAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	set := seedSet(t, s, "set-1", "billing", 12)

	all, err := s.ListCorpora(ctx, set.ID)
	require.NoError(t, err)
	require.Len(t, all, 12)
	for i, c := range all {
		assert.Equal(t, i+1, c.Seq)
	}
	assert.Equal(t, "answer 1", all[0].Expected())
	assert.Nil(t, all[0].Intent)

	page2, err := s.ListCorporaPage(ctx, set.ID, 10, 10)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, 11, page2[0].Seq)

	n, err := s.CountCorpora(ctx, set.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestTopIntents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.CreateEvaluationSet(ctx, &model.EvaluationSet{
		ID: "set-1", Name: "intents", Status: model.EvaluationSetActive, CreatedAt: now,
	}))

	intents := []string{"refund", "refund", "refund", "balance", "balance", "plan", "", "a", "b", "c"}
	var corpora []*model.Corpus
	for i, in := range intents {
		c := &model.Corpus{ID: fmt.Sprintf("c%d", i), EvaluationSetID: "set-1", Seq: i + 1, Content: "q", CreatedAt: now}
		if in != "" {
			c.Intent = strPtr(in)
		}
		corpora = append(corpora, c)
	}
	require.NoError(t, s.CreateCorpora(ctx, corpora))

	top, err := s.TopIntents(ctx, "set-1", 5)
	require.NoError(t, err)
	require.Len(t, top, 5)
	assert.Equal(t, model.IntentCount{Intent: "refund", Count: 3}, top[0])
	assert.Equal(t, model.IntentCount{Intent: "balance", Count: 2}, top[1])
}

func TestCreateCorporaRollsBackOnDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSet(t, s, "set-1", "billing", 0)

	now := time.Now()
	err := s.CreateCorpora(ctx, []*model.Corpus{
		{ID: "dup", EvaluationSetID: "set-1", Seq: 1, Content: "a", CreatedAt: now},
		{ID: "dup", EvaluationSetID: "set-1", Seq: 2, Content: "b", CreatedAt: now},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	n, err := s.CountCorpora(ctx, "set-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

// ============================================================================
// EvaluationRun 测试
// ============================================================================

func TestEvaluationRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	set := seedSet(t, s, "set-1", "billing", 1)
	start := time.Now().Truncate(time.Second)
	run := seedRun(t, s, "run-1", set.ID, start)

	got, err := s.GetEvaluationRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Equal(t, "billing", got.EvaluationSetName)
	assert.Nil(t, got.EndTime)
	assert.Nil(t, got.SummaryMetrics)
	cfg, err := got.ParseConfig()
	require.NoError(t, err)
	assert.Equal(t, "key-1", cfg.APIKey)

	end := start.Add(2 * time.Second)
	run.Status = model.RunStatusSuccess
	run.EndTime = &end
	run.Duration = floatPtr(2.0)
	run.SummaryMetrics = model.SummaryMetrics{TotalProcessed: 1, SuccessCount: 1}.Raw()
	run.Version = "agent-v2"
	require.NoError(t, s.FinishEvaluationRun(ctx, run))

	got, err = s.GetEvaluationRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, got.Status)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(end))
	require.NotNil(t, got.Duration)
	assert.InDelta(t, 2.0, *got.Duration, 0.001)
	assert.JSONEq(t, `{"total_processed":1,"success_count":1,"failed_count":0}`, string(got.SummaryMetrics))
	assert.Equal(t, "agent-v2", got.Version)

	// 终态不可再变更
	run.Status = model.RunStatusFailed
	assert.ErrorIs(t, s.FinishEvaluationRun(ctx, run), storage.ErrConflict)

	missing := &model.EvaluationRun{ID: "nope", Status: model.RunStatusFailed}
	assert.ErrorIs(t, s.FinishEvaluationRun(ctx, missing), storage.ErrNotFound)
}

func TestListEvaluationRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedSet(t, s, "set-a", "a", 0)
	b := seedSet(t, s, "set-b", "b", 0)
	base := time.Now().Truncate(time.Second)
	seedRun(t, s, "run-1", a.ID, base)
	seedRun(t, s, "run-2", b.ID, base.Add(time.Second))
	seedRun(t, s, "run-3", a.ID, base.Add(2*time.Second))

	recent, err := s.ListRecentEvaluationRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "run-3", recent[0].ID)
	assert.Equal(t, "run-2", recent[1].ID)
	assert.Equal(t, "b", recent[1].EvaluationSetName)

	bySet, err := s.ListEvaluationRunsBySet(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, bySet, 2)
	assert.Equal(t, "run-3", bySet[0].ID)
}

// ============================================================================
// CorpusResult 测试
// ============================================================================

func TestCorpusResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	set := seedSet(t, s, "set-1", "billing", 2)
	run := seedRun(t, s, "run-1", set.ID, time.Now())
	now := time.Now()

	require.NoError(t, s.CreateCorpusResult(ctx, &model.CorpusResult{
		ID: "res-2", EvaluationRunID: run.ID, CorpusID: "set-1-c02",
		Status: model.CorpusResultFailed, ErrorMsg: strPtr("timeout"),
		Version: "1.0", ExecutionOrder: 2, CreatedAt: now,
	}))
	require.NoError(t, s.CreateCorpusResult(ctx, &model.CorpusResult{
		ID: "res-1", EvaluationRunID: run.ID, CorpusID: "set-1-c01",
		ActualResponse: "hello", Score: floatPtr(4.5), Status: model.CorpusResultSuccess,
		Version: "1.0", ExecutionOrder: 1, CreatedAt: now,
	}))

	results, err := s.ListCorpusResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].ExecutionOrder)
	require.NotNil(t, results[0].Score)
	assert.InDelta(t, 4.5, *results[0].Score, 0.001)
	assert.Nil(t, results[1].Score)
	require.NotNil(t, results[1].ErrorMsg)
	assert.Equal(t, "timeout", *results[1].ErrorMsg)

	// 同一 (run, corpus) 只允许一条结果
	err = s.CreateCorpusResult(ctx, &model.CorpusResult{
		ID: "res-3", EvaluationRunID: run.ID, CorpusID: "set-1-c01",
		Status: model.CorpusResultSuccess, Version: "1.0", ExecutionOrder: 1, CreatedAt: now,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	n, err := s.CountCorpusResults(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
