// Package repository EvaluationRun 相关的存储操作
package repository

import (
	"context"
	"database/sql"

	"agent-eval/internal/shared/model"
	"agent-eval/internal/shared/storage"
)

const runColumns = `r.id, r.evaluation_set_id, r.run_name, r.start_time, r.end_time, r.duration,
	r.status, r.config, r.summary_metrics, r.version, es.name`

const runFrom = ` FROM evaluation_runs r JOIN evaluation_sets es ON es.id = r.evaluation_set_id`

// CreateEvaluationRun 创建执行记录
func (s *Store) CreateEvaluationRun(ctx context.Context, run *model.EvaluationRun) error {
	query := s.rebind(`
		INSERT INTO evaluation_runs (id, evaluation_set_id, run_name, start_time, status, config, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.EvaluationSetID, run.RunName, run.StartTime.UTC(), run.Status,
		nullJSON(run.Config), run.Version)
	return s.mapWriteErr(err)
}

// GetEvaluationRun 获取执行记录
func (s *Store) GetEvaluationRun(ctx context.Context, id string) (*model.EvaluationRun, error) {
	query := s.rebind(`SELECT ` + runColumns + runFrom + ` WHERE r.id = $1`)
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if isNoRows(err) {
		return nil, nil
	}
	return run, err
}

// UpdateEvaluationRunStatus 更新执行状态
func (s *Store) UpdateEvaluationRunStatus(ctx context.Context, id string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE evaluation_runs SET status = $1 WHERE id = $2`), status, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// FinishEvaluationRun 写入执行终态
//
// 只有 running 状态的记录可以被终结；记录存在但已是终态时返回 ErrConflict。
func (s *Store) FinishEvaluationRun(ctx context.Context, run *model.EvaluationRun) error {
	var endTime interface{}
	if run.EndTime != nil {
		endTime = run.EndTime.UTC()
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE evaluation_runs
		SET status = $1, end_time = $2, duration = $3, summary_metrics = $4, version = $5
		WHERE id = $6 AND status = $7
	`), run.Status, endTime, run.Duration, nullJSON(run.SummaryMetrics), run.Version,
		run.ID, model.RunStatusRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	existing, err := s.GetEvaluationRun(ctx, run.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

// ListRecentEvaluationRuns 列出最近的执行记录
func (s *Store) ListRecentEvaluationRuns(ctx context.Context, limit int) ([]*model.EvaluationRun, error) {
	query := s.rebind(`SELECT ` + runColumns + runFrom + ` ORDER BY r.start_time DESC, r.id LIMIT $1`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListEvaluationRunsBySet 列出评测集的执行记录
func (s *Store) ListEvaluationRunsBySet(ctx context.Context, setID string, limit int) ([]*model.EvaluationRun, error) {
	query := s.rebind(`SELECT ` + runColumns + runFrom +
		` WHERE r.evaluation_set_id = $1 ORDER BY r.start_time DESC, r.id LIMIT $2`)
	rows, err := s.db.QueryContext(ctx, query, setID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// scanRun 辅助函数
func scanRun(row scanner) (*model.EvaluationRun, error) {
	run := &model.EvaluationRun{}
	var config, summary NullableJSON
	err := row.Scan(
		&run.ID, &run.EvaluationSetID, &run.RunName, &run.StartTime, &run.EndTime, &run.Duration,
		&run.Status, &config.Data, &summary.Data, &run.Version, &run.EvaluationSetName)
	if err != nil {
		return nil, err
	}
	run.Config = config.Value()
	run.SummaryMetrics = summary.Value()
	return run, nil
}

// scanRuns 批量扫描
func scanRuns(rows *sql.Rows) ([]*model.EvaluationRun, error) {
	var runs []*model.EvaluationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
