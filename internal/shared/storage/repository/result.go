// Package repository CorpusResult 相关的存储操作
package repository

import (
	"context"

	"agent-eval/internal/shared/model"
)

// CreateCorpusResult 写入单条语料结果
func (s *Store) CreateCorpusResult(ctx context.Context, r *model.CorpusResult) error {
	query := s.rebind(`
		INSERT INTO corpus_results (id, evaluation_run_id, corpus_id, actual_response, score,
			status, error_msg, version, execution_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.EvaluationRunID, r.CorpusID, r.ActualResponse, r.Score,
		r.Status, r.ErrorMsg, r.Version, r.ExecutionOrder, r.CreatedAt.UTC())
	return s.mapWriteErr(err)
}

// ListCorpusResults 按执行顺序列出结果
func (s *Store) ListCorpusResults(ctx context.Context, runID string) ([]*model.CorpusResult, error) {
	query := s.rebind(`SELECT id, evaluation_run_id, corpus_id, actual_response, score,
			status, error_msg, version, execution_order, created_at
		FROM corpus_results WHERE evaluation_run_id = $1 ORDER BY execution_order, created_at`)
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.CorpusResult
	for rows.Next() {
		r := &model.CorpusResult{}
		if err := rows.Scan(&r.ID, &r.EvaluationRunID, &r.CorpusID, &r.ActualResponse, &r.Score,
			&r.Status, &r.ErrorMsg, &r.Version, &r.ExecutionOrder, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountCorpusResults 统计执行的结果数
func (s *Store) CountCorpusResults(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM corpus_results WHERE evaluation_run_id = $1`), runID).Scan(&n)
	return n, err
}
