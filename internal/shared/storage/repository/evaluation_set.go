// Package repository EvaluationSet 相关的存储操作
package repository

import (
	"context"
	"fmt"

	"agent-eval/internal/shared/model"
)

const evaluationSetColumns = `id, name, description, status, created_at`

// CreateEvaluationSet 创建评测集
func (s *Store) CreateEvaluationSet(ctx context.Context, set *model.EvaluationSet) error {
	query := s.rebind(`
		INSERT INTO evaluation_sets (id, name, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	_, err := s.db.ExecContext(ctx, query,
		set.ID, set.Name, set.Description, set.Status, set.CreatedAt.UTC())
	return s.mapWriteErr(err)
}

// GetEvaluationSet 获取评测集
func (s *Store) GetEvaluationSet(ctx context.Context, id string) (*model.EvaluationSet, error) {
	query := s.rebind(`SELECT ` + evaluationSetColumns + ` FROM evaluation_sets WHERE id = $1`)
	set, err := scanEvaluationSet(s.db.QueryRowContext(ctx, query, id))
	if isNoRows(err) {
		return nil, nil
	}
	return set, err
}

// GetEvaluationSetByName 按名称获取评测集
func (s *Store) GetEvaluationSetByName(ctx context.Context, name string) (*model.EvaluationSet, error) {
	query := s.rebind(`SELECT ` + evaluationSetColumns + ` FROM evaluation_sets WHERE name = $1`)
	set, err := scanEvaluationSet(s.db.QueryRowContext(ctx, query, name))
	if isNoRows(err) {
		return nil, nil
	}
	return set, err
}

// ListEvaluationSets 列出评测集（按创建时间倒序，附带语料数）
func (s *Store) ListEvaluationSets(ctx context.Context, status model.EvaluationSetStatus) ([]*model.EvaluationSet, error) {
	base := `SELECT es.id, es.name, es.description, es.status, es.created_at,
		(SELECT COUNT(*) FROM corpus c WHERE c.evaluation_set_id = es.id) AS corpus_count
		FROM evaluation_sets es`
	var args []interface{}
	if status != "" {
		base += ` WHERE es.status = $1`
		args = append(args, status)
	}
	base += ` ORDER BY es.created_at DESC, es.id`

	rows, err := s.db.QueryContext(ctx, s.rebind(base), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*model.EvaluationSet
	for rows.Next() {
		set := &model.EvaluationSet{}
		if err := rows.Scan(&set.ID, &set.Name, &set.Description, &set.Status, &set.CreatedAt, &set.CorpusCount); err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// CountEvaluationSets 统计评测集数量
func (s *Store) CountEvaluationSets(ctx context.Context, status model.EvaluationSetStatus) (int, error) {
	query := `SELECT COUNT(*) FROM evaluation_sets`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&n)
	return n, err
}

// UpdateEvaluationSetStatus 更新评测集状态
func (s *Store) UpdateEvaluationSetStatus(ctx context.Context, id string, status model.EvaluationSetStatus) error {
	query := s.rebind(`UPDATE evaluation_sets SET status = $1 WHERE id = $2`)
	res, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteEvaluationSet 删除评测集
//
// 语料、执行记录与结果由外键 ON DELETE CASCADE 一并删除。
func (s *Store) DeleteEvaluationSet(ctx context.Context, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var corpusCount int
	if err := tx.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM corpus WHERE evaluation_set_id = $1`), id).Scan(&corpusCount); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM evaluation_sets WHERE id = $1`), id)
	if err != nil {
		return 0, err
	}
	if err := requireAffected(res); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return corpusCount, nil
}

func scanEvaluationSet(row scanner) (*model.EvaluationSet, error) {
	set := &model.EvaluationSet{}
	if err := row.Scan(&set.ID, &set.Name, &set.Description, &set.Status, &set.CreatedAt); err != nil {
		return nil, err
	}
	return set, nil
}
