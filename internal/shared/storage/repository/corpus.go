// Package repository Corpus 相关的存储操作
package repository

import (
	"context"
	"fmt"

	"agent-eval/internal/shared/model"
)

const corpusColumns = `id, evaluation_set_id, seq, content, expected_response, intent, created_at`

// CreateCorpora 批量创建语料（单事务）
func (s *Store) CreateCorpora(ctx context.Context, corpora []*model.Corpus) error {
	if len(corpora) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO corpus (id, evaluation_set_id, seq, content, expected_response, intent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range corpora {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.EvaluationSetID, c.Seq, c.Content, c.ExpectedResponse, c.Intent, c.CreatedAt.UTC()); err != nil {
			return s.mapWriteErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListCorpora 按创建顺序列出评测集语料
func (s *Store) ListCorpora(ctx context.Context, setID string) ([]*model.Corpus, error) {
	query := s.rebind(`SELECT ` + corpusColumns + ` FROM corpus
		WHERE evaluation_set_id = $1 ORDER BY seq, created_at, id`)
	rows, err := s.db.QueryContext(ctx, query, setID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCorpora(rows)
}

// ListCorporaPage 分页列出评测集语料
func (s *Store) ListCorporaPage(ctx context.Context, setID string, offset, limit int) ([]*model.Corpus, error) {
	query := s.rebind(`SELECT ` + corpusColumns + ` FROM corpus
		WHERE evaluation_set_id = $1 ORDER BY seq, created_at, id LIMIT $2 OFFSET $3`)
	rows, err := s.db.QueryContext(ctx, query, setID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCorpora(rows)
}

// CountCorpora 统计评测集语料数
func (s *Store) CountCorpora(ctx context.Context, setID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM corpus WHERE evaluation_set_id = $1`), setID).Scan(&n)
	return n, err
}

// CountAllCorpora 统计全部语料数
func (s *Store) CountAllCorpora(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM corpus`).Scan(&n)
	return n, err
}

// TopIntents 统计评测集中出现最多的意图
func (s *Store) TopIntents(ctx context.Context, setID string, limit int) ([]model.IntentCount, error) {
	query := s.rebind(`SELECT intent, COUNT(*) AS cnt FROM corpus
		WHERE evaluation_set_id = $1 AND intent IS NOT NULL AND intent <> ''
		GROUP BY intent ORDER BY cnt DESC, intent LIMIT $2`)
	rows, err := s.db.QueryContext(ctx, query, setID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.IntentCount
	for rows.Next() {
		var ic model.IntentCount
		if err := rows.Scan(&ic.Intent, &ic.Count); err != nil {
			return nil, err
		}
		out = append(out, ic)
	}
	return out, rows.Err()
}

func scanCorpus(row scanner) (*model.Corpus, error) {
	c := &model.Corpus{}
	err := row.Scan(&c.ID, &c.EvaluationSetID, &c.Seq, &c.Content, &c.ExpectedResponse, &c.Intent, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanCorpora(rows interface {
	scanner
	Next() bool
	Err() error
}) ([]*model.Corpus, error) {
	var out []*model.Corpus
	for rows.Next() {
		c, err := scanCorpus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
