// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// 适用于开发、测试和单机部署场景。
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"agent-eval/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.StripPgCasts(dbutil.RebindToQuestion(query))
}

func (d *Dialect) CurrentTimestamp() string {
	return "datetime('now')"
}

func (d *Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Open 创建 SQLite 数据库连接
// dsn 示例: "file:eval.db?cache=shared&mode=rwc" 或 ":memory:"
//
// 连接池固定为单连接：PRAGMA 按连接生效，且 :memory: 库随连接存在。
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	// SQLite 优化设置
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// schema SQLite 完整建表语句（等价于 deployments/init-db.sql）
const schema = `
CREATE TABLE IF NOT EXISTS evaluation_sets (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(100) NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'active',
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS corpus (
    id VARCHAR(64) PRIMARY KEY,
    evaluation_set_id VARCHAR(64) NOT NULL REFERENCES evaluation_sets(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL DEFAULT 0,
    content TEXT NOT NULL,
    expected_response TEXT,
    intent VARCHAR(100),
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_corpus_set_seq ON corpus(evaluation_set_id, seq, created_at);

CREATE TABLE IF NOT EXISTS evaluation_runs (
    id VARCHAR(64) PRIMARY KEY,
    evaluation_set_id VARCHAR(64) NOT NULL REFERENCES evaluation_sets(id) ON DELETE CASCADE,
    run_name VARCHAR(100) NOT NULL DEFAULT '',
    start_time DATETIME NOT NULL DEFAULT (datetime('now')),
    end_time DATETIME,
    duration REAL,
    status VARCHAR(20) NOT NULL DEFAULT 'running',
    config TEXT,
    summary_metrics TEXT,
    version VARCHAR(50) NOT NULL DEFAULT '1.0'
);
CREATE INDEX IF NOT EXISTS idx_runs_set ON evaluation_runs(evaluation_set_id, start_time);

CREATE TABLE IF NOT EXISTS corpus_results (
    id VARCHAR(64) PRIMARY KEY,
    evaluation_run_id VARCHAR(64) NOT NULL REFERENCES evaluation_runs(id) ON DELETE CASCADE,
    corpus_id VARCHAR(64) NOT NULL REFERENCES corpus(id) ON DELETE CASCADE,
    actual_response TEXT NOT NULL DEFAULT '',
    score REAL,
    status VARCHAR(20) NOT NULL,
    error_msg TEXT,
    version VARCHAR(50) NOT NULL DEFAULT '1.0',
    execution_order INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    UNIQUE (evaluation_run_id, corpus_id)
);
CREATE INDEX IF NOT EXISTS idx_results_run_order ON corpus_results(evaluation_run_id, execution_order);
`
