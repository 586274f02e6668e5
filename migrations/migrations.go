// Package migrations 管理 SQLite 表结构。表名来自配置，因此使用 goose 的 Go 迁移而不是 SQL 文件。
package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Tables 可配置的表名
type Tables struct {
	Messages  string
	Processed string
}

// NewProvider 创建迁移 Provider
func NewProvider(db *sql.DB, tables Tables) (*goose.Provider, error) {
	return goose.NewProvider(goose.DialectSQLite3, db, nil,
		goose.WithGoMigrations(
			goose.NewGoMigration(1,
				&goose.GoFunc{RunTx: createTables(tables)},
				&goose.GoFunc{RunTx: dropTables(tables)},
			),
		),
	)
}

// Run 执行所有未应用的迁移
func Run(ctx context.Context, db *sql.DB, tables Tables) error {
	provider, err := NewProvider(db, tables)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func createTables(t Tables) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		stmts := []string{
			// 候选消息表：按频道分区、按时间戳排序
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
				pk TEXT NOT NULL,
				sk TEXT NOT NULL,
				message_id TEXT NOT NULL,
				channel_id TEXT NOT NULL,
				ts TEXT NOT NULL,
				timestamp REAL NOT NULL,
				text TEXT NOT NULL DEFAULT '',
				user_id TEXT NOT NULL DEFAULT '',
				user_name TEXT NOT NULL DEFAULT '',
				relevance_score REAL NOT NULL DEFAULT 0,
				is_thread_reply INTEGER NOT NULL DEFAULT 0,
				thread_ts TEXT NOT NULL DEFAULT '',
				reply_count INTEGER NOT NULL DEFAULT 0,
				detected_at INTEGER NOT NULL,
				expires_at INTEGER NOT NULL,
				PRIMARY KEY (pk, sk)
			)`, t.Messages),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (expires_at)`, t.Messages+"_expires_at", t.Messages),
			// 处理记录表：幂等标记与已总结标记共用，通过 key 前缀区分
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
				message_id TEXT NOT NULL PRIMARY KEY,
				channel_id TEXT NOT NULL DEFAULT '',
				processed_at INTEGER NOT NULL,
				expires_at INTEGER NOT NULL
			)`, t.Processed),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (expires_at)`, t.Processed+"_expires_at", t.Processed),
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

func dropTables(t Tables) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, name := range []string{t.Messages, t.Processed} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, name)); err != nil {
				return err
			}
		}
		return nil
	}
}
