package model

import (
	"context"
	"database/sql"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fachebot/slack-ai-digest/migrations"
)

// DB 封装 SQLite 连接与 ent 的 SQL 驱动
type DB struct {
	sqlDB  *sql.DB
	driver *entsql.Driver
	tables migrations.Tables
}

// Open 打开数据库并执行迁移
func Open(ctx context.Context, dsn string, tables migrations.Tables) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// SQLite 单写者，内存库也需要单连接才能共享数据
	sqlDB.SetMaxOpenConns(1)

	if err := migrations.Run(ctx, sqlDB, tables); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &DB{
		sqlDB:  sqlDB,
		driver: entsql.OpenDB(dialect.SQLite, sqlDB),
		tables: tables,
	}, nil
}

// SQL 返回底层连接，供迁移命令使用
func (db *DB) SQL() *sql.DB {
	return db.sqlDB
}

func (db *DB) Close() error {
	return db.driver.Close()
}

func (db *DB) MessageModel() *MessageModel {
	return NewMessageModel(db.driver, db.tables.Messages)
}

func (db *DB) MarkerModel() *MarkerModel {
	return NewMarkerModel(db.driver, db.tables.Processed)
}

func builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.SQLite)
}
