package model

import (
	"context"
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

type MarkerModel struct {
	driver *entsql.Driver
	table  string
	now    func() time.Time
}

func NewMarkerModel(driver *entsql.Driver, table string) *MarkerModel {
	return &MarkerModel{driver: driver, table: table, now: time.Now}
}

// Get 按 key 查询未过期的标记，不存在时返回 ErrNotFound
func (m *MarkerModel) Get(ctx context.Context, key string) (*Marker, error) {
	query, args := builder().Select("message_id", "channel_id", "processed_at", "expires_at").
		From(entsql.Table(m.table)).
		Where(entsql.And(
			entsql.EQ("message_id", key),
			entsql.GT("expires_at", m.now().Unix()),
		)).
		Limit(1).
		Query()

	rows := &entsql.Rows{}
	if err := m.driver.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	var (
		marker      Marker
		processedAt int64
		expiresAt   int64
	)
	if err := rows.Scan(&marker.Key, &marker.ChannelID, &processedAt, &expiresAt); err != nil {
		return nil, err
	}
	marker.ProcessedAt = time.Unix(processedAt, 0)
	marker.ExpiresAt = time.Unix(expiresAt, 0)
	return &marker, nil
}

// Put 写入标记，key 重复时覆盖
func (m *MarkerModel) Put(ctx context.Context, marker *Marker) error {
	query, args := builder().Insert(m.table).
		Columns("message_id", "channel_id", "processed_at", "expires_at").
		Values(marker.Key, marker.ChannelID, marker.ProcessedAt.Unix(), marker.ExpiresAt.Unix()).
		OnConflict(
			entsql.ConflictColumns("message_id"),
			entsql.ResolveWithNewValues(),
		).
		Query()

	var res sql.Result
	return m.driver.Exec(ctx, query, args, &res)
}

// DeleteExpired 删除已过期的标记
func (m *MarkerModel) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return deleteExpired(ctx, m.driver, m.table, now)
}
