package model

import (
	"context"
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

var messageColumns = []string{
	"pk", "sk", "message_id", "channel_id", "ts", "timestamp", "text",
	"user_id", "user_name", "relevance_score", "is_thread_reply", "thread_ts",
	"reply_count", "detected_at", "expires_at",
}

type MessageModel struct {
	driver *entsql.Driver
	table  string
	now    func() time.Time
}

func NewMessageModel(driver *entsql.Driver, table string) *MessageModel {
	return &MessageModel{driver: driver, table: table, now: time.Now}
}

// Upsert 写入候选消息，主键重复时整行覆盖
func (m *MessageModel) Upsert(ctx context.Context, msg *StoredMessage) error {
	query, args := builder().Insert(m.table).
		Columns(messageColumns...).
		Values(
			PartitionKey(msg.ChannelID),
			SortKey(msg.TS),
			msg.MessageID,
			msg.ChannelID,
			msg.TS,
			msg.Timestamp,
			msg.Text,
			msg.UserID,
			msg.UserName,
			msg.RelevanceScore,
			boolToInt(msg.IsThreadReply),
			msg.ThreadTS,
			msg.ReplyCount,
			msg.DetectedAt.Unix(),
			msg.ExpiresAt.Unix(),
		).
		OnConflict(
			entsql.ConflictColumns("pk", "sk"),
			entsql.ResolveWithNewValues(),
		).
		Query()

	var res sql.Result
	return m.driver.Exec(ctx, query, args, &res)
}

// QueryByChannel 按频道分页扫描未过期的消息，按排序键升序。
// after 为上一页返回的游标，next 为空表示已经扫描完毕。
func (m *MessageModel) QueryByChannel(ctx context.Context, channelID, after string, limit int) (items []*StoredMessage, next string, err error) {
	if limit <= 0 {
		limit = 100
	}

	preds := []*entsql.Predicate{
		entsql.EQ("pk", PartitionKey(channelID)),
		entsql.GT("expires_at", m.now().Unix()),
	}
	if after != "" {
		preds = append(preds, entsql.GT("sk", after))
	}

	query, args := builder().Select(messageColumns...).
		From(entsql.Table(m.table)).
		Where(entsql.And(preds...)).
		OrderBy("sk").
		Limit(limit + 1).
		Query()

	rows := &entsql.Rows{}
	if err := m.driver.Query(ctx, query, args, rows); err != nil {
		return nil, "", err
	}
	defer rows.Close()

	sortKeys := make([]string, 0, limit+1)
	for rows.Next() {
		var (
			msg        StoredMessage
			pk, sk     string
			isReply    int
			detectedAt int64
			expiresAt  int64
		)
		if err := rows.Scan(
			&pk, &sk, &msg.MessageID, &msg.ChannelID, &msg.TS, &msg.Timestamp, &msg.Text,
			&msg.UserID, &msg.UserName, &msg.RelevanceScore, &isReply, &msg.ThreadTS,
			&msg.ReplyCount, &detectedAt, &expiresAt,
		); err != nil {
			return nil, "", err
		}
		msg.IsThreadReply = isReply != 0
		msg.DetectedAt = time.Unix(detectedAt, 0)
		msg.ExpiresAt = time.Unix(expiresAt, 0)
		items = append(items, &msg)
		sortKeys = append(sortKeys, sk)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	if len(items) > limit {
		items = items[:limit]
		next = sortKeys[limit-1]
	}
	return items, next, nil
}

// Delete 删除单条候选消息
func (m *MessageModel) Delete(ctx context.Context, channelID, ts string) error {
	query, args := builder().Delete(m.table).
		Where(entsql.And(
			entsql.EQ("pk", PartitionKey(channelID)),
			entsql.EQ("sk", SortKey(ts)),
		)).
		Query()

	var res sql.Result
	return m.driver.Exec(ctx, query, args, &res)
}

// DeleteExpired 删除已过期的候选消息
func (m *MessageModel) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return deleteExpired(ctx, m.driver, m.table, now)
}

func deleteExpired(ctx context.Context, driver *entsql.Driver, table string, now time.Time) (int, error) {
	query, args := builder().Delete(table).
		Where(entsql.LTE("expires_at", now.Unix())).
		Query()

	var res sql.Result
	if err := driver.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
