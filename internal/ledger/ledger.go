// Package ledger 负责候选消息的幂等入库与总结后的消费标记。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fachebot/slack-ai-digest/internal/logger"
	"github.com/fachebot/slack-ai-digest/internal/model"
)

const (
	// MessageTTL 候选消息与已入库标记的保留时间
	MessageTTL = 7 * 24 * time.Hour
	// SummarizedTTL 已总结标记的保留时间
	SummarizedTTL = 30 * 24 * time.Hour

	scanPageSize = 100
)

// messageStore 候选消息表（便于测试注入 mock）
type messageStore interface {
	Upsert(ctx context.Context, msg *model.StoredMessage) error
	QueryByChannel(ctx context.Context, channelID, after string, limit int) ([]*model.StoredMessage, string, error)
	Delete(ctx context.Context, channelID, ts string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// markerStore 处理记录表（便于测试注入 mock）
type markerStore interface {
	Get(ctx context.Context, key string) (*model.Marker, error)
	Put(ctx context.Context, marker *model.Marker) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type Ledger struct {
	messages messageStore
	markers  markerStore
	now      func() time.Time
}

func NewLedger(messages *model.MessageModel, markers *model.MarkerModel) *Ledger {
	return &Ledger{
		messages: messages,
		markers:  markers,
		now:      time.Now,
	}
}

// IsProcessed 查询消息是否已入库。查询失败时返回 false，宁可重复处理也不丢消息。
func (l *Ledger) IsProcessed(ctx context.Context, messageID string) bool {
	_, err := l.markers.Get(ctx, messageID)
	if err == nil {
		return true
	}
	if !errors.Is(err, model.ErrNotFound) {
		logger.Errorf("[Ledger] 查询处理状态失败, id: %s, %v", messageID, err)
	}
	return false
}

// Ingest 入库一条候选消息：先写候选消息，再写已入库标记。
// 标记写入失败只会导致下次重复入库（同一主键覆盖），不会丢消息。
func (l *Ledger) Ingest(ctx context.Context, msg *model.StoredMessage) error {
	if err := l.RecordCandidate(ctx, msg); err != nil {
		return err
	}
	return l.RecordProcessed(ctx, msg.ChannelID, msg.MessageID)
}

// RecordCandidate 写入候选消息，主键重复时以最后一次写入为准
func (l *Ledger) RecordCandidate(ctx context.Context, msg *model.StoredMessage) error {
	now := l.now()
	if msg.MessageID == "" {
		msg.MessageID = model.MessageID(msg.ChannelID, msg.TS)
	}
	if msg.Timestamp == 0 {
		ts, err := model.ParseTS(msg.TS)
		if err != nil {
			return err
		}
		msg.Timestamp = ts
	}
	msg.DetectedAt = now
	msg.ExpiresAt = now.Add(MessageTTL)

	if err := l.messages.Upsert(ctx, msg); err != nil {
		return fmt.Errorf("保存候选消息 %s 失败: %w", msg.MessageID, err)
	}
	return nil
}

// RecordProcessed 写入已入库标记
func (l *Ledger) RecordProcessed(ctx context.Context, channelID, messageID string) error {
	now := l.now()
	err := l.markers.Put(ctx, &model.Marker{
		Key:         messageID,
		ChannelID:   channelID,
		ProcessedAt: now,
		ExpiresAt:   now.Add(MessageTTL),
	})
	if err != nil {
		return fmt.Errorf("保存处理标记 %s 失败: %w", messageID, err)
	}
	return nil
}

// ChannelMessages 分页读取频道的全部候选消息，按时间戳升序。
// 读取中途失败时返回已读到的部分并记录日志。
func (l *Ledger) ChannelMessages(ctx context.Context, channelID string) []*model.StoredMessage {
	var (
		result []*model.StoredMessage
		after  string
	)
	for {
		items, next, err := l.messages.QueryByChannel(ctx, channelID, after, scanPageSize)
		if err != nil {
			logger.Errorf("[Ledger] 读取频道 %s 的候选消息失败: %v", channelID, err)
			break
		}
		result = append(result, items...)
		if next == "" {
			break
		}
		after = next
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})
	return result
}

// MarkSummarized 删除已总结的候选消息，并写入 30 天的已总结标记。遇到第一个错误即返回，
// 剩余消息会在下一轮被重新总结。
func (l *Ledger) MarkSummarized(ctx context.Context, channelID string, messages []*model.StoredMessage) error {
	now := l.now()
	for _, msg := range messages {
		if err := l.messages.Delete(ctx, msg.ChannelID, msg.TS); err != nil {
			return fmt.Errorf("删除候选消息 %s 失败: %w", msg.MessageID, err)
		}
		err := l.markers.Put(ctx, &model.Marker{
			Key:         model.SummarizedKey(msg.MessageID),
			ChannelID:   channelID,
			ProcessedAt: now,
			ExpiresAt:   now.Add(SummarizedTTL),
		})
		if err != nil {
			return fmt.Errorf("保存已总结标记 %s 失败: %w", msg.MessageID, err)
		}
	}

	logger.Infof("[Ledger] 频道 %s 已标记 %d 条消息为已总结", channelID, len(messages))
	return nil
}

// Reclaim 清理过期记录
func (l *Ledger) Reclaim(ctx context.Context) (int, error) {
	now := l.now()
	messages, err := l.messages.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("清理过期候选消息失败: %w", err)
	}
	markers, err := l.markers.DeleteExpired(ctx, now)
	if err != nil {
		return messages, fmt.Errorf("清理过期标记失败: %w", err)
	}
	return messages + markers, nil
}
