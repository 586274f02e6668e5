// Package ingest 实现两条入库路径：实时事件与定时轮询，二者通过 ledger 共享去重状态。
package ingest

import (
	"context"

	"github.com/fachebot/slack-ai-digest/internal/logger"
	"github.com/fachebot/slack-ai-digest/internal/model"
)

// UnknownUser 用户名获取失败时的占位
const UnknownUser = "Unknown"

// Disposition 实时事件的处理结果
type Disposition int

const (
	Ignored    Disposition = iota // 非普通消息
	NotWatched                    // 频道不在白名单
	Irrelevant                    // 评分低于阈值
	Duplicate                     // 已经入库
	Stored
	Failed // 写入存储失败
)

func (d Disposition) String() string {
	switch d {
	case Ignored:
		return "ignored"
	case NotWatched:
		return "not_watched"
	case Irrelevant:
		return "irrelevant"
	case Duplicate:
		return "duplicate"
	case Stored:
		return "stored"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event 实时推送的消息事件
type Event struct {
	Type     string
	SubType  string
	Channel  string
	User     string
	Text     string
	TS       string
	ThreadTS string
}

// userResolver 获取用户显示名（便于测试注入 mock）
type userResolver interface {
	UserName(ctx context.Context, userID string) (string, error)
}

// messageLedger 去重与入库（便于测试注入 mock）
type messageLedger interface {
	IsProcessed(ctx context.Context, messageID string) bool
	Ingest(ctx context.Context, msg *model.StoredMessage) error
}

// scorer 实时事件评分
type scorer interface {
	Relevant(text string) (bool, float64)
}

type LiveIngestor struct {
	users   userResolver
	ledger  messageLedger
	scorer  scorer
	watched map[string]struct{}
}

func NewLiveIngestor(users userResolver, ledger messageLedger, scorer scorer, watchedChannels []string) *LiveIngestor {
	watched := make(map[string]struct{}, len(watchedChannels))
	for _, id := range watchedChannels {
		watched[id] = struct{}{}
	}
	return &LiveIngestor{
		users:   users,
		ledger:  ledger,
		scorer:  scorer,
		watched: watched,
	}
}

// HandleMessage 处理单条消息事件。只有存储写入失败才返回错误。
func (l *LiveIngestor) HandleMessage(ctx context.Context, ev Event) (Disposition, error) {
	if (ev.Type != "" && ev.Type != "message") || ev.SubType != "" {
		return Ignored, nil
	}

	if _, ok := l.watched[ev.Channel]; !ok {
		logger.Debugf("[Live] 频道 %s 不在监听列表中", ev.Channel)
		return NotWatched, nil
	}

	relevant, score := l.scorer.Relevant(ev.Text)
	if !relevant {
		logger.Debugf("[Live] 消息 %s 与 AI 无关, score: %.2f", ev.TS, score)
		return Irrelevant, nil
	}

	messageID := model.MessageID(ev.Channel, ev.TS)
	if l.ledger.IsProcessed(ctx, messageID) {
		logger.Debugf("[Live] 消息 %s 已处理", messageID)
		return Duplicate, nil
	}

	msg := &model.StoredMessage{
		MessageID:      messageID,
		ChannelID:      ev.Channel,
		TS:             ev.TS,
		Text:           ev.Text,
		UserID:         ev.User,
		UserName:       resolveUserName(ctx, l.users, ev.User),
		RelevanceScore: score,
		IsThreadReply:  ev.ThreadTS != "" && ev.ThreadTS != ev.TS,
		ThreadTS:       ev.ThreadTS,
	}
	if err := l.ledger.Ingest(ctx, msg); err != nil {
		return Failed, err
	}

	logger.Infof("[Live] 已保存 AI 相关消息: %s (score: %.2f)", messageID, score)
	return Stored, nil
}

// resolveUserName 获取用户名，失败时返回占位名，不中断入库
func resolveUserName(ctx context.Context, users userResolver, userID string) string {
	if userID == "" {
		return UnknownUser
	}
	name, err := users.UserName(ctx, userID)
	if err != nil || name == "" {
		logger.Warnf("[Ingest] 获取用户 %s 信息失败: %v", userID, err)
		return UnknownUser
	}
	return name
}
