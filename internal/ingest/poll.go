package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fachebot/slack-ai-digest/internal/chat"
	"github.com/fachebot/slack-ai-digest/internal/logger"
	"github.com/fachebot/slack-ai-digest/internal/model"
)

const (
	// DefaultPollWindow 轮询回溯窗口
	DefaultPollWindow = 300 * time.Second
	// provisionalScore 轮询入库的暂定分数，精确判定交给 LLM
	provisionalScore = 0.5
)

// chatAPI 轮询用到的 Slack 接口（便于测试注入 mock）
type chatAPI interface {
	BotUserID(ctx context.Context) (string, error)
	MemberChannels(ctx context.Context, exclude string) ([]chat.Channel, error)
	ChannelInfo(ctx context.Context, channelID string) (*chat.Channel, error)
	History(ctx context.Context, channelID, oldest string) ([]chat.Message, error)
	Replies(ctx context.Context, channelID, threadTS string) ([]chat.Message, error)
	UserName(ctx context.Context, userID string) (string, error)
}

// prefilter 轻量预过滤
type prefilter interface {
	Check(text string) bool
}

// MonitoredChannel 本轮监控的频道
type MonitoredChannel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
}

// ChannelError 单个频道的处理错误
type ChannelError struct {
	Channel string `json:"channel,omitempty"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
}

// PollResult 一次轮询的结果，仅用于日志和触发接口返回
type PollResult struct {
	RunID             string             `json:"run_id"`
	Processed         int                `json:"processed"`
	Found             int                `json:"found"`
	Errors            []ChannelError     `json:"errors"`
	ChannelsMonitored []MonitoredChannel `json:"channels_monitored"`

	mu sync.Mutex
}

func (r *PollResult) addCounts(processed, found int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Processed += processed
	r.Found += found
}

func (r *PollResult) addError(e ChannelError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, e)
}

type PollOptions struct {
	TargetChannelID string
	Window          time.Duration
	Concurrency     int
	Timeout         time.Duration // 单次轮询的超时，0 表示不限制
}

type Poller struct {
	api    chatAPI
	ledger messageLedger
	filter prefilter
	opts   PollOptions
	now    func() time.Time
}

func NewPoller(api chatAPI, ledger messageLedger, filter prefilter, opts PollOptions) *Poller {
	if opts.Window <= 0 {
		opts.Window = DefaultPollWindow
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Poller{
		api:    api,
		ledger: ledger,
		filter: filter,
		opts:   opts,
		now:    time.Now,
	}
}

// Run 执行一次轮询。频道列表获取失败时返回错误，单个频道的失败记录在结果中，不影响其他频道。
func (p *Poller) Run(ctx context.Context) (*PollResult, error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	result := &PollResult{
		RunID:             uuid.NewString(),
		Errors:            make([]ChannelError, 0),
		ChannelsMonitored: make([]MonitoredChannel, 0),
	}
	logger.Infof("[Poll] 开始轮询频道, run: %s", result.RunID)

	if botID, err := p.api.BotUserID(ctx); err != nil {
		logger.Warnf("[Poll] 获取 bot 身份失败: %v", err)
	} else {
		logger.Debugf("[Poll] bot 用户: %s", botID)
	}

	channels, err := p.api.MemberChannels(ctx, p.opts.TargetChannelID)
	if err != nil {
		result.Errors = append(result.Errors, ChannelError{Error: err.Error()})
		return result, err
	}
	for _, ch := range channels {
		result.ChannelsMonitored = append(result.ChannelsMonitored, MonitoredChannel{
			ID:        ch.ID,
			Name:      ch.Name,
			IsPrivate: ch.IsPrivate,
		})
	}
	logger.Infof("[Poll] bot 已加入 %d 个频道（排除目标频道 %s）", len(channels), p.opts.TargetChannelID)

	oldest := formatTS(p.now().Add(-p.opts.Window))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, ch := range channels {
		g.Go(func() error {
			if err := p.pollChannel(gctx, ch.ID, oldest, result); err != nil {
				logger.Errorf("[Poll] 处理频道 %s (%s) 失败: %v", ch.Name, ch.ID, err)
				result.addError(ChannelError{Channel: ch.Name, ID: ch.ID, Error: err.Error()})
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Infof("[Poll] 轮询完成, run: %s, 检查: %d, 发现: %d, 错误: %d",
		result.RunID, result.Processed, result.Found, len(result.Errors))
	return result, nil
}

// pollChannel 扫描单个频道最近窗口内的消息
func (p *Poller) pollChannel(ctx context.Context, channelID, oldest string, result *PollResult) error {
	info, err := p.api.ChannelInfo(ctx, channelID)
	if err != nil {
		logger.Warnf("[Poll] 无法获取频道 %s 信息，跳过: %v", channelID, err)
		return nil
	}
	if info.IsPrivate && !info.IsMember {
		logger.Debugf("[Poll] 跳过未加入的私有频道 %s", channelID)
		return nil
	}

	messages, err := p.api.History(ctx, channelID, oldest)
	if err != nil {
		if errors.Is(err, chat.ErrNotInChannel) {
			logger.Infof("[Poll] bot 不在频道 %s 中，跳过", channelID)
			return nil
		}
		return fmt.Errorf("获取历史消息失败: %w", err)
	}

	for _, msg := range messages {
		if !msg.IsPlain() {
			continue
		}
		result.addCounts(1, 0)

		found, err := p.processMessage(ctx, channelID, msg)
		if err != nil {
			return err
		}
		if found {
			result.addCounts(0, 1)
		}
	}
	return nil
}

// processMessage 处理一条根消息及其线程回复，返回是否入库
func (p *Poller) processMessage(ctx context.Context, channelID string, msg chat.Message) (bool, error) {
	messageID := model.MessageID(channelID, msg.TS)
	if p.ledger.IsProcessed(ctx, messageID) {
		logger.Debugf("[Poll] 消息 %s 已处理", messageID)
		return false, nil
	}

	eligible := p.filter.Check(msg.Text)

	var replies []chat.Message
	if msg.ThreadTS != "" && msg.ReplyCount > 0 {
		var err error
		replies, err = p.api.Replies(ctx, channelID, msg.ThreadTS)
		if err != nil {
			logger.Warnf("[Poll] 获取线程 %s 回复失败: %v", msg.ThreadTS, err)
			replies = nil
		}
		for _, reply := range replies {
			if eligible {
				break
			}
			eligible = p.filter.Check(reply.Text)
		}
	}
	if !eligible {
		return false, nil
	}

	root := &model.StoredMessage{
		MessageID:      messageID,
		ChannelID:      channelID,
		TS:             msg.TS,
		Text:           msg.Text,
		UserID:         msg.User,
		UserName:       resolveUserName(ctx, p.api, msg.User),
		RelevanceScore: provisionalScore,
		ThreadTS:       msg.ThreadTS,
		ReplyCount:     msg.ReplyCount,
	}
	if err := p.ledger.Ingest(ctx, root); err != nil {
		return false, err
	}

	for _, reply := range replies {
		replyID := model.MessageID(channelID, reply.TS)
		if p.ledger.IsProcessed(ctx, replyID) {
			continue
		}
		err := p.ledger.Ingest(ctx, &model.StoredMessage{
			MessageID:      replyID,
			ChannelID:      channelID,
			TS:             reply.TS,
			Text:           reply.Text,
			UserID:         reply.User,
			UserName:       resolveUserName(ctx, p.api, reply.User),
			RelevanceScore: provisionalScore,
			IsThreadReply:  true,
			ThreadTS:       msg.ThreadTS,
			ReplyCount:     reply.ReplyCount,
		})
		if err != nil {
			return true, err
		}
	}

	logger.Infof("[Poll] 发现疑似 AI 相关消息: %s (线程回复: %d)", messageID, len(replies))
	return true, nil
}

// formatTS 将时间转换为 Slack 时间戳格式
func formatTS(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}
