// Package chat 封装 Slack Web API，只暴露流水线需要的几个调用。
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/fachebot/slack-ai-digest/internal/logger"
	"github.com/slack-go/slack"
)

var ErrNotInChannel = errors.New("bot 未加入该频道")

const pageLimit = 100

// slackAPI Slack 客户端接口，便于测试
type slackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Channel 频道信息
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
	IsMember  bool   `json:"-"`
}

// Message 频道或线程中的一条消息
type Message struct {
	Type       string
	SubType    string
	TS         string
	ThreadTS   string
	User       string
	Text       string
	ReplyCount int
}

// IsPlain 是否为普通用户消息（排除编辑、删除、系统消息等子类型）
func (m Message) IsPlain() bool {
	return (m.Type == "" || m.Type == "message") && m.SubType == ""
}

type Client struct {
	api        slackAPI
	usersMu    sync.RWMutex
	usersCache map[string]string
}

// NewClient 创建 Slack 客户端，httpClient 为空时使用默认客户端
func NewClient(token string, httpClient *http.Client) *Client {
	options := make([]slack.Option, 0)
	if httpClient != nil {
		options = append(options, slack.OptionHTTPClient(httpClient))
	}
	return newClient(slack.New(token, options...))
}

func newClient(api slackAPI) *Client {
	return &Client{
		api:        api,
		usersCache: make(map[string]string),
	}
}

// BotUserID 返回当前 bot 的用户 ID
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", err
	}
	return resp.UserID, nil
}

// MemberChannels 列出 bot 已加入的公开频道（排除 exclude），会翻完所有分页
func (c *Client) MemberChannels(ctx context.Context, exclude string) ([]Channel, error) {
	var (
		result []Channel
		cursor string
	)
	for {
		channels, next, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Cursor:          cursor,
			ExcludeArchived: true,
			Limit:           pageLimit,
			Types:           []string{"public_channel"},
		})
		if err != nil {
			return nil, fmt.Errorf("获取频道列表失败: %w", err)
		}
		for _, ch := range channels {
			if !ch.IsMember || ch.ID == exclude {
				continue
			}
			result = append(result, toChannel(ch))
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return result, nil
}

// ChannelInfo 获取频道详情
func (c *Client) ChannelInfo(ctx context.Context, channelID string) (*Channel, error) {
	ch, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return nil, err
	}
	info := toChannel(*ch)
	return &info, nil
}

// History 获取 oldest 之后（含）的频道消息，会翻完所有分页
func (c *Client) History(ctx context.Context, channelID, oldest string) ([]Message, error) {
	var (
		result []Message
		cursor string
	)
	for {
		resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Cursor:    cursor,
			Oldest:    oldest,
			Inclusive: true,
			Limit:     pageLimit,
		})
		if err != nil {
			if isNotInChannel(err) {
				return nil, ErrNotInChannel
			}
			return nil, err
		}
		for _, m := range resp.Messages {
			result = append(result, toMessage(m))
		}
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		cursor = resp.ResponseMetaData.NextCursor
	}
	return result, nil
}

// Replies 获取线程回复，不含根消息
func (c *Client) Replies(ctx context.Context, channelID, threadTS string) ([]Message, error) {
	var (
		result []Message
		cursor string
	)
	for {
		msgs, hasMore, next, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadTS,
			Cursor:    cursor,
			Limit:     pageLimit,
		})
		if err != nil {
			if isNotInChannel(err) {
				return nil, ErrNotInChannel
			}
			return nil, err
		}
		for _, m := range msgs {
			if m.Timestamp == threadTS {
				continue
			}
			result = append(result, toMessage(m))
		}
		if !hasMore || next == "" {
			break
		}
		cursor = next
	}
	return result, nil
}

// UserName 获取用户显示名（real_name 优先），结果会缓存
func (c *Client) UserName(ctx context.Context, userID string) (string, error) {
	// 先尝试读锁读取缓存
	c.usersMu.RLock()
	name, ok := c.usersCache[userID]
	c.usersMu.RUnlock()
	if ok {
		return name, nil
	}

	// 缓存未命中，获取数据
	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return "", err
	}
	name = user.RealName
	if name == "" {
		name = user.Name
	}
	if name == "" {
		return "", fmt.Errorf("用户 %s 没有可用的名称", userID)
	}

	// 写锁更新缓存
	c.usersMu.Lock()
	c.usersCache[userID] = name
	c.usersMu.Unlock()
	return name, nil
}

// PostMessage 以 mrkdwn 格式发送消息
func (c *Client) PostMessage(ctx context.Context, channelID, text string) error {
	_, ts, err := c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return err
	}
	logger.Debugf("[Chat] 已发送消息到频道 %s, ts: %s", channelID, ts)
	return nil
}

func isNotInChannel(err error) bool {
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		return resp.Err == "not_in_channel"
	}
	return err.Error() == "not_in_channel"
}

func toChannel(ch slack.Channel) Channel {
	return Channel{
		ID:        ch.ID,
		Name:      ch.Name,
		IsPrivate: ch.IsPrivate,
		IsMember:  ch.IsMember,
	}
}

func toMessage(m slack.Message) Message {
	return Message{
		Type:       m.Type,
		SubType:    m.SubType,
		TS:         m.Timestamp,
		ThreadTS:   m.ThreadTimestamp,
		User:       m.User,
		Text:       m.Text,
		ReplyCount: m.ReplyCount,
	}
}
