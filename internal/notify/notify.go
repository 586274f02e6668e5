package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fachebot/slack-ai-digest/internal/logger"
)

const (
	MaxMessageLength = 3900 // Slack 单条消息建议长度上限（text 字段 4000）
)

// poster 发送消息到频道（便于测试注入 mock）
type poster interface {
	PostMessage(ctx context.Context, channelID, text string) error
}

type Notifier struct {
	client    poster
	channelID string
}

func NewNotifier(client poster, channelID string) *Notifier {
	return &Notifier{
		client:    client,
		channelID: channelID,
	}
}

// Notify 将内容发送到目标频道，过长时拆分为多条顺序发送
func (n *Notifier) Notify(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	messages := splitMessage(content, MaxMessageLength)
	for i, msg := range messages {
		if err := n.client.PostMessage(ctx, n.channelID, msg); err != nil {
			return fmt.Errorf("发送消息到频道 %s 失败 (%d/%d): %w", n.channelID, i+1, len(messages), err)
		}
	}
	logger.Infof("[Notify] 已发送 %d 条消息到频道 %s", len(messages), n.channelID)
	return nil
}

// splitMessage 将消息按长度拆分为多条，优先在段落边界拆分，其次是换行，最后硬切
func splitMessage(content string, limit int) []string {
	if len(content) <= limit {
		return []string{content}
	}

	// 按段落拆分
	paragraphs := strings.Split(content, "\n\n")
	if len(paragraphs) == 1 {
		// 如果没有段落分隔，按换行拆分
		paragraphs = strings.Split(content, "\n")
	}

	messages := make([]string, 0)
	currentMsg := ""

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		testMsg := currentMsg
		if testMsg != "" {
			testMsg += "\n\n"
		}
		testMsg += para

		if len(testMsg) <= limit {
			currentMsg = testMsg
			continue
		}

		// 当前消息已满，保存并开始新消息
		if currentMsg != "" {
			messages = append(messages, currentMsg)
			currentMsg = ""
		}
		if len(para) <= limit {
			currentMsg = para
			continue
		}

		// 单个段落就超过长度，按行拆分，单行仍超长则硬切
		for _, line := range strings.Split(para, "\n") {
			for _, piece := range hardCut(line, limit) {
				if currentMsg != "" && len(currentMsg)+1+len(piece) > limit {
					messages = append(messages, currentMsg)
					currentMsg = ""
				}
				if currentMsg != "" {
					currentMsg += "\n"
				}
				currentMsg += piece
			}
		}
	}

	if currentMsg != "" {
		messages = append(messages, currentMsg)
	}

	return messages
}

// hardCut 按字节上限切分，不拆开多字节字符
func hardCut(s string, limit int) []string {
	var parts []string
	for len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	return append(parts, s)
}
