package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fachebot/slack-ai-digest/internal/config"
	"github.com/fachebot/slack-ai-digest/internal/logger"
	"github.com/fachebot/slack-ai-digest/internal/relevance"
	"github.com/fachebot/slack-ai-digest/internal/thread"
	"github.com/sashabaranov/go-openai"
)

// FallbackSummary LLM 调用失败但兜底关键词命中时的占位摘要
const FallbackSummary = "分析出错，暂时无法生成摘要"

// 第一行的相关性标记（归一化后）
const sentinelTrue = "ai相关:true"

// openAIClientInterface 定义 OpenAI 客户端接口，便于测试
type openAIClientInterface interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Verdict 线程判定结果
type Verdict struct {
	Relevant bool
	Summary  string
	Fallback bool // 由兜底关键词得出
}

type Client struct {
	config       *config.LLM
	openaiClient openAIClientInterface
	fallback     *relevance.Matcher
	timeout      time.Duration
	location     *time.Location
}

// NewClient 创建 LLM 客户端。fallback 为 LLM 不可用时的兜底关键词，httpClient 为空时使用默认客户端。
func NewClient(cfg *config.LLM, fallback *relevance.Matcher, httpClient *http.Client) *Client {
	openaiConfig := openai.DefaultConfig(cfg.APIKey)
	openaiConfig.BaseURL = cfg.BaseURL
	if httpClient != nil {
		openaiConfig.HTTPClient = httpClient
	}
	return newClient(cfg, openai.NewClientWithConfig(openaiConfig), fallback)
}

func newClient(cfg *config.LLM, api openAIClientInterface, fallback *relevance.Matcher) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		config:       cfg,
		openaiClient: api,
		fallback:     fallback,
		timeout:      timeout,
		location:     time.UTC,
	}
}

// FormatTranscript 将线程格式化为带时间戳的对话记录，每行 "[时间] 用户: 内容"
func FormatTranscript(t *thread.Thread, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	lines := make([]string, len(t.Messages))
	for i, m := range t.Messages {
		sec := int64(m.Timestamp)
		nsec := int64((m.Timestamp - float64(sec)) * 1e9)
		at := time.Unix(sec, nsec).In(loc).Format("2006-01-02 15:04:05")

		name := m.UserName
		if name == "" {
			name = "Unknown"
		}
		lines[i] = fmt.Sprintf("[%s] %s: %s", at, name, m.Text)
	}
	return strings.Join(lines, "\n")
}

// ParseVerdict 解析 LLM 回复。第一行必须包含 "AI相关:true"（忽略空格、大小写与全角冒号），
// 否则视为不相关。相关时摘要为其余内容。
func ParseVerdict(content string) Verdict {
	content = trimCodeFence(content)
	if content == "" {
		return Verdict{}
	}

	first, rest, _ := strings.Cut(content, "\n")
	if !strings.Contains(normalizeSentinel(first), sentinelTrue) {
		return Verdict{}
	}
	return Verdict{Relevant: true, Summary: strings.TrimSpace(rest)}
}

func normalizeSentinel(line string) string {
	line = strings.ReplaceAll(line, "：", ":")
	line = strings.Join(strings.Fields(line), "")
	line = strings.Trim(line, "*`")
	return strings.ToLower(line)
}

func trimCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	// 去掉 ```lang 首行
	if i := strings.Index(content, "\n"); i >= 0 {
		content = content[i+1:]
	} else {
		content = strings.TrimPrefix(content, "```")
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// Judge 判定线程是否与 AI 相关并生成摘要。调用失败或超时不重试，直接走兜底关键词。
func (c *Client) Judge(ctx context.Context, t *thread.Thread) Verdict {
	if len(t.Messages) == 0 {
		return Verdict{}
	}

	transcript := FormatTranscript(t, c.location)
	content, err := c.complete(ctx, transcript)
	if err != nil {
		logger.Warnf("[LLM] 线程 %s 分析失败，使用兜底关键词: %v", t.URL, err)
		return c.fallbackVerdict(transcript)
	}

	verdict := ParseVerdict(content)
	logger.Debugf("[LLM] 线程 %s 判定结果: %v", t.URL, verdict.Relevant)
	return verdict
}

// fallbackVerdict 在完整对话记录（含时间与用户名）上匹配兜底关键词
func (c *Client) fallbackVerdict(transcript string) Verdict {
	if c.fallback != nil && c.fallback.Check(transcript) {
		return Verdict{Relevant: true, Summary: FallbackSummary, Fallback: true}
	}
	return Verdict{}
}

// complete 执行一次对话请求，返回回复文本
func (c *Client) complete(ctx context.Context, transcript string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	systemPrompt := `你是一个专注于 AI / 机器学习领域的技术社区助手。你的任务是判断一段 Slack 对话是否与 AI、机器学习、大模型相关，并为相关对话写一份简洁的中文摘要。`

	userPrompt := `请阅读以下 Slack 线程对话：

` + transcript + `

输出要求：
1. 第一行必须且只能是 "AI相关:true" 或 "AI相关:false"，不要添加其他文字。
2. 如果是 AI相关:true，从第二行开始按以下格式输出摘要：

📝 要点
（两到三句话概括讨论内容）

💡 关键点
• 关键点 1
• 关键点 2

🔗 参考链接
• 对话中出现的重要链接（没有则省略此部分）

3. 如果是 AI相关:false，不要输出任何其他内容。`

	req := openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.3,
		MaxTokens:   c.config.MaxTokens,
	}

	resp, err := c.openaiClient.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("调用 LLM API 失败: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("LLM API 返回空结果")
	}
	return resp.Choices[0].Message.Content, nil
}
