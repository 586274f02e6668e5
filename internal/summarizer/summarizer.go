package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fachebot/slack-ai-digest/internal/chat"
	"github.com/fachebot/slack-ai-digest/internal/llm"
	"github.com/fachebot/slack-ai-digest/internal/logger"
	"github.com/fachebot/slack-ai-digest/internal/model"
	"github.com/fachebot/slack-ai-digest/internal/thread"
)

// channelLister 列出需要总结的频道（便于测试注入 mock）
type channelLister interface {
	MemberChannels(ctx context.Context, exclude string) ([]chat.Channel, error)
}

// messageLedger 读取候选消息并标记为已总结（便于测试注入 mock）
type messageLedger interface {
	ChannelMessages(ctx context.Context, channelID string) []*model.StoredMessage
	MarkSummarized(ctx context.Context, channelID string, messages []*model.StoredMessage) error
}

// threadJudge 判定线程相关性（便于测试注入 mock）
type threadJudge interface {
	Judge(ctx context.Context, t *thread.Thread) llm.Verdict
}

// publisher 发送摘要（便于测试注入 mock）
type publisher interface {
	Notify(ctx context.Context, content string) error
}

type Options struct {
	TargetChannelID string
	PermalinkBase   string
	Concurrency     int           // 单频道内并发判定的线程数
	Timeout         time.Duration // 单次总结的超时，0 表示不限制
}

type Summarizer struct {
	channels channelLister
	ledger   messageLedger
	judge    threadJudge
	notifier publisher
	opts     Options
}

func NewSummarizer(channels channelLister, ledger messageLedger, judge threadJudge, notifier publisher, opts Options) *Summarizer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Summarizer{
		channels: channels,
		ledger:   ledger,
		judge:    judge,
		notifier: notifier,
		opts:     opts,
	}
}

// Run 执行一次总结。频道列表获取失败时返回错误，单个频道的失败记录在结果中，不影响其他频道。
func (s *Summarizer) Run(ctx context.Context) (*RunResult, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	result := &RunResult{
		RunID:             uuid.NewString(),
		Errors:            make([]ChannelError, 0),
		ChannelsProcessed: make([]ChannelReport, 0),
	}
	logger.Infof("[Summarizer] 开始生成摘要, run: %s", result.RunID)

	channels, err := s.channels.MemberChannels(ctx, s.opts.TargetChannelID)
	if err != nil {
		result.Errors = append(result.Errors, ChannelError{Error: err.Error()})
		return result, err
	}
	logger.Infof("[Summarizer] 共 %d 个频道待总结（排除目标频道 %s）", len(channels), s.opts.TargetChannelID)

	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, ChannelError{Channel: ch.Name, ID: ch.ID, Error: err.Error()})
			break
		}

		report, err := s.summarizeChannel(ctx, ch, result)
		if err != nil {
			logger.Errorf("[Summarizer] 处理频道 %s (%s) 失败: %v", ch.Name, ch.ID, err)
			result.Errors = append(result.Errors, ChannelError{Channel: ch.Name, ID: ch.ID, Error: err.Error()})
			continue
		}
		if report != nil {
			result.ChannelsProcessed = append(result.ChannelsProcessed, *report)
		}
	}

	logger.Infof("[Summarizer] 摘要生成完成, run: %s, 发送: %d, 消息: %d, 错误: %d",
		result.RunID, result.SummariesSent, result.TotalMessages, len(result.Errors))
	return result, nil
}

// summarizeChannel 总结单个频道。没有相关线程时返回 nil 报告，且不删除任何消息。
func (s *Summarizer) summarizeChannel(ctx context.Context, ch chat.Channel, result *RunResult) (*ChannelReport, error) {
	messages := s.ledger.ChannelMessages(ctx, ch.ID)
	if len(messages) == 0 {
		logger.Debugf("[Summarizer] 频道 %s (%s) 没有候选消息", ch.Name, ch.ID)
		return nil, nil
	}
	result.TotalMessages += len(messages)

	threads := thread.Group(messages, s.opts.PermalinkBase)
	summaries, err := s.judgeThreads(ctx, threads)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		logger.Infof("[Summarizer] 频道 %s (%s) 没有 AI 相关内容", ch.Name, ch.ID)
		return nil, nil
	}

	report := &ChannelReport{
		ID:           ch.ID,
		Name:         ch.Name,
		MessageCount: len(messages),
		AIThreads:    len(summaries),
	}

	if err := s.notifier.Notify(ctx, FormatSummaries(ch.ID, summaries)); err != nil {
		return nil, fmt.Errorf("发送摘要失败: %w", err)
	}
	result.SummariesSent++
	logger.Infof("[Summarizer] 频道 %s 已发送摘要, AI 相关线程: %d", ch.Name, len(summaries))

	// 发送成功后才消费消息；中途失败的消息会在下一轮重新总结
	if err := s.ledger.MarkSummarized(ctx, ch.ID, messages); err != nil {
		return report, fmt.Errorf("标记已总结失败: %w", err)
	}
	return report, nil
}

// judgeThreads 并发判定所有线程，结果保持线程原有顺序
func (s *Summarizer) judgeThreads(ctx context.Context, threads []*thread.Thread) ([]ThreadSummary, error) {
	verdicts := make([]llm.Verdict, len(threads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, t := range threads {
		g.Go(func() error {
			verdicts[i] = s.judge.Judge(gctx, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summaries := make([]ThreadSummary, 0)
	for i, v := range verdicts {
		if !v.Relevant {
			continue
		}
		t := threads[i]
		summaries = append(summaries, ThreadSummary{
			ThreadURL:    t.URL,
			MessageCount: len(t.Messages),
			Summary:      v.Summary,
			URLs:         t.Links,
			Fallback:     v.Fallback,
		})
	}
	return summaries, nil
}

// FormatSummaries 将频道内所有相关线程的摘要格式化为 Slack mrkdwn 文本
func FormatSummaries(channelID string, summaries []ThreadSummary) string {
	if len(summaries) == 0 {
		return ""
	}

	var sb strings.Builder

	// 头部
	sb.WriteString(fmt.Sprintf("📊 *AI 相关线程摘要* (%d 个线程)\n", len(summaries)))
	sb.WriteString(fmt.Sprintf("📍 频道: <#%s>\n", channelID))

	for i, item := range summaries {
		sb.WriteString("\n━━━━━━━━━━━━━━━━━━━━━━\n")
		sb.WriteString(fmt.Sprintf("*线程 %d* | 💬 %d 条消息\n", i+1, item.MessageCount))
		sb.WriteString(fmt.Sprintf("🔗 <%s|查看线程>\n\n", item.ThreadURL))
		sb.WriteString(strings.TrimSpace(item.Summary))
		sb.WriteString("\n")

		// 摘要里没有提到的链接补在末尾
		var missing []string
		for _, u := range item.URLs {
			if !strings.Contains(item.Summary, u) {
				missing = append(missing, u)
			}
		}
		if len(missing) > 0 {
			sb.WriteString("\n🔗 对话中的链接\n")
			for _, u := range missing {
				sb.WriteString("• " + u + "\n")
			}
		}
	}

	return sb.String()
}
