package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fachebot/slack-ai-digest/internal/ingest"
	"github.com/fachebot/slack-ai-digest/internal/logger"
	"github.com/fachebot/slack-ai-digest/internal/summarizer"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule 无法解析调度表达式时使用的默认间隔
const DefaultSchedule = "@every 5m"

// ReclaimSchedule 清理过期记录的周期
const ReclaimSchedule = "@daily"

var rateRegex = regexp.MustCompile(`(?i)^rate\(\s*(\d+)\s*(minute|minutes|hour|hours|day|days)\s*\)$`)

// pollRunner 执行一次轮询（便于测试注入 mock）
type pollRunner interface {
	Run(ctx context.Context) (*ingest.PollResult, error)
}

// summaryRunner 执行一次总结（便于测试注入 mock）
type summaryRunner interface {
	Run(ctx context.Context) (*summarizer.RunResult, error)
}

// reclaimer 清理过期记录
type reclaimer interface {
	Reclaim(ctx context.Context) (int, error)
}

type Options struct {
	PollSchedule    string
	SummarySchedule string
}

type Scheduler struct {
	cron       *cron.Cron
	poller     pollRunner
	summarizer summaryRunner
	reclaimer  reclaimer
	opts       Options
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
}

// locUTC UTC 标准时间（UTC）
var locUTC = time.UTC

func NewScheduler(poller pollRunner, summarizer summaryRunner, reclaimer reclaimer, opts Options) *Scheduler {
	cronLogger := cron.PrintfLogger(logger.Std())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(locUTC),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		poller:     poller,
		summarizer: summarizer,
		reclaimer:  reclaimer,
		opts:       opts,
	}
}

// ParseSchedule 将 rate(N minutes|hours|days) 转换为 cron 的 @every 表达式；
// 合法的 cron 表达式原样返回；其余情况返回默认的 5 分钟间隔。
func ParseSchedule(expr string) string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return DefaultSchedule
	}

	if m := rateRegex.FindStringSubmatch(expr); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			unit := strings.ToLower(m[2])
			switch {
			case strings.HasPrefix(unit, "minute"):
				return fmt.Sprintf("@every %dm", n)
			case strings.HasPrefix(unit, "hour"):
				return fmt.Sprintf("@every %dh", n)
			default:
				return fmt.Sprintf("@every %dh", n*24)
			}
		}
	}

	if _, err := cron.ParseStandard(expr); err == nil {
		return expr
	}

	logger.Warnf("[Scheduler] 无法解析调度表达式 %q，使用默认值 %s", expr, DefaultSchedule)
	return DefaultSchedule
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	pollSpec := ParseSchedule(s.opts.PollSchedule)
	if _, err := s.cron.AddFunc(pollSpec, s.runPoll); err != nil {
		return fmt.Errorf("注册轮询任务失败: %w", err)
	}

	summarySpec := ParseSchedule(s.opts.SummarySchedule)
	if _, err := s.cron.AddFunc(summarySpec, s.runSummary); err != nil {
		return fmt.Errorf("注册总结任务失败: %w", err)
	}

	if _, err := s.cron.AddFunc(ReclaimSchedule, s.runReclaim); err != nil {
		return fmt.Errorf("注册清理任务失败: %w", err)
	}

	s.cron.Start()
	logger.Infof("[Scheduler] 调度器已启动，轮询: %s，总结: %s", pollSpec, summarySpec)
	return nil
}

// Stop 停止调度器，等待正在执行的任务结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Infof("[Scheduler] 调度器已停止")
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// runPoll 执行轮询任务（cron 触发）
func (s *Scheduler) runPoll() {
	ctx := s.jobContext()
	if ctx.Err() != nil {
		logger.Infof("[Scheduler] 任务已取消，退出")
		return
	}

	result, err := s.poller.Run(ctx)
	if err != nil {
		logger.Errorf("[Scheduler] 轮询失败: %v", err)
		return
	}
	logger.Debugf("[Scheduler] 轮询 %s 完成: 检查 %d, 发现 %d", result.RunID, result.Processed, result.Found)
}

// runSummary 执行总结任务（cron 触发）
func (s *Scheduler) runSummary() {
	ctx := s.jobContext()
	if ctx.Err() != nil {
		logger.Infof("[Scheduler] 任务已取消，退出")
		return
	}

	result, err := s.summarizer.Run(ctx)
	if err != nil {
		logger.Errorf("[Scheduler] 总结失败: %v", err)
		return
	}
	logger.Debugf("[Scheduler] 总结 %s 完成: 发送 %d", result.RunID, result.SummariesSent)
}

// runReclaim 清理过期的候选消息与标记
func (s *Scheduler) runReclaim() {
	ctx := s.jobContext()
	if ctx.Err() != nil {
		return
	}

	deleted, err := s.reclaimer.Reclaim(ctx)
	if err != nil {
		logger.Errorf("[Scheduler] 清理过期记录失败: %v", err)
		return
	}
	logger.Infof("[Scheduler] 已清理 %d 条过期记录", deleted)
}
