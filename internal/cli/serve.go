package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/fachebot/slack-ai-digest/internal/logger"
	"github.com/fachebot/slack-ai-digest/internal/scheduler"
	"github.com/fachebot/slack-ai-digest/internal/svc"
	"github.com/fachebot/slack-ai-digest/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动事件回调服务与定时任务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(ctx context.Context, rootOpts *RootOptions) error {
	c, err := loadConfig(rootOpts)
	if err != nil {
		logger.Fatalf("读取配置文件失败, %s", err)
	}

	// 创建服务上下文
	svcCtx := svc.NewServiceContext(c)
	defer svcCtx.Close()

	// 创建并启动调度器
	schedulerInstance := scheduler.NewScheduler(
		svcCtx.Poller,
		svcCtx.Summarizer,
		svcCtx.Ledger,
		scheduler.Options{
			PollSchedule:    c.Poll.Schedule,
			SummarySchedule: c.Summary.Schedule,
		},
	)
	if err := schedulerInstance.Start(); err != nil {
		logger.Fatalf("[Scheduler] 启动调度器失败: %s", err)
	}

	// 启动 HTTP 服务
	server := webhook.NewServer(svcCtx.LiveIngestor, svcCtx.Poller, svcCtx.Summarizer, webhook.Options{
		Addr:          c.Server.Addr,
		SigningSecret: c.Slack.SigningSecret,
		TriggerToken:  c.Server.TriggerToken,
	})
	if err := server.Start(); err != nil {
		schedulerInstance.Stop()
		logger.Fatalf("[Webhook] 启动 HTTP 服务失败: %s", err)
	}

	// 等待程序退出（SIGINT / SIGTERM）
	<-ctx.Done()

	// 优雅关闭
	logger.Infof("正在关闭服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("[Webhook] 关闭失败, %v", err)
	}
	schedulerInstance.Stop()
	logger.Infof("服务已停止")
	return nil
}
