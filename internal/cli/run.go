package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/fachebot/slack-ai-digest/internal/svc"
)

func NewPollCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "执行一次频道轮询并输出结果",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, rootOpts, func(ctx context.Context, svcCtx *svc.ServiceContext) (any, error) {
				return svcCtx.Poller.Run(ctx)
			})
		},
	}
}

func NewSummarizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "执行一次线程总结并输出结果",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, rootOpts, func(ctx context.Context, svcCtx *svc.ServiceContext) (any, error) {
				return svcCtx.Summarizer.Run(ctx)
			})
		},
	}
}

// runOnce 构建服务上下文后执行一次任务，结果以 JSON 输出；任务失败时仍输出已有结果
func runOnce(cmd *cobra.Command, rootOpts *RootOptions, job func(ctx context.Context, svcCtx *svc.ServiceContext) (any, error)) error {
	c, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}

	svcCtx := svc.NewServiceContext(c)
	defer svcCtx.Close()

	result, jobErr := job(cmd.Context(), svcCtx)
	if err := writeResult(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	return jobErr
}

func writeResult(w io.Writer, result any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
