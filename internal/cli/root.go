// Package cli 定义命令行入口：serve 常驻运行，poll / summarize 手动执行一次，migrate 管理表结构。
package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fachebot/slack-ai-digest/internal/config"
	"github.com/fachebot/slack-ai-digest/internal/logger"
)

// RootOptions 全局参数
type RootOptions struct {
	ConfigFile string
	EnvFile    string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "slack-ai-digest",
		Short: "Slack AI 话题消息收集与线程摘要",
		Long: `收集 Slack 频道中与 AI/ML 相关的消息，按线程聚合后交给 LLM 判定并生成摘要，
发送到指定的汇总频道。`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "f", "etc/config.yaml", "the config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env", ".env", "dotenv file, ignored when missing")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewPollCommand(opts))
	cmd.AddCommand(NewSummarizeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

// loadConfig 加载 .env 与配置文件，并按配置初始化日志
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			logger.Debugf("未加载 %s: %v", opts.EnvFile, err)
		}
	}

	c, err := config.LoadFromFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	if err := logger.Setup(logger.Options{Level: c.Log.Level, File: c.Log.File}); err != nil {
		return nil, err
	}
	return c, nil
}
