package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"text/tabwriter"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/fachebot/slack-ai-digest/internal/svc"
	"github.com/fachebot/slack-ai-digest/migrations"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "管理数据库表结构",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			return runMigrate(cmd.Context(), cmd.OutOrStdout(), rootOpts, action)
		},
	}
	return cmd
}

func runMigrate(ctx context.Context, w io.Writer, rootOpts *RootOptions, action string) error {
	c, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite3", c.Storage.DSN)
	if err != nil {
		return fmt.Errorf("打开数据库失败: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	provider, err := migrations.NewProvider(db, svc.Tables(c))
	if err != nil {
		return err
	}
	return migrate(ctx, w, provider, action)
}

func migrate(ctx context.Context, w io.Writer, provider *goose.Provider, action string) error {
	switch action {
	case "up":
		results, err := provider.Up(ctx)
		if err != nil {
			return fmt.Errorf("执行迁移失败: %w", err)
		}
		if len(results) == 0 {
			fmt.Fprintln(w, "no migrations to apply")
		}
		for _, r := range results {
			fmt.Fprintf(w, "applied %d (%s)\n", r.Source.Version, r.Duration)
		}
		return nil

	case "down":
		r, err := provider.Down(ctx)
		if err != nil {
			return fmt.Errorf("回滚迁移失败: %w", err)
		}
		fmt.Fprintf(w, "rolled back %d\n", r.Source.Version)
		return nil

	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("查询迁移状态失败: %w", err)
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT")
		for _, s := range statuses {
			appliedAt := "-"
			if !s.AppliedAt.IsZero() {
				appliedAt = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Source.Version, s.State, appliedAt)
		}
		return tw.Flush()

	default:
		return fmt.Errorf("未知的迁移操作 %q，可选 up / down / status", action)
	}
}
