package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kidlift/kidlift/app"
	"github.com/kidlift/kidlift/config"
)

var (
	remindGroup string
	remindWeek  string
)

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Send confirmation reminders for a group week's pending assignments",
	RunE:  runRemind,
}

func init() {
	remindCmd.Flags().StringVar(&remindGroup, "group", "", "group identifier")
	remindCmd.Flags().StringVar(&remindWeek, "week", "", "week start date (YYYY-MM-DD, any day of the week)")
	_ = remindCmd.MarkFlagRequired("group")
	rootCmd.AddCommand(remindCmd)
}

func runRemind(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	week := time.Now().UTC()
	if remindWeek != "" {
		week, err = time.Parse("2006-01-02", remindWeek)
		if err != nil {
			return fmt.Errorf("parse week: %w", err)
		}
	}
	sent, err := svc.Lifecycle.RemindPending(context.Background(), remindGroup, week)
	if err != nil {
		return err
	}
	fmt.Printf("sent %d reminder(s)\n", sent)
	return nil
}
