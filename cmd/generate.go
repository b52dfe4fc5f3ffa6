package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kidlift/kidlift/app"
	"github.com/kidlift/kidlift/config"
	"github.com/kidlift/kidlift/core/model"
	"github.com/kidlift/kidlift/core/schedule"
)

var (
	genGroup   string
	genWeek    string
	genDryRun  bool
	genPartial bool
	genNoFair  bool
	genNoPref  bool
	genNotify  bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run one schedule generation and exit",
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&genGroup, "group", "", "group identifier")
	generateCmd.Flags().StringVar(&genWeek, "week", "", "week start date (YYYY-MM-DD, any day of the week)")
	generateCmd.Flags().BoolVar(&genDryRun, "dry-run", false, "compute without committing")
	generateCmd.Flags().BoolVar(&genPartial, "partial", false, "allow partial generation")
	generateCmd.Flags().BoolVar(&genNoFair, "no-fairness", false, "ignore the fairness ledger")
	generateCmd.Flags().BoolVar(&genNoPref, "no-preferences", false, "ignore stated slot preferences")
	generateCmd.Flags().BoolVar(&genNotify, "notify", false, "dispatch schedule notifications")
	_ = generateCmd.MarkFlagRequired("group")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
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
	if genWeek != "" {
		week, err = time.Parse("2006-01-02", genWeek)
		if err != nil {
			return fmt.Errorf("parse week: %w", err)
		}
	}

	res, err := svc.Orchestrator.Generate(context.Background(), schedule.Request{
		GroupID:   genGroup,
		WeekStart: model.NormalizeWeek(week),
		Options: schedule.Options{
			ConsiderFairness:       !genNoFair,
			PrioritizePreferences:  !genNoPref,
			AllowPartialGeneration: genPartial,
			NotifyParticipants:     genNotify,
			DryRun:                 genDryRun,
		},
	})
	if err != nil {
		return err
	}

	for _, a := range res.Assignments {
		fmt.Printf("%s %-9s driver=%s passengers=%v\n",
			a.Date.Format("2006-01-02"), a.TimeSlot, a.DriverID, a.PassengerIDs)
	}
	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	return nil
}
