package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect discovery run history",
}

var runsLimit int

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, _, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		runs, err := store.ListRuns(ctx, runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}

		p := message.NewPrinter(language.English)
		p.Printf("%-36s  %-10s  %-9s  %-20s  %8s  %8s  %6s\n",
			"ID", "STATUS", "TRIGGER", "STARTED", "FETCHED", "INSERTED", "ERRORS")
		for _, run := range runs {
			p.Printf("%-36s  %-10s  %-9s  %-20s  %8d  %8d  %6d\n",
				run.ID, run.Status, run.Trigger,
				run.StartedAt.UTC().Format(time.DateTime),
				run.Counters.Fetched, run.Counters.Inserted, len(run.ErrorLog))
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run's counters, token spend and error log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, _, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		run, err := store.GetRun(ctx, args[0])
		if err != nil {
			return err
		}

		printRunSummary(run)

		p := message.NewPrinter(language.English)
		p.Printf("  trigger:            %s", run.Trigger)
		if run.TriggeredBy != "" {
			p.Printf(" (%s)", run.TriggeredBy)
		}
		p.Println()
		p.Printf("  started:            %s\n", run.StartedAt.UTC().Format(time.RFC3339))
		if run.CompletedAt != nil {
			p.Printf("  completed:          %s (%s)\n",
				run.CompletedAt.UTC().Format(time.RFC3339),
				run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
		}

		for _, e := range run.ErrorLog {
			p.Printf("  [%s] %s", e.Kind, e.Message)
			if e.Query != "" {
				p.Printf(" (query %s)", e.Query)
			}
			if e.OppID != "" {
				p.Printf(" (opp %s)", e.OppID)
			}
			p.Println()
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
