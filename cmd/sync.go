package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/harborlight-collective/grantscout/internal/model"
)

var syncOperator string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one discovery sync now",
	Long: `Run one discovery sync immediately as a manual trigger.

Sweeps one page of every enabled catalog query, deduplicates against
known opportunities, then extracts, pre-screens, scores and gates each
new candidate. The run's ledger row records counters, token spend and a
structured error log whatever the outcome.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.Migrate(ctx); err != nil {
			return eris.Wrap(err, "sync: migrate")
		}

		// Refuse to start while another run is active; the serve endpoint
		// enforces the same single-flight rule.
		active, err := env.Store.FindActiveRun(ctx)
		if err != nil {
			return eris.Wrap(err, "sync: check active run")
		}
		if active != nil {
			return eris.Errorf("run %s is already %s", active.ID, active.Status)
		}

		run, err := env.Syncer.Run(ctx, model.TriggerManual, syncOperator)
		if err != nil {
			return eris.Wrap(err, "sync")
		}

		printRunSummary(run)

		if run.Status == model.RunFailed {
			zap.L().Error("sync failed", zap.String("fatal", run.FatalError))
			return eris.Errorf("run %s failed: %s", run.ID, run.FatalError)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncOperator, "operator", "cli", "operator name recorded on the run")
	rootCmd.AddCommand(syncCmd)
}

func printRunSummary(run *model.DiscoveryRun) {
	p := message.NewPrinter(language.English)
	p.Printf("Run %s: %s\n", run.ID, run.Status)
	p.Printf("  queries attempted:  %d\n", run.Counters.QueriesAttempted)
	p.Printf("  ids fetched:        %d\n", run.Counters.Fetched)
	p.Printf("  new candidates:     %d\n", run.Counters.NewCandidates)
	p.Printf("  details fetched:    %d\n", run.Counters.DetailFetched)
	p.Printf("  rejected:           %d (pre-screen %d, scoring %d)\n",
		run.Counters.Rejected(), run.Counters.PrescreenRejected, run.Counters.ScoreRejected)
	p.Printf("  below threshold:    %d\n", run.Counters.BelowThreshold)
	p.Printf("  inserted:           %d\n", run.Counters.Inserted)
	p.Printf("  tokens:             %d cheap, %d capable\n",
		run.Tokens.CheapInput+run.Tokens.CheapOutput,
		run.Tokens.CapableInput+run.Tokens.CapableOutput)
	if n := len(run.ErrorLog); n > 0 {
		p.Printf("  errors:             %d (see runs show %s)\n", n, run.ID)
	}
}
