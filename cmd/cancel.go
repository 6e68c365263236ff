package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/harborlight-collective/grantscout/internal/discovery"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the active discovery run",
	Long: `Request cancellation of the active discovery run.

The first request marks the run cancelling; the orchestrator finishes
its in-flight candidate and stops at the next checkpoint. Repeating the
request against a run already cancelling forces it straight to the
cancelled state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, _, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		res, err := discovery.RequestCancel(ctx, store)
		if err != nil {
			if eris.Is(err, discovery.ErrNoActiveRun) {
				fmt.Println("No active run")
				return nil
			}
			return err
		}

		if res.Forced {
			fmt.Printf("Run %s forced to cancelled\n", res.RunID)
		} else {
			fmt.Printf("Run %s marked cancelling; it will stop at the next checkpoint\n", res.RunID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
