package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harborlight-collective/grantscout/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "grantscout",
	Short: "Grant discovery sync pipeline",
	Long:  "Sweeps the grants registry on a schedule, deduplicates hits, extracts and scores candidates through tiered Claude models, and queues high-fit opportunities for reviewer triage.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
