package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harborlight-collective/grantscout/internal/model"
)

var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "Manage the discovery query catalog",
}

var queriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries with their pagination cursors",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, _, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		queries, err := store.ListQueries(ctx)
		if err != nil {
			return err
		}
		if len(queries) == 0 {
			fmt.Println("Catalog is empty; seed it with queries import")
			return nil
		}

		fmt.Printf("%-30s  %-8s  %8s  %6s\n", "NAME", "ENABLED", "PRIORITY", "PAGE")
		for _, q := range queries {
			fmt.Printf("%-30s  %-8t  %8d  %6d\n", q.Name, q.Enabled, q.Priority, q.CurrentPage)
		}
		return nil
	},
}

func setEnabledCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, _, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			if err := store.SetQueryEnabled(ctx, args[0], enabled); err != nil {
				return err
			}
			fmt.Printf("Query %s: enabled=%t\n", args[0], enabled)
			return nil
		},
	}
}

// queryFile is the YAML shape accepted by queries import. The payload is
// the registry search request verbatim; it is stored opaquely and only
// its pagination field is rewritten at fetch time.
type queryFile struct {
	Queries []struct {
		Name     string         `yaml:"name"`
		Priority int            `yaml:"priority"`
		Enabled  *bool          `yaml:"enabled"`
		Payload  map[string]any `yaml:"payload"`
	} `yaml:"queries"`
}

var queriesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import or update catalog entries from a YAML file",
	Long: `Import catalog entries from a YAML file, upserting by name.

Existing entries keep their pagination cursor so re-importing does not
restart sweeps. Entries present in the database but absent from the
file are left untouched; disable them explicitly if needed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		var qf queryFile
		if err := yaml.Unmarshal(data, &qf); err != nil {
			return eris.Wrapf(err, "parse %s", args[0])
		}
		if len(qf.Queries) == 0 {
			return eris.Errorf("%s contains no queries", args[0])
		}

		store, _, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		for _, entry := range qf.Queries {
			if entry.Name == "" {
				return eris.New("query entry missing name")
			}
			payload, err := json.Marshal(entry.Payload)
			if err != nil {
				return eris.Wrapf(err, "encode payload for %s", entry.Name)
			}

			enabled := true
			if entry.Enabled != nil {
				enabled = *entry.Enabled
			}
			priority := entry.Priority
			if priority == 0 {
				priority = 100
			}

			q := &model.DiscoveryQuery{
				Name:     entry.Name,
				Payload:  payload,
				Enabled:  enabled,
				Priority: priority,
			}
			if err := store.UpsertQuery(ctx, q); err != nil {
				return err
			}
			fmt.Printf("Upserted %s\n", entry.Name)
		}
		return nil
	},
}

func init() {
	queriesCmd.AddCommand(queriesListCmd)
	queriesCmd.AddCommand(setEnabledCmd("enable <name>", "Enable a catalog entry", true))
	queriesCmd.AddCommand(setEnabledCmd("disable <name>", "Disable a catalog entry", false))
	queriesCmd.AddCommand(queriesImportCmd)
	rootCmd.AddCommand(queriesCmd)
}
