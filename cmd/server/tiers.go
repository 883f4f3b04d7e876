package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/warp/incentive-engine/config"
	"github.com/warp/incentive-engine/factory"
)

var tiersYAML bool

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "Print the configured tier ladder",
	Args:  cobra.NoArgs,
	RunE:  runTiers,
}

func init() {
	tiersCmd.Flags().BoolVar(&tiersYAML, "yaml", false, "print YAML instead of JSON")
	rootCmd.AddCommand(tiersCmd)
}

func runTiers(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	table, err := loadTable(cfg)
	if err != nil {
		return err
	}
	doc := factory.ToJSON(table, cfg.Currency)

	if tiersYAML {
		out, err := factory.MarshalYAML(doc)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
