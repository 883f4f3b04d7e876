package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warp/incentive-engine/config"
	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/incentive"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Customer incentive tier engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $INCENTIVE_CONFIG)")
}

// loadTable returns the ladder from cfg.TiersFile, or the built-in one. A
// tier document that names a currency must agree with the config.
func loadTable(cfg *config.Config) (incentive.Table, error) {
	if cfg.TiersFile == "" {
		return incentive.DefaultTable(), nil
	}
	table, doc, err := factory.LoadTableFile(cfg.TiersFile)
	if err != nil {
		return incentive.Table{}, err
	}
	if doc.Currency != "" && !strings.EqualFold(doc.Currency, cfg.Currency) {
		return incentive.Table{}, fmt.Errorf("%s: tiers are in %s but currency is %s", cfg.TiersFile, doc.Currency, cfg.Currency)
	}
	return table, nil
}
