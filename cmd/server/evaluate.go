package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/warp/incentive-engine/api"
	"github.com/warp/incentive-engine/config"
	"github.com/warp/incentive-engine/ledger"
)

var evaluateSpend string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Place a spend on the tier ladder",
	Long:  "Print the standing and legacy progress for a spend, as GET /api/tiers/evaluate would",
	Args:  cobra.NoArgs,
	RunE:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateSpend, "spend", "", "cumulative spend in minor units")
	_ = evaluateCmd.MarkFlagRequired("spend")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	table, err := loadTable(cfg)
	if err != nil {
		return err
	}
	amount, err := ledger.ParseAmount(evaluateSpend, ledger.Currency(cfg.Currency))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(api.Evaluate(table, ledger.ToMoney(amount)))
}
