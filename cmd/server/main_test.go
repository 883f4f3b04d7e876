package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/api"
	"github.com/warp/incentive-engine/factory"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("INCENTIVE_CONFIG", "")
	configPath, evaluateSpend, tiersYAML = "", "", false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestEvaluateCommand(t *testing.T) {
	out, err := run(t, "evaluate", "--spend", "7200000")
	require.NoError(t, err)

	var resp api.EvaluationResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 3, resp.Standing.Level)
	assert.InDelta(t, 44.0, resp.Standing.Percentage, 1e-9)
	assert.Equal(t, 4, resp.Progress.Next.Level)
}

func TestEvaluateCommand_InvalidSpend(t *testing.T) {
	_, err := run(t, "evaluate", "--spend", "lots")
	assert.Error(t, err)
}

func TestTiersCommand(t *testing.T) {
	out, err := run(t, "tiers", "--yaml")
	require.NoError(t, err)

	_, doc, err := factory.ParseTable([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "COP", doc.Currency)
	assert.Len(t, doc.Tiers, 11)
}

func TestTiersCommand_CurrencyMismatch(t *testing.T) {
	dir := t.TempDir()
	tiers := filepath.Join(dir, "tiers.yaml")
	require.NoError(t, os.WriteFile(tiers, []byte("currency: USD\ntiers:\n  - threshold: 100\n"), 0o600))
	t.Setenv("INCENTIVE_TIERS_FILE", tiers)

	_, err := run(t, "tiers")
	assert.ErrorContains(t, err, "tiers are in USD")
}
