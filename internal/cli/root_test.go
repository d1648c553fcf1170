package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-gateway/internal/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(zerolog.Nop())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "--json", "version")
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, Version, got["version"])
}

func TestLimitsJSON(t *testing.T) {
	out, err := execute(t, "--config", t.TempDir(), "--json", "limits")
	require.NoError(t, err)

	var got limitsReport
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "paper", got.Broker)
	assert.Equal(t, 100000.0, got.MaxOrderValue)
	assert.Equal(t, 5000.0, got.MaxDailyLoss)
	assert.Equal(t, "09:15", got.MarketOpen)
	assert.Equal(t, "15:30", got.MarketClose)
}

func TestReplayCommandJSON(t *testing.T) {
	dir := t.TempDir()
	scenario := filepath.Join(dir, "day.yaml")
	require.NoError(t, os.WriteFile(scenario, []byte(`
starting_capital: 200000
steps:
  - order: {symbol: RELIANCE, side: BUY, quantity: 10, price: 2500}
  - mark: {symbol: RELIANCE, price: 2600}
  - order: {symbol: RELIANCE, side: SELL, quantity: 4, price: 2600}
`), 0600))

	out, err := execute(t, "--config", dir, "--json", "replay", scenario)
	require.NoError(t, err)

	var report replayReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, models.BrokerPaper, report.Broker)
	require.Len(t, report.Results, 3)
	assert.Equal(t, models.StatusFilled, report.Results[2].Status)
	assert.Equal(t, 400.0, report.Results[2].PnL)

	require.NotNil(t, report.Summary)
	assert.Equal(t, 200000.0, report.Summary.StartingCapital)
	assert.Equal(t, 1, report.Summary.TotalTrades)
	require.Len(t, report.Positions, 1)
	assert.Equal(t, 6, report.Positions[0].Quantity)
	assert.Equal(t, 2600.0, report.Positions[0].LTP)
	assert.Equal(t, 400.0, report.Risk.DailyPnL)
}

func TestReplayJournalsAndAudits(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gateway.yaml"), []byte(`
journal:
  enabled: true
  path: `+filepath.Join(dir, "journal.db")+`
audit:
  enabled: true
  dir: `+filepath.Join(dir, "audit")+`
`), 0600))

	scenario := filepath.Join(dir, "day.yaml")
	require.NoError(t, os.WriteFile(scenario, []byte(`
steps:
  - order: {symbol: TCS, side: BUY, quantity: 5, price: 3000}
  - order: {symbol: TCS, side: SELL, quantity: 5, price: 2900}
`), 0600))

	_, err := execute(t, "--config", dir, "replay", scenario)
	require.NoError(t, err)

	out, err := execute(t, "--config", dir, "--json", "journal", "trades")
	require.NoError(t, err)
	var trades []models.TradeRecord
	require.NoError(t, json.Unmarshal([]byte(out), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "TCS", trades[0].Symbol)
	assert.InDelta(t, -500.0, trades[0].PnL, 1e-9)
	assert.True(t, trades[0].IsPaper)

	out, err = execute(t, "--config", dir, "--json", "journal", "orders", "--status", models.StatusFilled)
	require.NoError(t, err)
	var orders []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &orders))
	assert.Len(t, orders, 2)

	entries, err := os.ReadDir(filepath.Join(dir, "audit"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestReplayUnconfiguredBroker(t *testing.T) {
	dir := t.TempDir()
	scenario := filepath.Join(dir, "angel.yaml")
	require.NoError(t, os.WriteFile(scenario, []byte("broker: angel\nsteps: []\n"), 0600))

	_, err := execute(t, "--config", dir, "replay", scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "angel")
}
