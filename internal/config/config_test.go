package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-gateway/internal/errors"
)

func TestLoadCreatesTemplateAndUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "gateway.yaml"))

	assert.Equal(t, "paper", cfg.Trading.Broker)
	assert.True(t, cfg.IsPaperMode())
	assert.Equal(t, 100000.0, cfg.Trading.StartingCapital)
	assert.Equal(t, 100000.0, cfg.Risk.MaxOrderValue)
	assert.Equal(t, 5000.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, 10, cfg.Risk.MaxPositions)
	assert.Equal(t, 20.0, cfg.Risk.MaxPositionPercent)

	// The written template must load back to the same values.
	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Risk, again.Risk)
	assert.Equal(t, cfg.Trading, again.Trading)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gateway.yaml"), []byte(`
trading:
  broker: zerodha
risk:
  max_order_value: 50000
  max_positions: 5
`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.yaml"), []byte(`
zerodha:
  api_key: file-key
  api_secret: file-secret
`), 0600))

	t.Setenv("GATEWAY_RISK_MAX_DAILY_LOSS", "2500")
	t.Setenv("ZERODHA_API_KEY", "env-key")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "zerodha", cfg.Trading.Broker)
	assert.False(t, cfg.IsPaperMode())
	assert.Equal(t, 50000.0, cfg.Risk.MaxOrderValue)
	assert.Equal(t, 5, cfg.Risk.MaxPositions)
	assert.Equal(t, 2500.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, "env-key", cfg.Credentials.Zerodha.APIKey)
	assert.Equal(t, "file-secret", cfg.Credentials.Zerodha.APISecret)

	creds := cfg.Credentials.Zerodha.AsMap()
	assert.Equal(t, "env-key", creds["api_key"])
	assert.Empty(t, creds["request_token"])
}

func TestLoadRejectsInvalidLimits(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gateway.yaml"), []byte(`
risk:
  max_position_percent: 150
`), 0600))

	_, err := Load(dir)
	assert.ErrorIs(t, err, errors.ErrConfigInvalid)
}

func TestRiskConfigValidate(t *testing.T) {
	base := Default().Risk
	require.NoError(t, base.Validate())

	cases := map[string]func(r *RiskConfig){
		"tiny order value": func(r *RiskConfig) { r.MaxOrderValue = 500 },
		"tiny daily loss":  func(r *RiskConfig) { r.MaxDailyLoss = 50 },
		"zero positions":   func(r *RiskConfig) { r.MaxPositions = 0 },
		"too many":         func(r *RiskConfig) { r.MaxPositions = 51 },
		"percent over 100": func(r *RiskConfig) { r.MaxPositionPercent = 101 },
		"bad clock":        func(r *RiskConfig) { r.MarketOpen = "9am" },
		"inverted window":  func(r *RiskConfig) { r.MarketOpen, r.MarketClose = "15:30", "09:15" },
	}
	for name, mutate := range cases {
		r := base
		mutate(&r)
		assert.ErrorIs(t, r.Validate(), errors.ErrConfigInvalid, name)
	}

	open, close, err := base.SessionWindow()
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+15*time.Minute, open)
	assert.Equal(t, 15*time.Hour+30*time.Minute, close)
}

func TestValidateBroker(t *testing.T) {
	cfg := Default()
	cfg.Trading.Broker = "upstox"
	assert.ErrorIs(t, cfg.Validate(), errors.ErrConfigInvalid)

	cfg = Default()
	cfg.Trading.StartingCapital = 0
	assert.ErrorIs(t, cfg.Validate(), errors.ErrConfigInvalid)
}
