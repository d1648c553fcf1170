package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Order gateway configuration

trading:
  # Execution backend: paper, zerodha, angel
  broker: paper
  # Virtual capital for the paper ledger (INR)
  starting_capital: 100000
  # Skip the market-hours check for the paper backend only
  bypass_market_hours: true
  # Order throttle for live adapters
  orders_per_second: 10

risk:
  # Largest single order value in INR
  max_order_value: 100000
  # Daily realized loss that trips the kill switch (INR)
  max_daily_loss: 5000
  # Maximum concurrent open positions
  max_positions: 10
  # Maximum share of portfolio value a single order may take
  max_position_percent: 20
  # Trading window, IST
  market_open: "09:15"
  market_close: "15:30"

log:
  level: info
  console: true
  file: false

audit:
  enabled: false

journal:
  enabled: false
`

// createTemplateConfig writes a commented template so the operator has
// something to edit. Defaults still apply for this run.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "gateway.yaml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.WriteFile(path, []byte(configTemplate), 0600)
}
