package cli

import (
	"time"

	"github.com/spf13/cobra"

	"order-gateway/internal/risk"
	"order-gateway/pkg/utils"
)

type limitsReport struct {
	Broker            string  `json:"broker"`
	BypassMarketHours bool    `json:"bypass_market_hours"`
	MaxOrderValue     float64 `json:"max_order_value"`
	MaxDailyLoss      float64 `json:"max_daily_loss"`
	MaxPositions      int     `json:"max_positions"`
	MaxPositionPct    float64 `json:"max_position_percent"`
	MarketOpen        string  `json:"market_open"`
	MarketClose       string  `json:"market_close"`
	MarketOpenNow     bool    `json:"market_open_now"`
	NextOpen          string  `json:"next_open"`
}

func newLimitsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Show configured risk limits and the market window",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			rm, err := risk.NewManager(app.Config.Risk)
			if err != nil {
				return err
			}
			report := buildLimitsReport(app, rm, time.Now())

			if output.IsJSON() {
				return output.JSON(report)
			}

			output.Bold("Risk Limits")
			output.Printf("  Max Order Value:  %s\n", utils.FormatIndianCurrency(report.MaxOrderValue))
			output.Printf("  Max Daily Loss:   %s\n", utils.FormatIndianCurrency(report.MaxDailyLoss))
			output.Printf("  Max Positions:    %d\n", report.MaxPositions)
			output.Printf("  Max Position %%:   %g%%\n", report.MaxPositionPct)
			output.Println()

			output.Bold("Market Window (IST)")
			output.Printf("  Session:          %s - %s\n", report.MarketOpen, report.MarketClose)
			if report.MarketOpenNow {
				output.Success("  Market is open")
			} else {
				output.Warning("  Market is closed, next open %s", report.NextOpen)
			}
			output.Println()

			output.Bold("Trading")
			output.Printf("  Broker:           %s\n", report.Broker)
			output.Printf("  Bypass Hours:     %v (paper only)\n", report.BypassMarketHours)
			return nil
		},
	}
}

func buildLimitsReport(app *App, rm *risk.Manager, now time.Time) limitsReport {
	st := rm.Status()
	window := rm.Window()
	return limitsReport{
		Broker:            app.Config.Trading.Broker,
		BypassMarketHours: app.Config.Trading.BypassMarketHours,
		MaxOrderValue:     st.MaxOrderValue,
		MaxDailyLoss:      st.MaxDailyLoss,
		MaxPositions:      st.MaxPositions,
		MaxPositionPct:    st.MaxPositionPct,
		MarketOpen:        utils.FormatClock(window.Open),
		MarketClose:       utils.FormatClock(window.Close),
		MarketOpenNow:     window.Contains(now),
		NextOpen:          window.NextOpen(now).Format("Mon 02-Jan 15:04"),
	}
}
