package risk

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"order-gateway/internal/models"
)

// Property: with every other check satisfied, an order passes exactly when
// its share of the portfolio is within max_position_percent.
func TestProperty_ConcentrationThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("allowed iff value/portfolio*100 <= limit", prop.ForAll(
		func(portfolio, value, limit float64) bool {
			cfg := defaultLimits()
			cfg.MaxOrderValue = 1e12
			cfg.MaxPositionPercent = limit

			m, err := NewManager(cfg, WithClock(fixedClock(tradingHours())))
			if err != nil {
				return false
			}

			result := m.ValidateOrder(context.Background(), buy("TCS", 1, value), nil, portfolio)
			want := value/portfolio*100 <= limit
			if result.Allowed != want {
				return false
			}
			return result.Allowed || result.CheckName == CheckConcentration
		},
		gen.Float64Range(1000, 1e7),
		gen.Float64Range(1, 1e7),
		gen.Float64Range(1, 100),
	))

	properties.TestingRun(t)
}

// Property: the kill switch engages exactly when cumulative P&L first
// reaches -max_daily_loss and never disengages on its own.
func TestProperty_KillSwitchLatch(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("switch state follows the running minimum of daily pnl", prop.ForAll(
		func(pnls []float64) bool {
			m, err := NewManager(defaultLimits(), WithClock(fixedClock(tradingHours())))
			if err != nil {
				return false
			}
			ctx := context.Background()

			running := 0.0
			breached := false
			trips := 0
			for _, pnl := range pnls {
				running += pnl
				if m.RecordTradePnL(ctx, pnl) {
					trips++
				}
				if running <= -5000 {
					breached = true
				}
				if m.KillSwitchActive() != breached {
					return false
				}
			}

			wantTrips := 0
			if breached {
				wantTrips = 1
			}
			if trips != wantTrips {
				return false
			}

			sell := buy("TCS", 1, 100)
			sell.Side = models.OrderSideSell
			return m.ValidateOrder(ctx, sell, nil, 0).Allowed != breached
		},
		gen.SliceOfN(20, gen.Float64Range(-1500, 1000)),
	))

	properties.TestingRun(t)
}
