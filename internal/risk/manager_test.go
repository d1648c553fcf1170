package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-gateway/internal/audit"
	"order-gateway/internal/config"
	"order-gateway/internal/errors"
	"order-gateway/internal/models"
	"order-gateway/pkg/utils"
)

type memoryRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *memoryRecorder) Record(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *memoryRecorder) count(t audit.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func defaultLimits() config.RiskConfig {
	return config.RiskConfig{
		MaxOrderValue:      100000,
		MaxDailyLoss:       5000,
		MaxPositions:       10,
		MaxPositionPercent: 20,
		MarketOpen:         "09:15",
		MarketClose:        "15:30",
	}
}

// Monday 2026-10-19, 11:00 IST.
func tradingHours() time.Time {
	return time.Date(2026, 10, 19, 11, 0, 0, 0, utils.IndiaLocation)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestManager(t *testing.T, cfg config.RiskConfig, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock(tradingHours()))}, opts...)
	m, err := NewManager(cfg, opts...)
	require.NoError(t, err)
	return m
}

func buy(symbol string, qty int, price float64) models.OrderRequest {
	return models.OrderRequest{
		Symbol:   symbol,
		Exchange: models.NSE,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeLimit,
		Product:  models.ProductDelivery,
		Quantity: qty,
		Price:    price,
	}
}

func held(symbols ...string) []models.Position {
	positions := make([]models.Position, len(symbols))
	for i, s := range symbols {
		positions[i] = models.Position{Symbol: s, Exchange: models.NSE, Quantity: 1, AveragePrice: 100}
	}
	return positions
}

func TestValidateOrderPasses(t *testing.T) {
	m := newTestManager(t, defaultLimits())

	result := m.ValidateOrder(context.Background(), buy("TCS", 1, 3000), nil, 100000)
	assert.True(t, result.Allowed)
	assert.Equal(t, CheckAll, result.CheckName)
	assert.Equal(t, "All safety checks passed", result.Reason)
	assert.NoError(t, result.Err())
}

func TestOrderValueLimit(t *testing.T) {
	m := newTestManager(t, defaultLimits())

	result := m.ValidateOrder(context.Background(), buy("RELIANCE", 60, 2500), nil, 0)
	assert.False(t, result.Allowed)
	assert.Equal(t, CheckOrderValue, result.CheckName)
	assert.Contains(t, result.Reason, "₹1,50,000.00")
	assert.Contains(t, result.Reason, "₹1,00,000.00")

	// Exactly at the limit passes.
	result = m.ValidateOrder(context.Background(), buy("RELIANCE", 40, 2500), nil, 0)
	assert.True(t, result.Allowed)
}

func TestConcentrationBoundary(t *testing.T) {
	m := newTestManager(t, defaultLimits())
	ctx := context.Background()

	result := m.ValidateOrder(ctx, buy("INFY", 10, 2500), nil, 100000)
	assert.False(t, result.Allowed)
	assert.Equal(t, CheckConcentration, result.CheckName)
	assert.Contains(t, result.Reason, "25.0%")

	result = m.ValidateOrder(ctx, buy("INFY", 1, 19999), nil, 100000)
	assert.True(t, result.Allowed)

	// No portfolio value skips the check.
	result = m.ValidateOrder(ctx, buy("INFY", 10, 2500), nil, 0)
	assert.True(t, result.Allowed)
}

func TestMaxPositions(t *testing.T) {
	cfg := defaultLimits()
	cfg.MaxPositions = 5
	m := newTestManager(t, cfg)
	ctx := context.Background()
	positions := held("A", "B", "C", "D", "E")

	result := m.ValidateOrder(ctx, buy("F", 1, 100), positions, 0)
	assert.False(t, result.Allowed)
	assert.Equal(t, CheckMaxPositions, result.CheckName)

	result = m.ValidateOrder(ctx, buy("C", 1, 100), positions, 0)
	assert.True(t, result.Allowed, "adding to a held symbol never counts")

	sell := buy("F", 1, 100)
	sell.Side = models.OrderSideSell
	result = m.ValidateOrder(ctx, sell, positions, 0)
	assert.True(t, result.Allowed)
}

func TestKillSwitchAutoTrip(t *testing.T) {
	rec := &memoryRecorder{}
	m := newTestManager(t, defaultLimits(), WithAuditor(rec))
	ctx := context.Background()

	assert.False(t, m.RecordTradePnL(ctx, -3000))
	assert.False(t, m.KillSwitchActive())

	assert.True(t, m.RecordTradePnL(ctx, -2000))
	assert.True(t, m.KillSwitchActive())

	assert.False(t, m.RecordTradePnL(ctx, -500), "latch does not re-trip")
	assert.Equal(t, 1, rec.count(audit.EventKillSwitchOn))

	result := m.ValidateOrder(ctx, buy("TCS", 1, 100), nil, 0)
	assert.False(t, result.Allowed)
	assert.Equal(t, CheckKillSwitch, result.CheckName)

	err := result.Err()
	assert.ErrorIs(t, err, errors.ErrKillSwitchEngaged)
	assert.NotErrorIs(t, err, errors.ErrRiskCheckFailed)
	assert.Equal(t, 503, errors.HTTPStatus(err))
	assert.Equal(t, 1, rec.count(audit.EventRiskCheckFailed))

	status := m.Status()
	assert.Equal(t, -5500.0, status.DailyPnL)
	assert.Equal(t, 3, status.DailyTrades)
	assert.Equal(t, -500.0, status.DailyLossRemaining)
	assert.NotEmpty(t, status.KillSwitchReason)

	// A daily reset does not release the switch.
	m.ResetDailyCounters(ctx)
	assert.True(t, m.KillSwitchActive())
	assert.Equal(t, 1, rec.count(audit.EventDailyReset))

	m.DeactivateKillSwitch(ctx, "reviewed")
	assert.False(t, m.KillSwitchActive())
	assert.Equal(t, 1, rec.count(audit.EventKillSwitchOff))

	result = m.ValidateOrder(ctx, buy("TCS", 1, 100), nil, 0)
	assert.True(t, result.Allowed)
}

func TestDailyLossCheckAfterManualRelease(t *testing.T) {
	m := newTestManager(t, defaultLimits())
	ctx := context.Background()

	m.RecordTradePnL(ctx, -6000)
	m.DeactivateKillSwitch(ctx, "")

	result := m.ValidateOrder(ctx, buy("TCS", 1, 100), nil, 0)
	assert.False(t, result.Allowed)
	assert.Equal(t, CheckDailyLoss, result.CheckName)
	assert.ErrorIs(t, result.Err(), errors.ErrRiskCheckFailed)
}

func TestManualKillSwitch(t *testing.T) {
	rec := &memoryRecorder{}
	m := newTestManager(t, defaultLimits(), WithAuditor(rec))
	ctx := context.Background()

	m.ActivateKillSwitch(ctx, "operator halt")
	m.ActivateKillSwitch(ctx, "again")
	assert.Equal(t, 1, rec.count(audit.EventKillSwitchOn))
	assert.Equal(t, "operator halt", m.Status().KillSwitchReason)

	m.DeactivateKillSwitch(ctx, "")
	m.DeactivateKillSwitch(ctx, "")
	assert.Equal(t, 1, rec.count(audit.EventKillSwitchOff))
}

func TestKillSwitchTripsOnceUnderConcurrency(t *testing.T) {
	rec := &memoryRecorder{}
	m := newTestManager(t, defaultLimits(), WithAuditor(rec))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordTradePnL(ctx, -100)
		}()
	}
	wg.Wait()

	assert.True(t, m.KillSwitchActive())
	assert.Equal(t, 1, rec.count(audit.EventKillSwitchOn))
	assert.Equal(t, 100, m.Status().DailyTrades)
}

func TestMarketHours(t *testing.T) {
	ctx := context.Background()
	order := buy("TCS", 1, 100)

	tests := []struct {
		name    string
		at      time.Time
		allowed bool
	}{
		{"before open", time.Date(2026, 10, 19, 9, 14, 59, 0, utils.IndiaLocation), false},
		{"at open", time.Date(2026, 10, 19, 9, 15, 0, 0, utils.IndiaLocation), true},
		{"at close", time.Date(2026, 10, 19, 15, 30, 0, 0, utils.IndiaLocation), true},
		{"after close", time.Date(2026, 10, 19, 15, 30, 1, 0, utils.IndiaLocation), false},
		{"saturday", time.Date(2026, 10, 24, 11, 0, 0, 0, utils.IndiaLocation), false},
		{"utc clock inside window", time.Date(2026, 10, 19, 5, 0, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(defaultLimits(), WithClock(fixedClock(tt.at)))
			require.NoError(t, err)

			result := m.ValidateOrder(ctx, order, nil, 0)
			assert.Equal(t, tt.allowed, result.Allowed, result.Reason)
			if !tt.allowed {
				assert.Equal(t, CheckMarketHours, result.CheckName)
			}
		})
	}
}

func TestMarketHoursBypass(t *testing.T) {
	ctx := context.Background()
	sunday := fixedClock(time.Date(2026, 10, 25, 11, 0, 0, 0, utils.IndiaLocation))
	order := buy("TCS", 1, 100)

	m, err := NewManager(defaultLimits(), WithClock(sunday))
	require.NoError(t, err)
	assert.False(t, m.ValidateOrder(ctx, order, nil, 0).Allowed)
	assert.True(t, m.ValidateOrderWith(ctx, order, nil, 0, ValidateOptions{SkipMarketHours: true}).Allowed)

	// The bypass is per call; later validations still check the window.
	assert.Equal(t, CheckMarketHours, m.ValidateOrder(ctx, order, nil, 0).CheckName)

	// Bypass never skips the other checks.
	m.ActivateKillSwitch(ctx, "halt")
	assert.Equal(t, CheckKillSwitch,
		m.ValidateOrderWith(ctx, order, nil, 0, ValidateOptions{SkipMarketHours: true}).CheckName)
}

func TestCheckOrder(t *testing.T) {
	cfg := defaultLimits()
	cfg.MaxPositions = 1
	m := newTestManager(t, cfg)
	ctx := context.Background()

	// Violates order_value, max_positions and concentration at once.
	result := m.ValidateOrder(ctx, buy("NEW", 100, 2000), held("OLD"), 100000)
	assert.Equal(t, CheckOrderValue, result.CheckName)

	result = m.ValidateOrder(ctx, buy("NEW", 10, 5000), held("OLD"), 100000)
	assert.Equal(t, CheckMaxPositions, result.CheckName)
}

func TestNewManagerRejectsBadLimits(t *testing.T) {
	for name, mutate := range map[string]func(*config.RiskConfig){
		"order value": func(c *config.RiskConfig) { c.MaxOrderValue = 0 },
		"daily loss":  func(c *config.RiskConfig) { c.MaxDailyLoss = -1 },
		"positions":   func(c *config.RiskConfig) { c.MaxPositions = 0 },
		"percent":     func(c *config.RiskConfig) { c.MaxPositionPercent = 101 },
		"window":      func(c *config.RiskConfig) { c.MarketOpen = "9am" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := defaultLimits()
			mutate(&cfg)
			_, err := NewManager(cfg)
			assert.ErrorIs(t, err, errors.ErrConfigInvalid)
		})
	}
}
