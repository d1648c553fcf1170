// Package risk runs pre-trade safety checks and owns the kill switch.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"order-gateway/internal/audit"
	"order-gateway/internal/config"
	"order-gateway/internal/errors"
	"order-gateway/internal/logging"
	"order-gateway/internal/metrics"
	"order-gateway/internal/models"
	"order-gateway/pkg/utils"
)

// Check names reported in RiskCheckResult.CheckName.
const (
	CheckKillSwitch    = "kill_switch"
	CheckOrderValue    = "order_value"
	CheckDailyLoss     = "daily_loss"
	CheckMaxPositions  = "max_positions"
	CheckConcentration = "concentration"
	CheckMarketHours   = "market_hours"
	CheckAll           = "all"
)

// RiskCheckResult is the outcome of a pre-trade validation. A rejection is a
// value, not an error; call Err to surface it as one.
type RiskCheckResult struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason"`
	CheckName string `json:"check_name"`
}

// Err returns nil for an allowed result, otherwise a *errors.RiskCheckError.
func (r RiskCheckResult) Err() error {
	if r.Allowed {
		return nil
	}
	return errors.NewRiskCheckError(r.CheckName, r.Reason)
}

// Status is a point-in-time snapshot of limits and counters.
type Status struct {
	KillSwitchActive   bool    `json:"kill_switch_active"`
	KillSwitchReason   string  `json:"kill_switch_reason,omitempty"`
	DailyPnL           float64 `json:"daily_pnl"`
	DailyTrades        int     `json:"daily_trades"`
	MaxOrderValue      float64 `json:"max_order_value"`
	MaxDailyLoss       float64 `json:"max_daily_loss"`
	MaxPositions       int     `json:"max_positions"`
	MaxPositionPct     float64 `json:"max_position_pct"`
	DailyLossRemaining float64 `json:"daily_loss_remaining"`
}

// ValidateOptions adjusts a single validation.
type ValidateOptions struct {
	// SkipMarketHours bypasses only the market_hours check.
	SkipMarketHours bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source used by the market-hours check.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logging.WithComponent(logger, "risk") }
}

// WithMetrics sets the metrics registry.
func WithMetrics(reg *metrics.Registry) Option {
	return func(m *Manager) { m.metrics = reg }
}

// WithAuditor sets the audit recorder.
func WithAuditor(r audit.Recorder) Option {
	return func(m *Manager) { m.auditor = audit.OrNop(r) }
}

// Manager validates orders against configured limits and tracks realized
// daily P&L. The kill switch latches: once engaged it stays engaged until
// DeactivateKillSwitch is called.
type Manager struct {
	maxOrderValue  float64
	maxDailyLoss   float64
	maxPositions   int
	maxPositionPct float64
	window         utils.SessionWindow

	dailyPnL         float64
	dailyTrades      int
	killSwitch       bool
	killSwitchReason string

	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Registry
	auditor audit.Recorder

	mu sync.RWMutex
}

// NewManager creates a risk manager from cfg.
func NewManager(cfg config.RiskConfig, opts ...Option) (*Manager, error) {
	if cfg.MaxOrderValue <= 0 {
		return nil, errors.Wrap(errors.ErrConfigInvalid, "max_order_value must be positive")
	}
	if cfg.MaxDailyLoss <= 0 {
		return nil, errors.Wrap(errors.ErrConfigInvalid, "max_daily_loss must be positive")
	}
	if cfg.MaxPositions <= 0 {
		return nil, errors.Wrap(errors.ErrConfigInvalid, "max_positions must be positive")
	}
	if cfg.MaxPositionPercent <= 0 || cfg.MaxPositionPercent > 100 {
		return nil, errors.Wrap(errors.ErrConfigInvalid, "max_position_percent must be in (0, 100]")
	}

	window := utils.DefaultSessionWindow()
	if cfg.MarketOpen != "" || cfg.MarketClose != "" {
		open, close, err := cfg.SessionWindow()
		if err != nil {
			return nil, err
		}
		window = utils.SessionWindow{Open: open, Close: close}
	}

	m := &Manager{
		maxOrderValue:  cfg.MaxOrderValue,
		maxDailyLoss:   cfg.MaxDailyLoss,
		maxPositions:   cfg.MaxPositions,
		maxPositionPct: cfg.MaxPositionPercent,
		window:         window,
		now:            time.Now,
		logger:         logging.WithComponent(zerolog.Nop(), "risk"),
		auditor:        audit.Nop{},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger.Info().
		Float64("max_order_value", m.maxOrderValue).
		Float64("max_daily_loss", m.maxDailyLoss).
		Int("max_positions", m.maxPositions).
		Float64("max_position_pct", m.maxPositionPct).
		Msg("Risk manager initialized")

	return m, nil
}

// ValidateOrder runs every check in order and stops at the first failure.
func (m *Manager) ValidateOrder(ctx context.Context, order models.OrderRequest, positions []models.Position, portfolioValue float64) RiskCheckResult {
	return m.ValidateOrderWith(ctx, order, positions, portfolioValue, ValidateOptions{})
}

// ValidateOrderWith is ValidateOrder with per-call options.
func (m *Manager) ValidateOrderWith(ctx context.Context, order models.OrderRequest, positions []models.Position, portfolioValue float64, opts ValidateOptions) RiskCheckResult {
	m.mu.RLock()
	killSwitch := m.killSwitch
	dailyPnL := m.dailyPnL
	m.mu.RUnlock()

	checks := []func() RiskCheckResult{
		func() RiskCheckResult { return m.checkKillSwitch(killSwitch) },
		func() RiskCheckResult { return m.checkOrderValue(order) },
		func() RiskCheckResult { return m.checkDailyLoss(dailyPnL) },
		func() RiskCheckResult { return m.checkMaxPositions(order, positions) },
		func() RiskCheckResult { return m.checkConcentration(order, portfolioValue) },
		func() RiskCheckResult { return m.checkMarketHours(opts.SkipMarketHours) },
	}

	for _, check := range checks {
		if result := check(); !result.Allowed {
			m.metrics.RiskCheck(result.CheckName, false)
			m.logger.Warn().
				Str("check", result.CheckName).
				Str("reason", result.Reason).
				Str("symbol", order.Symbol).
				Msg("Risk check failed")
			if err := audit.RiskRejected(ctx, m.auditor, order.Symbol, result.CheckName, result.Reason); err != nil {
				m.logger.Error().Err(err).Msg("Failed to write audit event")
			}
			return result
		}
	}

	m.metrics.RiskCheck(CheckAll, true)
	m.logger.Info().
		Str("symbol", order.Symbol).
		Int("quantity", order.Quantity).
		Float64("value", order.Value()).
		Msg("Risk checks passed")

	return RiskCheckResult{Allowed: true, Reason: "All safety checks passed", CheckName: CheckAll}
}

// RecordTradePnL adds a realized P&L to the daily total and engages the
// kill switch when the total reaches -max_daily_loss. It reports whether
// this call engaged the switch.
func (m *Manager) RecordTradePnL(ctx context.Context, pnl float64) bool {
	m.mu.Lock()
	m.dailyPnL += pnl
	m.dailyTrades++
	dailyPnL := m.dailyPnL

	tripped := false
	if !m.killSwitch && m.dailyPnL <= -m.maxDailyLoss {
		m.killSwitch = true
		m.killSwitchReason = fmt.Sprintf("Daily loss %s reached limit %s",
			utils.FormatIndianCurrency(-m.dailyPnL), utils.FormatIndianCurrency(m.maxDailyLoss))
		tripped = true
	}
	reason := m.killSwitchReason
	m.mu.Unlock()

	m.metrics.SetDailyPnL(dailyPnL)
	m.logger.Debug().Float64("pnl", pnl).Float64("daily_pnl", dailyPnL).Msg("Trade P&L recorded")

	if tripped {
		m.onKillSwitch(ctx, true, reason, dailyPnL)
	}
	return tripped
}

// ActivateKillSwitch engages the kill switch. It is a no-op when already engaged.
func (m *Manager) ActivateKillSwitch(ctx context.Context, reason string) {
	if reason == "" {
		reason = "Manual activation"
	}

	m.mu.Lock()
	if m.killSwitch {
		m.mu.Unlock()
		return
	}
	m.killSwitch = true
	m.killSwitchReason = reason
	dailyPnL := m.dailyPnL
	m.mu.Unlock()

	m.onKillSwitch(ctx, true, reason, dailyPnL)
}

// DeactivateKillSwitch releases the kill switch. This is the only way out of
// the engaged state.
func (m *Manager) DeactivateKillSwitch(ctx context.Context, reason string) {
	if reason == "" {
		reason = "Manual deactivation"
	}

	m.mu.Lock()
	if !m.killSwitch {
		m.mu.Unlock()
		return
	}
	m.killSwitch = false
	m.killSwitchReason = ""
	dailyPnL := m.dailyPnL
	m.mu.Unlock()

	m.onKillSwitch(ctx, false, reason, dailyPnL)
}

// ResetDailyCounters zeroes the daily P&L and trade count. The kill switch
// is left as is.
func (m *Manager) ResetDailyCounters(ctx context.Context) {
	m.mu.Lock()
	m.dailyPnL = 0
	m.dailyTrades = 0
	m.mu.Unlock()

	m.metrics.SetDailyPnL(0)
	m.logger.Info().Msg("Daily risk counters reset")
	if err := m.auditor.Record(ctx, audit.Event{Type: audit.EventDailyReset, Success: true}); err != nil {
		m.logger.Error().Err(err).Msg("Failed to write audit event")
	}
}

// KillSwitchActive reports whether trading is halted.
func (m *Manager) KillSwitchActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.killSwitch
}

// Status returns a snapshot of limits and counters.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		KillSwitchActive:   m.killSwitch,
		KillSwitchReason:   m.killSwitchReason,
		DailyPnL:           m.dailyPnL,
		DailyTrades:        m.dailyTrades,
		MaxOrderValue:      m.maxOrderValue,
		MaxDailyLoss:       m.maxDailyLoss,
		MaxPositions:       m.maxPositions,
		MaxPositionPct:     m.maxPositionPct,
		DailyLossRemaining: m.maxDailyLoss + m.dailyPnL,
	}
}

// Window returns the trading window the market-hours check enforces.
func (m *Manager) Window() utils.SessionWindow {
	return m.window
}

func (m *Manager) onKillSwitch(ctx context.Context, active bool, reason string, dailyPnL float64) {
	m.metrics.SetKillSwitch(active)

	if active {
		logging.Critical(m.logger).
			Str("reason", reason).
			Float64("daily_pnl", dailyPnL).
			Msg("KILL SWITCH ACTIVATED")
	} else {
		m.logger.Warn().
			Str("reason", reason).
			Msg("Kill switch deactivated, trading resumed")
	}

	if err := audit.KillSwitch(ctx, m.auditor, active, reason, dailyPnL); err != nil {
		m.logger.Error().Err(err).Msg("Failed to write audit event")
	}
}

func (m *Manager) checkKillSwitch(active bool) RiskCheckResult {
	if active {
		return reject(CheckKillSwitch, "Kill switch is ACTIVE, all trading halted. Deactivate manually to resume.")
	}
	return pass(CheckKillSwitch)
}

func (m *Manager) checkOrderValue(order models.OrderRequest) RiskCheckResult {
	value := order.Value()
	if value > m.maxOrderValue {
		return reject(CheckOrderValue, fmt.Sprintf("Order value %s exceeds maximum %s. Reduce quantity or price.",
			utils.FormatIndianCurrency(value), utils.FormatIndianCurrency(m.maxOrderValue)))
	}
	return pass(CheckOrderValue)
}

func (m *Manager) checkDailyLoss(dailyPnL float64) RiskCheckResult {
	if dailyPnL <= -m.maxDailyLoss {
		return reject(CheckDailyLoss, fmt.Sprintf("Daily loss %s has reached limit %s. No more trades allowed today.",
			utils.FormatIndianCurrency(-dailyPnL), utils.FormatIndianCurrency(m.maxDailyLoss)))
	}
	return pass(CheckDailyLoss)
}

// checkMaxPositions only limits BUYs that open a new symbol.
func (m *Manager) checkMaxPositions(order models.OrderRequest, positions []models.Position) RiskCheckResult {
	if order.Side != models.OrderSideBuy {
		return pass(CheckMaxPositions)
	}
	for _, pos := range positions {
		if pos.Symbol == order.Symbol {
			return pass(CheckMaxPositions)
		}
	}
	if len(positions) >= m.maxPositions {
		return reject(CheckMaxPositions, fmt.Sprintf("Already have %d positions (max %d). Close a position before opening a new one.",
			len(positions), m.maxPositions))
	}
	return pass(CheckMaxPositions)
}

func (m *Manager) checkConcentration(order models.OrderRequest, portfolioValue float64) RiskCheckResult {
	if portfolioValue <= 0 {
		return pass(CheckConcentration)
	}
	value := order.Value()
	pct := value / portfolioValue * 100
	if pct > m.maxPositionPct {
		return reject(CheckConcentration, fmt.Sprintf("Order is %.1f%% of portfolio (max %g%%). Order: %s, Portfolio: %s",
			pct, m.maxPositionPct, utils.FormatIndianCurrency(value), utils.FormatIndianCurrency(portfolioValue)))
	}
	return pass(CheckConcentration)
}

func (m *Manager) checkMarketHours(skip bool) RiskCheckResult {
	if skip {
		return pass(CheckMarketHours)
	}
	now := m.now().In(utils.IndiaLocation)
	if utils.IsWeekend(now) {
		return reject(CheckMarketHours, "Market is closed on weekends.")
	}
	if !m.window.Contains(now) {
		return reject(CheckMarketHours, fmt.Sprintf("Outside market hours (%s - %s IST). Current: %s",
			utils.FormatClock(m.window.Open), utils.FormatClock(m.window.Close), now.Format("03:04 PM")))
	}
	return pass(CheckMarketHours)
}

func pass(check string) RiskCheckResult {
	return RiskCheckResult{Allowed: true, Reason: "OK", CheckName: check}
}

func reject(check, reason string) RiskCheckResult {
	return RiskCheckResult{Allowed: false, Reason: reason, CheckName: check}
}
