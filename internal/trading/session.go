// Package trading composes a broker gateway with pre-trade risk checks.
package trading

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"order-gateway/internal/audit"
	"order-gateway/internal/broker"
	"order-gateway/internal/errors"
	"order-gateway/internal/logging"
	"order-gateway/internal/metrics"
	"order-gateway/internal/models"
	"order-gateway/internal/risk"
	"order-gateway/internal/store"
)

// portfolioValuer is implemented by gateways that track their own cash.
type portfolioValuer interface {
	PortfolioValue() float64
}

// priceMarker is implemented by gateways that simulate resting orders.
type priceMarker interface {
	MarkPrice(symbol string, price float64) []models.OrderResponse
}

// Session owns one gateway and one risk manager. Every order passes
// through the risk manager under a single lock, so the position snapshot
// used for validation is the one the gateway fills against.
type Session struct {
	gateway broker.Gateway
	risk    *risk.Manager

	journal         store.Journal
	auditor         audit.Recorder
	metrics         *metrics.Registry
	logger          zerolog.Logger
	skipMarketHours bool
	now             func() time.Time

	// resting holds stop orders accepted by the gateway but not yet filled.
	resting map[string]models.OrderRequest

	mu sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithJournal persists order outcomes and closed trades.
func WithJournal(j store.Journal) Option {
	return func(s *Session) { s.journal = j }
}

// WithAuditor records order events.
func WithAuditor(r audit.Recorder) Option {
	return func(s *Session) { s.auditor = audit.OrNop(r) }
}

// WithMetrics sets the metrics registry.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Session) { s.metrics = reg }
}

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logging.WithComponent(logger, "session") }
}

// WithMarketHoursBypass skips the market_hours check. It only takes effect
// for the paper backend.
func WithMarketHoursBypass() Option {
	return func(s *Session) { s.skipMarketHours = true }
}

// WithClock sets the time source for journal timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession creates a session around gw and rm.
func NewSession(gw broker.Gateway, rm *risk.Manager, opts ...Option) *Session {
	s := &Session{
		gateway: gw,
		risk:    rm,
		auditor: audit.Nop{},
		logger:  logging.WithComponent(zerolog.Nop(), "session"),
		now:     func() time.Time { return time.Now().UTC() },
		resting: make(map[string]models.OrderRequest),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.skipMarketHours && gw.Name() != models.BrokerPaper {
		s.logger.Warn().Str("broker", string(gw.Name())).Msg("Market hours bypass ignored for live broker")
		s.skipMarketHours = false
	}
	return s
}

// Gateway returns the underlying broker gateway.
func (s *Session) Gateway() broker.Gateway {
	return s.gateway
}

// Risk returns the session's risk manager.
func (s *Session) Risk() *risk.Manager {
	return s.risk
}

// Connect opens the gateway connection.
func (s *Session) Connect(ctx context.Context, creds broker.Credentials) error {
	ok, err := s.gateway.Connect(ctx, creds)
	if err == nil && !ok {
		err = errors.NewBrokerError("CONNECT_FAILED", "gateway refused connection", errors.ErrConnectionFailed)
	}

	event := audit.Event{Type: audit.EventBrokerConnected, Broker: string(s.gateway.Name()), Success: err == nil}
	if err != nil {
		event.Reason = err.Error()
	}
	s.record(ctx, event)

	if err != nil {
		s.logger.Error().Err(err).Str("broker", string(s.gateway.Name())).Msg("Connection failed")
		return err
	}
	s.logger.Info().Str("broker", string(s.gateway.Name())).Msg("Session connected")
	return nil
}

// Disconnect closes the gateway connection.
func (s *Session) Disconnect(ctx context.Context) error {
	err := s.gateway.Disconnect(ctx)
	s.record(ctx, audit.Event{Type: audit.EventBrokerDisconnected, Broker: string(s.gateway.Name()), Success: err == nil})
	return err
}

// PlaceOrder validates order against the current book and, if allowed,
// sends it to the gateway. A MARKET order without a price is priced from
// the gateway's last traded price. Risk rejections return a
// *errors.RiskCheckError and never reach the gateway. Nothing is retried.
func (s *Session) PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.Type == models.OrderTypeMarket && order.Price == 0 {
		price, err := s.gateway.GetLastPrice(ctx, order.Symbol, order.Exchange)
		if err != nil {
			return nil, err
		}
		if price <= 0 {
			return nil, errors.Wrapf(errors.ErrNoPrice, "no last price for %s:%s", order.Exchange, order.Symbol)
		}
		order.Price = price
	}

	positions, err := s.gateway.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	result := s.risk.ValidateOrderWith(ctx, valuation(order), positions, s.portfolioValue(positions),
		risk.ValidateOptions{SkipMarketHours: s.skipMarketHours})
	if !result.Allowed {
		s.metrics.Order(string(s.gateway.Name()), models.StatusRejected)
		return nil, result.Err()
	}

	resp, err := s.gateway.PlaceOrder(ctx, order)
	s.settle(ctx, order, resp, err)
	return resp, err
}

// CancelOrder cancels a resting order.
func (s *Session) CancelOrder(ctx context.Context, orderID string) (*models.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.gateway.CancelOrder(ctx, orderID)
	if err != nil {
		return resp, err
	}

	if resp.Status == models.StatusCancelled {
		order, known := s.resting[orderID]
		delete(s.resting, orderID)
		s.metrics.Order(string(s.gateway.Name()), resp.Status)
		s.auditOrder(ctx, audit.EventOrderCancelled, orderID, order.Symbol, "", nil)
		if known {
			s.journalOrder(ctx, order, orderID, resp.Status, "")
		}
	}
	return resp, nil
}

// MarkPrice publishes an observed price to a simulating gateway and settles
// any stop orders it triggers. While the kill switch is engaged, resting
// orders on symbol are cancelled before the mark so none of them can fill.
// Live gateways do not accept marks.
func (s *Session) MarkPrice(ctx context.Context, symbol string, price float64) ([]models.OrderResponse, error) {
	marker, ok := s.gateway.(priceMarker)
	if !ok {
		return nil, errors.NewBrokerError("MARK_UNSUPPORTED",
			string(s.gateway.Name())+" does not accept price marks", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var halted []models.OrderResponse
	if s.risk.KillSwitchActive() {
		var err error
		if halted, err = s.haltResting(ctx, symbol); err != nil {
			return halted, err
		}
	}

	fired := marker.MarkPrice(symbol, price)
	for i := range fired {
		resp := &fired[i]
		order, known := s.resting[resp.OrderID]
		if !known {
			order = models.OrderRequest{Symbol: symbol}
		}
		delete(s.resting, resp.OrderID)

		if fill, ok := resp.Raw["fill_price"].(float64); ok {
			order.Price = fill
		}

		s.settle(ctx, order, resp, nil)
	}
	return append(halted, fired...), nil
}

// haltResting cancels every resting order on symbol in the gateway's book.
func (s *Session) haltResting(ctx context.Context, symbol string) ([]models.OrderResponse, error) {
	book, err := s.gateway.GetOrderBook(ctx)
	if err != nil {
		return nil, err
	}

	var halted []models.OrderResponse
	for _, rec := range book {
		if rec.Symbol != symbol || rec.Status != models.StatusPlaced {
			continue
		}
		resp, err := s.gateway.CancelOrder(ctx, rec.OrderID)
		if err != nil {
			return halted, err
		}
		if resp.Status != models.StatusCancelled {
			continue
		}

		order, known := s.resting[rec.OrderID]
		if !known {
			order = models.OrderRequest{
				Symbol:       rec.Symbol,
				Exchange:     rec.Exchange,
				Side:         rec.Side,
				Type:         rec.Type,
				Product:      rec.Product,
				Quantity:     rec.Quantity,
				Price:        rec.Price,
				TriggerPrice: rec.TriggerPrice,
			}
		}
		delete(s.resting, rec.OrderID)

		resp.Message = "Cancelled: kill switch engaged"
		s.metrics.Order(string(s.gateway.Name()), resp.Status)
		logger := logging.WithOrderID(s.logger, rec.OrderID)
		logger.Warn().Str("symbol", symbol).Msg("Resting order cancelled by kill switch")
		s.auditOrder(ctx, audit.EventOrderCancelled, rec.OrderID, symbol, risk.CheckKillSwitch, nil)
		s.journalOrder(ctx, order, rec.OrderID, resp.Status, risk.CheckKillSwitch)
		halted = append(halted, *resp)
	}
	return halted, nil
}

// Positions returns the gateway's open positions.
func (s *Session) Positions(ctx context.Context) ([]models.Position, error) {
	return s.gateway.GetPositions(ctx)
}

// ResetDay clears the daily risk counters. The kill switch stays as is.
func (s *Session) ResetDay(ctx context.Context) {
	s.risk.ResetDailyCounters(ctx)
}

// settle applies the side effects of a gateway response: metrics, audit,
// journal and realized P&L feedback.
func (s *Session) settle(ctx context.Context, order models.OrderRequest, resp *models.OrderResponse, err error) {
	name := string(s.gateway.Name())

	if resp == nil {
		s.metrics.Order(name, models.StatusRejected)
		s.auditOrder(ctx, audit.EventOrderRejected, "", order.Symbol, errorReason(err), nil)
		return
	}

	s.metrics.Order(name, resp.Status)

	switch resp.Status {
	case models.StatusRejected:
		reason := errorReason(err)
		if reason == "" {
			reason = resp.Message
		}
		logger := logging.WithOrderID(logging.WithSymbol(s.logger, order.Symbol), resp.OrderID)
		logger.Warn().Str("reason", reason).Msg("Order rejected")
		s.auditOrder(ctx, audit.EventOrderRejected, resp.OrderID, order.Symbol, reason, nil)
		s.journalOrder(ctx, order, resp.OrderID, resp.Status, reason)
		return

	case models.StatusPlaced:
		if order.Type.IsStop() {
			s.resting[resp.OrderID] = order
		}

	case models.StatusFilled:
		if pnl, ok := resp.Raw["pnl"].(float64); ok {
			s.risk.RecordTradePnL(ctx, pnl)
		}
		if trade, ok := resp.Raw["trade"].(models.TradeRecord); ok && s.journal != nil {
			if jerr := s.journal.LogTrade(ctx, trade); jerr != nil {
				logger := logging.WithOrderID(s.logger, resp.OrderID)
				logger.Error().Err(jerr).Msg("Failed to journal trade")
			}
		}
	}

	logging.LogOrder(s.logger, resp.OrderID, order.Symbol, string(order.Side), resp.Status)
	s.auditOrder(ctx, audit.EventOrderPlaced, resp.OrderID, order.Symbol, "", map[string]any{
		"side":     string(order.Side),
		"quantity": order.Quantity,
		"price":    order.Price,
		"status":   resp.Status,
	})
	s.journalOrder(ctx, order, resp.OrderID, resp.Status, "")
}

func (s *Session) journalOrder(ctx context.Context, order models.OrderRequest, orderID, status, reason string) {
	if s.journal == nil || orderID == "" {
		return
	}
	rec := models.OrderRecord{
		OrderID:      orderID,
		Symbol:       order.Symbol,
		Exchange:     order.Exchange,
		Side:         order.Side,
		Type:         order.Type,
		Product:      order.Product,
		Quantity:     order.Quantity,
		Price:        order.Price,
		TriggerPrice: order.TriggerPrice,
		Status:       status,
		Reason:       reason,
		Timestamp:    s.now(),
	}
	if err := s.journal.LogOrder(ctx, s.gateway.Name(), rec); err != nil {
		s.logger.Error().Err(err).Str("order_id", orderID).Msg("Failed to journal order")
	}
}

func (s *Session) auditOrder(ctx context.Context, eventType audit.EventType, orderID, symbol, reason string, details map[string]any) {
	if err := audit.Order(ctx, s.auditor, eventType, string(s.gateway.Name()), orderID, symbol, reason, details); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write audit event")
	}
}

func (s *Session) record(ctx context.Context, event audit.Event) {
	if err := s.auditor.Record(ctx, event); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write audit event")
	}
}

// portfolioValue is the ledger's cost-basis value when the gateway tracks
// cash, otherwise the cost basis of the open positions.
func (s *Session) portfolioValue(positions []models.Position) float64 {
	if v, ok := s.gateway.(portfolioValuer); ok {
		return v.PortfolioValue()
	}
	total := 0.0
	for _, pos := range positions {
		total += float64(pos.Quantity) * pos.AveragePrice
	}
	return total
}

// valuation prices an SL-M order at its trigger for the value checks.
func valuation(order models.OrderRequest) models.OrderRequest {
	if order.Price == 0 && order.TriggerPrice > 0 {
		order.Price = order.TriggerPrice
	}
	return order
}

func errorReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
