package broker

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"order-gateway/internal/errors"
	"order-gateway/internal/logging"
	"order-gateway/internal/metrics"
	"order-gateway/internal/models"
)

// DefaultStartingCapital is the virtual capital used when none is configured.
const DefaultStartingCapital = 100000.0

// PaperLedger is a simulated account that fills orders against virtual cash.
// It has no field capable of holding a live client, so a paper session can
// never reach a real exchange.
type PaperLedger struct {
	startingCapital decimal.Decimal
	cash            decimal.Decimal

	positions map[string]*paperPosition // keyed by symbol
	orderBook []models.OrderRecord
	bookIndex map[string]int                 // order ID -> orderBook slot
	pending   map[string]models.OrderRequest // stop orders awaiting a trigger
	marks     map[string]float64
	trades    []models.TradeRecord
	connected bool

	logger  zerolog.Logger
	metrics *metrics.Registry
	now     func() time.Time

	mu sync.RWMutex
}

type paperPosition struct {
	exchange models.Exchange
	product  models.ProductType
	quantity int
	avgPrice decimal.Decimal
	openedAt time.Time
}

// PaperLedgerConfig holds configuration for the paper ledger.
type PaperLedgerConfig struct {
	StartingCapital float64
	Logger          *zerolog.Logger
	Metrics         *metrics.Registry
	Clock           func() time.Time
}

// NewPaperLedger creates a disconnected paper ledger.
func NewPaperLedger(cfg PaperLedgerConfig) *PaperLedger {
	capital := cfg.StartingCapital
	if capital <= 0 {
		capital = DefaultStartingCapital
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	p := &PaperLedger{
		startingCapital: decimal.NewFromFloat(capital),
		logger:          logging.WithComponent(logger, "paper"),
		metrics:         cfg.Metrics,
		now:             clock,
	}
	p.resetLocked()
	return p
}

// Name implements Gateway.
func (p *PaperLedger) Name() models.BrokerName {
	return models.BrokerPaper
}

// IsConnected implements Gateway.
func (p *PaperLedger) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Connect always succeeds. Credentials are ignored.
func (p *PaperLedger) Connect(ctx context.Context, _ Credentials) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connected = true
	p.logger.Info().
		Float64("cash", p.cash.InexactFloat64()).
		Msg("Paper ledger connected")
	return true, nil
}

// Disconnect implements Gateway. It is idempotent.
func (p *PaperLedger) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		p.logger.Info().Msg("Paper ledger disconnected")
	}
	p.connected = false
	return nil
}

// PlaceOrder simulates order execution with virtual money.
//
// MARKET and LIMIT orders fill immediately at order.Price, so market orders
// must arrive with a resolved price. SL and SL-M orders rest as PLACED until
// MarkPrice crosses their trigger.
func (p *PaperLedger) PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureConnected(); err != nil {
		return nil, err
	}

	orderID := p.newOrderID()
	now := p.now()

	if err := validatePaperOrder(order); err != nil {
		p.appendRecord(order, orderID, order.Price, models.StatusRejected, err.Error(), now)
		p.metrics.Rejection("invalid_order")
		p.logger.Warn().Err(err).Str("order_id", orderID).Str("symbol", order.Symbol).Msg("Paper order rejected")
		return rejectedResponse(orderID, err), err
	}

	if order.Type.IsStop() {
		p.pending[orderID] = order
		p.appendRecord(order, orderID, order.Price, models.StatusPlaced, "", now)
		logging.LogOrder(p.logger, orderID, order.Symbol, string(order.Side), models.StatusPlaced)
		return &models.OrderResponse{
			OrderID: orderID,
			Status:  models.StatusPlaced,
			Message: fmt.Sprintf("Paper %s %s: %s x%d waiting for trigger %.2f",
				order.Type, order.Side, order.Symbol, order.Quantity, order.TriggerPrice),
			Broker: models.BrokerPaper,
		}, nil
	}

	resp, err := p.execute(order, orderID, order.Price, now)
	if err != nil {
		p.appendRecord(order, orderID, order.Price, models.StatusRejected, err.Error(), now)
		return resp, err
	}
	p.appendRecord(order, orderID, order.Price, models.StatusFilled, "", now)
	return resp, nil
}

// CancelOrder cancels a resting stop order. Anything else reports NOT_FOUND.
func (p *PaperLedger) CancelOrder(ctx context.Context, orderID string) (*models.OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureConnected(); err != nil {
		return nil, err
	}

	idx, ok := p.bookIndex[orderID]
	if !ok || p.orderBook[idx].Status != models.StatusPlaced {
		return &models.OrderResponse{
			OrderID: orderID,
			Status:  models.StatusNotFound,
			Message: fmt.Sprintf("Order %s not found in paper order book", orderID),
			Broker:  models.BrokerPaper,
		}, nil
	}

	p.orderBook[idx].Status = models.StatusCancelled
	delete(p.pending, orderID)
	logging.LogOrder(p.logger, orderID, p.orderBook[idx].Symbol, string(p.orderBook[idx].Side), models.StatusCancelled)

	return &models.OrderResponse{
		OrderID: orderID,
		Status:  models.StatusCancelled,
		Message: "Paper order cancelled",
		Broker:  models.BrokerPaper,
	}, nil
}

// MarkPrice records an observed price for symbol and fires any resting stop
// orders it crosses. BUY stops trigger at or above their trigger, SELL stops
// at or below. SL fills at its limit price and SL-M at the mark. It returns
// one response per triggered order, in placement order.
func (p *PaperLedger) MarkPrice(symbol string, price float64) []models.OrderResponse {
	p.mu.Lock()
	defer p.mu.Unlock()

	if price <= 0 {
		return nil
	}

	var fired []models.OrderResponse
	for idx := range p.orderBook {
		rec := p.orderBook[idx]
		if rec.Symbol != symbol || rec.Status != models.StatusPlaced {
			continue
		}
		order, ok := p.pending[rec.OrderID]
		if !ok || !stopTriggered(order, price) {
			continue
		}
		delete(p.pending, rec.OrderID)

		fillPrice := price
		if order.Type == models.OrderTypeStopLoss {
			fillPrice = order.Price
		}

		now := p.now()
		resp, err := p.execute(order, rec.OrderID, fillPrice, now)
		p.orderBook[idx].Price = fillPrice
		p.orderBook[idx].Timestamp = now
		if err != nil {
			p.orderBook[idx].Status = models.StatusRejected
			p.orderBook[idx].Reason = err.Error()
		} else {
			p.orderBook[idx].Status = models.StatusFilled
		}
		fired = append(fired, *resp)
	}

	p.marks[symbol] = price
	return fired
}

// GetPositions returns open positions valued at the last mark, or at the
// average price when the symbol has never been marked.
func (p *PaperLedger) GetPositions(ctx context.Context) ([]models.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.ensureConnected(); err != nil {
		return nil, err
	}

	positions := make([]models.Position, 0, len(p.positions))
	for _, symbol := range slices.Sorted(maps.Keys(p.positions)) {
		pos := p.positions[symbol]
		avg := pos.avgPrice.InexactFloat64()
		ltp := p.ltpLocked(symbol, avg)
		positions = append(positions, models.Position{
			Symbol:       symbol,
			Exchange:     pos.exchange,
			Product:      pos.product,
			Quantity:     pos.quantity,
			AveragePrice: avg,
			LTP:          ltp,
			PnL:          (ltp - avg) * float64(pos.quantity),
		})
	}
	return positions, nil
}

// GetHoldings returns the same book as GetPositions. The simulation does not
// distinguish intraday from settled quantities.
func (p *PaperLedger) GetHoldings(ctx context.Context) ([]models.Holding, error) {
	positions, err := p.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	holdings := make([]models.Holding, len(positions))
	for i, pos := range positions {
		holdings[i] = models.Holding{
			Symbol:       pos.Symbol,
			Quantity:     pos.Quantity,
			AveragePrice: pos.AveragePrice,
			LTP:          pos.LTP,
			PnL:          pos.PnL,
		}
	}
	return holdings, nil
}

// GetLastPrice returns the last mark for symbol, or 0 when none is known.
func (p *PaperLedger) GetLastPrice(ctx context.Context, symbol string, exchange models.Exchange) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.ensureConnected(); err != nil {
		return 0, err
	}
	return p.marks[symbol], nil
}

// GetHistorical returns an empty series. The ledger has no data source.
func (p *PaperLedger) GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Candle, error) {
	if err := p.checkConnected(); err != nil {
		return nil, err
	}
	p.logger.Warn().Str("symbol", req.Symbol).Msg("Paper ledger has no historical data; use a live broker")
	return []models.Candle{}, nil
}

// GetOrderBook returns a copy of every order recorded since the last reset.
func (p *PaperLedger) GetOrderBook(ctx context.Context) ([]models.OrderRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.ensureConnected(); err != nil {
		return nil, err
	}
	return slices.Clone(p.orderBook), nil
}

// Reset restores the starting capital and wipes positions, trades, the order
// book, marks and resting orders. The connection state is kept.
func (p *PaperLedger) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetLocked()
	p.logger.Info().Float64("cash", p.cash.InexactFloat64()).Msg("Paper ledger reset")
}

// Summary returns the dashboard view of the account.
func (p *PaperLedger) Summary() models.LedgerSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	starting := p.startingCapital.InexactFloat64()
	totalPnL := p.totalPnLLocked()
	pct := 0.0
	if starting != 0 {
		pct = totalPnL / starting * 100
	}

	return models.LedgerSummary{
		StartingCapital: starting,
		CurrentCapital:  p.cash.InexactFloat64(),
		PortfolioValue:  p.portfolioValueLocked(),
		TotalPnL:        totalPnL,
		TotalPnLPercent: pct,
		OpenPositions:   len(p.positions),
		TotalTrades:     len(p.trades),
		Connected:       p.connected,
	}
}

// PortfolioValue returns cash plus the cost basis of open positions.
func (p *PaperLedger) PortfolioValue() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.portfolioValueLocked()
}

// TotalPnL returns the sum of realized P&L since the last reset.
func (p *PaperLedger) TotalPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalPnLLocked()
}

// Cash returns the free virtual cash.
func (p *PaperLedger) Cash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash.InexactFloat64()
}

// TradeHistory returns a copy of the closed trades.
func (p *PaperLedger) TradeHistory() []models.TradeRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.trades)
}

// execute applies a fill to cash and positions. On error state is untouched.
func (p *PaperLedger) execute(order models.OrderRequest, orderID string, price float64, now time.Time) (*models.OrderResponse, error) {
	var (
		resp *models.OrderResponse
		err  error
	)
	if order.Side == models.OrderSideBuy {
		resp, err = p.executeBuy(order, orderID, price, now)
	} else {
		resp, err = p.executeSell(order, orderID, price, now)
	}

	if err != nil {
		reason := "insufficient_funds"
		if errors.Is(err, errors.ErrInsufficientPosition) {
			reason = "insufficient_position"
		}
		p.metrics.Rejection(reason)
		p.logger.Warn().Err(err).Str("order_id", orderID).Str("symbol", order.Symbol).Msg("Paper order rejected")
		return rejectedResponse(orderID, err), err
	}

	p.marks[order.Symbol] = price
	p.metrics.Fill(string(order.Side))
	p.metrics.SetCash(p.cash.InexactFloat64())
	logging.LogFill(p.logger, orderID, order.Symbol, string(order.Side), order.Quantity, price)
	return resp, nil
}

func (p *PaperLedger) executeBuy(order models.OrderRequest, orderID string, price float64, now time.Time) (*models.OrderResponse, error) {
	qty := decimal.NewFromInt(int64(order.Quantity))
	cost := qty.Mul(decimal.NewFromFloat(price))

	if cost.GreaterThan(p.cash) {
		return nil, errors.NewInsufficientFunds(order.Symbol, cost.InexactFloat64(), p.cash.InexactFloat64())
	}

	p.cash = p.cash.Sub(cost)

	if pos, ok := p.positions[order.Symbol]; ok {
		total := pos.avgPrice.Mul(decimal.NewFromInt(int64(pos.quantity))).Add(cost)
		pos.quantity += order.Quantity
		pos.avgPrice = total.Div(decimal.NewFromInt(int64(pos.quantity)))
	} else {
		p.positions[order.Symbol] = &paperPosition{
			exchange: order.Exchange,
			product:  order.Product,
			quantity: order.Quantity,
			avgPrice: decimal.NewFromFloat(price),
			openedAt: now,
		}
	}

	return &models.OrderResponse{
		OrderID: orderID,
		Status:  models.StatusFilled,
		Message: fmt.Sprintf("Paper BUY: %s x%d @ %.2f", order.Symbol, order.Quantity, price),
		Broker:  models.BrokerPaper,
		Raw: map[string]any{
			"fill_price": price,
			"cash":       p.cash.InexactFloat64(),
		},
	}, nil
}

func (p *PaperLedger) executeSell(order models.OrderRequest, orderID string, price float64, now time.Time) (*models.OrderResponse, error) {
	pos, ok := p.positions[order.Symbol]
	if !ok {
		return nil, errors.NewInsufficientPosition(order.Symbol, order.Quantity, 0)
	}
	if order.Quantity > pos.quantity {
		return nil, errors.NewInsufficientPosition(order.Symbol, order.Quantity, pos.quantity)
	}

	qty := decimal.NewFromInt(int64(order.Quantity))
	fill := decimal.NewFromFloat(price)
	pnl := fill.Sub(pos.avgPrice).Mul(qty)

	pnlPercent := 0.0
	if basis := pos.avgPrice.Mul(qty); basis.IsPositive() {
		pnlPercent = pnl.Div(basis).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	p.cash = p.cash.Add(qty.Mul(fill))
	pos.quantity -= order.Quantity
	if pos.quantity == 0 {
		delete(p.positions, order.Symbol)
	}

	trade := models.TradeRecord{
		OrderID:    orderID,
		Symbol:     order.Symbol,
		Exchange:   pos.exchange,
		Side:       models.OrderSideSell,
		Quantity:   order.Quantity,
		EntryPrice: pos.avgPrice.InexactFloat64(),
		ExitPrice:  price,
		PnL:        pnl.InexactFloat64(),
		PnLPercent: pnlPercent,
		OpenedAt:   pos.openedAt,
		ClosedAt:   now,
		IsPaper:    true,
	}
	p.trades = append(p.trades, trade)

	return &models.OrderResponse{
		OrderID: orderID,
		Status:  models.StatusFilled,
		Message: fmt.Sprintf("Paper SELL: %s x%d @ %.2f | P&L: %.2f", order.Symbol, order.Quantity, price, trade.PnL),
		Broker:  models.BrokerPaper,
		Raw: map[string]any{
			"fill_price":  price,
			"cash":        p.cash.InexactFloat64(),
			"pnl":         trade.PnL,
			"pnl_percent": pnlPercent,
			"trade":       trade,
		},
	}, nil
}

func (p *PaperLedger) appendRecord(order models.OrderRequest, orderID string, price float64, status, reason string, now time.Time) {
	p.bookIndex[orderID] = len(p.orderBook)
	p.orderBook = append(p.orderBook, models.OrderRecord{
		OrderID:      orderID,
		Symbol:       order.Symbol,
		Exchange:     order.Exchange,
		Side:         order.Side,
		Type:         order.Type,
		Product:      order.Product,
		Quantity:     order.Quantity,
		Price:        price,
		TriggerPrice: order.TriggerPrice,
		Status:       status,
		Reason:       reason,
		Timestamp:    now,
	})
}

func (p *PaperLedger) resetLocked() {
	p.cash = p.startingCapital
	p.positions = make(map[string]*paperPosition)
	p.orderBook = nil
	p.bookIndex = make(map[string]int)
	p.pending = make(map[string]models.OrderRequest)
	p.marks = make(map[string]float64)
	p.trades = nil
	p.metrics.SetCash(p.cash.InexactFloat64())
}

func (p *PaperLedger) portfolioValueLocked() float64 {
	value := p.cash
	for _, pos := range p.positions {
		value = value.Add(pos.avgPrice.Mul(decimal.NewFromInt(int64(pos.quantity))))
	}
	return value.InexactFloat64()
}

func (p *PaperLedger) totalPnLLocked() float64 {
	total := decimal.Zero
	for _, t := range p.trades {
		total = total.Add(decimal.NewFromFloat(t.PnL))
	}
	return total.InexactFloat64()
}

func (p *PaperLedger) ltpLocked(symbol string, fallback float64) float64 {
	if mark, ok := p.marks[symbol]; ok && mark > 0 {
		return mark
	}
	return fallback
}

// newOrderID returns PAPER- followed by 8 upper-case hex characters,
// unique within the current order book. Reset clears the book, so the
// bookkeeping never outgrows it.
func (p *PaperLedger) newOrderID() string {
	for {
		raw := strings.ReplaceAll(uuid.NewString(), "-", "")
		id := "PAPER-" + strings.ToUpper(raw[:8])
		if _, dup := p.bookIndex[id]; !dup {
			return id
		}
	}
}

func (p *PaperLedger) ensureConnected() error {
	if !p.connected {
		return errors.NewBrokerError("NOT_CONNECTED", "paper ledger: call Connect first", errors.ErrNotConnected)
	}
	return nil
}

func (p *PaperLedger) checkConnected() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ensureConnected()
}

func validatePaperOrder(order models.OrderRequest) error {
	if err := order.Validate(); err != nil {
		return err
	}
	if !order.Type.IsStop() && order.Price <= 0 {
		return errors.NewValidationError("price", order.Price, "fill price is required; resolve market orders before placing")
	}
	return nil
}

func stopTriggered(order models.OrderRequest, mark float64) bool {
	if order.Side == models.OrderSideBuy {
		return mark >= order.TriggerPrice
	}
	return mark <= order.TriggerPrice
}

func rejectedResponse(orderID string, err error) *models.OrderResponse {
	return &models.OrderResponse{
		OrderID: orderID,
		Status:  models.StatusRejected,
		Message: err.Error(),
		Broker:  models.BrokerPaper,
	}
}

var _ Gateway = (*PaperLedger)(nil)
