package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"golang.org/x/time/rate"

	"order-gateway/internal/errors"
	"order-gateway/internal/logging"
	"order-gateway/internal/models"
)

// kiteClient is the subset of the Kite Connect client the adapter calls.
type kiteClient interface {
	GenerateSession(requestToken string, apiSecret string) (kiteconnect.UserSession, error)
	SetAccessToken(accessToken string)
	InvalidateAccessToken() (bool, error)
	PlaceOrder(variety string, orderParams kiteconnect.OrderParams) (kiteconnect.OrderResponse, error)
	CancelOrder(variety string, orderID string, parentOrderID *string) (kiteconnect.OrderResponse, error)
	GetOrders() (kiteconnect.Orders, error)
	GetPositions() (kiteconnect.Positions, error)
	GetHoldings() (kiteconnect.Holdings, error)
	GetQuote(instruments ...string) (kiteconnect.Quote, error)
	GetInstruments() (kiteconnect.Instruments, error)
	GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, OI bool) ([]kiteconnect.HistoricalData, error)
}

// ZerodhaGateway routes orders to Zerodha through Kite Connect. It keeps only
// the access token produced by Connect; the API secret and request token are
// used once and dropped.
type ZerodhaGateway struct {
	client      kiteClient
	newClient   func(apiKey string) kiteClient
	accessToken string
	connected   bool
	instruments map[string]int // EXCHANGE:SYMBOL -> instrument token
	limiter     *rate.Limiter
	logger      zerolog.Logger
	mu          sync.RWMutex
}

// ZerodhaConfig holds configuration for the Zerodha gateway.
type ZerodhaConfig struct {
	OrdersPerSecond float64
	Logger          *zerolog.Logger
}

// NewZerodhaGateway creates a disconnected Zerodha gateway.
func NewZerodhaGateway(cfg ZerodhaConfig) *ZerodhaGateway {
	ops := cfg.OrdersPerSecond
	if ops <= 0 {
		ops = 10
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &ZerodhaGateway{
		newClient: func(apiKey string) kiteClient {
			return kiteconnect.New(apiKey)
		},
		instruments: make(map[string]int),
		limiter:     rate.NewLimiter(rate.Limit(ops), 1),
		logger:      logging.WithComponent(logger, "zerodha"),
	}
}

// Name implements Gateway.
func (z *ZerodhaGateway) Name() models.BrokerName {
	return models.BrokerZerodha
}

// IsConnected implements Gateway.
func (z *ZerodhaGateway) IsConnected() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.connected
}

// Connect exchanges api_key, api_secret and request_token for an access token.
func (z *ZerodhaGateway) Connect(ctx context.Context, creds Credentials) (bool, error) {
	apiKey, apiSecret, requestToken := creds["api_key"], creds["api_secret"], creds["request_token"]
	if apiKey == "" || apiSecret == "" || requestToken == "" {
		return false, errors.NewBrokerError("MISSING_CREDENTIALS",
			"zerodha requires api_key, api_secret and request_token", errors.ErrConnectionFailed)
	}

	client := z.newClient(apiKey)

	start := time.Now()
	session, err := client.GenerateSession(requestToken, apiSecret)
	logging.LogAPICall(z.logger, "GenerateSession", time.Since(start), err)
	if err != nil {
		z.logger.Error().
			Interface("credentials", logging.RedactFields(creds)).
			Str("error", logging.RedactString(err.Error())).
			Msg("Zerodha session failed")
		return false, errors.NewBrokerError("SESSION_FAILED", logging.RedactString(err.Error()), errors.ErrConnectionFailed)
	}
	client.SetAccessToken(session.AccessToken)

	z.mu.Lock()
	z.client = client
	z.accessToken = session.AccessToken
	z.connected = true
	z.mu.Unlock()

	z.logger.Info().Str("api_key", logging.MaskCredential(apiKey)).Msg("Zerodha session established")
	return true, nil
}

// Disconnect invalidates the access token. It is idempotent.
func (z *ZerodhaGateway) Disconnect(ctx context.Context) error {
	z.mu.Lock()
	if !z.connected {
		z.mu.Unlock()
		return nil
	}
	client := z.client
	z.client = nil
	z.accessToken = ""
	z.connected = false
	z.mu.Unlock()

	if _, err := client.InvalidateAccessToken(); err != nil {
		z.logger.Warn().Err(err).Msg("Failed to invalidate access token")
	}
	z.logger.Info().Msg("Zerodha session closed")
	return nil
}

// PlaceOrder places a regular-variety order. Calls are throttled to the
// configured rate and are never retried.
func (z *ZerodhaGateway) PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderResponse, error) {
	client, err := z.session()
	if err != nil {
		return nil, err
	}

	if err := order.Validate(); err != nil {
		return rejected(models.BrokerZerodha, "", err), err
	}

	if err := z.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "waiting for order slot")
	}

	params := kiteconnect.OrderParams{
		Exchange:        string(order.Exchange),
		Tradingsymbol:   order.Symbol,
		TransactionType: string(order.Side),
		OrderType:       string(order.Type),
		Product:         kiteProduct(order.Product, order.Exchange),
		Quantity:        order.Quantity,
		Price:           order.Price,
		TriggerPrice:    order.TriggerPrice,
		Validity:        kiteconnect.ValidityDay,
	}

	start := time.Now()
	resp, err := client.PlaceOrder(kiteconnect.VarietyRegular, params)
	logging.LogAPICall(z.logger, "PlaceOrder", time.Since(start), err)
	if err != nil {
		berr := errors.NewBrokerError("ORDER_FAILED", "zerodha rejected order", err)
		return rejected(models.BrokerZerodha, "", berr), berr
	}

	logging.LogOrder(z.logger, resp.OrderID, order.Symbol, string(order.Side), models.StatusPlaced)
	return &models.OrderResponse{
		OrderID: resp.OrderID,
		Status:  models.StatusPlaced,
		Message: "Order placed successfully",
		Broker:  models.BrokerZerodha,
	}, nil
}

// CancelOrder cancels an open regular-variety order. An order Kite does not
// know, or one already completed, rejected or cancelled, reports NOT_FOUND.
func (z *ZerodhaGateway) CancelOrder(ctx context.Context, orderID string) (*models.OrderResponse, error) {
	client, err := z.session()
	if err != nil {
		return nil, err
	}

	if err := z.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "waiting for order slot")
	}

	start := time.Now()
	_, err = client.CancelOrder(kiteconnect.VarietyRegular, orderID, nil)
	logging.LogAPICall(z.logger, "CancelOrder", time.Since(start), err)
	if err != nil {
		if notCancellable(err) {
			return &models.OrderResponse{
				OrderID: orderID,
				Status:  models.StatusNotFound,
				Message: err.Error(),
				Broker:  models.BrokerZerodha,
			}, nil
		}
		return nil, errors.NewBrokerError("CANCEL_FAILED", "zerodha cancel failed", err)
	}

	return &models.OrderResponse{
		OrderID: orderID,
		Status:  models.StatusCancelled,
		Message: "Order cancelled",
		Broker:  models.BrokerZerodha,
	}, nil
}

// GetOrderBook fetches the day's orders.
func (z *ZerodhaGateway) GetOrderBook(ctx context.Context) ([]models.OrderRecord, error) {
	client, err := z.session()
	if err != nil {
		return nil, err
	}

	orders, err := client.GetOrders()
	if err != nil {
		return nil, errors.NewBrokerError("ORDERS_FAILED", "failed to get orders", err)
	}

	result := make([]models.OrderRecord, len(orders))
	for i, o := range orders {
		result[i] = models.OrderRecord{
			OrderID:      o.OrderID,
			Symbol:       o.TradingSymbol,
			Exchange:     models.Exchange(o.Exchange),
			Side:         models.OrderSide(o.TransactionType),
			Type:         models.OrderType(o.OrderType),
			Product:      gatewayProduct(o.Product),
			Quantity:     int(o.Quantity),
			Price:        o.Price,
			TriggerPrice: o.TriggerPrice,
			Status:       gatewayStatus(o.Status),
			Reason:       o.StatusMessage,
			Timestamp:    o.OrderTimestamp.Time,
		}
	}
	return result, nil
}

// GetPositions fetches net positions with a non-zero quantity.
func (z *ZerodhaGateway) GetPositions(ctx context.Context) ([]models.Position, error) {
	client, err := z.session()
	if err != nil {
		return nil, err
	}

	positions, err := client.GetPositions()
	if err != nil {
		return nil, errors.NewBrokerError("POSITIONS_FAILED", "failed to get positions", err)
	}

	result := make([]models.Position, 0, len(positions.Net))
	for _, p := range positions.Net {
		if p.Quantity == 0 {
			continue
		}
		result = append(result, models.Position{
			Symbol:       p.Tradingsymbol,
			Exchange:     models.Exchange(p.Exchange),
			Product:      gatewayProduct(p.Product),
			Quantity:     int(p.Quantity),
			AveragePrice: p.AveragePrice,
			LTP:          p.LastPrice,
			PnL:          (p.LastPrice - p.AveragePrice) * float64(p.Quantity),
		})
	}
	return result, nil
}

// GetHoldings fetches delivery holdings.
func (z *ZerodhaGateway) GetHoldings(ctx context.Context) ([]models.Holding, error) {
	client, err := z.session()
	if err != nil {
		return nil, err
	}

	holdings, err := client.GetHoldings()
	if err != nil {
		return nil, errors.NewBrokerError("HOLDINGS_FAILED", "failed to get holdings", err)
	}

	result := make([]models.Holding, len(holdings))
	for i, h := range holdings {
		result[i] = models.Holding{
			Symbol:       h.Tradingsymbol,
			Quantity:     int(h.Quantity),
			AveragePrice: h.AveragePrice,
			LTP:          h.LastPrice,
			PnL:          (h.LastPrice - h.AveragePrice) * float64(h.Quantity),
		}
	}
	return result, nil
}

// GetLastPrice fetches the last traded price for one instrument.
func (z *ZerodhaGateway) GetLastPrice(ctx context.Context, symbol string, exchange models.Exchange) (float64, error) {
	client, err := z.session()
	if err != nil {
		return 0, err
	}

	key := instrumentKey(symbol, exchange)
	quotes, err := client.GetQuote(key)
	if err != nil {
		return 0, errors.NewBrokerError("QUOTE_FAILED", "failed to get quote", err)
	}

	q, ok := quotes[key]
	if !ok {
		return 0, errors.Wrapf(errors.ErrNoPrice, "quote for %s", key)
	}
	return q.LastPrice, nil
}

// GetHistorical fetches OHLCV candles.
func (z *ZerodhaGateway) GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Candle, error) {
	client, err := z.session()
	if err != nil {
		return nil, err
	}

	token, err := z.instrumentToken(client, req.Symbol, req.Exchange)
	if err != nil {
		return nil, err
	}

	interval := req.Interval
	if interval == "" {
		interval = "day"
	}

	data, err := client.GetHistoricalData(token, interval, req.From, req.To, false, false)
	if err != nil {
		return nil, errors.NewBrokerError("HISTORICAL_FAILED", "failed to get historical data", err)
	}

	candles := make([]models.Candle, len(data))
	for i, d := range data {
		candles[i] = models.Candle{
			Timestamp: d.Date.Time,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    int64(d.Volume),
		}
	}
	return candles, nil
}

func (z *ZerodhaGateway) session() (kiteClient, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()

	if !z.connected {
		return nil, errors.NewBrokerError("NOT_CONNECTED", "zerodha: call Connect first", errors.ErrNotConnected)
	}
	return z.client, nil
}

func (z *ZerodhaGateway) instrumentToken(client kiteClient, symbol string, exchange models.Exchange) (int, error) {
	key := instrumentKey(symbol, exchange)

	z.mu.RLock()
	token, ok := z.instruments[key]
	z.mu.RUnlock()
	if ok {
		return token, nil
	}

	instruments, err := client.GetInstruments()
	if err != nil {
		return 0, errors.NewBrokerError("INSTRUMENTS_FAILED", "failed to get instruments", err)
	}

	z.mu.Lock()
	for _, inst := range instruments {
		z.instruments[instrumentKey(inst.Tradingsymbol, models.Exchange(inst.Exchange))] = int(inst.InstrumentToken)
	}
	token, ok = z.instruments[key]
	z.mu.Unlock()

	if !ok {
		return 0, errors.NewBrokerError("UNKNOWN_INSTRUMENT", fmt.Sprintf("instrument not found: %s", key), nil)
	}
	return token, nil
}

// notCancellable reports whether a Kite cancel error means the order is
// unknown or already terminal. Kite signals both with an order exception
// whose message is the only distinguishing field.
func notCancellable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"not found", "invalid order id", "already", "cannot be cancelled"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func instrumentKey(symbol string, exchange models.Exchange) string {
	return fmt.Sprintf("%s:%s", exchange, symbol)
}

// kiteProduct maps gateway products onto Kite codes. Delivery on derivative
// segments is carried overnight as NRML.
func kiteProduct(p models.ProductType, exchange models.Exchange) string {
	if p == models.ProductIntraday {
		return kiteconnect.ProductMIS
	}
	if exchange == models.NFO || exchange == models.MCX {
		return kiteconnect.ProductNRML
	}
	return kiteconnect.ProductCNC
}

func gatewayProduct(p string) models.ProductType {
	if p == kiteconnect.ProductMIS {
		return models.ProductIntraday
	}
	return models.ProductDelivery
}

func gatewayStatus(s string) string {
	switch s {
	case "COMPLETE":
		return models.StatusFilled
	case "REJECTED":
		return models.StatusRejected
	case "CANCELLED":
		return models.StatusCancelled
	default:
		return models.StatusPlaced
	}
}

func rejected(broker models.BrokerName, orderID string, err error) *models.OrderResponse {
	return &models.OrderResponse{
		OrderID: orderID,
		Status:  models.StatusRejected,
		Message: err.Error(),
		Broker:  broker,
	}
}

var _ Gateway = (*ZerodhaGateway)(nil)
