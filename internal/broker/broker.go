// Package broker provides the execution gateway contract and its backends.
package broker

import (
	"context"
	"time"

	"order-gateway/internal/models"
)

// Gateway is the contract every execution backend satisfies. Callers hold a
// Gateway and never branch on the concrete backend.
//
// Every method other than Name, IsConnected, Connect and Disconnect fails
// with errors.ErrNotConnected until Connect succeeds. A rejected order
// returns a REJECTED response together with an error describing the cause.
// Cancelling an unknown or already terminal order returns a NOT_FOUND
// response and no error.
type Gateway interface {
	// Identity
	Name() models.BrokerName
	IsConnected() bool

	// Session
	Connect(ctx context.Context, creds Credentials) (bool, error)
	Disconnect(ctx context.Context) error

	// Orders
	PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) (*models.OrderResponse, error)
	GetOrderBook(ctx context.Context) ([]models.OrderRecord, error)

	// Positions & Holdings
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetHoldings(ctx context.Context) ([]models.Holding, error)

	// Market Data
	GetLastPrice(ctx context.Context, symbol string, exchange models.Exchange) (float64, error)
	GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Candle, error)
}

// Credentials is the opaque key/value payload handed to Connect. Gateways
// exchange it for a session token and do not retain it.
type Credentials map[string]string

// HistoricalRequest represents a request for historical data.
type HistoricalRequest struct {
	Symbol   string
	Exchange models.Exchange
	Interval string // minute, 5minute, 15minute, 30minute, 60minute, day
	From     time.Time
	To       time.Time
}
