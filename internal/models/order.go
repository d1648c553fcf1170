package models

import (
	"time"

	"order-gateway/internal/errors"
)

// OrderRequest is a broker-agnostic order. It is passed by value and never
// mutated after construction.
type OrderRequest struct {
	Symbol       string
	Exchange     Exchange
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int
	Price        float64
	TriggerPrice float64
}

// Value returns quantity × price.
func (o OrderRequest) Value() float64 {
	return float64(o.Quantity) * o.Price
}

// Validate checks the structural rules of an order request.
func (o OrderRequest) Validate() error {
	if o.Symbol == "" {
		return errors.NewValidationError("symbol", o.Symbol, "symbol is required")
	}
	if !o.Exchange.Valid() {
		return errors.NewValidationError("exchange", o.Exchange, "exchange must be NSE, BSE, NFO or MCX")
	}
	if o.Side != OrderSideBuy && o.Side != OrderSideSell {
		return errors.NewValidationError("side", o.Side, "side must be BUY or SELL")
	}
	switch o.Type {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopLoss, OrderTypeStopLossM:
	default:
		return errors.NewValidationError("order_type", o.Type, "unsupported order type")
	}
	if o.Product != ProductIntraday && o.Product != ProductDelivery {
		return errors.NewValidationError("product", o.Product, "product must be INTRADAY or DELIVERY")
	}
	if o.Quantity <= 0 {
		return errors.NewValidationError("quantity", o.Quantity, "quantity must be positive")
	}
	if o.Price < 0 {
		return errors.NewValidationError("price", o.Price, "price cannot be negative")
	}
	if o.TriggerPrice < 0 {
		return errors.NewValidationError("trigger_price", o.TriggerPrice, "trigger price cannot be negative")
	}
	if (o.Type == OrderTypeLimit || o.Type == OrderTypeStopLoss) && o.Price <= 0 {
		return errors.NewValidationError("price", o.Price, "price is required for LIMIT and SL orders")
	}
	if o.Type.IsStop() && o.TriggerPrice <= 0 {
		return errors.NewValidationError("trigger_price", o.TriggerPrice, "trigger price is required for SL and SL-M orders")
	}
	return nil
}

// OrderResponse is returned once per place/cancel call.
type OrderResponse struct {
	OrderID string
	Status  string
	Message string
	Broker  BrokerName
	Raw     map[string]any
}

// OrderRecord is a single order-book entry.
type OrderRecord struct {
	OrderID      string
	Symbol       string
	Exchange     Exchange
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int
	Price        float64
	TriggerPrice float64
	Status       string
	Reason       string
	Timestamp    time.Time
}

// Position represents an open trading position.
type Position struct {
	Symbol       string
	Exchange     Exchange
	Product      ProductType
	Quantity     int
	AveragePrice float64
	LTP          float64
	PnL          float64
}

// Holding represents a delivery holding.
type Holding struct {
	Symbol       string
	Quantity     int
	AveragePrice float64
	LTP          float64
	PnL          float64
}
