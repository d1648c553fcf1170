// Package models provides domain models exchanged at the gateway boundary.
package models

import (
	"time"
)

// Exchange represents a stock exchange segment.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
	MCX Exchange = "MCX" // Commodity
)

// Valid reports whether the exchange is one of the supported venues.
func (e Exchange) Valid() bool {
	switch e {
	case NSE, BSE, NFO, MCX:
		return true
	}
	return false
}

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLoss  OrderType = "SL"
	OrderTypeStopLossM OrderType = "SL-M"
)

// IsStop reports whether the order waits for a trigger price.
func (t OrderType) IsStop() bool {
	return t == OrderTypeStopLoss || t == OrderTypeStopLossM
}

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductIntraday ProductType = "INTRADAY"
	ProductDelivery ProductType = "DELIVERY"
)

// BrokerName identifies an execution backend.
type BrokerName string

const (
	BrokerAngel   BrokerName = "angel"
	BrokerZerodha BrokerName = "zerodha"
	BrokerPaper   BrokerName = "paper"
)

// Order statuses reported by backends.
const (
	StatusPlaced    = "PLACED"
	StatusFilled    = "FILLED"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
	StatusNotFound  = "NOT_FOUND"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}
