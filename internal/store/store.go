// Package store provides the trade journal persistence layer.
package store

import (
	"context"
	"time"

	"order-gateway/internal/models"
)

// Journal records order outcomes and closed trades.
type Journal interface {
	LogOrder(ctx context.Context, broker models.BrokerName, order models.OrderRecord) error
	LogTrade(ctx context.Context, trade models.TradeRecord) error
	GetOrders(ctx context.Context, filter OrderFilter) ([]JournaledOrder, error)
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error)
	Close() error
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	Symbol    string
	StartDate time.Time
	EndDate   time.Time
	IsPaper   *bool
	Limit     int
}

// OrderFilter represents filters for querying journaled orders.
type OrderFilter struct {
	Broker models.BrokerName
	Symbol string
	Status string
	Limit  int
}

// JournaledOrder is an order-book entry tagged with the backend that produced it.
type JournaledOrder struct {
	Broker models.BrokerName
	models.OrderRecord
}
