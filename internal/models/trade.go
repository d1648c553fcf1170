package models

import "time"

// TradeRecord represents a closed (realized) trade.
type TradeRecord struct {
	OrderID    string
	Symbol     string
	Exchange   Exchange
	Side       OrderSide
	Quantity   int
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	PnLPercent float64
	OpenedAt   time.Time
	ClosedAt   time.Time
	IsPaper    bool
}

// LedgerSummary is the dashboard view of a simulated account.
type LedgerSummary struct {
	StartingCapital float64 `json:"starting_capital"`
	CurrentCapital  float64 `json:"current_capital"`
	PortfolioValue  float64 `json:"portfolio_value"`
	TotalPnL        float64 `json:"total_pnl"`
	TotalPnLPercent float64 `json:"total_pnl_percent"`
	OpenPositions   int     `json:"open_positions"`
	TotalTrades     int     `json:"total_trades"`
	Connected       bool    `json:"is_connected"`
}
