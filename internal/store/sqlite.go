package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"order-gateway/internal/errors"
	"order-gateway/internal/models"
)

// SQLiteStore implements Journal using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the journal at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.Wrapf(errors.ErrDatabaseError, "creating journal directory: %v", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to open database: %v", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to initialize schema: %v", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Closed trades
	CREATE TABLE IF NOT EXISTS trades (
		order_id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		pnl REAL NOT NULL,
		pnl_percent REAL NOT NULL,
		opened_at DATETIME,
		closed_at DATETIME NOT NULL,
		is_paper INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Order outcomes, one row per order ID
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		broker TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		product TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		trigger_price REAL NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LogTrade stores a closed trade keyed by its closing order ID.
func (s *SQLiteStore) LogTrade(ctx context.Context, trade models.TradeRecord) error {
	isPaper := 0
	if trade.IsPaper {
		isPaper = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades (order_id, symbol, exchange, side, quantity, entry_price, exit_price, pnl, pnl_percent, opened_at, closed_at, is_paper)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.OrderID, trade.Symbol, string(trade.Exchange), string(trade.Side), trade.Quantity,
		trade.EntryPrice, trade.ExitPrice, trade.PnL, trade.PnLPercent,
		trade.OpenedAt.UTC(), trade.ClosedAt.UTC(), isPaper)
	if err != nil {
		return errors.Wrapf(errors.ErrDatabaseError, "failed to log trade %s: %v", trade.OrderID, err)
	}
	return nil
}

// LogOrder stores or updates an order outcome.
func (s *SQLiteStore) LogOrder(ctx context.Context, broker models.BrokerName, order models.OrderRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders (order_id, broker, timestamp, symbol, exchange, side, order_type, product, quantity, price, trigger_price, status, reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, order.OrderID, string(broker), order.Timestamp.UTC(), order.Symbol, string(order.Exchange),
		string(order.Side), string(order.Type), string(order.Product), order.Quantity,
		order.Price, order.TriggerPrice, order.Status, order.Reason)
	if err != nil {
		return errors.Wrapf(errors.ErrDatabaseError, "failed to log order %s: %v", order.OrderID, err)
	}
	return nil
}

// GetTrades retrieves closed trades, newest first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error) {
	query := "SELECT order_id, symbol, exchange, side, quantity, entry_price, exit_price, pnl, pnl_percent, opened_at, closed_at, is_paper FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.StartDate.IsZero() {
		query += " AND closed_at >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += " AND closed_at <= ?"
		args = append(args, filter.EndDate.UTC())
	}
	if filter.IsPaper != nil {
		isPaper := 0
		if *filter.IsPaper {
			isPaper = 1
		}
		query += " AND is_paper = ?"
		args = append(args, isPaper)
	}

	query += " ORDER BY closed_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to query trades: %v", err)
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		var exchange, side string
		var isPaper int
		if err := rows.Scan(&t.OrderID, &t.Symbol, &exchange, &side, &t.Quantity, &t.EntryPrice, &t.ExitPrice,
			&t.PnL, &t.PnLPercent, &t.OpenedAt, &t.ClosedAt, &isPaper); err != nil {
			return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to scan trade: %v", err)
		}
		t.Exchange = models.Exchange(exchange)
		t.Side = models.OrderSide(side)
		t.IsPaper = isPaper == 1
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// GetOrders retrieves journaled orders, newest first.
func (s *SQLiteStore) GetOrders(ctx context.Context, filter OrderFilter) ([]JournaledOrder, error) {
	query := "SELECT order_id, broker, timestamp, symbol, exchange, side, order_type, product, quantity, price, trigger_price, status, reason FROM orders WHERE 1=1"
	args := []interface{}{}

	if filter.Broker != "" {
		query += " AND broker = ?"
		args = append(args, string(filter.Broker))
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to query orders: %v", err)
	}
	defer rows.Close()

	var orders []JournaledOrder
	for rows.Next() {
		var o JournaledOrder
		var broker, exchange, side, orderType, product string
		var reason sql.NullString
		if err := rows.Scan(&o.OrderID, &broker, &o.Timestamp, &o.Symbol, &exchange, &side, &orderType, &product,
			&o.Quantity, &o.Price, &o.TriggerPrice, &o.Status, &reason); err != nil {
			return nil, errors.Wrapf(errors.ErrDatabaseError, "failed to scan order: %v", err)
		}
		o.Broker = models.BrokerName(broker)
		o.Exchange = models.Exchange(exchange)
		o.Side = models.OrderSide(side)
		o.Type = models.OrderType(orderType)
		o.Product = models.ProductType(product)
		o.Reason = reason.String
		orders = append(orders, o)
	}

	return orders, rows.Err()
}

var _ Journal = (*SQLiteStore)(nil)

