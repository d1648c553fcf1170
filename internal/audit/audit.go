// Package audit writes an append-only trail of safety and order events.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"order-gateway/internal/config"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Safety events
	EventKillSwitchOn    EventType = "KILL_SWITCH_ON"
	EventKillSwitchOff   EventType = "KILL_SWITCH_OFF"
	EventRiskCheckFailed EventType = "RISK_CHECK_FAILED"
	EventDailyReset      EventType = "DAILY_RESET"

	// Order events
	EventOrderPlaced    EventType = "ORDER_PLACED"
	EventOrderRejected  EventType = "ORDER_REJECTED"
	EventOrderCancelled EventType = "ORDER_CANCELLED"

	// Connection events
	EventBrokerConnected    EventType = "BROKER_CONNECTED"
	EventBrokerDisconnected EventType = "BROKER_DISCONNECTED"
)

// Event represents a single audit entry.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"event_type"`
	Broker    string         `json:"broker,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`
	OrderID   string         `json:"order_id,omitempty"`
	Check     string         `json:"check,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Success   bool           `json:"success"`
	SessionID string         `json:"session_id,omitempty"`
}

// Recorder accepts audit events. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Event) error { return nil }

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Logger writes events as JSON lines to a rotated file.
type Logger struct {
	writer    io.WriteCloser
	mu        sync.Mutex
	sessionID string
	now       func() time.Time
}

// NewLogger creates an audit logger writing to cfg.Dir/audit.log.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	return NewWriterLogger(&lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, "audit.log"),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}), nil
}

// NewWriterLogger creates an audit logger over an arbitrary writer.
func NewWriterLogger(w io.WriteCloser) *Logger {
	return &Logger{
		writer:    w,
		sessionID: uuid.NewString(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SessionID returns the identifier stamped on every event from this logger.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// Record implements Recorder.
func (l *Logger) Record(_ context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Timestamp = l.now()
	event.SessionID = l.sessionID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}

	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}

	return nil
}

// Close closes the underlying writer.
func (l *Logger) Close() error {
	return l.writer.Close()
}

// KillSwitch records a kill switch transition.
func KillSwitch(ctx context.Context, r Recorder, active bool, reason string, dailyPnL float64) error {
	eventType := EventKillSwitchOff
	if active {
		eventType = EventKillSwitchOn
	}
	return OrNop(r).Record(ctx, Event{
		Type:    eventType,
		Reason:  reason,
		Success: true,
		Details: map[string]any{"daily_pnl": dailyPnL},
	})
}

// RiskRejected records a failed pre-trade check.
func RiskRejected(ctx context.Context, r Recorder, symbol, check, reason string) error {
	return OrNop(r).Record(ctx, Event{
		Type:    EventRiskCheckFailed,
		Symbol:  symbol,
		Check:   check,
		Reason:  reason,
		Success: false,
	})
}

// Order records the outcome of a place or cancel call.
func Order(ctx context.Context, r Recorder, eventType EventType, broker, orderID, symbol, reason string, details map[string]any) error {
	return OrNop(r).Record(ctx, Event{
		Type:    eventType,
		Broker:  broker,
		OrderID: orderID,
		Symbol:  symbol,
		Reason:  reason,
		Details: details,
		Success: eventType != EventOrderRejected,
	})
}
