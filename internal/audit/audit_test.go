package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-gateway/internal/config"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(config.AuditConfig{Dir: dir, MaxSize: 1, MaxBackups: 1, MaxAge: 1})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, KillSwitch(ctx, logger, true, "daily loss limit reached", -5000))
	require.NoError(t, RiskRejected(ctx, logger, "RELIANCE", "order_value", "too large"))
	require.NoError(t, Order(ctx, logger, EventOrderRejected, "paper", "PAPER-1A2B3C4D", "TCS", "insufficient funds", nil))
	require.NoError(t, logger.Close())

	f, err := os.Open(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, events, 3)

	assert.Equal(t, EventKillSwitchOn, events[0].Type)
	assert.Equal(t, -5000.0, events[0].Details["daily_pnl"])
	assert.Equal(t, EventRiskCheckFailed, events[1].Type)
	assert.Equal(t, "order_value", events[1].Check)
	assert.False(t, events[2].Success)

	for _, e := range events {
		assert.Equal(t, logger.SessionID(), e.SessionID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestNilRecorderFallsBackToNop(t *testing.T) {
	assert.NoError(t, KillSwitch(context.Background(), nil, false, "manual", 0))
	assert.IsType(t, Nop{}, OrNop(nil))
}
