package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRiskCheckErrorKinds(t *testing.T) {
	kill := NewRiskCheckError("kill_switch", "halted")
	assert.ErrorIs(t, kill, ErrKillSwitchEngaged)
	assert.NotErrorIs(t, kill, ErrRiskCheckFailed)

	value := NewRiskCheckError("order_value", "too big")
	assert.ErrorIs(t, value, ErrRiskCheckFailed)
	assert.NotErrorIs(t, value, ErrKillSwitchEngaged)
	assert.Equal(t, "risk check [order_value] failed: too big", value.Error())
}

func TestLedgerErrors(t *testing.T) {
	funds := NewInsufficientFunds("TCS", 30000, 12000)
	assert.ErrorIs(t, funds, ErrInsufficientFunds)
	assert.Contains(t, funds.Error(), "need 30000.00, have 12000.00")

	pos := NewInsufficientPosition("TCS", 10, 4)
	assert.ErrorIs(t, pos, ErrInsufficientPosition)
	assert.Equal(t, 4.0, pos.Available)
}

func TestWrapKeepsChain(t *testing.T) {
	err := Wrapf(NewBrokerError("ORDER_FAILED", "vendor said no", ErrConnectionFailed), "placing %s", "TCS")
	assert.ErrorIs(t, err, ErrConnectionFailed)

	var brokerErr *BrokerError
	assert.True(t, As(err, &brokerErr))
	assert.Equal(t, "ORDER_FAILED", brokerErr.Code)

	assert.Nil(t, Wrap(nil, "nothing"))
	assert.Nil(t, Wrapf(nil, "nothing %d", 1))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{NewValidationError("quantity", 0, "quantity must be positive"), http.StatusBadRequest},
		{NewRiskCheckError("daily_loss", "limit"), http.StatusBadRequest},
		{NewRiskCheckError("kill_switch", "halted"), http.StatusServiceUnavailable},
		{NewBrokerError("BROKER_NOT_CONFIGURED", "angel", ErrBrokerNotConfigured), http.StatusServiceUnavailable},
		{NewInsufficientFunds("TCS", 1, 0), http.StatusBadRequest},
		{NewInsufficientPosition("TCS", 1, 0), http.StatusBadRequest},
		{Wrap(ErrNoPrice, "TCS"), http.StatusBadRequest},
		{NewBrokerError("SESSION_FAILED", "token", ErrConnectionFailed), http.StatusBadGateway},
		{ErrNotConnected, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), "%v", tc.err)
	}
}
