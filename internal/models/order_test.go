package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"order-gateway/internal/errors"
)

func validLimit() OrderRequest {
	return OrderRequest{
		Symbol:   "TCS",
		Exchange: NSE,
		Side:     OrderSideBuy,
		Type:     OrderTypeLimit,
		Product:  ProductDelivery,
		Quantity: 10,
		Price:    3000,
	}
}

func TestOrderRequestValidate(t *testing.T) {
	assert.NoError(t, validLimit().Validate())
	assert.Equal(t, 30000.0, validLimit().Value())

	market := validLimit()
	market.Type = OrderTypeMarket
	market.Price = 0
	assert.NoError(t, market.Validate(), "market orders may arrive unpriced")

	slm := validLimit()
	slm.Type = OrderTypeStopLossM
	slm.Price = 0
	slm.TriggerPrice = 2900
	assert.NoError(t, slm.Validate())
	assert.True(t, slm.Type.IsStop())
	assert.False(t, market.Type.IsStop())

	cases := map[string]func(o *OrderRequest){
		"empty symbol":       func(o *OrderRequest) { o.Symbol = "" },
		"unknown exchange":   func(o *OrderRequest) { o.Exchange = "LSE" },
		"bad side":           func(o *OrderRequest) { o.Side = "HOLD" },
		"bad type":           func(o *OrderRequest) { o.Type = "ICEBERG" },
		"bad product":        func(o *OrderRequest) { o.Product = "MTF" },
		"zero quantity":      func(o *OrderRequest) { o.Quantity = 0 },
		"negative price":     func(o *OrderRequest) { o.Price = -1 },
		"limit without":      func(o *OrderRequest) { o.Price = 0 },
		"sl without trigger": func(o *OrderRequest) { o.Type = OrderTypeStopLoss },
	}
	for name, mutate := range cases {
		o := validLimit()
		mutate(&o)
		err := o.Validate()
		assert.ErrorIs(t, err, errors.ErrInvalidOrder, name)

		var vErr *errors.ValidationError
		assert.True(t, errors.As(err, &vErr), name)
	}
}

func TestExchangeValid(t *testing.T) {
	for _, e := range []Exchange{NSE, BSE, NFO, MCX} {
		assert.True(t, e.Valid())
	}
	assert.False(t, Exchange("").Valid())
}
