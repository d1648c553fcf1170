package broker

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"order-gateway/internal/errors"
	"order-gateway/internal/models"
)

func propertyParameters() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	return parameters
}

func connectedLedger(capital float64) *PaperLedger {
	p := NewPaperLedger(PaperLedgerConfig{StartingCapital: capital})
	_, _ = p.Connect(context.Background(), nil)
	return p
}

func limitOrder(symbol string, side models.OrderSide, qty int, price float64) models.OrderRequest {
	return models.OrderRequest{
		Symbol:   symbol,
		Exchange: models.NSE,
		Side:     side,
		Type:     models.OrderTypeLimit,
		Product:  models.ProductDelivery,
		Quantity: qty,
		Price:    price,
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// Property: after any sequence of buys in one symbol, the average price is
// Σ(qty×price)/Σqty.
func TestProperty_WeightedAveragePrice(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("average price is the quantity-weighted mean of fills", prop.ForAll(
		func(qtys []int, prices []float64) bool {
			p := connectedLedger(1e12)
			ctx := context.Background()

			var totalQty int
			var totalCost float64
			for i := range qtys {
				if _, err := p.PlaceOrder(ctx, limitOrder("INFY", models.OrderSideBuy, qtys[i], prices[i])); err != nil {
					return false
				}
				totalQty += qtys[i]
				totalCost += float64(qtys[i]) * prices[i]
			}

			positions, err := p.GetPositions(ctx)
			if err != nil || len(positions) != 1 {
				return false
			}
			return positions[0].Quantity == totalQty &&
				approxEqual(positions[0].AveragePrice, totalCost/float64(totalQty))
		},
		gen.SliceOfN(8, gen.IntRange(1, 100)),
		gen.SliceOfN(8, gen.Float64Range(1, 5000)),
	))

	properties.TestingRun(t)
}

// Property: a buy costing more than the free cash leaves the ledger untouched.
func TestProperty_UnaffordableBuyIsAtomic(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("rejected buy changes neither cash nor positions", prop.ForAll(
		func(capital float64, qty int, excess float64) bool {
			p := connectedLedger(capital)
			ctx := context.Background()
			price := capital/float64(qty) + excess

			resp, err := p.PlaceOrder(ctx, limitOrder("TCS", models.OrderSideBuy, qty, price))
			if !errors.Is(err, errors.ErrInsufficientFunds) || resp.Status != models.StatusRejected {
				return false
			}

			positions, _ := p.GetPositions(ctx)
			book, _ := p.GetOrderBook(ctx)
			return p.Cash() == capital &&
				len(positions) == 0 &&
				len(book) == 1 && book[0].Status == models.StatusRejected
		},
		gen.Float64Range(1000, 1000000),
		gen.IntRange(1, 500),
		gen.Float64Range(1, 1000),
	))

	properties.TestingRun(t)
}

// Property: selling more than is held is rejected and the position survives.
func TestProperty_OversellRejected(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("oversell leaves position and cash unchanged", prop.ForAll(
		func(held, extra int, price float64) bool {
			p := connectedLedger(1e9)
			ctx := context.Background()

			if _, err := p.PlaceOrder(ctx, limitOrder("SBIN", models.OrderSideBuy, held, price)); err != nil {
				return false
			}
			cash := p.Cash()

			_, err := p.PlaceOrder(ctx, limitOrder("SBIN", models.OrderSideSell, held+extra, price))
			if !errors.Is(err, errors.ErrInsufficientPosition) {
				return false
			}

			positions, _ := p.GetPositions(ctx)
			return p.Cash() == cash && len(positions) == 1 && positions[0].Quantity == held
		},
		gen.IntRange(1, 1000),
		gen.IntRange(1, 1000),
		gen.Float64Range(1, 5000),
	))

	properties.TestingRun(t)
}

// Property: cash plus cost basis always equals starting capital plus realized P&L.
func TestProperty_PortfolioValueConservation(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("portfolio value = starting capital + realized pnl", prop.ForAll(
		func(buyQty, sellQty int, buyPrice, sellPrice float64) bool {
			if sellQty > buyQty {
				sellQty = buyQty
			}
			p := connectedLedger(1e9)
			ctx := context.Background()

			if _, err := p.PlaceOrder(ctx, limitOrder("HDFCBANK", models.OrderSideBuy, buyQty, buyPrice)); err != nil {
				return false
			}
			resp, err := p.PlaceOrder(ctx, limitOrder("HDFCBANK", models.OrderSideSell, sellQty, sellPrice))
			if err != nil {
				return false
			}

			pnl, ok := resp.Raw["pnl"].(float64)
			if !ok || !approxEqual(pnl, (sellPrice-buyPrice)*float64(sellQty)) {
				return false
			}
			return approxEqual(p.PortfolioValue(), 1e9+p.TotalPnL())
		},
		gen.IntRange(1, 500),
		gen.IntRange(1, 500),
		gen.Float64Range(1, 5000),
		gen.Float64Range(1, 5000),
	))

	properties.TestingRun(t)
}

// Property: gateway products always map onto a product Kite accepts.
func TestProperty_KiteProductMapping(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("product maps to MIS, CNC or NRML and round-trips", prop.ForAll(
		func(product models.ProductType, exchange models.Exchange) bool {
			code := kiteProduct(product, exchange)
			switch code {
			case "MIS", "CNC", "NRML":
			default:
				return false
			}
			return gatewayProduct(code) == product
		},
		gen.OneConstOf(models.ProductIntraday, models.ProductDelivery),
		gen.OneConstOf(models.NSE, models.BSE, models.NFO, models.MCX),
	))

	properties.TestingRun(t)
}
