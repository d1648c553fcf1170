package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"order-gateway/internal/errors"
	"order-gateway/internal/models"
	"order-gateway/internal/trading"
)

// Scenario is a scripted trading day.
type Scenario struct {
	Broker            string  `yaml:"broker"`
	StartingCapital   float64 `yaml:"starting_capital"`
	BypassMarketHours *bool   `yaml:"bypass_market_hours"`
	Steps             []Step  `yaml:"steps"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Order      *OrderStep      `yaml:"order"`
	Mark       *MarkStep       `yaml:"mark"`
	Cancel     string          `yaml:"cancel"` // order ID, or "last"
	KillSwitch *KillSwitchStep `yaml:"kill_switch"`
	ResetDay   bool            `yaml:"reset_day"`
}

// OrderStep describes an order to place.
type OrderStep struct {
	Symbol       string  `yaml:"symbol"`
	Exchange     string  `yaml:"exchange"`
	Side         string  `yaml:"side"`
	Type         string  `yaml:"type"`
	Product      string  `yaml:"product"`
	Quantity     int     `yaml:"quantity"`
	Price        float64 `yaml:"price"`
	TriggerPrice float64 `yaml:"trigger_price"`
}

// MarkStep publishes an observed price.
type MarkStep struct {
	Symbol string  `yaml:"symbol"`
	Price  float64 `yaml:"price"`
}

// KillSwitchStep engages or releases the kill switch.
type KillSwitchStep struct {
	Active bool   `yaml:"active"`
	Reason string `yaml:"reason"`
}

// StepResult is the outcome of one replayed action.
type StepResult struct {
	Step    int     `json:"step"`
	Action  string  `json:"action"`
	Symbol  string  `json:"symbol,omitempty"`
	OrderID string  `json:"order_id,omitempty"`
	Status  string  `json:"status"`
	Check   string  `json:"check,omitempty"`
	PnL     float64 `json:"pnl,omitempty"`
	Message string  `json:"message,omitempty"`
}

// StatusBlocked marks an order stopped by a risk check before reaching the gateway.
const StatusBlocked = "BLOCKED"

// ParseScenario decodes and checks a YAML scenario.
func ParseScenario(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, errors.Wrapf(errors.ErrConfigInvalid, "decoding scenario: %v", err)
	}

	for i, step := range sc.Steps {
		if n := step.actions(); n != 1 {
			return nil, errors.Wrapf(errors.ErrConfigInvalid, "step %d: expected exactly one action, got %d", i+1, n)
		}
		if step.Order != nil && step.Order.Symbol == "" {
			return nil, errors.Wrapf(errors.ErrConfigInvalid, "step %d: order needs a symbol", i+1)
		}
		if step.Mark != nil && (step.Mark.Symbol == "" || step.Mark.Price <= 0) {
			return nil, errors.Wrapf(errors.ErrConfigInvalid, "step %d: mark needs a symbol and a positive price", i+1)
		}
	}
	return &sc, nil
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{s.Order != nil, s.Mark != nil, s.Cancel != "", s.KillSwitch != nil, s.ResetDay} {
		if set {
			n++
		}
	}
	return n
}

// Request converts the step into an order request. Exchange defaults to NSE,
// product to DELIVERY, and type to LIMIT when a price is given, else MARKET.
func (o OrderStep) Request() models.OrderRequest {
	req := models.OrderRequest{
		Symbol:       strings.ToUpper(o.Symbol),
		Exchange:     models.Exchange(strings.ToUpper(o.Exchange)),
		Side:         models.OrderSide(strings.ToUpper(o.Side)),
		Type:         models.OrderType(strings.ToUpper(o.Type)),
		Product:      models.ProductType(strings.ToUpper(o.Product)),
		Quantity:     o.Quantity,
		Price:        o.Price,
		TriggerPrice: o.TriggerPrice,
	}
	if req.Exchange == "" {
		req.Exchange = models.NSE
	}
	if req.Product == "" {
		req.Product = models.ProductDelivery
	}
	if req.Type == "" {
		req.Type = models.OrderTypeMarket
		if req.Price > 0 {
			req.Type = models.OrderTypeLimit
		}
	}
	return req
}

// Replay runs every step against s in order. A failing step is reported
// and the replay continues.
func Replay(ctx context.Context, s *trading.Session, sc *Scenario) []StepResult {
	var (
		results []StepResult
		lastID  string
	)

	for i, step := range sc.Steps {
		n := i + 1
		switch {
		case step.Order != nil:
			req := step.Order.Request()
			result := StepResult{Step: n, Action: "order " + string(req.Side), Symbol: req.Symbol}
			resp, err := s.PlaceOrder(ctx, req)
			applyResponse(&result, resp, err)
			if resp != nil && resp.OrderID != "" {
				lastID = resp.OrderID
			}
			results = append(results, result)

		case step.Mark != nil:
			fired, err := s.MarkPrice(ctx, strings.ToUpper(step.Mark.Symbol), step.Mark.Price)
			result := StepResult{Step: n, Action: "mark", Symbol: strings.ToUpper(step.Mark.Symbol), Status: "OK",
				Message: fmt.Sprintf("%.2f, %d stop(s) triggered", step.Mark.Price, len(fired))}
			if err != nil {
				result.Status = models.StatusRejected
				result.Message = err.Error()
			}
			results = append(results, result)
			for j := range fired {
				action := "trigger"
				if fired[j].Status == models.StatusCancelled {
					action = "halt"
				}
				triggered := StepResult{Step: n, Action: action, Symbol: result.Symbol}
				applyResponse(&triggered, &fired[j], nil)
				results = append(results, triggered)
			}

		case step.Cancel != "":
			id := step.Cancel
			if id == "last" {
				id = lastID
			}
			result := StepResult{Step: n, Action: "cancel", OrderID: id}
			resp, err := s.CancelOrder(ctx, id)
			applyResponse(&result, resp, err)
			results = append(results, result)

		case step.KillSwitch != nil:
			result := StepResult{Step: n, Action: "kill_switch", Status: "OFF", Message: step.KillSwitch.Reason}
			if step.KillSwitch.Active {
				s.Risk().ActivateKillSwitch(ctx, step.KillSwitch.Reason)
				result.Status = "ON"
			} else {
				s.Risk().DeactivateKillSwitch(ctx, step.KillSwitch.Reason)
			}
			results = append(results, result)

		case step.ResetDay:
			s.ResetDay(ctx)
			results = append(results, StepResult{Step: n, Action: "reset_day", Status: "OK"})
		}
	}
	return results
}

func applyResponse(result *StepResult, resp *models.OrderResponse, err error) {
	if resp != nil {
		result.OrderID = resp.OrderID
		result.Status = resp.Status
		result.Message = resp.Message
		if pnl, ok := resp.Raw["pnl"].(float64); ok {
			result.PnL = pnl
		}
	}
	if err == nil {
		return
	}

	var riskErr *errors.RiskCheckError
	if errors.As(err, &riskErr) {
		result.Status = StatusBlocked
		result.Check = riskErr.Check
		result.Message = riskErr.Reason
		return
	}
	if result.Status == "" {
		result.Status = models.StatusRejected
	}
	result.Message = err.Error()
}
