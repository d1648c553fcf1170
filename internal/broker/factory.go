package broker

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"order-gateway/internal/config"
	"order-gateway/internal/errors"
	"order-gateway/internal/metrics"
	"order-gateway/internal/models"
)

// Constructor builds a fresh, disconnected gateway.
type Constructor func() (Gateway, error)

// Factory creates gateways by broker name from registered constructors.
type Factory struct {
	constructors map[models.BrokerName]Constructor
	mu           sync.RWMutex
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[models.BrokerName]Constructor)}
}

// NewDefaultFactory registers the paper and Zerodha backends from cfg.
// Angel One has no adapter and stays unregistered.
func NewDefaultFactory(cfg *config.Config, logger zerolog.Logger, reg *metrics.Registry) *Factory {
	f := NewFactory()

	f.Register(models.BrokerPaper, func() (Gateway, error) {
		return NewPaperLedger(PaperLedgerConfig{
			StartingCapital: cfg.Trading.StartingCapital,
			Logger:          &logger,
			Metrics:         reg,
		}), nil
	})

	f.Register(models.BrokerZerodha, func() (Gateway, error) {
		return NewZerodhaGateway(ZerodhaConfig{
			OrdersPerSecond: cfg.Trading.OrdersPerSecond,
			Logger:          &logger,
		}), nil
	})

	return f
}

// Register adds or replaces the constructor for name.
func (f *Factory) Register(name models.BrokerName, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

// Registered returns the names with a constructor, sorted.
func (f *Factory) Registered() []models.BrokerName {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]models.BrokerName, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Create builds a gateway for name. Unknown or unregistered names fail with
// a BROKER_NOT_CONFIGURED broker error.
func (f *Factory) Create(name models.BrokerName) (Gateway, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[name]
	f.mu.RUnlock()

	if !ok {
		return nil, errors.NewBrokerError("BROKER_NOT_CONFIGURED",
			fmt.Sprintf("no adapter registered for %q", name), errors.ErrBrokerNotConfigured)
	}
	return ctor()
}

// ParseBrokerName maps a case-insensitive name onto a BrokerName.
func ParseBrokerName(s string) (models.BrokerName, error) {
	switch name := models.BrokerName(strings.ToLower(strings.TrimSpace(s))); name {
	case models.BrokerPaper, models.BrokerZerodha, models.BrokerAngel:
		return name, nil
	default:
		return "", errors.NewBrokerError("UNKNOWN_BROKER",
			fmt.Sprintf("unknown broker %q (must be paper, zerodha or angel)", s), errors.ErrBrokerNotConfigured)
	}
}
