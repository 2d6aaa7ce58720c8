package wallet

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STUB GATEWAY - Recording money-rail stub (dev/testing)
// =============================================================================

// StubGateway records charges and refunds in memory. The real gateway is
// an external payment provider outside this engine's scope.
type StubGateway struct {
	mu      sync.Mutex
	charges map[string]decimal.Decimal // reference -> net charged
}

func NewStubGateway() *StubGateway {
	return &StubGateway{charges: make(map[string]decimal.Decimal)}
}

func (g *StubGateway) Charge(_ context.Context, account string, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges[reference] = g.charges[reference].Add(amount)
	return nil
}

func (g *StubGateway) Refund(_ context.Context, account string, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges[reference] = g.charges[reference].Sub(amount)
	return nil
}

// NetCharged returns the net amount charged under a reference.
func (g *StubGateway) NetCharged(reference string) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.charges[reference]
}
