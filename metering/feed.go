package metering

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MOCK PRICE FEED - Time-varying unit price (dev/testing)
// =============================================================================

// MockFeed simulates a spot-price feed: a flat off-peak price with a
// surcharge during daytime peak hours. Deterministic by clock, so tests
// can pin the price by pinning the clock.
type MockFeed struct {
	OffPeak   decimal.Decimal
	Peak      decimal.Decimal
	PeakStart int // hour of day, inclusive
	PeakEnd   int // hour of day, exclusive

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		OffPeak:   decimal.NewFromFloat(0.21),
		Peak:      decimal.NewFromFloat(0.34),
		PeakStart: 8,
		PeakEnd:   20,
		Clock:     time.Now,
	}
}

func (f *MockFeed) CurrentUnitPrice(_ context.Context) (decimal.Decimal, error) {
	now := time.Now()
	if f.Clock != nil {
		now = f.Clock()
	}
	h := now.Hour()
	if h >= f.PeakStart && h < f.PeakEnd {
		return f.Peak, nil
	}
	return f.OffPeak, nil
}

// FixedFeed always returns the same price. Useful in tests.
type FixedFeed struct {
	Price decimal.Decimal
}

func (f FixedFeed) CurrentUnitPrice(context.Context) (decimal.Decimal, error) {
	return f.Price, nil
}
