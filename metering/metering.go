/*
Package metering turns powered-on time into energy and money.

PURPOSE:
  Converts an elapsed powered-on duration and a resource's power rating
  into estimated kWh and cost, using a time-varying unit price, and
  rolls the cost into the building's budget ledger.

PRICING:
  The unit price comes from a feed and is re-queried on every billing
  computation - it is never cached across calls, because the price
  varies over time.

BUDGET ROLLUP:
  RecordConsumption increments the current-year budget line for the
  energy spend category. If no line item exists for that year the
  increment is silently a no-op; the store implements that contract.

SEE ALSO:
  - device/relay.go: Calls SessionCost + RecordConsumption on power-off
  - store/sqlite/sqlite.go: BudgetLedger implementation
*/
package metering

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryEnergy is the budget spend category energy costs roll into.
const CategoryEnergy = "utilities_energy"

// =============================================================================
// PRICE FEED
// =============================================================================

// PriceFeed supplies the current price per kWh. Implementations must
// return the live price; callers re-query per billing computation.
type PriceFeed interface {
	CurrentUnitPrice(ctx context.Context) (decimal.Decimal, error)
}

// =============================================================================
// BUDGET LEDGER
// =============================================================================

// BudgetLedger accumulates actual spend per building, year, and category.
// Incrementing a line that does not exist is a silent no-op.
type BudgetLedger interface {
	IncrementActualSpend(ctx context.Context, buildingID string, year int, category string, amount decimal.Decimal) error
}

// =============================================================================
// SERVICE
// =============================================================================

// Service computes session energy figures and records them.
type Service struct {
	Feed   PriceFeed
	Budget BudgetLedger
	Log    *slog.Logger

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time
}

func NewService(feed PriceFeed, budget BudgetLedger, log *slog.Logger) *Service {
	return &Service{Feed: feed, Budget: budget, Log: log, Clock: time.Now}
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// SessionCost estimates the energy and cost of a powered session:
//
//	kWh  = powerRatingKw * duration(h)
//	cost = kWh * CurrentUnitPrice()
//
// kWh is rounded to three decimals, cost to two.
func (s *Service) SessionCost(ctx context.Context, powerRatingKw decimal.Decimal, duration time.Duration) (kwh, cost decimal.Decimal, err error) {
	price, err := s.Feed.CurrentUnitPrice(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	hours := decimal.NewFromFloat(duration.Hours())
	kwh = powerRatingKw.Mul(hours).Round(3)
	cost = powerRatingKw.Mul(hours).Mul(price).Round(2)
	return kwh, cost, nil
}

// RecordConsumption rolls a session's cost into the building's
// current-year energy budget line.
func (s *Service) RecordConsumption(ctx context.Context, buildingID string, cost, kwh decimal.Decimal) error {
	year := s.now().Year()
	if err := s.Budget.IncrementActualSpend(ctx, buildingID, year, CategoryEnergy, cost); err != nil {
		return err
	}
	s.Log.Info("energy consumption recorded",
		slog.String("building_id", buildingID),
		slog.Int("year", year),
		slog.String("kwh", kwh.String()),
		slog.String("cost", cost.StringFixed(2)))
	return nil
}
