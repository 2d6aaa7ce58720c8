package booking

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRefundFraction_Tiers(t *testing.T) {
	p := DefaultCancellationPolicy

	tests := []struct {
		name            string
		hoursUntilStart float64
		want            string
	}{
		{"well before the window", 48, "1"},
		{"just over the boundary", 12.01, "1"},
		{"exactly at the boundary", 12, "0.5"},
		{"inside the late tier", 3, "0.5"},
		{"moments before start", 0.1, "0.5"},
		{"already started", -2, "0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.RefundFraction(tt.hoursUntilStart)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"fraction at %vh: got %s, want %s", tt.hoursUntilStart, got, tt.want)
		})
	}
}

func TestRefundPoints_FloorsToWholePoints(t *testing.T) {
	p := DefaultCancellationPolicy

	// GIVEN a 25-point charge cancelled in the late tier
	// WHEN the 50% refund is computed
	// THEN 12.5 floors to 12 whole points
	assert.Equal(t, int64(12), p.RefundPoints(25, 3))

	// Full-refund tier returns the charge untouched.
	assert.Equal(t, int64(25), p.RefundPoints(25, 48))

	// Late cancellation of an odd single point floors to zero.
	assert.Equal(t, int64(0), p.RefundPoints(1, 1))
}

func TestRefundMoney_FloorsToCents(t *testing.T) {
	p := DefaultCancellationPolicy

	// 10.25 * 0.5 = 5.125, floored to 5.12 rather than rounded to 5.13.
	got := p.RefundMoney(decimal.RequireFromString("10.25"), 3)
	assert.True(t, got.Equal(decimal.RequireFromString("5.12")), "got %s", got)

	full := p.RefundMoney(decimal.RequireFromString("10.25"), 24)
	assert.True(t, full.Equal(decimal.RequireFromString("10.25")), "got %s", full)
}

func TestRefundPoints_NeverExceedsCharge(t *testing.T) {
	p := DefaultCancellationPolicy
	for _, hours := range []float64{-5, 0, 6, 12, 13, 100} {
		refund := p.RefundPoints(20, hours)
		assert.LessOrEqual(t, refund, int64(20))
		assert.GreaterOrEqual(t, refund, int64(0))
	}
}
