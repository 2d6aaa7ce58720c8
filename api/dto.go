/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  JSON shapes for the wire. DTOs are separate from domain types so the
  API contract can evolve without touching the engine: timestamps go
  out as RFC3339 strings, decimals as fixed-point strings.

VALIDATION:
  Request DTOs carry validator tags and are checked with
  go-playground/validator after decoding. Validation failures map to
  400 with per-field messages.

SEE ALSO:
  - handlers.go: Uses these DTOs
  - booking/types.go: Domain types
*/
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/brikk/amenity-engine/booking"
	"github.com/brikk/amenity-engine/device"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateBookingRequest is the payload for POST /api/bookings.
type CreateBookingRequest struct {
	ResourceID  string    `json:"resource_id" validate:"required"`
	RequesterID string    `json:"requester_id" validate:"required"`
	Start       time.Time `json:"start" validate:"required"`
	End         time.Time `json:"end" validate:"required"`
	Rail        string    `json:"rail" validate:"required,oneof=points money"`
}

// SetPowerRequest is the payload for POST /api/bookings/{id}/power.
type SetPowerRequest struct {
	Command string `json:"command" validate:"required,oneof=on off"`
}

// validationMessage flattens validator errors into one readable line.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.ActualTag() {
		case "required":
			parts = append(parts, fmt.Sprintf("field %s is required", fe.Field()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("field %s must be one of: %s", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("field %s is invalid", fe.Field()))
		}
	}
	return strings.Join(parts, "; ")
}

// =============================================================================
// RESPONSES
// =============================================================================

// ResourceDTO is the wire form of a bookable amenity.
type ResourceDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	BuildingID    string `json:"building_id"`
	PointsPerHour int64  `json:"points_per_hour"`
	MoneyPerHour  string `json:"money_per_hour"`
	PowerRatingKw string `json:"power_rating_kw"`
}

func toResourceDTO(r booking.Resource) ResourceDTO {
	return ResourceDTO{
		ID:            string(r.ID),
		Name:          r.Name,
		BuildingID:    string(r.BuildingID),
		PointsPerHour: r.PointsPerHour,
		MoneyPerHour:  r.MoneyPerHour.StringFixed(2),
		PowerRatingKw: r.PowerRatingKw.String(),
	}
}

// BookingDTO is the wire form of a reservation. Status is the effective
// status: a confirmed booking whose window has passed reads completed.
type BookingDTO struct {
	ID            string `json:"id"`
	ResourceID    string `json:"resource_id"`
	RequesterID   string `json:"requester_id"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Rail          string `json:"rail"`
	Status        string `json:"status"`
	AccessCode    string `json:"access_code"`
	ChargedPoints int64  `json:"charged_points,omitempty"`
	ChargedMoney  string `json:"charged_money,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toBookingDTO(b booking.Booking, now time.Time) BookingDTO {
	dto := BookingDTO{
		ID:          string(b.ID),
		ResourceID:  string(b.ResourceID),
		RequesterID: string(b.RequesterID),
		Start:       b.Start.UTC().Format(time.RFC3339),
		End:         b.End.UTC().Format(time.RFC3339),
		Rail:        string(b.Rail),
		Status:      string(b.EffectiveStatus(now)),
		AccessCode:  b.AccessCode,
		CreatedAt:   b.CreatedAt.UTC().Format(time.RFC3339),
	}
	switch b.Rail {
	case booking.RailPoints:
		dto.ChargedPoints = b.ChargedPoints
	case booking.RailMoney:
		dto.ChargedMoney = b.ChargedMoney.StringFixed(2)
	}
	return dto
}

// QuoteDTO prices a window on one rail without reserving it.
type QuoteDTO struct {
	ResourceID    string `json:"resource_id"`
	Start         string `json:"start"`
	End           string `json:"end"`
	DurationHours string `json:"duration_hours"`
	Rail          string `json:"rail"`
	Points        int64  `json:"points,omitempty"`
	Money         string `json:"money,omitempty"`
}

// RefundDTO reports what a cancellation returned to the requester.
type RefundDTO struct {
	Rail   string `json:"rail"`
	Points int64  `json:"points,omitempty"`
	Money  string `json:"money,omitempty"`
}

func toRefundDTO(r booking.Refund) RefundDTO {
	dto := RefundDTO{Rail: string(r.Rail)}
	switch r.Rail {
	case booking.RailPoints:
		dto.Points = r.Points
	case booking.RailMoney:
		dto.Money = r.Money.StringFixed(2)
	}
	return dto
}

// CancelBookingResponse pairs the cancelled booking with its refund.
type CancelBookingResponse struct {
	Booking BookingDTO `json:"booking"`
	Refund  RefundDTO  `json:"refund"`
}

// PowerEventDTO is the wire form of a relay audit record.
type PowerEventDTO struct {
	ID              string `json:"id"`
	BookingID       string `json:"booking_id"`
	ResourceID      string `json:"resource_id"`
	Type            string `json:"type"`
	At              string `json:"at"`
	DurationMinutes string `json:"duration_minutes,omitempty"`
	EnergyKwh       string `json:"energy_kwh,omitempty"`
	Cost            string `json:"cost,omitempty"`
}

func toPowerEventDTO(e device.PowerEvent) PowerEventDTO {
	dto := PowerEventDTO{
		ID:         e.ID,
		BookingID:  e.BookingID,
		ResourceID: e.ResourceID,
		Type:       string(e.Type),
		At:         e.At.UTC().Format(time.RFC3339),
	}
	if e.Type == device.CommandOff {
		dto.DurationMinutes = e.DurationMinutes.String()
		dto.EnergyKwh = e.EnergyKwh.String()
		dto.Cost = e.Cost.StringFixed(2)
	}
	return dto
}

// WalletDTO reports a points balance.
type WalletDTO struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
