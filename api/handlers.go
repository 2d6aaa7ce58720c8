/*
handlers.go - HTTP API handlers for the amenity reservation engine

PURPOSE:
  Exposes the engine via REST. Handlers decode and validate JSON,
  delegate to domain logic, and map domain errors to HTTP status codes.

ENDPOINTS:
  Resources:
    GET    /api/resources                      List amenities
    GET    /api/resources/{id}                 Amenity details
    GET    /api/resources/{id}/quote           Price a window without booking

  Bookings:
    POST   /api/bookings                       Reserve a slot
    GET    /api/bookings/{id}                  Booking details
    DELETE /api/bookings/{id}                  Cancel + refund
    POST   /api/bookings/{id}/power            Relay on/off
    GET    /api/bookings/{id}/events           Power audit trail

  Requesters:
    GET    /api/requesters/{id}/bookings       Booking history
    GET    /api/requesters/{id}/wallet         Points balance

  Admin:
    POST   /api/admin/buildings/{id}/kill      Emergency power-off

ERROR MAPPING:
  400  validation, invalid window/rail/command
  402  insufficient points
  404  unknown resource/booking/wallet
  409  slot taken, booking not active, relay already in state
  503  relay offline (compensating refund already issued)
  500  everything else

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Router setup and middleware
*/
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/brikk/amenity-engine/booking"
	"github.com/brikk/amenity-engine/device"
	"github.com/brikk/amenity-engine/wallet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Manager   *booking.Manager
	Relays    *device.Controller
	Resources booking.ResourceStore
	Bookings  booking.BookingStore
	Wallets   wallet.Store
	Events    device.EventStore
	Log       *slog.Logger

	// Clock is injectable for tests. Defaults to time.Now.
	Clock func() time.Time

	validate *validator.Validate
}

// NewHandler creates a handler wired to the engine's services.
func NewHandler(manager *booking.Manager, relays *device.Controller,
	resources booking.ResourceStore, bookings booking.BookingStore,
	wallets wallet.Store, events device.EventStore, log *slog.Logger) *Handler {
	return &Handler{
		Manager:   manager,
		Relays:    relays,
		Resources: resources,
		Bookings:  bookings,
		Wallets:   wallets,
		Events:    events,
		Log:       log,
		Clock:     time.Now,
		validate:  validator.New(),
	}
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// =============================================================================
// RESOURCE HANDLERS
// =============================================================================

// ListResources returns all amenities, optionally filtered by building.
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	var (
		resources []booking.Resource
		err       error
	)
	if buildingID := r.URL.Query().Get("building_id"); buildingID != "" {
		resources, err = h.Resources.ListResourcesByBuilding(r.Context(), booking.BuildingID(buildingID))
	} else {
		resources, err = h.Resources.ListResources(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dtos := make([]ResourceDTO, len(resources))
	for i, res := range resources {
		dtos[i] = toResourceDTO(res)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, dtos)
}

// GetResource returns a single amenity.
func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	id := booking.ResourceID(chi.URLParam(r, "id"))
	res, err := h.Resources.GetResource(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res == nil {
		h.writeError(w, r, booking.ErrResourceNotFound)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toResourceDTO(*res))
}

// QuoteBooking prices a window on an amenity without reserving it.
// Query params: start, end (RFC3339) and rail.
func (h *Handler) QuoteBooking(w http.ResponseWriter, r *http.Request) {
	id := booking.ResourceID(chi.URLParam(r, "id"))
	res, err := h.Resources.GetResource(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res == nil {
		h.writeError(w, r, booking.ErrResourceNotFound)
		return
	}

	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		h.badRequest(w, r, "invalid start: expected RFC3339")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		h.badRequest(w, r, "invalid end: expected RFC3339")
		return
	}
	if !end.After(start) {
		h.writeError(w, r, booking.ErrInvalidWindow)
		return
	}
	rail := booking.Rail(q.Get("rail"))
	if !rail.Valid() {
		h.writeError(w, r, booking.ErrInvalidRail)
		return
	}

	window := booking.Booking{Start: start, End: end}
	dto := QuoteDTO{
		ResourceID:    string(res.ID),
		Start:         start.UTC().Format(time.RFC3339),
		End:           end.UTC().Format(time.RFC3339),
		DurationHours: window.DurationHours().String(),
		Rail:          string(rail),
	}
	switch rail {
	case booking.RailPoints:
		dto.Points = h.Manager.QuotePoints(*res, start, end)
	case booking.RailMoney:
		dto.Money = h.Manager.QuoteMoney(*res, start, end).StringFixed(2)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, dto)
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking reserves a slot and charges the chosen rail.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, validationMessage(err))
		return
	}

	b, err := h.Manager.CreateBooking(r.Context(),
		booking.RequesterID(req.RequesterID),
		booking.ResourceID(req.ResourceID),
		req.Start, req.End,
		booking.Rail(req.Rail))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toBookingDTO(*b, h.now()))
}

// GetBooking returns a booking with its effective status.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))
	b, err := h.Manager.GetBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toBookingDTO(*b, h.now()))
}

// CancelBooking retires a booking and reports the refund.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))

	refund, err := h.Manager.CancelBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	b, err := h.Manager.GetBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, CancelBookingResponse{
		Booking: toBookingDTO(*b, h.now()),
		Refund:  toRefundDTO(*refund),
	})
}

// ListBookingsByRequester returns a requester's booking history.
func (h *Handler) ListBookingsByRequester(w http.ResponseWriter, r *http.Request) {
	id := booking.RequesterID(chi.URLParam(r, "id"))
	bookings, err := h.Bookings.ListByRequester(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	now := h.now()
	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b, now)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, dtos)
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// GetWallet returns a requester's points balance.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "id")
	balance, err := h.Wallets.GetBalance(r.Context(), account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, WalletDTO{Account: account, Balance: balance})
}

// =============================================================================
// POWER HANDLERS
// =============================================================================

// SetPower issues a relay command for a booking's resource.
func (h *Handler) SetPower(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))

	var req SetPowerRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, validationMessage(err))
		return
	}

	event, err := h.Relays.SetPower(r.Context(), id, device.Command(req.Command))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toPowerEventDTO(*event))
}

// ListPowerEvents returns a booking's relay audit trail.
func (h *Handler) ListPowerEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := h.Events.ListByBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dtos := make([]PowerEventDTO, len(events))
	for i, e := range events {
		dtos[i] = toPowerEventDTO(e)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// KillBuilding powers off every amenity in a building. Best effort.
func (h *Handler) KillBuilding(w http.ResponseWriter, r *http.Request) {
	id := booking.BuildingID(chi.URLParam(r, "id"))
	if err := h.Relays.KillAll(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: msg})
}

// writeError maps domain errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var insufficient *wallet.InsufficientFundsError
	switch {
	case errors.Is(err, booking.ErrInvalidWindow),
		errors.Is(err, booking.ErrInvalidRail),
		errors.Is(err, device.ErrInvalidCommand),
		errors.Is(err, wallet.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, booking.ErrResourceNotFound),
		errors.Is(err, booking.ErrBookingNotFound),
		errors.Is(err, wallet.ErrWalletNotFound):
		status = http.StatusNotFound
	case errors.As(err, &insufficient):
		status = http.StatusPaymentRequired
	case booking.IsContention(err),
		errors.Is(err, booking.ErrBookingNotActive),
		errors.Is(err, device.ErrRelayStateUnchanged),
		errors.Is(err, device.ErrSafetyViolation):
		status = http.StatusConflict
	case errors.Is(err, device.ErrRelayOffline):
		status = http.StatusServiceUnavailable
	}

	// Caller mistakes and slot contention are routine traffic; anything
	// that fell through to 500 needs operator attention.
	switch {
	case booking.IsCallerError(err) || booking.IsContention(err):
		h.Log.Debug("request rejected", slog.Int("status", status), slog.Any("error", err))
	case status == http.StatusInternalServerError:
		h.Log.Error("request failed", slog.Any("error", err))
	default:
		h.Log.Warn("request refused", slog.Int("status", status), slog.Any("error", err))
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error()})
}
