package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/adavenue/ticketing/internal/booking"
	"github.com/adavenue/ticketing/internal/model"
	"github.com/adavenue/ticketing/internal/queue"
	queuepub "github.com/adavenue/ticketing/internal/service"
)

// BookingHandler exposes the admission controller over HTTP.
type BookingHandler struct {
	Svc *booking.Service
}

func NewBookingHandler(svc *booking.Service) *BookingHandler {
	return &BookingHandler{Svc: svc}
}

// bookingResp is a booking plus the remaining-capacity snapshot computed
// in the same transaction that admitted it.
type bookingResp struct {
	model.Booking
	TicketsRemaining uint32 `json:"ticketsRemaining"`
}

// Create handles POST /v1/bookings.
func (h *BookingHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return sendError(c, http.StatusUnauthorized, "Unauthorized.", nil)
	}

	var payload model.BookingPayload
	if err := c.Bind(&payload); err != nil {
		return sendError(c, http.StatusBadRequest, "Invalid request body.", nil)
	}

	conf, err := h.Svc.RequestBooking(c.Request().Context(), uid, payload)
	if err != nil {
		return writeBookingErr(c, err)
	}

	// Fire-and-forget: a broker outage must never fail an admitted booking.
	go publishConfirmed(conf.Booking, conf.Event)

	return sendSuccess(c, http.StatusCreated,
		bookingResp{Booking: conf.Booking, TicketsRemaining: conf.TicketsRemaining},
		"Booking confirmed.")
}

// List handles GET /v1/bookings: the caller's bookings, or all bookings
// for admins.
func (h *BookingHandler) List(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return sendError(c, http.StatusUnauthorized, "Unauthorized.", nil)
	}
	items, err := h.Svc.ListBookings(c.Request().Context(), uid, getRole(c))
	if err != nil {
		return writeBookingErr(c, err)
	}
	return sendSuccess(c, http.StatusOK, items, "")
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return sendError(c, http.StatusUnauthorized, "Unauthorized.", nil)
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return sendError(c, http.StatusNotFound, "Booking not found.", nil)
	}
	conf, err := h.Svc.GetBooking(c.Request().Context(), uid, getRole(c), id)
	if err != nil {
		return writeBookingErr(c, err)
	}
	return sendSuccess(c, http.StatusOK,
		bookingResp{Booking: conf.Booking, TicketsRemaining: conf.TicketsRemaining}, "")
}

// Cancel handles DELETE /v1/bookings/:id.  Owner or admin only.
func (h *BookingHandler) Cancel(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return sendError(c, http.StatusUnauthorized, "Unauthorized.", nil)
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return sendError(c, http.StatusNotFound, "Booking not found.", nil)
	}
	if err := h.Svc.CancelBooking(c.Request().Context(), uid, getRole(c), id); err != nil {
		return writeBookingErr(c, err)
	}
	return sendSuccess(c, http.StatusOK, nil, "Booking cancelled.")
}

// writeBookingErr maps admission-control errors onto HTTP responses.
// Every rejection keeps the {success:false, message, errors} envelope.
func writeBookingErr(c echo.Context, err error) error {
	var verr *booking.ValidationError
	if errors.As(err, &verr) {
		return sendError(c, http.StatusUnprocessableEntity, "Validation failed.", verr.Fields)
	}
	var scerr *booking.SeatConflictError
	if errors.As(err, &scerr) {
		return sendError(c, http.StatusConflict, "Some of the selected seats are already booked.",
			echo.Map{"seats": scerr.Seats})
	}
	var caperr *booking.CapacityError
	if errors.As(err, &caperr) {
		return sendError(c, http.StatusConflict, "Not enough tickets available.",
			echo.Map{"quantity": fmt.Sprintf("Only %d ticket(s) remaining.", caperr.Remaining)})
	}
	var fperr *booking.CapacityFloorError
	if errors.As(err, &fperr) {
		return sendError(c, http.StatusConflict,
			fmt.Sprintf("Capacity cannot drop below the %d ticket(s) already booked.", fperr.Booked), nil)
	}
	switch {
	case errors.Is(err, booking.ErrEventNotFound):
		return sendError(c, http.StatusNotFound, "Event not found.", nil)
	case errors.Is(err, booking.ErrBookingNotFound):
		return sendError(c, http.StatusNotFound, "Booking not found.", nil)
	case errors.Is(err, booking.ErrEventNotBookable):
		return sendError(c, http.StatusConflict, "This event is not open for bookings.", nil)
	case errors.Is(err, booking.ErrAlreadyCancelled):
		return sendError(c, http.StatusConflict, "This booking is already cancelled.", nil)
	case errors.Is(err, booking.ErrEventHasBookings):
		return sendError(c, http.StatusConflict, "This event still has active bookings.", nil)
	case errors.Is(err, booking.ErrUserNotFound):
		return sendError(c, http.StatusUnauthorized, "User account not found.", nil)
	case errors.Is(err, booking.ErrForbidden):
		return sendError(c, http.StatusForbidden, "You do not have access to this booking.", nil)
	case errors.Is(err, booking.ErrLedgerUnavailable):
		return sendError(c, http.StatusServiceUnavailable, "The booking service is temporarily unavailable. Please retry.", nil)
	case errors.Is(err, context.Canceled):
		// The client went away mid-request; 499 per the nginx
		// convention, and there is nobody left to read a body.
		return c.NoContent(499)
	}
	return sendError(c, http.StatusInternalServerError, "Something went wrong.", nil)
}

// publishConfirmed emits the booking.confirmed message for downstream
// consumers.  Failures are logged inside the publisher and ignored here.
func publishConfirmed(b model.Booking, ev model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = queuepub.PublishBookingConfirmed(ctx, queue.BookingConfirmedEvent{
		BookingID:   b.ID,
		UserID:      b.UserID,
		UserEmail:   b.UserEmail,
		EventID:     b.EventID,
		EventName:   ev.Name,
		EventDate:   ev.Date.Format("2006-01-02"),
		SeatLabels:  b.Seats,
		Quantity:    b.Quantity,
		TotalPrice:  b.TotalPrice,
		ConfirmedAt: b.BookedAt.Format(time.RFC3339),
	})
}
