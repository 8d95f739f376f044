package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/adavenue/ticketing/internal/booking"
	"github.com/adavenue/ticketing/internal/model"
	"github.com/adavenue/ticketing/internal/repository"
)

// EventHandler serves the public event catalog and the admin management
// endpoints.  Capacity updates go through the admission controller so
// they share the per-event critical section with bookings.
type EventHandler struct {
	Events *repository.EventRepo
	Svc    *booking.Service
}

func NewEventHandler(events *repository.EventRepo, svc *booking.Service) *EventHandler {
	return &EventHandler{Events: events, Svc: svc}
}

// eventResp is an event plus its live availability counters.
type eventResp struct {
	model.Event
	TicketsSold      uint32 `json:"ticketsSold"`
	TicketsAvailable uint32 `json:"ticketsAvailable"`
}

// List handles GET /v1/events with optional type, category, status,
// search, from and to query filters.
func (h *EventHandler) List(c echo.Context) error {
	f := repository.EventFilter{
		Type:     c.QueryParam("type"),
		Category: c.QueryParam("category"),
		Status:   c.QueryParam("status"),
		Search:   c.QueryParam("search"),
	}
	if v := c.QueryParam("from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			f.From = t
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			f.To = t
		}
	}

	ctx := c.Request().Context()
	events, err := h.Events.List(ctx, f)
	if err != nil {
		return sendError(c, http.StatusInternalServerError, "Could not load events.", nil)
	}

	out := make([]eventResp, 0, len(events))
	for _, ev := range events {
		booked, remaining, err := h.Svc.Availability(ctx, ev)
		if err != nil {
			return sendError(c, http.StatusInternalServerError, "Could not load events.", nil)
		}
		out = append(out, eventResp{Event: ev, TicketsSold: booked, TicketsAvailable: remaining})
	}
	return sendSuccess(c, http.StatusOK, out, "")
}

// Get handles GET /v1/events/:id.
func (h *EventHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return sendError(c, http.StatusNotFound, "Event not found.", nil)
	}

	ctx := c.Request().Context()
	ev, err := h.Events.Get(ctx, id)
	if err != nil {
		return writeBookingErr(c, err)
	}
	booked, remaining, err := h.Svc.Availability(ctx, ev)
	if err != nil {
		return sendError(c, http.StatusInternalServerError, "Could not load the event.", nil)
	}
	return sendSuccess(c, http.StatusOK,
		eventResp{Event: ev, TicketsSold: booked, TicketsAvailable: remaining}, "")
}

// Create handles POST /v1/events (admin only).
func (h *EventHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return sendError(c, http.StatusUnauthorized, "Unauthorized.", nil)
	}

	var payload model.EventPayload
	if err := c.Bind(&payload); err != nil {
		return sendError(c, http.StatusBadRequest, "Invalid request body.", nil)
	}
	changes, ferrs := model.ValidateEventPayload(payload, false)
	if len(ferrs) > 0 {
		return sendError(c, http.StatusUnprocessableEntity, "Validation failed.", ferrs)
	}

	ev, err := h.Events.Create(c.Request().Context(), changes, uid)
	if err != nil {
		return sendError(c, http.StatusInternalServerError, "Could not create the event.", nil)
	}
	return sendSuccess(c, http.StatusCreated,
		eventResp{Event: ev, TicketsSold: 0, TicketsAvailable: ev.Capacity},
		"Event created.")
}

// Update handles PUT /v1/events/:id (admin only).  The write runs inside
// the event's booking transaction so a capacity decrease can never race
// past tickets already sold.
func (h *EventHandler) Update(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return sendError(c, http.StatusUnauthorized, "Unauthorized.", nil)
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return sendError(c, http.StatusNotFound, "Event not found.", nil)
	}

	var payload model.EventPayload
	if err := c.Bind(&payload); err != nil {
		return sendError(c, http.StatusBadRequest, "Invalid request body.", nil)
	}
	changes, ferrs := model.ValidateEventPayload(payload, true)
	if len(ferrs) > 0 {
		return sendError(c, http.StatusUnprocessableEntity, "Validation failed.", ferrs)
	}

	ctx := c.Request().Context()
	ev, err := h.Svc.UpdateEvent(ctx, id, changes)
	if err != nil {
		return writeBookingErr(c, err)
	}
	_ = h.Events.SetUpdatedBy(ctx, id, uid)

	booked, remaining, err := h.Svc.Availability(ctx, ev)
	if err != nil {
		return sendError(c, http.StatusInternalServerError, "Could not load the event.", nil)
	}
	return sendSuccess(c, http.StatusOK,
		eventResp{Event: ev, TicketsSold: booked, TicketsAvailable: remaining},
		"Event updated.")
}

// Delete handles DELETE /v1/events/:id (admin only).  Events with active
// bookings cannot be deleted; cancel or archive them instead.
func (h *EventHandler) Delete(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return sendError(c, http.StatusNotFound, "Event not found.", nil)
	}
	if err := h.Events.Delete(c.Request().Context(), id); err != nil {
		return writeBookingErr(c, err)
	}
	return sendSuccess(c, http.StatusOK, nil, "Event deleted.")
}
