package model

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// EventType enumerates the categories of events the catalog can hold.
type EventType string

const (
	EventTypeMovie   EventType = "Movie"
	EventTypeSports  EventType = "Sports"
	EventTypeConcert EventType = "Concert"
	EventTypeFamily  EventType = "Family"
)

// EventStatus tracks the lifecycle of an event.  Bookings are only
// admitted while the event is neither cancelled nor archived.
type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusActive    EventStatus = "active"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusArchived  EventStatus = "archived"
)

// EventTypes and EventStatuses list the accepted enum values in the order
// they are reported back to clients in validation messages.
var (
	EventTypes    = []EventType{EventTypeMovie, EventTypeSports, EventTypeConcert, EventTypeFamily}
	EventStatuses = []EventStatus{EventStatusDraft, EventStatusActive, EventStatusCancelled, EventStatusArchived}
	timePattern   = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d(?:\s?(?:AM|PM|am|pm))?$`)
)

// Event mirrors the `events` table.  Capacity is fixed at creation and may
// only be raised, or lowered down to the quantity already booked; the
// booking ledger enforces that bound inside its per-event transaction.
//
// Fields:
//  ID          – primary key identifier.
//  Name        – display name of the event.
//  Type        – one of Movie, Sports, Concert, Family.
//  Category    – free-form sub-category (e.g. "Rock", "Cricket").
//  Date        – calendar date of the event.
//  Time        – start time as entered by the organizer ("19:30").
//  Venue       – venue name.
//  TicketPrice – price per ticket; non-negative.
//  Capacity    – total admissible quantity; positive.
//  Description – optional long text.
//  Image       – optional image URL.
//  Status      – lifecycle status.
//  CreatedBy   – user that created the event (nullable).
//  UpdatedBy   – user that last updated the event (nullable).
type Event struct {
	ID          uint64      `json:"id"`
	Name        string      `json:"name"`
	Type        EventType   `json:"type"`
	Category    string      `json:"category"`
	Date        time.Time   `json:"date"`
	Time        string      `json:"time"`
	Venue       string      `json:"venue"`
	TicketPrice float64     `json:"ticketPrice"`
	Capacity    uint32      `json:"capacity"`
	Description string      `json:"description,omitempty"`
	Image       string      `json:"image,omitempty"`
	Status      EventStatus `json:"status"`
	CreatedBy   *uint64     `json:"createdBy,omitempty"`
	UpdatedBy   *uint64     `json:"updatedBy,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// IsBookable reports whether the admission controller may accept bookings
// for this event.  Draft events remain bookable so organizers can test
// their setup before publishing; only cancelled and archived events are
// closed, matching the original route behaviour.
func (e Event) IsBookable() bool {
	return e.Status != EventStatusCancelled && e.Status != EventStatusArchived
}

// ValidEventType reports whether s is a recognised event type.
func ValidEventType(s string) bool {
	for _, t := range EventTypes {
		if string(t) == s {
			return true
		}
	}
	return false
}

// ValidEventStatus reports whether s is a recognised lifecycle status.
func ValidEventStatus(s string) bool {
	for _, st := range EventStatuses {
		if string(st) == s {
			return true
		}
	}
	return false
}

// EventPayload is the raw event create/update body as bound from JSON.
// Pointer fields distinguish "absent" from "zero" so the same payload type
// serves both full creates and partial updates.
type EventPayload struct {
	Name        *string  `json:"name"`
	Type        *string  `json:"type"`
	Category    *string  `json:"category"`
	Date        *string  `json:"date"`
	Time        *string  `json:"time"`
	Venue       *string  `json:"venue"`
	TicketPrice *float64 `json:"ticketPrice"`
	Capacity    *int64   `json:"capacity"`
	Description *string  `json:"description"`
	Image       *string  `json:"image"`
	Status      *string  `json:"status"`
}

// EventChanges holds the validated subset of an EventPayload.  Only fields
// whose Set flag is true should be written to the catalog.
type EventChanges struct {
	Name        string
	Type        EventType
	Category    string
	Date        time.Time
	Time        string
	Venue       string
	TicketPrice float64
	Capacity    uint32
	Description string
	Image       string
	Status      EventStatus

	SetName, SetType, SetCategory, SetDate, SetTime, SetVenue        bool
	SetTicketPrice, SetCapacity, SetDescription, SetImage, SetStatus bool
}

// ValidateEventPayload checks an event payload and returns the validated
// changes together with a map of field errors.  With partial=false every
// required field must be present; with partial=true only supplied fields
// are validated, mirroring the original PUT semantics.
func ValidateEventPayload(p EventPayload, partial bool) (EventChanges, FieldErrors) {
	errs := FieldErrors{}
	var out EventChanges

	if !partial || p.Name != nil {
		if p.Name == nil || strings.TrimSpace(*p.Name) == "" {
			errs["name"] = "Event name is required."
		} else {
			out.Name, out.SetName = strings.TrimSpace(*p.Name), true
		}
	}
	if !partial || p.Type != nil {
		if p.Type == nil || !ValidEventType(*p.Type) {
			errs["type"] = "Event type must be one of: Movie, Sports, Concert, Family."
		} else {
			out.Type, out.SetType = EventType(*p.Type), true
		}
	}
	if !partial || p.Category != nil {
		if p.Category == nil || strings.TrimSpace(*p.Category) == "" {
			errs["category"] = "Category is required."
		} else {
			out.Category, out.SetCategory = strings.TrimSpace(*p.Category), true
		}
	}
	if !partial || p.Date != nil {
		var parsed time.Time
		var err error
		if p.Date != nil {
			parsed, err = parseDate(*p.Date)
		}
		if p.Date == nil || err != nil {
			errs["date"] = "A valid event date is required."
		} else {
			out.Date, out.SetDate = parsed, true
		}
	}
	if !partial || p.Time != nil {
		if p.Time == nil || !timePattern.MatchString(strings.TrimSpace(*p.Time)) {
			errs["time"] = "Time must match HH:MM format (24h) with optional AM/PM suffix."
		} else {
			out.Time, out.SetTime = strings.TrimSpace(*p.Time), true
		}
	}
	if !partial || p.Venue != nil {
		if p.Venue == nil || strings.TrimSpace(*p.Venue) == "" {
			errs["venue"] = "Venue is required."
		} else {
			out.Venue, out.SetVenue = strings.TrimSpace(*p.Venue), true
		}
	}
	if !partial || p.TicketPrice != nil {
		if p.TicketPrice == nil || *p.TicketPrice < 0 {
			errs["ticketPrice"] = "Ticket price must be a non-negative number."
		} else {
			out.TicketPrice, out.SetTicketPrice = *p.TicketPrice, true
		}
	}
	if !partial || p.Capacity != nil {
		switch {
		case p.Capacity == nil || *p.Capacity < 1:
			errs["capacity"] = "Capacity must be a positive integer."
		case *p.Capacity > math.MaxUint32:
			errs["capacity"] = "Capacity is too large."
		default:
			out.Capacity, out.SetCapacity = uint32(*p.Capacity), true
		}
	}
	if p.Description != nil {
		out.Description, out.SetDescription = strings.TrimSpace(*p.Description), true
	}
	if p.Image != nil {
		out.Image, out.SetImage = strings.TrimSpace(*p.Image), true
	}
	if p.Status != nil {
		if !ValidEventStatus(*p.Status) {
			errs["status"] = "Status must be one of: draft, active, cancelled, archived."
		} else {
			out.Status, out.SetStatus = EventStatus(*p.Status), true
		}
	}
	return out, errs
}

// parseDate accepts RFC3339 timestamps or plain YYYY-MM-DD dates.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
