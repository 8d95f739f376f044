// Package booking implements the admission controller: the decision
// procedure that admits or rejects booking requests against event
// capacity and named-seat exclusivity.  All rejections are typed and
// side-effect free so callers can map them to transport responses.
package booking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adavenue/ticketing/internal/model"
)

var (
	// ErrEventNotFound is returned when the requested event does not exist.
	ErrEventNotFound = errors.New("event not found")
	// ErrEventNotBookable is returned when the event exists but its
	// lifecycle status (cancelled, archived) forbids new bookings.
	ErrEventNotBookable = errors.New("event not bookable")
	// ErrUserNotFound is returned when the requesting identity does not
	// resolve to an existing user account.
	ErrUserNotFound = errors.New("user not found")
	// ErrBookingNotFound is returned when a booking lookup misses.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrForbidden is returned when a caller operates on a booking they
	// do not own without the admin role.
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyCancelled is returned when cancelling a booking twice.
	ErrAlreadyCancelled = errors.New("booking already cancelled")
	// ErrEventHasBookings is returned when deleting an event that still
	// has non-cancelled bookings.
	ErrEventHasBookings = errors.New("event has active bookings")
	// ErrLedgerUnavailable is returned when the ledger could not complete
	// the transaction within its deadline.  Callers may retry with backoff;
	// the controller itself never retries.
	ErrLedgerUnavailable = errors.New("booking ledger unavailable")
)

// ValidationError carries per-field problems with a booking or event
// payload.  It maps directly onto the `errors` object of the JSON
// rejection envelope.
type ValidationError struct {
	Fields model.FieldErrors
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		parts = append(parts, f)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// SeatConflictError reports the requested seat labels that are already
// held by another non-cancelled booking for the same event.
type SeatConflictError struct {
	Seats []string
}

func (e *SeatConflictError) Error() string {
	return "seats already taken: " + strings.Join(e.Seats, ", ")
}

// CapacityError reports an admission rejected because the requested
// quantity exceeds what is left of the event's capacity.
type CapacityError struct {
	Remaining uint32
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("only %d ticket(s) remaining", e.Remaining)
}

// CapacityFloorError reports a capacity update rejected because the new
// capacity would fall below the quantity already booked.
type CapacityFloorError struct {
	Booked uint32
}

func (e *CapacityFloorError) Error() string {
	return fmt.Sprintf("capacity cannot drop below %d booked ticket(s)", e.Booked)
}
