package booking

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/adavenue/ticketing/internal/model"
)

// Aggregate is the derived per-event summary of all non-cancelled
// bookings: the total quantity admitted and the union of their seat
// labels.  It is recomputed inside every admission transaction and never
// cached across requests.
type Aggregate struct {
	BookedQuantity uint32
	TakenSeats     map[string]struct{}
}

// Catalog is the event catalog collaborator.  Implementations must honor
// a ledger transaction carried in ctx so reads performed inside
// Ledger.WithEventTx observe the locked row.
type Catalog interface {
	Get(ctx context.Context, eventID uint64) (model.Event, error)
	Update(ctx context.Context, eventID uint64, changes model.EventChanges) (model.Event, error)
}

// Ledger is the durable booking store.  WithEventTx runs fn inside one
// atomic critical section scoped to eventID: transactions for different
// events must never block each other, while two sections for the same
// event are serialized.  All other methods participate in a transaction
// when their ctx descends from a WithEventTx callback.
type Ledger interface {
	WithEventTx(ctx context.Context, eventID uint64, fn func(ctx context.Context) error) error
	AggregateActive(ctx context.Context, eventID uint64) (Aggregate, error)
	Create(ctx context.Context, b *model.Booking) error
	Cancel(ctx context.Context, bookingID uint64) error
	GetByID(ctx context.Context, bookingID uint64) (model.Booking, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error)
	ListAll(ctx context.Context) ([]model.Booking, error)
}

// Directory resolves authenticated user IDs to accounts.
type Directory interface {
	Lookup(ctx context.Context, userID uint64) (model.User, error)
}

// Confirmation is the successful admission result: the committed booking,
// the event it admitted into and a freshly computed remaining-capacity
// snapshot.
type Confirmation struct {
	Booking          model.Booking
	Event            model.Event
	TicketsRemaining uint32
}

// Service is the admission controller.  It owns no persistent state; it
// is a decision function over snapshots read transactionally from its
// collaborators.
type Service struct {
	catalog   Catalog
	ledger    Ledger
	users     Directory
	txTimeout time.Duration
	now       func() time.Time
}

// NewService constructs the admission controller.  txTimeout bounds the
// ledger critical section; zero falls back to five seconds.
func NewService(catalog Catalog, ledger Ledger, users Directory, txTimeout time.Duration) *Service {
	if catalog == nil || ledger == nil || users == nil {
		panic("nil collaborator passed to booking.NewService")
	}
	if txTimeout <= 0 {
		txTimeout = 5 * time.Second
	}
	return &Service{
		catalog:   catalog,
		ledger:    ledger,
		users:     users,
		txTimeout: txTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RequestBooking validates a booking payload and, when admissible,
// commits exactly one confirmed booking.  The aggregate read, the
// conflict and capacity checks and the commit run as one atomic unit per
// event, so concurrent requests for the same event can never oversell
// capacity or double-book a seat.  Every rejection is typed and leaves
// the ledger untouched.
func (s *Service) RequestBooking(ctx context.Context, userID uint64, payload model.BookingPayload) (Confirmation, error) {
	req, ferrs := model.ValidateBookingPayload(payload)
	if len(ferrs) > 0 {
		return Confirmation{}, &ValidationError{Fields: ferrs}
	}

	user, err := s.users.Lookup(ctx, userID)
	if err != nil {
		return Confirmation{}, ErrUserNotFound
	}

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var conf Confirmation
	err = s.ledger.WithEventTx(txCtx, req.EventID, func(ctx context.Context) error {
		event, err := s.catalog.Get(ctx, req.EventID)
		if err != nil {
			return err
		}
		if !event.IsBookable() {
			return ErrEventNotBookable
		}

		agg, err := s.ledger.AggregateActive(ctx, req.EventID)
		if err != nil {
			return err
		}

		if len(req.Seats) > 0 {
			var conflicts []string
			for _, seat := range req.Seats {
				if _, taken := agg.TakenSeats[seat]; taken {
					conflicts = append(conflicts, seat)
				}
			}
			if len(conflicts) > 0 {
				sort.Strings(conflicts)
				return &SeatConflictError{Seats: conflicts}
			}
		}

		// The comparison runs in uint64; a uint32 sum can wrap for
		// near-max counts and admit an overselling request.
		total := uint64(agg.BookedQuantity) + uint64(req.Quantity)
		if total > uint64(event.Capacity) {
			remaining := uint32(0)
			if event.Capacity > agg.BookedQuantity {
				remaining = event.Capacity - agg.BookedQuantity
			}
			return &CapacityError{Remaining: remaining}
		}

		// Price is a catalog fact; the client-supplied payload never
		// carries one.
		now := s.now()
		b := model.Booking{
			EventID:       req.EventID,
			UserID:        userID,
			Seats:         req.Seats,
			Quantity:      req.Quantity,
			PricePerSeat:  event.TicketPrice,
			TotalPrice:    event.TicketPrice * float64(req.Quantity),
			PaymentMethod: req.PaymentMethod,
			PaymentStatus: model.PaymentStatusPaid,
			Status:        model.BookingConfirmed,
			UserName:      user.Name,
			UserEmail:     user.Email,
			Notes:         req.Notes,
			BookedAt:      now,
		}
		if err := s.ledger.Create(ctx, &b); err != nil {
			return err
		}
		conf = Confirmation{
			Booking:          b,
			Event:            event,
			TicketsRemaining: event.Capacity - uint32(total),
		}
		return nil
	})
	if err != nil {
		return Confirmation{}, mapLedgerErr(err)
	}
	return conf, nil
}

// CancelBooking transitions a confirmed booking to cancelled, freeing
// its seats and quantity for future admission checks.  Only the booking
// owner or an admin may cancel.
func (s *Service) CancelBooking(ctx context.Context, userID uint64, role string, bookingID uint64) error {
	b, err := s.ledger.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.UserID != userID && role != model.RoleAdmin {
		return ErrForbidden
	}

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	err = s.ledger.WithEventTx(txCtx, b.EventID, func(ctx context.Context) error {
		// Re-read under the event lock; the status may have changed since
		// the unlocked read above.
		cur, err := s.ledger.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if cur.Status == model.BookingCancelled {
			return ErrAlreadyCancelled
		}
		return s.ledger.Cancel(ctx, bookingID)
	})
	return mapLedgerErr(err)
}

// GetBooking returns a single booking visible to the caller, along with
// the event's current remaining capacity.
func (s *Service) GetBooking(ctx context.Context, userID uint64, role string, bookingID uint64) (Confirmation, error) {
	b, err := s.ledger.GetByID(ctx, bookingID)
	if err != nil {
		return Confirmation{}, err
	}
	if b.UserID != userID && role != model.RoleAdmin {
		return Confirmation{}, ErrForbidden
	}
	event, err := s.catalog.Get(ctx, b.EventID)
	if err != nil {
		return Confirmation{}, err
	}
	agg, err := s.ledger.AggregateActive(ctx, b.EventID)
	if err != nil {
		return Confirmation{}, err
	}
	remaining := uint32(0)
	if event.Capacity > agg.BookedQuantity {
		remaining = event.Capacity - agg.BookedQuantity
	}
	return Confirmation{Booking: b, Event: event, TicketsRemaining: remaining}, nil
}

// ListBookings returns the caller's bookings, or every booking when the
// caller is an admin, newest first.
func (s *Service) ListBookings(ctx context.Context, userID uint64, role string) ([]model.Booking, error) {
	if role == model.RoleAdmin {
		return s.ledger.ListAll(ctx)
	}
	return s.ledger.ListByUser(ctx, userID)
}

// UpdateEvent applies validated catalog changes inside the same
// per-event critical section used for admission, so a capacity decrease
// can never race with an in-flight booking.  A decrease below the booked
// quantity is rejected with CapacityFloorError.
func (s *Service) UpdateEvent(ctx context.Context, eventID uint64, changes model.EventChanges) (model.Event, error) {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var updated model.Event
	err := s.ledger.WithEventTx(txCtx, eventID, func(ctx context.Context) error {
		if _, err := s.catalog.Get(ctx, eventID); err != nil {
			return err
		}
		if changes.SetCapacity {
			agg, err := s.ledger.AggregateActive(ctx, eventID)
			if err != nil {
				return err
			}
			if changes.Capacity < agg.BookedQuantity {
				return &CapacityFloorError{Booked: agg.BookedQuantity}
			}
		}
		var err error
		updated, err = s.catalog.Update(ctx, eventID, changes)
		return err
	})
	if err != nil {
		return model.Event{}, mapLedgerErr(err)
	}
	return updated, nil
}

// Availability reports (booked, remaining) for an event from the current
// committed ledger state.
func (s *Service) Availability(ctx context.Context, event model.Event) (uint32, uint32, error) {
	agg, err := s.ledger.AggregateActive(ctx, event.ID)
	if err != nil {
		return 0, 0, err
	}
	remaining := uint32(0)
	if event.Capacity > agg.BookedQuantity {
		remaining = event.Capacity - agg.BookedQuantity
	}
	return agg.BookedQuantity, remaining, nil
}

// mapLedgerErr converts transaction deadline expiry into the retryable
// ErrLedgerUnavailable while passing domain rejections through.
func mapLedgerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrLedgerUnavailable
	}
	return err
}
