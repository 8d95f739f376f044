package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adavenue/ticketing/internal/model"
)

// fakeStore is an in-memory Catalog, Ledger and Directory.  WithEventTx
// serializes callbacks per event with a mutex, mirroring the row lock the
// MySQL ledger takes, so the admission algorithm is exercised under real
// goroutine interleavings.
type fakeStore struct {
	mu       sync.Mutex
	eventMu  sync.Map // eventID -> *sync.Mutex
	events   map[uint64]model.Event
	users    map[uint64]model.User
	bookings map[uint64]model.Booking
	nextID   uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:   make(map[uint64]model.Event),
		users:    make(map[uint64]model.User),
		bookings: make(map[uint64]model.Booking),
	}
}

func (f *fakeStore) addEvent(e model.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[e.ID] = e
}

func (f *fakeStore) addUser(u model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

func (f *fakeStore) Get(ctx context.Context, eventID uint64) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	if !ok {
		return model.Event{}, ErrEventNotFound
	}
	return e, nil
}

func (f *fakeStore) Update(ctx context.Context, eventID uint64, c model.EventChanges) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	if !ok {
		return model.Event{}, ErrEventNotFound
	}
	if c.SetName {
		e.Name = c.Name
	}
	if c.SetCapacity {
		e.Capacity = c.Capacity
	}
	if c.SetTicketPrice {
		e.TicketPrice = c.TicketPrice
	}
	if c.SetStatus {
		e.Status = c.Status
	}
	f.events[eventID] = e
	return e, nil
}

func (f *fakeStore) Lookup(ctx context.Context, userID uint64) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || !u.IsActive {
		return model.User{}, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeStore) WithEventTx(ctx context.Context, eventID uint64, fn func(ctx context.Context) error) error {
	if _, err := f.Get(ctx, eventID); err != nil {
		return err
	}
	muAny, _ := f.eventMu.LoadOrStore(eventID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

func (f *fakeStore) AggregateActive(ctx context.Context, eventID uint64) (Aggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agg := Aggregate{TakenSeats: make(map[string]struct{})}
	for _, b := range f.bookings {
		if b.EventID != eventID || b.Status == model.BookingCancelled {
			continue
		}
		agg.BookedQuantity += b.Quantity
		for _, s := range b.Seats {
			agg.TakenSeats[s] = struct{}{}
		}
	}
	return agg, nil
}

func (f *fakeStore) Create(ctx context.Context, b *model.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	b.ID = f.nextID
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	f.bookings[b.ID] = *b
	return nil
}

func (f *fakeStore) Cancel(ctx context.Context, bookingID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok {
		return ErrBookingNotFound
	}
	b.Status = model.BookingCancelled
	f.bookings[bookingID] = b
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, bookingID uint64) (model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok {
		return model.Booking{}, ErrBookingNotFound
	}
	return b, nil
}

func (f *fakeStore) ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Booking
	for _, b := range f.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAll(ctx context.Context) ([]model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Booking
	for _, b := range f.bookings {
		out = append(out, b)
	}
	return out, nil
}

func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	store.addUser(model.User{ID: 1, Name: "Ada", Email: "ada@example.com", Role: model.RoleUser, IsActive: true})
	store.addUser(model.User{ID: 2, Name: "Grace", Email: "grace@example.com", Role: model.RoleUser, IsActive: true})
	store.addUser(model.User{ID: 9, Name: "Root", Email: "root@example.com", Role: model.RoleAdmin, IsActive: true})
	return NewService(store, store, store, time.Second), store
}

func qty(n int64) *int64 { return &n }

func TestRequestBookingPricesFromCatalog(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Name: "Arena Night", Status: model.EventStatusActive, TicketPrice: 120, Capacity: 100})

	conf, err := svc.RequestBooking(context.Background(), 1, model.BookingPayload{
		EventID: 10, Quantity: qty(5),
	})
	require.NoError(t, err)
	assert.Equal(t, 120.0, conf.Booking.PricePerSeat)
	assert.Equal(t, 600.0, conf.Booking.TotalPrice)
	assert.Equal(t, uint32(95), conf.TicketsRemaining)
	assert.Equal(t, model.BookingConfirmed, conf.Booking.Status)
	assert.Equal(t, model.PaymentStatusPaid, conf.Booking.PaymentStatus)
}

func TestRequestBookingSeatsImplyQuantity(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, TicketPrice: 50, Capacity: 10})

	conf, err := svc.RequestBooking(context.Background(), 1, model.BookingPayload{
		EventID: 10, Seats: []string{"A1", "A2", "A3"},
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), conf.Booking.Quantity)
	assert.Equal(t, []string{"A1", "A2", "A3"}, conf.Booking.Seats)
	assert.Equal(t, 150.0, conf.Booking.TotalPrice)
}

func TestRequestBookingValidation(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, Capacity: 10})

	cases := []struct {
		name    string
		payload model.BookingPayload
		field   string
	}{
		{"missing event", model.BookingPayload{Quantity: qty(1)}, "eventId"},
		{"no seats no quantity", model.BookingPayload{EventID: 10}, "quantity"},
		{"zero quantity", model.BookingPayload{EventID: 10, Quantity: qty(0)}, "quantity"},
		{"negative quantity", model.BookingPayload{EventID: 10, Quantity: qty(-2)}, "quantity"},
		{"quantity seat mismatch", model.BookingPayload{EventID: 10, Seats: []string{"A1", "A2"}, Quantity: qty(3)}, "quantity"},
		{"quantity beyond uint32", model.BookingPayload{EventID: 10, Quantity: qty(1 << 32)}, "quantity"},
		{"duplicate seats", model.BookingPayload{EventID: 10, Seats: []string{"A1", "A1"}}, "seats"},
		{"blank seat", model.BookingPayload{EventID: 10, Seats: []string{"A1", "  "}}, "seats"},
		{"bad payment method", model.BookingPayload{EventID: 10, Quantity: qty(1), PaymentMethod: "iou"}, "paymentMethod"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RequestBooking(context.Background(), 1, tc.payload)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}

	// Nothing was admitted along the way.
	agg, err := store.AggregateActive(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, agg.BookedQuantity)
}

func TestRequestBookingUnknownEventAndUser(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, Capacity: 10})

	_, err := svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 404, Quantity: qty(1)})
	assert.ErrorIs(t, err, ErrEventNotFound)

	_, err = svc.RequestBooking(context.Background(), 404, model.BookingPayload{EventID: 10, Quantity: qty(1)})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRequestBookingEventNotBookable(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 20, Status: model.EventStatusCancelled, Capacity: 10})
	store.addEvent(model.Event{ID: 21, Status: model.EventStatusArchived, Capacity: 10})
	store.addEvent(model.Event{ID: 22, Status: model.EventStatusDraft, Capacity: 10})

	_, err := svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 20, Quantity: qty(1)})
	assert.ErrorIs(t, err, ErrEventNotBookable)

	_, err = svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 21, Quantity: qty(1)})
	assert.ErrorIs(t, err, ErrEventNotBookable)

	// Draft events stay open so organizers can trial their setup.
	_, err = svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 22, Quantity: qty(1)})
	assert.NoError(t, err)
}

func TestRequestBookingCapacityExceeded(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, TicketPrice: 10, Capacity: 5})

	_, err := svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 10, Quantity: qty(3)})
	require.NoError(t, err)

	_, err = svc.RequestBooking(context.Background(), 2, model.BookingPayload{EventID: 10, Quantity: qty(3)})
	var caperr *CapacityError
	require.ErrorAs(t, err, &caperr)
	assert.Equal(t, uint32(2), caperr.Remaining)

	// The rejection wrote nothing.
	agg, err := store.AggregateActive(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), agg.BookedQuantity)
}

func TestCapacityCheckNearMaxCounts(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, TicketPrice: 1, Capacity: 4_000_000_000})
	require.NoError(t, store.Create(context.Background(), &model.Booking{
		EventID: 10, UserID: 2, Quantity: 3_000_000_000, Status: model.BookingConfirmed,
	}))

	// 3e9 + 2e9 wraps below 4e9 in uint32 arithmetic; the check must
	// still reject it.
	_, err := svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 10, Quantity: qty(2_000_000_000)})
	var caperr *CapacityError
	require.ErrorAs(t, err, &caperr)
	assert.Equal(t, uint32(1_000_000_000), caperr.Remaining)

	agg, err := store.AggregateActive(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, uint32(3_000_000_000), agg.BookedQuantity)

	// A request that exactly fills the event is still admitted.
	conf, err := svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 10, Quantity: qty(1_000_000_000)})
	require.NoError(t, err)
	assert.Zero(t, conf.TicketsRemaining)
}

func TestRequestBookingSeatConflict(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, TicketPrice: 10, Capacity: 50})

	_, err := svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 10, Seats: []string{"A1", "A2"}})
	require.NoError(t, err)

	_, err = svc.RequestBooking(context.Background(), 2, model.BookingPayload{EventID: 10, Seats: []string{"A2", "A3", "A1"}})
	var scerr *SeatConflictError
	require.ErrorAs(t, err, &scerr)
	assert.Equal(t, []string{"A1", "A2"}, scerr.Seats)

	// A3 was not admitted as part of the rejected request.
	agg, err := store.AggregateActive(context.Background(), 10)
	require.NoError(t, err)
	_, taken := agg.TakenSeats["A3"]
	assert.False(t, taken)
	assert.Equal(t, uint32(2), agg.BookedQuantity)
}

func TestConcurrentBookingsNeverOversell(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, TicketPrice: 10, Capacity: 10})

	const attempts = 40
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 10, Quantity: qty(1)})
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var caperr *CapacityError
		require.ErrorAs(t, err, &caperr)
		rejected++
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, attempts-10, rejected)

	agg, err := store.AggregateActive(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), agg.BookedQuantity)
}

func TestLastTicketGoesToExactlyOne(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, TicketPrice: 10, Capacity: 1})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestBooking(context.Background(), uint64(i+1), model.BookingPayload{EventID: 10, Quantity: qty(1)})
		}(i)
	}
	wg.Wait()

	if errs[0] == nil {
		var caperr *CapacityError
		require.ErrorAs(t, errs[1], &caperr)
		assert.Zero(t, caperr.Remaining)
	} else {
		require.NoError(t, errs[1])
		var caperr *CapacityError
		require.ErrorAs(t, errs[0], &caperr)
		assert.Zero(t, caperr.Remaining)
	}
}

func TestConcurrentSeatRequestsAdmitOne(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, TicketPrice: 10, Capacity: 50})

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 10, Seats: []string{"A1"}})
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var scerr *SeatConflictError
		require.ErrorAs(t, err, &scerr)
		assert.Equal(t, []string{"A1"}, scerr.Seats)
	}
	assert.Equal(t, 1, ok)
}

func TestConcurrentBookingsAcrossEvents(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 1, Status: model.EventStatusActive, TicketPrice: 10, Capacity: 5})
	store.addEvent(model.Event{ID: 2, Status: model.EventStatusActive, TicketPrice: 10, Capacity: 5})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			eventID := uint64(1 + i%2)
			_, _ = svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: eventID, Quantity: qty(1)})
		}(i)
	}
	wg.Wait()

	for _, id := range []uint64{1, 2} {
		agg, err := store.AggregateActive(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, uint32(5), agg.BookedQuantity, "event %d", id)
	}
}

func TestCancelBookingFreesSeatsAndCapacity(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, TicketPrice: 10, Capacity: 2})

	conf, err := svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 10, Seats: []string{"A1", "A2"}})
	require.NoError(t, err)

	// Sold out and both seats taken.
	_, err = svc.RequestBooking(context.Background(), 2, model.BookingPayload{EventID: 10, Seats: []string{"A1"}})
	require.Error(t, err)

	require.NoError(t, svc.CancelBooking(context.Background(), 1, model.RoleUser, conf.Booking.ID))

	// Capacity and the exact labels are available again.
	conf2, err := svc.RequestBooking(context.Background(), 2, model.BookingPayload{EventID: 10, Seats: []string{"A1", "A2"}})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), conf2.TicketsRemaining)
}

func TestCancelBookingAuthorization(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, TicketPrice: 10, Capacity: 5})

	conf, err := svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 10, Quantity: qty(1)})
	require.NoError(t, err)

	err = svc.CancelBooking(context.Background(), 2, model.RoleUser, conf.Booking.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// Admins may cancel anyone's booking.
	require.NoError(t, svc.CancelBooking(context.Background(), 9, model.RoleAdmin, conf.Booking.ID))

	err = svc.CancelBooking(context.Background(), 1, model.RoleUser, conf.Booking.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	err = svc.CancelBooking(context.Background(), 1, model.RoleUser, 404)
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestGetBookingVisibility(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, TicketPrice: 10, Capacity: 5})

	conf, err := svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 10, Quantity: qty(2)})
	require.NoError(t, err)

	got, err := svc.GetBooking(context.Background(), 1, model.RoleUser, conf.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, conf.Booking.ID, got.Booking.ID)
	assert.Equal(t, uint32(3), got.TicketsRemaining)

	_, err = svc.GetBooking(context.Background(), 2, model.RoleUser, conf.Booking.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.GetBooking(context.Background(), 9, model.RoleAdmin, conf.Booking.ID)
	assert.NoError(t, err)
}

func TestListBookingsScopesByRole(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, TicketPrice: 10, Capacity: 10})

	_, err := svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 10, Quantity: qty(1)})
	require.NoError(t, err)
	_, err = svc.RequestBooking(context.Background(), 2, model.BookingPayload{EventID: 10, Quantity: qty(1)})
	require.NoError(t, err)

	mine, err := svc.ListBookings(context.Background(), 1, model.RoleUser)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := svc.ListBookings(context.Background(), 9, model.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateEventCapacityFloor(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, TicketPrice: 10, Capacity: 10})

	_, err := svc.RequestBooking(context.Background(), 1, model.BookingPayload{EventID: 10, Quantity: qty(5)})
	require.NoError(t, err)

	_, err = svc.UpdateEvent(context.Background(), 10, model.EventChanges{Capacity: 3, SetCapacity: true})
	var fperr *CapacityFloorError
	require.ErrorAs(t, err, &fperr)
	assert.Equal(t, uint32(5), fperr.Booked)

	// Down to exactly the booked quantity is allowed.
	updated, err := svc.UpdateEvent(context.Background(), 10, model.EventChanges{Capacity: 5, SetCapacity: true})
	require.NoError(t, err)
	assert.Equal(t, uint32(5), updated.Capacity)

	// The event is now sold out.
	_, err = svc.RequestBooking(context.Background(), 2, model.BookingPayload{EventID: 10, Quantity: qty(1)})
	var caperr *CapacityError
	require.ErrorAs(t, err, &caperr)
	assert.Zero(t, caperr.Remaining)
}

func TestLedgerTimeoutMapsToUnavailable(t *testing.T) {
	svc, store := newTestService(t)
	store.addEvent(model.Event{ID: 10, Status: model.EventStatusActive, TicketPrice: 10, Capacity: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.RequestBooking(ctx, 1, model.BookingPayload{EventID: 10, Quantity: qty(1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrLedgerUnavailable))
}
