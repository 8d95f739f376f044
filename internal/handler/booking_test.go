package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adavenue/ticketing/internal/booking"
	"github.com/adavenue/ticketing/internal/model"
)

// memStore is a minimal in-memory backend for the admission controller,
// enough to drive the HTTP layer in tests.
type memStore struct {
	mu       sync.Mutex
	events   map[uint64]model.Event
	users    map[uint64]model.User
	bookings map[uint64]model.Booking
	nextID   uint64
}

func newMemStore() *memStore {
	return &memStore{
		events:   map[uint64]model.Event{},
		users:    map[uint64]model.User{},
		bookings: map[uint64]model.Booking{},
	}
}

func (m *memStore) Get(ctx context.Context, id uint64) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return model.Event{}, booking.ErrEventNotFound
	}
	return e, nil
}

func (m *memStore) Update(ctx context.Context, id uint64, c model.EventChanges) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.events[id]
	if c.SetCapacity {
		e.Capacity = c.Capacity
	}
	m.events[id] = e
	return e, nil
}

func (m *memStore) Lookup(ctx context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, booking.ErrUserNotFound
	}
	return u, nil
}

func (m *memStore) WithEventTx(ctx context.Context, eventID uint64, fn func(ctx context.Context) error) error {
	if _, err := m.Get(ctx, eventID); err != nil {
		return err
	}
	return fn(ctx)
}

func (m *memStore) AggregateActive(ctx context.Context, eventID uint64) (booking.Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := booking.Aggregate{TakenSeats: map[string]struct{}{}}
	for _, b := range m.bookings {
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

func (m *memStore) Create(ctx context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	b.ID = m.nextID
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	m.bookings[b.ID] = *b
	return nil
}

func (m *memStore) Cancel(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookings[id]
	b.Status = model.BookingCancelled
	m.bookings[id] = b
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id uint64) (model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return model.Booking{}, booking.ErrBookingNotFound
	}
	return b, nil
}

func (m *memStore) ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Booking{}
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) ListAll(ctx context.Context) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Booking{}
	for _, b := range m.bookings {
		out = append(out, b)
	}
	return out, nil
}

func setupBookingHandler(t *testing.T) (*BookingHandler, *memStore) {
	t.Helper()
	store := newMemStore()
	store.users[1] = model.User{ID: 1, Name: "Ada", Email: "ada@example.com", Role: model.RoleUser, IsActive: true}
	store.events[10] = model.Event{ID: 10, Name: "Arena Night", Status: model.EventStatusActive, TicketPrice: 100, Capacity: 5}
	svc := booking.NewService(store, store, store, time.Second)
	return NewBookingHandler(svc), store
}

func doRequest(t *testing.T, h echo.HandlerFunc, method, target, body string, setup func(echo.Context)) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if setup != nil {
		setup(c)
	}
	require.NoError(t, h(c))
	return rec
}

func asUser(id float64, role string) func(echo.Context) {
	return func(c echo.Context) {
		c.Set("user_id", id)
		c.Set("role", role)
	}
}

func TestBookingCreateSuccessEnvelope(t *testing.T) {
	h, _ := setupBookingHandler(t)

	rec := doRequest(t, h.Create, http.MethodPost, "/v1/bookings",
		`{"eventId":10,"seats":["A1","A2"]}`, asUser(1, model.RoleUser))

	assert.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			ID               uint64   `json:"id"`
			Seats            []string `json:"seats"`
			Quantity         uint32   `json:"quantity"`
			TotalPrice       float64  `json:"totalPrice"`
			Status           string   `json:"status"`
			TicketsRemaining uint32   `json:"ticketsRemaining"`
		} `json:"data"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, []string{"A1", "A2"}, body.Data.Seats)
	assert.Equal(t, uint32(2), body.Data.Quantity)
	assert.Equal(t, 200.0, body.Data.TotalPrice)
	assert.Equal(t, "confirmed", body.Data.Status)
	assert.Equal(t, uint32(3), body.Data.TicketsRemaining)
}

func TestBookingCreateValidationEnvelope(t *testing.T) {
	h, _ := setupBookingHandler(t)

	rec := doRequest(t, h.Create, http.MethodPost, "/v1/bookings",
		`{"eventId":10,"quantity":0}`, asUser(1, model.RoleUser))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Success bool              `json:"success"`
		Message string            `json:"message"`
		Errors  map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Contains(t, body.Errors, "quantity")
}

func TestBookingCreateStatusMapping(t *testing.T) {
	h, store := setupBookingHandler(t)

	// Seat already taken.
	store.bookings[99] = model.Booking{ID: 99, EventID: 10, UserID: 2, Seats: []string{"B1"}, Quantity: 1, Status: model.BookingConfirmed}

	cases := []struct {
		name string
		body string
		code int
	}{
		{"unknown event", `{"eventId":404,"quantity":1}`, http.StatusNotFound},
		{"seat conflict", `{"eventId":10,"seats":["B1"]}`, http.StatusConflict},
		{"capacity exceeded", `{"eventId":10,"quantity":5}`, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, h.Create, http.MethodPost, "/v1/bookings", tc.body, asUser(1, model.RoleUser))
			assert.Equal(t, tc.code, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestBookingCreateUnknownUser(t *testing.T) {
	h, _ := setupBookingHandler(t)

	rec := doRequest(t, h.Create, http.MethodPost, "/v1/bookings",
		`{"eventId":10,"quantity":1}`, asUser(777, model.RoleUser))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBookingCancelForbiddenForStranger(t *testing.T) {
	h, store := setupBookingHandler(t)
	store.bookings[5] = model.Booking{ID: 5, EventID: 10, UserID: 2, Quantity: 1, Status: model.BookingConfirmed}

	rec := doRequest(t, h.Cancel, http.MethodDelete, "/v1/bookings/5", "", func(c echo.Context) {
		asUser(1, model.RoleUser)(c)
		c.SetParamNames("id")
		c.SetParamValues("5")
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBookingErrClientCancelled(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	// A request abandoned by the client is not a server fault and must
	// not surface as a 500.
	require.NoError(t, writeBookingErr(c, context.Canceled))
	assert.Equal(t, 499, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestBookingCancelOwner(t *testing.T) {
	h, store := setupBookingHandler(t)
	store.bookings[5] = model.Booking{ID: 5, EventID: 10, UserID: 1, Quantity: 1, Status: model.BookingConfirmed}

	rec := doRequest(t, h.Cancel, http.MethodDelete, "/v1/bookings/5", "", func(c echo.Context) {
		asUser(1, model.RoleUser)(c)
		c.SetParamNames("id")
		c.SetParamValues("5")
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.BookingCancelled, store.bookings[5].Status)
}
