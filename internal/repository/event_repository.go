package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/adavenue/ticketing/internal/booking"
	"github.com/adavenue/ticketing/internal/model"
)

// EventRepo provides persistence for the event catalog.  Reads honor a
// ledger transaction carried in ctx, so a Get performed inside
// BookingRepo.WithEventTx observes the row locked by that transaction.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns an EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = `id, name, type, category, date, time, venue, ticket_price,
       capacity, description, image, status, created_by, updated_by, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (model.Event, error) {
	var (
		e           model.Event
		description sql.NullString
		image       sql.NullString
		createdBy   sql.NullInt64
		updatedBy   sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.Name, &e.Type, &e.Category, &e.Date, &e.Time, &e.Venue,
		&e.TicketPrice, &e.Capacity, &description, &image, &e.Status,
		&createdBy, &updatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return model.Event{}, err
	}
	e.Description = description.String
	e.Image = image.String
	if createdBy.Valid {
		v := uint64(createdBy.Int64)
		e.CreatedBy = &v
	}
	if updatedBy.Valid {
		v := uint64(updatedBy.Int64)
		e.UpdatedBy = &v
	}
	return e, nil
}

// Get fetches a single event by ID.  It returns booking.ErrEventNotFound
// when no such event exists.
func (r *EventRepo) Get(ctx context.Context, eventID uint64) (model.Event, error) {
	row := pick(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, booking.ErrEventNotFound
	}
	return e, err
}

// EventFilter narrows List results.  Zero values mean "no constraint".
// Archived events are excluded unless Status requests them explicitly,
// matching the public catalog behaviour.
type EventFilter struct {
	Type     string
	Category string
	Status   string
	Search   string
	From     time.Time
	To       time.Time
}

// List returns events matching the filter ordered by date and time.
func (r *EventRepo) List(ctx context.Context, f EventFilter) ([]model.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" && model.ValidEventType(f.Type) {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Category != "" {
		where = append(where, "category LIKE ?")
		args = append(args, "%"+f.Category+"%")
	}
	if f.Status != "" && model.ValidEventStatus(f.Status) {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	} else {
		where = append(where, "status <> ?")
		args = append(args, string(model.EventStatusArchived))
	}
	if f.Search != "" {
		where = append(where, "(name LIKE ? OR venue LIKE ? OR category LIKE ?)")
		kw := "%" + f.Search + "%"
		args = append(args, kw, kw, kw)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.To)
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, time"

	rows, err := pick(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Create inserts a new event and returns it with generated fields
// populated.
func (r *EventRepo) Create(ctx context.Context, c model.EventChanges, createdBy uint64) (model.Event, error) {
	status := model.EventStatusActive
	if c.SetStatus {
		status = c.Status
	}
	res, err := pick(ctx, r.db).ExecContext(ctx,
		`INSERT INTO events (name, type, category, date, time, venue, ticket_price,
		                     capacity, description, image, status, created_by)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.Name, c.Type, c.Category, c.Date, c.Time, c.Venue, c.TicketPrice,
		c.Capacity, nullIfEmpty(c.Description), nullIfEmpty(c.Image), status, createdBy)
	if err != nil {
		return model.Event{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Event{}, err
	}
	return r.Get(ctx, uint64(id))
}

// Update applies the set fields of changes to an existing event.  The
// caller (the admission controller) is responsible for running this
// inside the event's critical section when capacity changes.
func (r *EventRepo) Update(ctx context.Context, eventID uint64, c model.EventChanges) (model.Event, error) {
	var (
		set  []string
		args []any
	)
	add := func(col string, v any) {
		set = append(set, col+" = ?")
		args = append(args, v)
	}
	if c.SetName {
		add("name", c.Name)
	}
	if c.SetType {
		add("type", c.Type)
	}
	if c.SetCategory {
		add("category", c.Category)
	}
	if c.SetDate {
		add("date", c.Date)
	}
	if c.SetTime {
		add("time", c.Time)
	}
	if c.SetVenue {
		add("venue", c.Venue)
	}
	if c.SetTicketPrice {
		add("ticket_price", c.TicketPrice)
	}
	if c.SetCapacity {
		add("capacity", c.Capacity)
	}
	if c.SetDescription {
		add("description", nullIfEmpty(c.Description))
	}
	if c.SetImage {
		add("image", nullIfEmpty(c.Image))
	}
	if c.SetStatus {
		add("status", c.Status)
	}
	if len(set) == 0 {
		return r.Get(ctx, eventID)
	}
	args = append(args, eventID)
	_, err := pick(ctx, r.db).ExecContext(ctx,
		`UPDATE events SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return model.Event{}, err
	}
	return r.Get(ctx, eventID)
}

// SetUpdatedBy records the user that last touched the event.
func (r *EventRepo) SetUpdatedBy(ctx context.Context, eventID, userID uint64) error {
	_, err := pick(ctx, r.db).ExecContext(ctx,
		`UPDATE events SET updated_by = ? WHERE id = ?`, userID, eventID)
	return err
}

// Delete removes an event.  It refuses with booking.ErrEventHasBookings
// while any non-cancelled booking references it, and reports
// booking.ErrEventNotFound for unknown IDs.
func (r *EventRepo) Delete(ctx context.Context, eventID uint64) error {
	q := pick(ctx, r.db)
	var exists uint64
	err := q.QueryRowContext(ctx, `SELECT id FROM events WHERE id = ?`, eventID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.ErrEventNotFound
	}
	if err != nil {
		return err
	}
	var active uint64
	err = q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE event_id = ? AND status <> 'cancelled'`,
		eventID).Scan(&active)
	if err != nil {
		return err
	}
	if active > 0 {
		return booking.ErrEventHasBookings
	}
	_, err = q.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, eventID)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
