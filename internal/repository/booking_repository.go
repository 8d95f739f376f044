package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/adavenue/ticketing/internal/booking"
	"github.com/adavenue/ticketing/internal/model"
)

// BookingRepo is the MySQL booking ledger.  The critical admission
// sequence (aggregate read, conflict/capacity checks, commit) runs inside
// WithEventTx, which locks the event row so the whole section is
// serialized per event; a unique index on (event_id, seat_label, active)
// additionally rejects double-booked seats at commit time should the
// pre-check ever be bypassed.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// WithEventTx runs fn inside a transaction holding a row lock on the
// event, forming the per-event critical section of the admission
// algorithm.  Transactions for different events do not block each other.
// fn's ctx carries the transaction; any repository call made with it
// joins the same transaction.  It returns booking.ErrEventNotFound when
// the event does not exist, and rolls back on any error from fn.
func (r *BookingRepo) WithEventTx(ctx context.Context, eventID uint64, fn func(ctx context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var locked uint64
	err = tx.QueryRowContext(ctx, `SELECT id FROM events WHERE id = ? FOR UPDATE`, eventID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.ErrEventNotFound
	}
	if err != nil {
		return err
	}

	if err := fn(withTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// AggregateActive recomputes the derived per-event state from all
// non-cancelled bookings: total booked quantity and the set of taken seat
// labels.  It is never cached; every admission attempt reads it fresh.
func (r *BookingRepo) AggregateActive(ctx context.Context, eventID uint64) (booking.Aggregate, error) {
	q := pick(ctx, r.db)
	agg := booking.Aggregate{TakenSeats: make(map[string]struct{})}

	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM bookings WHERE event_id = ? AND status <> 'cancelled'`,
		eventID).Scan(&agg.BookedQuantity)
	if err != nil {
		return booking.Aggregate{}, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT seat_label FROM booking_seats WHERE event_id = ? AND active = 1`, eventID)
	if err != nil {
		return booking.Aggregate{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return booking.Aggregate{}, err
		}
		agg.TakenSeats[label] = struct{}{}
	}
	return agg, rows.Err()
}

// Create commits a booking and its seat rows.  The generated ID and
// timestamps are populated on b.  A duplicate-seat violation of the
// uq_event_seat_active index is reported as a SeatConflictError; under
// WithEventTx the pre-check makes this unreachable, but the constraint
// still rejects double-booked seats from any future caller.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	q := pick(ctx, r.db)

	res, err := q.ExecContext(ctx,
		`INSERT INTO bookings (event_id, user_id, quantity, price_per_seat, total_price,
		                       payment_method, payment_status, status, user_name, user_email, notes, booked_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.EventID, b.UserID, b.Quantity, b.PricePerSeat, b.TotalPrice,
		b.PaymentMethod, b.PaymentStatus, b.Status, nullIfEmpty(b.UserName),
		nullIfEmpty(b.UserEmail), nullIfEmpty(b.Notes), b.BookedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)

	if len(b.Seats) > 0 {
		query := `INSERT INTO booking_seats (booking_id, event_id, seat_label, active) VALUES `
		args := make([]any, 0, len(b.Seats)*3)
		for i, seat := range b.Seats {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, 1)"
			args = append(args, b.ID, b.EventID, seat)
		}
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			if isDuplicate(err) {
				return &booking.SeatConflictError{Seats: b.Seats}
			}
			return err
		}
	}

	// Query back timestamps set by the database.
	return q.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM bookings WHERE id = ?`, b.ID).
		Scan(&b.CreatedAt, &b.UpdatedAt)
}

// Cancel marks a booking cancelled and releases its seat labels by
// clearing the active flag, which removes them from the unique index so
// they can be booked again.
func (r *BookingRepo) Cancel(ctx context.Context, bookingID uint64) error {
	q := pick(ctx, r.db)
	if _, err := q.ExecContext(ctx,
		`UPDATE bookings SET status = 'cancelled' WHERE id = ?`, bookingID); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx,
		`UPDATE booking_seats SET active = NULL WHERE booking_id = ?`, bookingID)
	return err
}

const bookingColumns = `id, event_id, user_id, quantity, price_per_seat, total_price,
       payment_method, payment_status, status, user_name, user_email, notes, booked_at, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (model.Booking, error) {
	var (
		b         model.Booking
		userName  sql.NullString
		userEmail sql.NullString
		notes     sql.NullString
	)
	err := row.Scan(&b.ID, &b.EventID, &b.UserID, &b.Quantity, &b.PricePerSeat,
		&b.TotalPrice, &b.PaymentMethod, &b.PaymentStatus, &b.Status,
		&userName, &userEmail, &notes, &b.BookedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return model.Booking{}, err
	}
	b.UserName = userName.String
	b.UserEmail = userEmail.String
	b.Notes = notes.String
	b.Seats = []string{}
	return b, nil
}

// GetByID fetches one booking with its seat labels.  Cancelled bookings
// keep their historical labels.  Returns booking.ErrBookingNotFound for
// unknown IDs.
func (r *BookingRepo) GetByID(ctx context.Context, bookingID uint64) (model.Booking, error) {
	q := pick(ctx, r.db)
	row := q.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, bookingID)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Booking{}, booking.ErrBookingNotFound
	}
	if err != nil {
		return model.Booking{}, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT seat_label FROM booking_seats WHERE booking_id = ? ORDER BY id`, bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return model.Booking{}, err
		}
		b.Seats = append(b.Seats, label)
	}
	return b, rows.Err()
}

// ListByUser returns all bookings created by the given user, newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	return r.list(ctx, `WHERE user_id = ?`, userID)
}

// ListAll returns every booking in the ledger, newest first.
func (r *BookingRepo) ListAll(ctx context.Context) ([]model.Booking, error) {
	return r.list(ctx, ``)
}

func (r *BookingRepo) list(ctx context.Context, where string, args ...any) ([]model.Booking, error) {
	q := pick(ctx, r.db)
	query := `SELECT ` + bookingColumns + ` FROM bookings ` + where + ` ORDER BY created_at DESC, id DESC`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]model.Booking, 0)
	index := make(map[uint64]int)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		index[b.ID] = len(bookings)
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return bookings, nil
	}

	// Attach seat labels for all bookings in one query.
	ids := make([]any, 0, len(bookings))
	placeholders := make([]string, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
		placeholders = append(placeholders, "?")
	}
	seatQuery := `SELECT booking_id, seat_label FROM booking_seats
	              WHERE booking_id IN (` + strings.Join(placeholders, ",") + `)
	              ORDER BY booking_id, id`
	srows, err := q.QueryContext(ctx, seatQuery, ids...)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var bid uint64
		var label string
		if err := srows.Scan(&bid, &label); err != nil {
			return nil, err
		}
		if i, ok := index[bid]; ok {
			bookings[i].Seats = append(bookings[i].Seats, label)
		}
	}
	return bookings, srows.Err()
}
