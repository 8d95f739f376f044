package model

import (
	"math"
	"strings"
	"time"
)

// BookingStatus is the lifecycle of a booking.  A booking is created
// confirmed by a successful admission decision and is immutable except
// for the confirmed -> cancelled transition, which frees its seats and
// quantity for future admission checks.
type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// PaymentMethod enumerates the accepted (simulated) payment methods.
type PaymentMethod string

const (
	PaymentCard   PaymentMethod = "card"
	PaymentUPI    PaymentMethod = "upi"
	PaymentWallet PaymentMethod = "wallet"
	PaymentCash   PaymentMethod = "cash"
	PaymentOther  PaymentMethod = "other"
)

// PaymentMethods lists all accepted methods for validation messages.
var PaymentMethods = []PaymentMethod{PaymentCard, PaymentUPI, PaymentWallet, PaymentCash, PaymentOther}

// PaymentStatus reflects the simulated payment flow; every admitted
// booking is recorded as paid.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Booking mirrors the `bookings` table plus its seat labels from
// `booking_seats`.  Seats is empty for general-admission bookings; when
// non-empty its length always equals Quantity.
//
// Fields:
//  ID            – primary key identifier.
//  EventID       – event being booked.
//  UserID        – user that requested the booking.
//  Seats         – seat labels held by this booking (unique per event
//                  across all non-cancelled bookings).
//  Quantity      – number of admissions; positive.
//  PricePerSeat  – catalog ticket price at admission time.
//  TotalPrice    – PricePerSeat * Quantity.
//  PaymentMethod – simulated payment method chosen by the client.
//  PaymentStatus – always "paid" for admitted bookings.
//  Status        – confirmed or cancelled.
//  UserName      – denormalized requester name for listings.
//  UserEmail     – denormalized requester email for listings.
//  Notes         – optional free text supplied by the client.
//  BookedAt      – admission timestamp.
type Booking struct {
	ID            uint64        `json:"id"`
	EventID       uint64        `json:"eventId"`
	UserID        uint64        `json:"userId"`
	Seats         []string      `json:"seats"`
	Quantity      uint32        `json:"quantity"`
	PricePerSeat  float64       `json:"pricePerSeat"`
	TotalPrice    float64       `json:"totalPrice"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	Status        BookingStatus `json:"status"`
	UserName      string        `json:"userName,omitempty"`
	UserEmail     string        `json:"userEmail,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	BookedAt      time.Time     `json:"bookedAt"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// FieldErrors maps a request field to a human-readable problem with it.
// An empty map means the payload passed validation.
type FieldErrors map[string]string

// BookingPayload is the raw booking request body as bound from JSON.
type BookingPayload struct {
	EventID       uint64   `json:"eventId"`
	Seats         []string `json:"seats"`
	Quantity      *int64   `json:"quantity"`
	PaymentMethod string   `json:"paymentMethod"`
	Notes         string   `json:"notes"`
}

// BookingRequest is the normalized, validated form of a BookingPayload.
// Seats are trimmed and guaranteed free of duplicates and empty labels;
// Quantity equals len(Seats) whenever Seats is non-empty.
type BookingRequest struct {
	EventID       uint64
	Seats         []string
	Quantity      uint32
	PaymentMethod PaymentMethod
	Notes         string
}

// ValidateBookingPayload normalizes and validates a raw booking payload.
// It returns the sanitized request and a map of field errors; callers must
// treat a non-empty map as a rejection and ignore the request value.
//
// Rules, in order:
//  - eventId must be non-zero.
//  - seat labels are trimmed; empty-after-trim labels and duplicates
//    (case-sensitive) are rejected rather than silently dropped.
//  - quantity, when given, must be a positive integer; when seats are
//    given it must equal the seat count; when omitted it defaults to the
//    seat count.  A request with neither seats nor quantity is invalid.
//  - paymentMethod defaults to card and must be a known method.
func ValidateBookingPayload(p BookingPayload) (BookingRequest, FieldErrors) {
	errs := FieldErrors{}
	var req BookingRequest

	if p.EventID == 0 {
		errs["eventId"] = "A valid eventId is required."
	} else {
		req.EventID = p.EventID
	}

	seen := make(map[string]struct{}, len(p.Seats))
	seats := make([]string, 0, len(p.Seats))
	for _, raw := range p.Seats {
		label := strings.TrimSpace(raw)
		if label == "" {
			errs["seats"] = "Seat labels must be non-empty."
			continue
		}
		if _, dup := seen[label]; dup {
			errs["seats"] = "Seat labels must not repeat."
			continue
		}
		seen[label] = struct{}{}
		seats = append(seats, label)
	}
	req.Seats = seats

	quantity := int64(len(seats))
	if p.Quantity != nil {
		quantity = *p.Quantity
		if quantity < 1 {
			errs["quantity"] = "Quantity must be a positive integer."
		} else if len(seats) > 0 && quantity != int64(len(seats)) {
			errs["quantity"] = "Quantity must match the number of selected seats."
		} else if quantity > math.MaxUint32 {
			// Converting an unbounded int64 would truncate and admit a
			// zero-quantity booking.
			errs["quantity"] = "Quantity is too large."
		}
	}
	if quantity < 1 {
		if _, ok := errs["quantity"]; !ok {
			errs["quantity"] = "Provide seat selections or specify a quantity to book."
		}
	} else if _, ok := errs["quantity"]; !ok {
		req.Quantity = uint32(quantity)
	}

	method := strings.ToLower(strings.TrimSpace(p.PaymentMethod))
	if method == "" {
		method = string(PaymentCard)
	}
	valid := false
	for _, m := range PaymentMethods {
		if string(m) == method {
			valid = true
			break
		}
	}
	if !valid {
		errs["paymentMethod"] = "paymentMethod must be one of: card, upi, wallet, cash, other."
	} else {
		req.PaymentMethod = PaymentMethod(method)
	}

	req.Notes = strings.TrimSpace(p.Notes)
	return req, errs
}
