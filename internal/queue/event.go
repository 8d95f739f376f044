// Package queue defines message payloads exchanged over the message broker.
package queue

// BookingConfirmedEvent is published when a booking is successfully
// admitted.  It contains enough information for downstream consumers to
// log, notify, or trigger analytics without querying the primary database.
type BookingConfirmedEvent struct {
	BookingID   uint64   `json:"booking_id"`
	UserID      uint64   `json:"user_id"`
	UserEmail   string   `json:"user_email"`
	EventID     uint64   `json:"event_id"`
	EventName   string   `json:"event_name"`
	EventDate   string   `json:"event_date"`
	SeatLabels  []string `json:"seats"`
	Quantity    uint32   `json:"quantity"`
	TotalPrice  float64  `json:"total_price"`
	ConfirmedAt string   `json:"confirmed_at"`
}
