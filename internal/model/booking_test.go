package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int64) *int64 { return &n }

func TestValidateBookingPayloadDefaults(t *testing.T) {
	req, errs := ValidateBookingPayload(BookingPayload{
		EventID: 7,
		Seats:   []string{" A1 ", "B2"},
		Notes:   "  aisle please  ",
	})
	require.Empty(t, errs)
	assert.Equal(t, uint64(7), req.EventID)
	assert.Equal(t, []string{"A1", "B2"}, req.Seats)
	assert.Equal(t, uint32(2), req.Quantity)
	assert.Equal(t, PaymentCard, req.PaymentMethod)
	assert.Equal(t, "aisle please", req.Notes)
}

func TestValidateBookingPayloadQuantityOnly(t *testing.T) {
	req, errs := ValidateBookingPayload(BookingPayload{EventID: 7, Quantity: intp(4), PaymentMethod: "UPI"})
	require.Empty(t, errs)
	assert.Empty(t, req.Seats)
	assert.Equal(t, uint32(4), req.Quantity)
	assert.Equal(t, PaymentUPI, req.PaymentMethod)
}

func TestValidateBookingPayloadRejections(t *testing.T) {
	cases := []struct {
		name    string
		payload BookingPayload
		field   string
	}{
		{"zero event", BookingPayload{Quantity: intp(1)}, "eventId"},
		{"empty seat label", BookingPayload{EventID: 1, Seats: []string{"A1", "   "}}, "seats"},
		{"duplicate seat label", BookingPayload{EventID: 1, Seats: []string{"A1", "A1"}}, "seats"},
		{"no seats no quantity", BookingPayload{EventID: 1}, "quantity"},
		{"zero quantity", BookingPayload{EventID: 1, Quantity: intp(0)}, "quantity"},
		{"quantity mismatch", BookingPayload{EventID: 1, Seats: []string{"A1"}, Quantity: intp(2)}, "quantity"},
		{"quantity beyond uint32", BookingPayload{EventID: 1, Quantity: intp(1 << 32)}, "quantity"},
		{"unknown payment method", BookingPayload{EventID: 1, Quantity: intp(1), PaymentMethod: "gold"}, "paymentMethod"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, errs := ValidateBookingPayload(tc.payload)
			assert.Contains(t, errs, tc.field)
		})
	}
}
