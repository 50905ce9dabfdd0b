// Package booking hosts the command-side entry points for the booking
// lifecycle, routed through the application bus so middleware (idempotency,
// logging) applies uniformly.
package booking

import (
	"context"
	"time"

	"estancias/internal/app/lifecycle"
	"estancias/internal/app/middleware"
	domainproperty "estancias/internal/domain/property"
)

const RequestBookingKey = "booking.request"

// RequestBookingCommand places a pending booking holding its dates.
type RequestBookingCommand struct {
	CommandID       string
	PropertyID      string
	GuestID         string
	GuestEmail      string
	CheckIn         time.Time
	CheckOut        time.Time
	PartySize       int
	IdempotencyKeyV string
}

func (c RequestBookingCommand) Key() string { return RequestBookingKey }

func (c RequestBookingCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c RequestBookingCommand) ResultPrototype() any { return &RequestBookingResult{} }

// RequestBookingResult is the serializable outcome; replays of the same
// idempotency key get this payload back without re-executing.
type RequestBookingResult struct {
	BookingID     string    `json:"booking_id"`
	Status        string    `json:"status"`
	TotalCents    int64     `json:"total_cents"`
	DepositCents  int64     `json:"deposit_cents"`
	Currency      string    `json:"currency"`
	HoldExpiresAt time.Time `json:"hold_expires_at"`
}

// RequestBookingHandler adapts the lifecycle service to the command bus.
type RequestBookingHandler struct {
	Lifecycle *lifecycle.Service
}

func (h RequestBookingHandler) Handle(ctx context.Context, cmd RequestBookingCommand) (*RequestBookingResult, error) {
	b, err := h.Lifecycle.CreateBooking(ctx, lifecycle.CreateBookingParams{
		PropertyID: domainproperty.PropertyID(cmd.PropertyID),
		GuestID:    cmd.GuestID,
		GuestEmail: cmd.GuestEmail,
		CheckIn:    cmd.CheckIn,
		CheckOut:   cmd.CheckOut,
		PartySize:  cmd.PartySize,
	})
	if err != nil {
		return nil, err
	}
	return &RequestBookingResult{
		BookingID:     string(b.ID),
		Status:        string(b.Status),
		TotalCents:    b.TotalAmount.Cents,
		DepositCents:  b.DepositAmount.Cents,
		Currency:      b.TotalAmount.Currency,
		HoldExpiresAt: b.HoldExpiresAt,
	}, nil
}

var _ middleware.IdempotentCommand = RequestBookingCommand{}
