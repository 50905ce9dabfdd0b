package booking

import (
	"context"
	"time"

	"estancias/internal/domain/payment"
	"estancias/internal/domain/shared/daterange"
	"estancias/internal/domain/shared/money"
)

type ChangeLogStatus string

const (
	ChangePending    ChangeLogStatus = "pending"
	ChangeApplied    ChangeLogStatus = "applied"
	ChangeSuperseded ChangeLogStatus = "superseded"
)

// ChangeLog is the durable ledger of one attempted date change and its
// financial consequences. At most one row per booking may be pending; a new
// pending row supersedes all earlier pending ones.
type ChangeLog struct {
	ID        string
	BookingID BookingID
	ActorID   string

	OldRange daterange.DateRange
	NewRange daterange.DateRange

	OldTotal      money.Money
	NewTotal      money.Money
	PaidDeposit   money.Money
	DepositTopup  money.Money
	DepositTarget money.Money
	DepositRefund money.Money
	OldBalance    money.Money
	NewBalance    money.Money

	Status            ChangeLogStatus
	TopupPaymentID    payment.PaymentID
	CheckoutSessionID string
	SupersededAt      time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MarkApplied flips a pending change once its side effects are committed
// (immediately on the no-top-up path, on payment success otherwise).
func (c *ChangeLog) MarkApplied(now time.Time) error {
	if c.Status != ChangePending && c.Status != ChangeApplied {
		return ErrInvalidState
	}
	c.Status = ChangeApplied
	c.UpdatedAt = now.UTC()
	return nil
}

func (c *ChangeLog) MarkSuperseded(now time.Time) {
	if c.Status != ChangePending {
		return
	}
	c.Status = ChangeSuperseded
	c.SupersededAt = now.UTC()
	c.UpdatedAt = now.UTC()
}

func (c *ChangeLog) AttachTopup(paymentID payment.PaymentID, sessionID string, now time.Time) {
	c.TopupPaymentID = paymentID
	c.CheckoutSessionID = sessionID
	c.UpdatedAt = now.UTC()
}

type ChangeLogRepository interface {
	Create(ctx context.Context, log *ChangeLog) error
	ByID(ctx context.Context, id string) (*ChangeLog, error)
	// ByIDForUpdate locks the row for the remainder of the unit of work.
	ByIDForUpdate(ctx context.Context, id string) (*ChangeLog, error)
	// PendingByBooking returns the booking's single pending log, or nil.
	PendingByBooking(ctx context.Context, bookingID BookingID) (*ChangeLog, error)
	Save(ctx context.Context, log *ChangeLog) error
	// SupersedePending retires every pending log of the booking except the
	// given id (empty string retires all) and returns how many were hit.
	SupersedePending(ctx context.Context, bookingID BookingID, exceptID string, now time.Time) (int, error)
}
