package charge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"estancias/internal/app/schedule"
	"estancias/internal/app/uow"
	"estancias/internal/domain/booking"
	"estancias/internal/domain/payment"
	"estancias/internal/domain/shared/money"
)

// BalanceChargePayload travels with the scheduled balance-charge task.
type BalanceChargePayload struct {
	BookingID string `json:"booking_id"`
}

// PenaltyChargePayload travels with a scheduled penalty-charge retry.
type PenaltyChargePayload struct {
	BookingID   string `json:"booking_id"`
	Type        string `json:"type"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// RescheduleBalanceCharge registers an after-commit hook on the open unit of
// work that revokes the previously scheduled charge task, enqueues a new one
// at the given time and persists the new handle on the booking. Revocation
// is best-effort; a task already running detects it is superseded itself.
func (o *Orchestrator) RescheduleBalanceCharge(uw uow.UnitOfWork, bookingID booking.BookingID, prevTaskID string, when time.Time) {
	if o.scheduler == nil {
		return
	}
	uw.AfterCommit(func(ctx context.Context) {
		if prevTaskID != "" {
			if err := o.scheduler.Revoke(ctx, prevTaskID); err != nil {
				o.logger.Warn("balance charge revoke failed",
					slog.String("booking_id", string(bookingID)), slog.String("task_id", prevTaskID), slog.Any("error", err))
			}
		}
		handle, err := o.scheduler.Enqueue(ctx, schedule.TaskChargeBalance, BalanceChargePayload{BookingID: string(bookingID)}, when)
		if err != nil {
			o.logger.Error("balance charge enqueue failed",
				slog.String("booking_id", string(bookingID)), slog.Any("error", err))
			return
		}
		if err := o.persistChargeTask(ctx, bookingID, handle); err != nil {
			o.logger.Error("balance charge handle not persisted",
				slog.String("booking_id", string(bookingID)), slog.String("task_id", handle.ID), slog.Any("error", err))
		}
	})
}

func (o *Orchestrator) persistChargeTask(ctx context.Context, bookingID booking.BookingID, handle schedule.Handle) error {
	uw, err := o.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return err
	}
	defer uw.Rollback(ctx)
	b, err := uw.Bookings().ByIDForUpdate(ctx, bookingID)
	if err != nil {
		return err
	}
	b.SetBalanceChargeTask(handle.ID, handle.ETA, o.now())
	if err := uw.Bookings().Save(ctx, b); err != nil {
		return err
	}
	return uw.Commit(ctx)
}

// ChargeBalanceForBooking is the scheduled-task entry point. It re-validates
// under a fresh lock that the charge is still warranted; any guard failing
// short-circuits to a no-op outcome rather than charging.
func (o *Orchestrator) ChargeBalanceForBooking(ctx context.Context, bookingID booking.BookingID) (Result, error) {
	due, skip, err := o.checkBalanceDue(ctx, bookingID)
	if err != nil {
		return Result{}, err
	}
	if skip != nil {
		return *skip, nil
	}
	description := fmt.Sprintf("Stay balance for booking %s", bookingID)
	return o.ChargeWithFallback(ctx, bookingID, payment.TypeBalance, payment.Standalone(), due, description)
}

func (o *Orchestrator) checkBalanceDue(ctx context.Context, bookingID booking.BookingID) (money.Money, *Result, error) {
	uw, err := o.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return money.Money{}, nil, err
	}
	defer uw.Rollback(ctx)

	b, err := uw.Bookings().ByIDForUpdate(ctx, bookingID)
	if err != nil {
		return money.Money{}, nil, err
	}
	if b.Status != booking.StatusConfirmed {
		return money.Money{}, &Result{Outcome: OutcomeSkipped, Reason: "booking not confirmed"}, nil
	}

	all, err := uw.Payments().ListByBooking(ctx, string(bookingID))
	if err != nil {
		return money.Money{}, nil, err
	}
	for _, p := range all {
		if p.Type == payment.TypeBalance && p.IsPaid() {
			return money.Money{}, &Result{Outcome: OutcomeAlreadyPaid, PaymentID: p.ID}, nil
		}
	}
	for _, p := range all {
		if p.Role.IsTopup() && p.Active() {
			return money.Money{}, &Result{Outcome: OutcomeSkipped, Reason: "pending deposit top-up"}, nil
		}
	}

	due, err := o.ledger.BalanceDueSnapshot(ctx, uw, b)
	if err != nil {
		return money.Money{}, nil, err
	}
	if !due.IsPositive() {
		return money.Money{}, &Result{Outcome: OutcomeSkipped, Reason: "no outstanding balance"}, nil
	}
	if err := uw.Commit(ctx); err != nil {
		return money.Money{}, nil, err
	}
	return due, nil, nil
}

// ChargePenaltyForBooking collects a cancellation fee or no-show penalty
// through the same off-session-with-fallback path as the balance.
func (o *Orchestrator) ChargePenaltyForBooking(ctx context.Context, bookingID booking.BookingID, typ payment.Type, amount money.Money) (Result, error) {
	label := "Cancellation fee"
	if typ == payment.TypeNoShow {
		label = "No-show penalty"
	}
	description := fmt.Sprintf("%s for booking %s", label, bookingID)
	return o.ChargeWithFallback(ctx, bookingID, typ, payment.Standalone(), amount, description)
}

// ScanAndChargeBalances is the periodic sweep backing up per-booking task
// scheduling: any confirmed booking past arrival plus the charge delay gets
// a balance attempt. Idempotent, since settled bookings short-circuit.
func (o *Orchestrator) ScanAndChargeBalances(ctx context.Context, now time.Time) (int, error) {
	uw, err := o.uowf.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-booking.BalanceChargeDelay)
	candidates, err := uw.Bookings().ListBalanceCandidates(ctx, cutoff)
	if rbErr := uw.Rollback(ctx); rbErr != nil && err == nil {
		err = rbErr
	}
	if err != nil {
		return 0, err
	}

	attempted := 0
	for _, b := range candidates {
		result, err := o.ChargeBalanceForBooking(ctx, b.ID)
		if err != nil {
			o.logger.Warn("balance sweep attempt failed",
				slog.String("booking_id", string(b.ID)), slog.Any("error", err))
			continue
		}
		if result.Outcome != OutcomeSkipped && result.Outcome != OutcomeAlreadyPaid {
			attempted++
		}
		o.logger.Info("balance sweep attempt",
			slog.String("booking_id", string(b.ID)), slog.String("outcome", string(result.Outcome)))
	}
	return attempted, nil
}
