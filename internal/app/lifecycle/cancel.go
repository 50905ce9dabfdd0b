package lifecycle

import (
	"context"
	"log/slog"

	"estancias/internal/app/charge"
	"estancias/internal/app/policies"
	"estancias/internal/app/schedule"
	"estancias/internal/app/uow"
	"estancias/internal/domain/booking"
)

// CancelResult reports the transition and the plan whose side effects were
// queued behind the commit. Refund and penalty outcomes land asynchronously.
type CancelResult struct {
	AlreadyCancelled bool
	Plan             booking.RefundPlan
}

// Cancel flips the booking and queues the financial consequences. The status
// change and the plan are decided under the booking row lock; refund calls
// and the penalty charge run only after the transaction commits, never while
// the lock is held.
func (s *Service) Cancel(ctx context.Context, bookingID booking.BookingID) (CancelResult, error) {
	uw, err := s.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return CancelResult{}, err
	}
	defer uw.Rollback(ctx)

	b, err := uw.Bookings().ByIDForUpdate(ctx, bookingID)
	if err != nil {
		return CancelResult{}, err
	}
	payments, err := uw.Payments().ListByBooking(ctx, string(bookingID))
	if err != nil {
		return CancelResult{}, err
	}

	plan := booking.ComputeRefundPlan(b, payments, s.now())
	already, err := b.Cancel(s.now())
	if err != nil {
		return CancelResult{}, err
	}
	if already {
		if err := uw.Commit(ctx); err != nil {
			return CancelResult{}, err
		}
		return CancelResult{AlreadyCancelled: true}, nil
	}
	if err := s.saveWithEvents(ctx, uw, b); err != nil {
		return CancelResult{}, err
	}

	s.queueCancellationEffects(uw, b, plan)
	if err := uw.Commit(ctx); err != nil {
		return CancelResult{}, err
	}
	s.logger.Info("booking cancelled",
		slog.String("booking_id", string(bookingID)),
		slog.String("window", string(plan.Window)),
		slog.String("penalty", plan.Penalty.String()))
	return CancelResult{Plan: plan}, nil
}

func (s *Service) queueCancellationEffects(uw uow.UnitOfWork, b *booking.Booking, plan booking.RefundPlan) {
	bookingID := b.ID
	guestEmail := b.GuestEmail
	balanceTask := b.BalanceChargeTaskID

	uw.AfterCommit(func(ctx context.Context) {
		if balanceTask != "" && s.scheduler != nil {
			if err := s.scheduler.Revoke(ctx, balanceTask); err != nil {
				s.logger.Warn("balance task revoke on cancel failed",
					slog.String("booking_id", string(bookingID)), slog.Any("error", err))
			}
		}
		for _, pr := range plan.Refunds {
			s.refunds.Execute(ctx, bookingID, pr.PaymentID, pr.Amount)
		}
		if plan.Penalty.IsPositive() && s.scheduler != nil {
			_, err := s.scheduler.Enqueue(ctx, schedule.TaskChargePenalty, charge.PenaltyChargePayload{
				BookingID:   string(bookingID),
				Type:        string(plan.PenaltyType),
				AmountCents: plan.Penalty.Cents,
				Currency:    plan.Penalty.Currency,
			}, s.now())
			if err != nil {
				s.logger.Error("penalty charge enqueue failed",
					slog.String("booking_id", string(bookingID)), slog.Any("error", err))
			}
		}
		if s.notifier != nil && guestEmail != "" {
			err := s.notifier.Send(ctx, policies.Notification{
				RecipientEmail: guestEmail,
				Template:       policies.TemplateBookingCancelled,
				Context: map[string]string{
					"booking_id": string(bookingID),
					"window":     string(plan.Window),
					"penalty":    plan.Penalty.String(),
				},
			})
			if err != nil {
				s.logger.Warn("cancellation notification failed",
					slog.String("booking_id", string(bookingID)), slog.Any("error", err))
			}
		}
	})
}
