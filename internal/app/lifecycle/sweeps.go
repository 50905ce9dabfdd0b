package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"estancias/internal/app/uow"
	"estancias/internal/domain/booking"
	"estancias/internal/domain/payment"
)

// errSkipExpiry aborts one sweep item without treating it as a failure.
var errSkipExpiry = errors.New("lifecycle: expiry no longer applies")

// ExpireDepartures flips confirmed bookings whose stay has ended. Idempotent:
// a second run finds nothing left to do.
func (s *Service) ExpireDepartures(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.listDeparted(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range candidates {
		ok, err := s.expireOne(ctx, candidate.ID, func(b *booking.Booking) bool {
			return b.Departed(now)
		}, nil)
		if err != nil {
			s.logger.Warn("departure expiry failed",
				slog.String("booking_id", string(candidate.ID)), slog.Any("error", err))
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

// ExpireHolds flips pending bookings whose 30-minute hold lapsed without a
// paid deposit, retiring their open deposit attempts and expiring any
// outstanding checkout session at the gateway.
func (s *Service) ExpireHolds(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.listHoldExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range candidates {
		ok, err := s.expireOne(ctx, candidate.ID, func(b *booking.Booking) bool {
			return b.HoldExpired(now)
		}, s.retireOpenDeposits)
		if err != nil {
			s.logger.Warn("hold expiry failed",
				slog.String("booking_id", string(candidate.ID)), slog.Any("error", err))
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

// expireOne re-validates the condition under the booking row lock before
// flipping, so a webhook landing between the scan and the lock wins.
func (s *Service) expireOne(ctx context.Context, id booking.BookingID, stillDue func(*booking.Booking) bool, extra func(ctx context.Context, uw uow.UnitOfWork, b *booking.Booking) error) (bool, error) {
	uw, err := s.uowf.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return false, err
	}
	defer uw.Rollback(ctx)

	b, err := uw.Bookings().ByIDForUpdate(ctx, id)
	if err != nil {
		return false, err
	}
	if !stillDue(b) {
		return false, nil
	}
	if extra != nil {
		if err := extra(ctx, uw, b); errors.Is(err, errSkipExpiry) {
			return false, nil
		} else if err != nil {
			return false, err
		}
	}
	if err := b.Expire(s.now()); err != nil {
		return false, err
	}
	if err := s.saveWithEvents(ctx, uw, b); err != nil {
		return false, err
	}
	if err := uw.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// retireOpenDeposits expires the open deposit attempts of a lapsed hold.
func (s *Service) retireOpenDeposits(ctx context.Context, uw uow.UnitOfWork, b *booking.Booking) error {
	payments, err := uw.Payments().ListByBooking(ctx, string(b.ID))
	if err != nil {
		return err
	}
	var sessions []string
	for _, p := range payments {
		// A paid deposit means the confirmation webhook is simply late; the
		// hold must survive this sweep.
		if p.Type == payment.TypeDeposit && p.IsPaid() {
			return errSkipExpiry
		}
	}
	for _, p := range payments {
		if p.Type != payment.TypeDeposit || !p.Active() {
			continue
		}
		if p.CheckoutSessionID != "" {
			sessions = append(sessions, p.CheckoutSessionID)
		}
		p.MarkExpired(s.now())
		if err := uw.Payments().Save(ctx, p); err != nil {
			return err
		}
	}
	if len(sessions) > 0 && s.gateway != nil {
		bookingID := b.ID
		uw.AfterCommit(func(ctx context.Context) {
			for _, sessionID := range sessions {
				if err := s.gateway.ExpireSession(ctx, sessionID); err != nil {
					s.logger.Warn("checkout session expire failed",
						slog.String("booking_id", string(bookingID)),
						slog.String("session_id", sessionID), slog.Any("error", err))
				}
			}
		})
	}
	return nil
}

func (s *Service) listDeparted(ctx context.Context, now time.Time) ([]*booking.Booking, error) {
	uw, err := s.uowf.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer uw.Rollback(ctx)
	return uw.Bookings().ListConfirmedDeparted(ctx, now)
}

func (s *Service) listHoldExpired(ctx context.Context, now time.Time) ([]*booking.Booking, error) {
	uw, err := s.uowf.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer uw.Rollback(ctx)
	return uw.Bookings().ListPendingHoldExpired(ctx, now)
}
