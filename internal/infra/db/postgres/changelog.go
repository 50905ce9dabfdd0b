package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	domainbooking "estancias/internal/domain/booking"
	domainpayment "estancias/internal/domain/payment"
	"estancias/internal/domain/shared/money"
)

const changeLogColumns = `id, booking_id, actor_id,
	old_check_in, old_check_out, new_check_in, new_check_out,
	old_total_cents, new_total_cents, paid_deposit_cents, deposit_topup_cents,
	deposit_target_cents, deposit_refund_cents, old_balance_cents, new_balance_cents,
	currency, status, topup_payment_id, checkout_session_id, superseded_at, created_at, updated_at`

// ChangeLogRepository persists the date-change ledger.
type ChangeLogRepository struct {
	q querier
}

func (r *ChangeLogRepository) Create(ctx context.Context, log *domainbooking.ChangeLog) error {
	const q = `
		INSERT INTO change_logs (id, booking_id, actor_id,
			old_check_in, old_check_out, new_check_in, new_check_out,
			old_total_cents, new_total_cents, paid_deposit_cents, deposit_topup_cents,
			deposit_target_cents, deposit_refund_cents, old_balance_cents, new_balance_cents,
			currency, status, topup_payment_id, checkout_session_id, superseded_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`
	_, err := r.q.Exec(ctx, q, r.args(log)...)
	return err
}

func (r *ChangeLogRepository) ByID(ctx context.Context, id string) (*domainbooking.ChangeLog, error) {
	const q = `SELECT ` + changeLogColumns + ` FROM change_logs WHERE id = $1`
	return scanChangeLog(r.q.QueryRow(ctx, q, id))
}

func (r *ChangeLogRepository) ByIDForUpdate(ctx context.Context, id string) (*domainbooking.ChangeLog, error) {
	const q = `SELECT ` + changeLogColumns + ` FROM change_logs WHERE id = $1 FOR UPDATE`
	return scanChangeLog(r.q.QueryRow(ctx, q, id))
}

func (r *ChangeLogRepository) PendingByBooking(ctx context.Context, bookingID domainbooking.BookingID) (*domainbooking.ChangeLog, error) {
	const q = `SELECT ` + changeLogColumns + ` FROM change_logs
		WHERE booking_id = $1 AND status = 'pending'
		ORDER BY created_at DESC LIMIT 1`
	log, err := scanChangeLog(r.q.QueryRow(ctx, q, string(bookingID)))
	if errors.Is(err, domainbooking.ErrNotFound) {
		return nil, nil
	}
	return log, err
}

func (r *ChangeLogRepository) Save(ctx context.Context, log *domainbooking.ChangeLog) error {
	const q = `
		UPDATE change_logs SET
			status = $2,
			topup_payment_id = $3,
			checkout_session_id = $4,
			superseded_at = $5,
			updated_at = $6
		WHERE id = $1`
	_, err := r.q.Exec(ctx, q, log.ID, string(log.Status),
		string(log.TopupPaymentID), log.CheckoutSessionID,
		nullTime(log.SupersededAt), log.UpdatedAt)
	return err
}

func (r *ChangeLogRepository) SupersedePending(ctx context.Context, bookingID domainbooking.BookingID, exceptID string, now time.Time) (int, error) {
	const q = `
		UPDATE change_logs SET status = 'superseded', superseded_at = $3, updated_at = $3
		WHERE booking_id = $1 AND status = 'pending' AND ($2 = '' OR id <> $2)`
	tag, err := r.q.Exec(ctx, q, string(bookingID), exceptID, now.UTC())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *ChangeLogRepository) args(log *domainbooking.ChangeLog) []any {
	return []any{
		log.ID, string(log.BookingID), log.ActorID,
		log.OldRange.CheckIn, log.OldRange.CheckOut,
		log.NewRange.CheckIn, log.NewRange.CheckOut,
		log.OldTotal.Cents, log.NewTotal.Cents,
		log.PaidDeposit.Cents, log.DepositTopup.Cents,
		log.DepositTarget.Cents, log.DepositRefund.Cents,
		log.OldBalance.Cents, log.NewBalance.Cents,
		log.NewTotal.Currency, string(log.Status),
		string(log.TopupPaymentID), log.CheckoutSessionID,
		nullTime(log.SupersededAt), log.CreatedAt, log.UpdatedAt,
	}
}

func scanChangeLog(row rowScanner) (*domainbooking.ChangeLog, error) {
	var (
		log          domainbooking.ChangeLog
		bookingID    string
		oldTotal     int64
		newTotal     int64
		paidDeposit  int64
		topup        int64
		target       int64
		refund       int64
		oldBalance   int64
		newBalance   int64
		currency     string
		status       string
		topupPayment string
		supersededAt *time.Time
	)
	err := row.Scan(&log.ID, &bookingID, &log.ActorID,
		&log.OldRange.CheckIn, &log.OldRange.CheckOut,
		&log.NewRange.CheckIn, &log.NewRange.CheckOut,
		&oldTotal, &newTotal, &paidDeposit, &topup,
		&target, &refund, &oldBalance, &newBalance,
		&currency, &status, &topupPayment, &log.CheckoutSessionID,
		&supersededAt, &log.CreatedAt, &log.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainbooking.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	log.BookingID = domainbooking.BookingID(bookingID)
	log.OldTotal = money.Money{Cents: oldTotal, Currency: currency}
	log.NewTotal = money.Money{Cents: newTotal, Currency: currency}
	log.PaidDeposit = money.Money{Cents: paidDeposit, Currency: currency}
	log.DepositTopup = money.Money{Cents: topup, Currency: currency}
	log.DepositTarget = money.Money{Cents: target, Currency: currency}
	log.DepositRefund = money.Money{Cents: refund, Currency: currency}
	log.OldBalance = money.Money{Cents: oldBalance, Currency: currency}
	log.NewBalance = money.Money{Cents: newBalance, Currency: currency}
	log.Status = domainbooking.ChangeLogStatus(status)
	log.TopupPaymentID = domainpayment.PaymentID(topupPayment)
	log.SupersededAt = timeOrZero(supersededAt)
	log.OldRange.CheckIn = log.OldRange.CheckIn.UTC()
	log.OldRange.CheckOut = log.OldRange.CheckOut.UTC()
	log.NewRange.CheckIn = log.NewRange.CheckIn.UTC()
	log.NewRange.CheckOut = log.NewRange.CheckOut.UTC()
	return &log, nil
}
