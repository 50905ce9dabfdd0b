package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	domainpayment "estancias/internal/domain/payment"
	"estancias/internal/domain/shared/money"
)

const paymentColumns = `id, booking_id, type, role_kind, role_change_log_id, status,
	amount_cents, currency, intent_id, checkout_session_id, checkout_url,
	refund_status, refunded_cents, refund_count, last_refund_at,
	client_reference_id, idempotency_key, expires_at, superseded_at, created_at, updated_at`

// PaymentRepository persists payment attempts.
type PaymentRepository struct {
	q querier
}

func (r *PaymentRepository) ByID(ctx context.Context, id domainpayment.PaymentID) (*domainpayment.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.q.QueryRow(ctx, q, string(id)))
}

func (r *PaymentRepository) ByIntentID(ctx context.Context, intentID string) (*domainpayment.Payment, error) {
	if intentID == "" {
		return nil, domainpayment.ErrNotFound
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE intent_id = $1 LIMIT 1`
	return scanPayment(r.q.QueryRow(ctx, q, intentID))
}

func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID string) ([]*domainpayment.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = $1 ORDER BY created_at`
	rows, err := r.q.Query(ctx, q, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domainpayment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PaymentRepository) Save(ctx context.Context, p *domainpayment.Payment) error {
	const q = `
		INSERT INTO payments (id, booking_id, type, role_kind, role_change_log_id, status,
			amount_cents, currency, intent_id, checkout_session_id, checkout_url,
			refund_status, refunded_cents, refund_count, last_refund_at,
			client_reference_id, idempotency_key, expires_at, superseded_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			amount_cents = EXCLUDED.amount_cents,
			intent_id = EXCLUDED.intent_id,
			checkout_session_id = EXCLUDED.checkout_session_id,
			checkout_url = EXCLUDED.checkout_url,
			refund_status = EXCLUDED.refund_status,
			refunded_cents = EXCLUDED.refunded_cents,
			refund_count = EXCLUDED.refund_count,
			last_refund_at = EXCLUDED.last_refund_at,
			expires_at = EXCLUDED.expires_at,
			superseded_at = EXCLUDED.superseded_at,
			updated_at = EXCLUDED.updated_at`
	_, err := r.q.Exec(ctx, q,
		string(p.ID), p.BookingID, string(p.Type), string(p.Role.Kind), p.Role.ChangeLogID,
		string(p.Status), p.Amount.Cents, p.Amount.Currency,
		p.IntentID, p.CheckoutSessionID, p.CheckoutURL,
		string(p.RefundStatus), p.RefundedAmount.Cents, p.RefundCount, nullTime(p.LastRefundAt),
		p.ClientReferenceID, p.IdempotencyKey,
		nullTime(p.ExpiresAt), nullTime(p.SupersededAt), p.CreatedAt, p.UpdatedAt)
	return err
}

func scanPayment(row rowScanner) (*domainpayment.Payment, error) {
	var (
		p            domainpayment.Payment
		id           string
		typ          string
		roleKind     string
		status       string
		amount       int64
		currency     string
		refundStatus string
		refunded     int64
		lastRefundAt *time.Time
		expiresAt    *time.Time
		supersededAt *time.Time
	)
	err := row.Scan(&id, &p.BookingID, &typ, &roleKind, &p.Role.ChangeLogID, &status,
		&amount, &currency, &p.IntentID, &p.CheckoutSessionID, &p.CheckoutURL,
		&refundStatus, &refunded, &p.RefundCount, &lastRefundAt,
		&p.ClientReferenceID, &p.IdempotencyKey, &expiresAt, &supersededAt,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainpayment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ID = domainpayment.PaymentID(id)
	p.Type = domainpayment.Type(typ)
	p.Role.Kind = domainpayment.RoleKind(roleKind)
	p.Status = domainpayment.Status(status)
	p.Amount = money.Money{Cents: amount, Currency: currency}
	p.RefundStatus = domainpayment.RefundStatus(refundStatus)
	p.RefundedAmount = money.Money{Cents: refunded, Currency: currency}
	p.LastRefundAt = timeOrZero(lastRefundAt)
	p.ExpiresAt = timeOrZero(expiresAt)
	p.SupersededAt = timeOrZero(supersededAt)
	return &p, nil
}

// RefundLogRepository appends refund observations. The unique index on
// gateway_refund_id is the durable replay guard.
type RefundLogRepository struct {
	q querier
}

func (r *RefundLogRepository) Insert(ctx context.Context, log domainpayment.RefundLog) error {
	const q = `
		INSERT INTO refund_logs (id, gateway_refund_id, payment_id, amount_cents, currency, outcome, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.q.Exec(ctx, q,
		log.ID, log.GatewayRefundID, string(log.PaymentID),
		log.Amount.Cents, log.Amount.Currency, string(log.Outcome), log.ObservedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domainpayment.ErrDuplicateRefund
	}
	return err
}
