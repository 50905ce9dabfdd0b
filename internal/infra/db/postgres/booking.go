package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainbooking "estancias/internal/domain/booking"
	domainproperty "estancias/internal/domain/property"
	"estancias/internal/domain/shared/daterange"
	"estancias/internal/domain/shared/money"
)

const bookingColumns = `id, property_id, guest_id, guest_email, check_in, check_out, party_size, status,
	total_cents, deposit_cents, balance_cents, currency, hold_expires_at,
	gateway_customer_id, gateway_payment_method_id, balance_charge_task_id, balance_charge_eta,
	created_at, updated_at, version`

// BookingRepository persists booking aggregates. Domain events recorded on
// the aggregate are not stored here; callers drain them into the outbox
// before Save.
type BookingRepository struct {
	q querier
}

// NewBookingRepository returns a pool-backed repository for lock-free reads
// such as the availability overlap scan. Transactional access goes through
// the unit of work instead.
func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{q: pool}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return scanBooking(r.q.QueryRow(ctx, q, string(id)))
}

func (r *BookingRepository) ByIDForUpdate(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	return scanBooking(r.q.QueryRow(ctx, q, string(id)))
}

func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	b.Version++
	const q = `
		INSERT INTO bookings (id, property_id, guest_id, guest_email, check_in, check_out, party_size, status,
			total_cents, deposit_cents, balance_cents, currency, hold_expires_at,
			gateway_customer_id, gateway_payment_method_id, balance_charge_task_id, balance_charge_eta,
			created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			check_in = EXCLUDED.check_in,
			check_out = EXCLUDED.check_out,
			party_size = EXCLUDED.party_size,
			status = EXCLUDED.status,
			total_cents = EXCLUDED.total_cents,
			deposit_cents = EXCLUDED.deposit_cents,
			balance_cents = EXCLUDED.balance_cents,
			currency = EXCLUDED.currency,
			hold_expires_at = EXCLUDED.hold_expires_at,
			gateway_customer_id = EXCLUDED.gateway_customer_id,
			gateway_payment_method_id = EXCLUDED.gateway_payment_method_id,
			balance_charge_task_id = EXCLUDED.balance_charge_task_id,
			balance_charge_eta = EXCLUDED.balance_charge_eta,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version`
	_, err := r.q.Exec(ctx, q,
		string(b.ID), string(b.PropertyID), b.GuestID, b.GuestEmail,
		b.Range.CheckIn, b.Range.CheckOut, b.PartySize, string(b.Status),
		b.TotalAmount.Cents, b.DepositAmount.Cents, b.BalanceDue.Cents, b.TotalAmount.Currency,
		nullTime(b.HoldExpiresAt),
		b.GatewayCustomerID, b.GatewayPaymentMethodID,
		b.BalanceChargeTaskID, nullTime(b.BalanceChargeETA),
		b.CreatedAt, b.UpdatedAt, b.Version)
	return err
}

func (r *BookingRepository) ListOverlapping(ctx context.Context, propertyID domainproperty.PropertyID, window daterange.DateRange) ([]*domainbooking.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings
		WHERE property_id = $1 AND status IN ('pending', 'confirmed')
			AND check_in < $3 AND check_out > $2
		ORDER BY created_at`
	return r.list(ctx, q, string(propertyID), window.CheckIn, window.CheckOut)
}

func (r *BookingRepository) ListConfirmedDeparted(ctx context.Context, now time.Time) ([]*domainbooking.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings
		WHERE status = 'confirmed' AND check_out < $1
		ORDER BY created_at`
	return r.list(ctx, q, now.UTC())
}

func (r *BookingRepository) ListPendingHoldExpired(ctx context.Context, now time.Time) ([]*domainbooking.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings
		WHERE status = 'pending' AND hold_expires_at IS NOT NULL AND hold_expires_at <= $1
		ORDER BY created_at`
	return r.list(ctx, q, now.UTC())
}

func (r *BookingRepository) ListBalanceCandidates(ctx context.Context, cutoff time.Time) ([]*domainbooking.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings
		WHERE status = 'confirmed' AND check_in <= $1
		ORDER BY created_at`
	return r.list(ctx, q, cutoff.UTC())
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]*domainbooking.Booking, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domainbooking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row rowScanner) (*domainbooking.Booking, error) {
	var (
		b             domainbooking.Booking
		id            string
		propertyID    string
		status        string
		total         int64
		deposit       int64
		balance       int64
		currency      string
		holdExpiresAt *time.Time
		balanceETA    *time.Time
	)
	err := row.Scan(&id, &propertyID, &b.GuestID, &b.GuestEmail,
		&b.Range.CheckIn, &b.Range.CheckOut, &b.PartySize, &status,
		&total, &deposit, &balance, &currency, &holdExpiresAt,
		&b.GatewayCustomerID, &b.GatewayPaymentMethodID,
		&b.BalanceChargeTaskID, &balanceETA,
		&b.CreatedAt, &b.UpdatedAt, &b.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainbooking.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.ID = domainbooking.BookingID(id)
	b.PropertyID = domainproperty.PropertyID(propertyID)
	b.Status = domainbooking.Status(status)
	b.TotalAmount = money.Money{Cents: total, Currency: currency}
	b.DepositAmount = money.Money{Cents: deposit, Currency: currency}
	b.BalanceDue = money.Money{Cents: balance, Currency: currency}
	b.HoldExpiresAt = timeOrZero(holdExpiresAt)
	b.BalanceChargeETA = timeOrZero(balanceETA)
	b.Range.CheckIn = b.Range.CheckIn.UTC()
	b.Range.CheckOut = b.Range.CheckOut.UTC()
	return &b, nil
}
