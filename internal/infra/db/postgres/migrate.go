package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS properties (
    id                 TEXT PRIMARY KEY,
    name               TEXT NOT NULL DEFAULT '',
    capacity           INT NOT NULL,
    nightly_rate_cents BIGINT NOT NULL,
    cleaning_fee_cents BIGINT NOT NULL DEFAULT 0,
    currency           TEXT NOT NULL DEFAULT 'MXN',
    calendar_url       TEXT NOT NULL DEFAULT '',
    export_token       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS bookings (
    id                        TEXT PRIMARY KEY,
    property_id               TEXT NOT NULL REFERENCES properties (id),
    guest_id                  TEXT NOT NULL,
    guest_email               TEXT NOT NULL DEFAULT '',
    check_in                  TIMESTAMPTZ NOT NULL,
    check_out                 TIMESTAMPTZ NOT NULL,
    party_size                INT NOT NULL,
    status                    TEXT NOT NULL,
    total_cents               BIGINT NOT NULL,
    deposit_cents             BIGINT NOT NULL,
    balance_cents             BIGINT NOT NULL,
    currency                  TEXT NOT NULL DEFAULT 'MXN',
    hold_expires_at           TIMESTAMPTZ,
    gateway_customer_id       TEXT NOT NULL DEFAULT '',
    gateway_payment_method_id TEXT NOT NULL DEFAULT '',
    balance_charge_task_id    TEXT NOT NULL DEFAULT '',
    balance_charge_eta        TIMESTAMPTZ,
    created_at                TIMESTAMPTZ NOT NULL,
    updated_at                TIMESTAMPTZ NOT NULL,
    version                   BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_bookings_property_window
    ON bookings (property_id, check_in, check_out);
CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings (status);

CREATE TABLE IF NOT EXISTS payments (
    id                  TEXT PRIMARY KEY,
    booking_id          TEXT NOT NULL REFERENCES bookings (id),
    type                TEXT NOT NULL,
    role_kind           TEXT NOT NULL DEFAULT 'standalone',
    role_change_log_id  TEXT NOT NULL DEFAULT '',
    status              TEXT NOT NULL,
    amount_cents        BIGINT NOT NULL,
    currency            TEXT NOT NULL DEFAULT 'MXN',
    intent_id           TEXT NOT NULL DEFAULT '',
    checkout_session_id TEXT NOT NULL DEFAULT '',
    checkout_url        TEXT NOT NULL DEFAULT '',
    refund_status       TEXT NOT NULL DEFAULT 'none',
    refunded_cents      BIGINT NOT NULL DEFAULT 0,
    refund_count        INT NOT NULL DEFAULT 0,
    last_refund_at      TIMESTAMPTZ,
    client_reference_id TEXT NOT NULL DEFAULT '',
    idempotency_key     TEXT NOT NULL DEFAULT '',
    expires_at          TIMESTAMPTZ,
    superseded_at       TIMESTAMPTZ,
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_booking ON payments (booking_id);
CREATE INDEX IF NOT EXISTS idx_payments_intent
    ON payments (intent_id) WHERE intent_id <> '';

CREATE TABLE IF NOT EXISTS refund_logs (
    id                TEXT PRIMARY KEY,
    gateway_refund_id TEXT NOT NULL UNIQUE,
    payment_id        TEXT NOT NULL REFERENCES payments (id),
    amount_cents      BIGINT NOT NULL,
    currency          TEXT NOT NULL DEFAULT 'MXN',
    outcome           TEXT NOT NULL,
    observed_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS change_logs (
    id                    TEXT PRIMARY KEY,
    booking_id            TEXT NOT NULL REFERENCES bookings (id),
    actor_id              TEXT NOT NULL DEFAULT '',
    old_check_in          TIMESTAMPTZ NOT NULL,
    old_check_out         TIMESTAMPTZ NOT NULL,
    new_check_in          TIMESTAMPTZ NOT NULL,
    new_check_out         TIMESTAMPTZ NOT NULL,
    old_total_cents       BIGINT NOT NULL,
    new_total_cents       BIGINT NOT NULL,
    paid_deposit_cents    BIGINT NOT NULL,
    deposit_topup_cents   BIGINT NOT NULL,
    deposit_target_cents  BIGINT NOT NULL,
    deposit_refund_cents  BIGINT NOT NULL,
    old_balance_cents     BIGINT NOT NULL,
    new_balance_cents     BIGINT NOT NULL,
    currency              TEXT NOT NULL DEFAULT 'MXN',
    status                TEXT NOT NULL,
    topup_payment_id      TEXT NOT NULL DEFAULT '',
    checkout_session_id   TEXT NOT NULL DEFAULT '',
    superseded_at         TIMESTAMPTZ,
    created_at            TIMESTAMPTZ NOT NULL,
    updated_at            TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_change_logs_booking_pending
    ON change_logs (booking_id) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS outbox_events (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    aggregate    TEXT NOT NULL DEFAULT '',
    payload      JSONB NOT NULL,
    headers      JSONB NOT NULL DEFAULT '{}',
    occurred_at  TIMESTAMPTZ NOT NULL,
    published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_pending
    ON outbox_events (occurred_at) WHERE published_at IS NULL;

CREATE TABLE IF NOT EXISTS idempotency_records (
    key         TEXT PRIMARY KEY,
    payload     BYTEA,
    error_text  TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL
);
`

// Migrate applies the schema. Statements are idempotent so running it on
// every boot is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
