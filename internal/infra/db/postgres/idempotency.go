package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"estancias/internal/app/middleware"
)

// IdempotencyStore keeps command outcomes keyed by idempotency key. First
// writer wins; replays read the stored outcome back.
type IdempotencyStore struct {
	Pool *pgxpool.Pool
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	const q = `SELECT key, payload, error_text, occurred_at FROM idempotency_records WHERE key = $1`
	var rec middleware.IdempotencyRecord
	err := s.Pool.QueryRow(ctx, q, key).Scan(&rec.Key, &rec.Payload, &rec.Error, &rec.OccurredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return middleware.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return middleware.IdempotencyRecord{}, false, err
	}
	return rec, true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	const q = `
		INSERT INTO idempotency_records (key, payload, error_text, occurred_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING`
	_, err := s.Pool.Exec(ctx, q, rec.Key, rec.Payload, rec.Error, rec.OccurredAt.UTC())
	return err
}
