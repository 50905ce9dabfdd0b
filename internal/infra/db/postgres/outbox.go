package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"estancias/internal/app/outbox"
)

// OutboxRepository appends event records inside the surrounding transaction.
type OutboxRepository struct {
	q querier
}

func (r *OutboxRepository) Add(ctx context.Context, record outbox.EventRecord) error {
	headers, err := json.Marshal(record.Headers)
	if err != nil {
		return err
	}
	payload := record.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	const q = `
		INSERT INTO outbox_events (id, name, aggregate, payload, headers, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`
	_, err = r.q.Exec(ctx, q, record.ID, record.Name, record.Aggregate, payload, headers, record.OccurredAt.UTC())
	return err
}

// OutboxSource is the relay's pool-level view of pending records.
type OutboxSource struct {
	Pool *pgxpool.Pool
}

func (s *OutboxSource) Fetch(ctx context.Context, limit int) ([]outbox.EventRecord, error) {
	const q = `
		SELECT id, name, aggregate, payload, headers, occurred_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY occurred_at, id
		LIMIT $1`
	rows, err := s.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []outbox.EventRecord
	for rows.Next() {
		var (
			rec     outbox.EventRecord
			headers []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Aggregate, &rec.Payload, &headers, &rec.OccurredAt); err != nil {
			return nil, err
		}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &rec.Headers); err != nil {
				rec.Headers = nil
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *OutboxSource) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `UPDATE outbox_events SET published_at = $2 WHERE id = ANY($1)`
	_, err := s.Pool.Exec(ctx, q, ids, time.Now().UTC())
	return err
}
