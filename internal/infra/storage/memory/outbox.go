package memory

import (
	"context"
	"sync"

	"estancias/internal/app/outbox"
)

// OutboxStore accumulates event records pending publication.
type OutboxStore struct {
	mu      sync.Mutex
	records []outbox.EventRecord
}

func NewOutboxStore() *OutboxStore {
	return &OutboxStore{}
}

func (s *OutboxStore) Add(ctx context.Context, record outbox.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Fetch returns up to limit unpublished records without removing them.
func (s *OutboxStore) Fetch(ctx context.Context, limit int) ([]outbox.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]outbox.EventRecord, limit)
	copy(out, s.records[:limit])
	return out, nil
}

// MarkPublished removes records by id once the broker acknowledged them.
func (s *OutboxStore) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, rec := range s.records {
		if _, ok := drop[rec.ID]; !ok {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	return nil
}
