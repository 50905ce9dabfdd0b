package memory

import (
	"context"
	"sync"

	"estancias/internal/app/middleware"
)

// IdempotencyStore keeps command outcomes keyed by idempotency key.
type IdempotencyStore struct {
	mu      sync.RWMutex
	records map[string]middleware.IdempotencyRecord
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{records: make(map[string]middleware.IdempotencyRecord)}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Key]; ok {
		return nil
	}
	s.records[rec.Key] = rec
	return nil
}
