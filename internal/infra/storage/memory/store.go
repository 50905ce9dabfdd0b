package memory

import (
	"context"
	"sync"
)

// rowLocks hands out per-key exclusive locks, standing in for the relational
// store's row locking. Acquisition is context-aware so a stuck holder cannot
// block a caller forever.
type rowLocks struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

func newRowLocks() *rowLocks {
	return &rowLocks{chans: make(map[string]chan struct{})}
}

func (l *rowLocks) Acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	ch, ok := l.chans[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.chans[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *rowLocks) Release(key string) {
	l.mu.Lock()
	ch, ok := l.chans[key]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-ch:
	default:
	}
}

// Store bundles the in-memory repositories behind one handle, mirroring how
// the postgres pool is shared across repositories.
type Store struct {
	Properties *PropertyRepository
	Bookings   *BookingRepository
	Payments   *PaymentRepository
	RefundLogs *RefundLogRepository
	ChangeLogs *ChangeLogRepository
	Events     *OutboxStore

	locks *rowLocks
}

func NewStore() *Store {
	return &Store{
		Properties: NewPropertyRepository(),
		Bookings:   NewBookingRepository(),
		Payments:   NewPaymentRepository(),
		RefundLogs: NewRefundLogRepository(),
		ChangeLogs: NewChangeLogRepository(),
		Events:     NewOutboxStore(),
		locks:      newRowLocks(),
	}
}
