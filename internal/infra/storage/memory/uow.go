package memory

import (
	"context"
	"errors"
	"sync"

	"estancias/internal/app/outbox"
	appuow "estancias/internal/app/uow"
	domainbooking "estancias/internal/domain/booking"
	domainpayment "estancias/internal/domain/payment"
	domainproperty "estancias/internal/domain/property"
)

var ErrFactoryMisconfigured = errors.New("memory: unit of work factory misconfigured")

// Factory wires the in-memory store into unit-of-work boundaries. ForUpdate
// fetches take per-row locks held until Commit/Rollback, matching the
// relational implementation closely enough for concurrency tests.
type Factory struct {
	Store *Store
}

func (f Factory) Begin(ctx context.Context, opts appuow.TxOptions) (appuow.UnitOfWork, error) {
	if f.Store == nil {
		return nil, ErrFactoryMisconfigured
	}
	return &Unit{store: f.Store, held: make(map[string]struct{})}, nil
}

// Unit is an in-memory uow.UnitOfWork. Writes land immediately; the value
// of the boundary here is the row locking and the after-commit hook timing.
type Unit struct {
	store *Store

	mu    sync.Mutex
	held  map[string]struct{}
	hooks []func(ctx context.Context)
	done  bool
}

func (u *Unit) Properties() domainproperty.Repository {
	return &lockedPropertyRepo{unit: u, repo: u.store.Properties}
}

func (u *Unit) Bookings() domainbooking.Repository {
	return &lockedBookingRepo{unit: u, BookingRepository: u.store.Bookings}
}

func (u *Unit) Payments() domainpayment.Repository {
	return u.store.Payments
}

func (u *Unit) RefundLogs() domainpayment.RefundLogRepository {
	return u.store.RefundLogs
}

func (u *Unit) ChangeLogs() domainbooking.ChangeLogRepository {
	return &lockedChangeLogRepo{unit: u, ChangeLogRepository: u.store.ChangeLogs}
}

func (u *Unit) Outbox() outbox.Outbox {
	return u.store.Events
}

func (u *Unit) AfterCommit(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	u.mu.Lock()
	u.hooks = append(u.hooks, fn)
	u.mu.Unlock()
}

func (u *Unit) Commit(ctx context.Context) error {
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return nil
	}
	u.done = true
	hooks := u.hooks
	u.hooks = nil
	u.releaseLocked()
	u.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx)
	}
	return nil
}

func (u *Unit) Rollback(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return nil
	}
	u.done = true
	u.hooks = nil
	u.releaseLocked()
	return nil
}

// acquire takes the row lock once per unit; re-acquisition is a no-op.
func (u *Unit) acquire(ctx context.Context, key string) error {
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return errors.New("memory: unit of work already closed")
	}
	if _, ok := u.held[key]; ok {
		u.mu.Unlock()
		return nil
	}
	u.mu.Unlock()

	if err := u.store.locks.Acquire(ctx, key); err != nil {
		return err
	}

	u.mu.Lock()
	u.held[key] = struct{}{}
	u.mu.Unlock()
	return nil
}

func (u *Unit) releaseLocked() {
	for key := range u.held {
		u.store.locks.Release(key)
	}
	u.held = make(map[string]struct{})
}

type lockedPropertyRepo struct {
	unit *Unit
	repo *PropertyRepository
}

func (r *lockedPropertyRepo) ByID(ctx context.Context, id domainproperty.PropertyID) (*domainproperty.Property, error) {
	return r.repo.ByID(ctx, id)
}

func (r *lockedPropertyRepo) ByIDForUpdate(ctx context.Context, id domainproperty.PropertyID) (*domainproperty.Property, error) {
	if err := r.unit.acquire(ctx, "property:"+string(id)); err != nil {
		return nil, err
	}
	return r.repo.ByID(ctx, id)
}

func (r *lockedPropertyRepo) Save(ctx context.Context, p *domainproperty.Property) error {
	return r.repo.Save(ctx, p)
}

type lockedBookingRepo struct {
	unit *Unit
	*BookingRepository
}

func (r *lockedBookingRepo) ByIDForUpdate(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	if err := r.unit.acquire(ctx, "booking:"+string(id)); err != nil {
		return nil, err
	}
	return r.BookingRepository.ByID(ctx, id)
}

type lockedChangeLogRepo struct {
	unit *Unit
	*ChangeLogRepository
}

func (r *lockedChangeLogRepo) ByIDForUpdate(ctx context.Context, id string) (*domainbooking.ChangeLog, error) {
	if err := r.unit.acquire(ctx, "changelog:"+id); err != nil {
		return nil, err
	}
	return r.ChangeLogRepository.ByID(ctx, id)
}
