package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainbooking "estancias/internal/domain/booking"
	domainpayment "estancias/internal/domain/payment"
	domainproperty "estancias/internal/domain/property"
	"estancias/internal/domain/shared/daterange"
)

// PropertyRepository keeps properties in memory.
type PropertyRepository struct {
	mu    sync.RWMutex
	items map[domainproperty.PropertyID]*domainproperty.Property
}

func NewPropertyRepository() *PropertyRepository {
	return &PropertyRepository{items: make(map[domainproperty.PropertyID]*domainproperty.Property)}
}

func (r *PropertyRepository) ByID(ctx context.Context, id domainproperty.PropertyID) (*domainproperty.Property, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, domainproperty.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *PropertyRepository) Save(ctx context.Context, p *domainproperty.Property) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.items[p.ID] = &cp
	return nil
}

// BookingRepository stores bookings in memory. Reads hand out copies so a
// caller mutating an aggregate without Save never leaks state.
type BookingRepository struct {
	mu    sync.RWMutex
	items map[domainbooking.BookingID]*domainbooking.Booking
}

func NewBookingRepository() *BookingRepository {
	return &BookingRepository{items: make(map[domainbooking.BookingID]*domainbooking.Booking)}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.items[id]
	if !ok {
		return nil, domainbooking.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// ByIDForUpdate reads without holding a lock beyond the call, like the
// pool-backed relational repository outside a transaction. Lock-holding
// fetches go through the unit of work wrapper.
func (r *BookingRepository) ByIDForUpdate(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	return r.ByID(ctx, id)
}

func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b.Version++
	cp := *b
	cp.ClearEvents()
	r.items[b.ID] = &cp
	return nil
}

func (r *BookingRepository) ListOverlapping(ctx context.Context, propertyID domainproperty.PropertyID, window daterange.DateRange) ([]*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainbooking.Booking
	for _, b := range r.items {
		if b.PropertyID != propertyID {
			continue
		}
		if b.Status != domainbooking.StatusPending && b.Status != domainbooking.StatusConfirmed {
			continue
		}
		if !b.Range.Overlaps(window) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sortByCreated(out)
	return out, nil
}

func (r *BookingRepository) ListConfirmedDeparted(ctx context.Context, now time.Time) ([]*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainbooking.Booking
	for _, b := range r.items {
		if b.Status == domainbooking.StatusConfirmed && b.Range.CheckOut.Before(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (r *BookingRepository) ListPendingHoldExpired(ctx context.Context, now time.Time) ([]*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainbooking.Booking
	for _, b := range r.items {
		if b.HoldExpired(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (r *BookingRepository) ListBalanceCandidates(ctx context.Context, cutoff time.Time) ([]*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainbooking.Booking
	for _, b := range r.items {
		if b.Status == domainbooking.StatusConfirmed && !b.Range.CheckIn.After(cutoff) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sortByCreated(out)
	return out, nil
}

func sortByCreated(items []*domainbooking.Booking) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

// PaymentRepository stores payments in memory.
type PaymentRepository struct {
	mu    sync.RWMutex
	items map[domainpayment.PaymentID]*domainpayment.Payment
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{items: make(map[domainpayment.PaymentID]*domainpayment.Payment)}
}

func (r *PaymentRepository) ByID(ctx context.Context, id domainpayment.PaymentID) (*domainpayment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, domainpayment.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *PaymentRepository) ByIntentID(ctx context.Context, intentID string) (*domainpayment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if intentID == "" {
		return nil, domainpayment.ErrNotFound
	}
	for _, p := range r.items {
		if p.IntentID == intentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domainpayment.ErrNotFound
}

func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID string) ([]*domainpayment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainpayment.Payment
	for _, p := range r.items {
		if p.BookingID == bookingID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *PaymentRepository) Save(ctx context.Context, p *domainpayment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.items[p.ID] = &cp
	return nil
}

// RefundLogRepository enforces the gateway refund id uniqueness that makes
// refund application idempotent.
type RefundLogRepository struct {
	mu   sync.Mutex
	seen map[string]domainpayment.RefundLog
}

func NewRefundLogRepository() *RefundLogRepository {
	return &RefundLogRepository{seen: make(map[string]domainpayment.RefundLog)}
}

func (r *RefundLogRepository) Insert(ctx context.Context, log domainpayment.RefundLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[log.GatewayRefundID]; ok {
		return domainpayment.ErrDuplicateRefund
	}
	r.seen[log.GatewayRefundID] = log
	return nil
}

// ChangeLogRepository stores booking change logs in memory.
type ChangeLogRepository struct {
	mu    sync.RWMutex
	items map[string]*domainbooking.ChangeLog
}

func NewChangeLogRepository() *ChangeLogRepository {
	return &ChangeLogRepository{items: make(map[string]*domainbooking.ChangeLog)}
}

func (r *ChangeLogRepository) Create(ctx context.Context, log *domainbooking.ChangeLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *log
	r.items[log.ID] = &cp
	return nil
}

func (r *ChangeLogRepository) ByID(ctx context.Context, id string) (*domainbooking.ChangeLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	log, ok := r.items[id]
	if !ok {
		return nil, domainbooking.ErrNotFound
	}
	cp := *log
	return &cp, nil
}

func (r *ChangeLogRepository) PendingByBooking(ctx context.Context, bookingID domainbooking.BookingID) (*domainbooking.ChangeLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *domainbooking.ChangeLog
	for _, log := range r.items {
		if log.BookingID != bookingID || log.Status != domainbooking.ChangePending {
			continue
		}
		if latest == nil || log.CreatedAt.After(latest.CreatedAt) {
			latest = log
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *ChangeLogRepository) Save(ctx context.Context, log *domainbooking.ChangeLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *log
	r.items[log.ID] = &cp
	return nil
}

func (r *ChangeLogRepository) SupersedePending(ctx context.Context, bookingID domainbooking.BookingID, exceptID string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, log := range r.items {
		if log.BookingID != bookingID || log.Status != domainbooking.ChangePending {
			continue
		}
		if exceptID != "" && log.ID == exceptID {
			continue
		}
		log.MarkSuperseded(now)
		count++
	}
	return count, nil
}
