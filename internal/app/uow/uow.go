package uow

import (
	"context"

	"estancias/internal/app/outbox"
	domainbooking "estancias/internal/domain/booking"
	domainpayment "estancias/internal/domain/payment"
	domainproperty "estancias/internal/domain/property"
)

// UnitOfWork coordinates repositories inside one transaction boundary.
// ForUpdate fetches acquire row locks held until Commit/Rollback; outbound
// network calls must never run while a unit is open; register them with
// AfterCommit instead.
type UnitOfWork interface {
	Properties() domainproperty.Repository
	Bookings() domainbooking.Repository
	Payments() domainpayment.Repository
	RefundLogs() domainpayment.RefundLogRepository
	ChangeLogs() domainbooking.ChangeLogRepository
	Outbox() outbox.Outbox

	// AfterCommit defers a side effect (refund execution, notification,
	// task scheduling) until the transaction has committed. Hooks never
	// run on rollback.
	AfterCommit(fn func(ctx context.Context))

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Factory starts unit of work instances.
type Factory interface {
	Begin(ctx context.Context, opts TxOptions) (UnitOfWork, error)
}

// TxOptions configure transaction boundaries.
type TxOptions struct {
	ReadOnly bool
}
