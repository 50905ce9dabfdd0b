package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"estancias/internal/app/outbox"
	appuow "estancias/internal/app/uow"
	domainbooking "estancias/internal/domain/booking"
	domainpayment "estancias/internal/domain/payment"
	domainproperty "estancias/internal/domain/property"
)

var ErrFactoryMisconfigured = errors.New("postgres: unit of work factory misconfigured")

// Factory opens unit-of-work transactions on the shared pool.
type Factory struct {
	Pool *pgxpool.Pool
}

func (f Factory) Begin(ctx context.Context, opts appuow.TxOptions) (appuow.UnitOfWork, error) {
	if f.Pool == nil {
		return nil, ErrFactoryMisconfigured
	}
	txOpts := pgx.TxOptions{}
	if opts.ReadOnly {
		txOpts.AccessMode = pgx.ReadOnly
	}
	tx, err := f.Pool.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	return &Unit{tx: tx}, nil
}

// Unit binds all repositories to one transaction. FOR UPDATE locks taken by
// the repositories live until the transaction ends; after-commit hooks run
// only once the commit has succeeded, so gateway calls registered there can
// never act on rolled-back state.
type Unit struct {
	tx    pgx.Tx
	hooks []func(ctx context.Context)
	done  bool
}

func (u *Unit) Properties() domainproperty.Repository {
	return &PropertyRepository{q: u.tx}
}

func (u *Unit) Bookings() domainbooking.Repository {
	return &BookingRepository{q: u.tx}
}

func (u *Unit) Payments() domainpayment.Repository {
	return &PaymentRepository{q: u.tx}
}

func (u *Unit) RefundLogs() domainpayment.RefundLogRepository {
	return &RefundLogRepository{q: u.tx}
}

func (u *Unit) ChangeLogs() domainbooking.ChangeLogRepository {
	return &ChangeLogRepository{q: u.tx}
}

func (u *Unit) Outbox() outbox.Outbox {
	return &OutboxRepository{q: u.tx}
}

func (u *Unit) AfterCommit(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	u.hooks = append(u.hooks, fn)
}

func (u *Unit) Commit(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Commit(ctx); err != nil {
		u.hooks = nil
		return fmt.Errorf("postgres: commit: %w", err)
	}
	hooks := u.hooks
	u.hooks = nil
	for _, fn := range hooks {
		fn(ctx)
	}
	return nil
}

func (u *Unit) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	u.hooks = nil
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}
