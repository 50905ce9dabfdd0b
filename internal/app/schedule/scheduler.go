package schedule

import (
	"context"
	"time"
)

// Task names understood by the worker.
const (
	TaskChargeBalance = "charge.balance"
	TaskChargePenalty = "charge.penalty"
)

// Handle identifies one enqueued task so it can later be revoked.
type Handle struct {
	ID  string
	ETA time.Time
}

// Scheduler enqueues delayed tasks. Revoke is best-effort: a task already
// picked up by a worker must itself detect it is superseded and no-op.
type Scheduler interface {
	Enqueue(ctx context.Context, task string, payload any, eta time.Time) (Handle, error)
	Revoke(ctx context.Context, id string) error
}
