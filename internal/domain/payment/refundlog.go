package payment

import (
	"context"
	"time"

	"estancias/internal/domain/shared/money"
)

// RefundLog is one row per gateway refund id actually observed. Its
// uniqueness on GatewayRefundID is the durable idempotency guard against
// replayed refund events. Append-only.
type RefundLog struct {
	ID              string
	GatewayRefundID string
	PaymentID       PaymentID
	Amount          money.Money
	Outcome         RefundStatus
	ObservedAt      time.Time
}

type RefundLogRepository interface {
	// Insert appends the row, returning ErrDuplicateRefund when the
	// gateway refund id has been seen before.
	Insert(ctx context.Context, log RefundLog) error
}
