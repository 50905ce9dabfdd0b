package policies

import "context"

// Notification templates produced by the core.
const (
	TemplatePaymentLink      = "payment_link"
	TemplateBookingConfirmed = "booking_confirmed"
	TemplateBookingCancelled = "booking_cancelled"
)

type Notification struct {
	RecipientEmail string
	Template       string
	Context        map[string]string
}

// Notifier delivers guest-facing messages. Fire-and-forget: failures are
// logged by implementations and never affect core correctness.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}
