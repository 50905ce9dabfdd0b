package policies

import (
	"context"
	"time"
)

// BlockedRange is a half-open [Start, End) date interval imported from an
// external calendar feed.
type BlockedRange struct {
	Start time.Time
	End   time.Time
}

// CalendarSource fetches blocked ranges for a property's external feed.
// Implementations enforce a host allowlist, a request timeout and a maximum
// response size, and return an error (never partial data) on any violation.
// Availability checks fail closed on error.
type CalendarSource interface {
	BlockedRanges(ctx context.Context, feedURL string) ([]BlockedRange, error)
}
