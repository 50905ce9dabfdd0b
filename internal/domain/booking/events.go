package booking

import (
	"time"

	"estancias/internal/domain/shared/events"
	"estancias/internal/domain/shared/money"
)

type BookingRequested struct {
	events.BaseEvent
	PropertyID string
	GuestID    string
	CheckIn    time.Time
	CheckOut   time.Time
	Total      money.Money
}

type BookingConfirmed struct {
	events.BaseEvent
	PropertyID string
	CheckIn    time.Time
	CheckOut   time.Time
	Total      money.Money
}

type BookingCancelled struct {
	events.BaseEvent
	PropertyID string
}

type BookingExpired struct {
	events.BaseEvent
	PropertyID string
}

type BookingDatesChanged struct {
	events.BaseEvent
	PropertyID string
	CheckIn    time.Time
	CheckOut   time.Time
	Total      money.Money
}
