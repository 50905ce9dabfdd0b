package property

import (
	"context"
	"errors"

	"estancias/internal/domain/shared/money"
)

var (
	ErrInvalidCapacity = errors.New("property: capacity must be at least 1")
	ErrRateUnset       = errors.New("property: nightly rate must be set")
	ErrNotFound        = errors.New("property: not found")
)

type PropertyID string

// Property is a rentable unit. CalendarURL, when set, points at an external
// iCal feed whose events block local availability.
type Property struct {
	ID          PropertyID
	Name        string
	Capacity    int
	NightlyRate money.Money
	CleaningFee money.Money
	CalendarURL string
	ExportToken string
}

type CreateParams struct {
	ID          PropertyID
	Name        string
	Capacity    int
	NightlyRate money.Money
	CleaningFee money.Money
	CalendarURL string
	ExportToken string
}

func New(params CreateParams) (*Property, error) {
	if params.Capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if !params.NightlyRate.IsPositive() {
		return nil, ErrRateUnset
	}
	return &Property{
		ID:          params.ID,
		Name:        params.Name,
		Capacity:    params.Capacity,
		NightlyRate: params.NightlyRate,
		CleaningFee: params.CleaningFee,
		CalendarURL: params.CalendarURL,
		ExportToken: params.ExportToken,
	}, nil
}

// Fits reports whether a party of the given size can stay here.
func (p *Property) Fits(partySize int) bool {
	return partySize > 0 && partySize <= p.Capacity
}

type Repository interface {
	ByID(ctx context.Context, id PropertyID) (*Property, error)
	// ByIDForUpdate acquires an exclusive row lock held until the unit of
	// work commits or rolls back.
	ByIDForUpdate(ctx context.Context, id PropertyID) (*Property, error)
	Save(ctx context.Context, p *Property) error
}
