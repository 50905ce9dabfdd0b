package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	domainproperty "estancias/internal/domain/property"
	"estancias/internal/domain/shared/money"
)

const propertyColumns = `id, name, capacity, nightly_rate_cents, cleaning_fee_cents, currency, calendar_url, export_token`

// PropertyRepository reads and writes properties through the transaction it
// was bound to.
type PropertyRepository struct {
	q querier
}

func (r *PropertyRepository) ByID(ctx context.Context, id domainproperty.PropertyID) (*domainproperty.Property, error) {
	const q = `SELECT ` + propertyColumns + ` FROM properties WHERE id = $1`
	return scanProperty(r.q.QueryRow(ctx, q, string(id)))
}

func (r *PropertyRepository) ByIDForUpdate(ctx context.Context, id domainproperty.PropertyID) (*domainproperty.Property, error) {
	const q = `SELECT ` + propertyColumns + ` FROM properties WHERE id = $1 FOR UPDATE`
	return scanProperty(r.q.QueryRow(ctx, q, string(id)))
}

func (r *PropertyRepository) Save(ctx context.Context, p *domainproperty.Property) error {
	const q = `
		INSERT INTO properties (id, name, capacity, nightly_rate_cents, cleaning_fee_cents, currency, calendar_url, export_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			capacity = EXCLUDED.capacity,
			nightly_rate_cents = EXCLUDED.nightly_rate_cents,
			cleaning_fee_cents = EXCLUDED.cleaning_fee_cents,
			currency = EXCLUDED.currency,
			calendar_url = EXCLUDED.calendar_url,
			export_token = EXCLUDED.export_token`
	_, err := r.q.Exec(ctx, q,
		string(p.ID), p.Name, p.Capacity,
		p.NightlyRate.Cents, p.CleaningFee.Cents, p.NightlyRate.Currency,
		p.CalendarURL, p.ExportToken)
	return err
}

func scanProperty(row rowScanner) (*domainproperty.Property, error) {
	var (
		p        domainproperty.Property
		id       string
		rate     int64
		cleaning int64
		currency string
	)
	err := row.Scan(&id, &p.Name, &p.Capacity, &rate, &cleaning, &currency, &p.CalendarURL, &p.ExportToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainproperty.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ID = domainproperty.PropertyID(id)
	p.NightlyRate = money.Money{Cents: rate, Currency: currency}
	p.CleaningFee = money.Money{Cents: cleaning, Currency: currency}
	return &p, nil
}
