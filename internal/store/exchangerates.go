package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ExchangeRateStore holds dated currency-to-USD rates
type ExchangeRateStore struct {
	store *Store
}

// ExchangeRate is one dated rate. RateToUSD multiplies an amount in
// Currency to give USD.
type ExchangeRate struct {
	Currency  string          `json:"currency"`
	Date      string          `json:"date"`
	RateToUSD decimal.Decimal `json:"rate_to_usd"`
	Source    string          `json:"source"`
}

// Set stores or replaces the rate for a currency on a date
func (s *ExchangeRateStore) Set(ctx context.Context, r ExchangeRate) error {
	if r.Source == "" {
		r.Source = "manual"
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO exchange_rates (currency, rate_date, rate_to_usd, source) VALUES (?, ?, ?, ?)
		ON CONFLICT (currency, rate_date) DO UPDATE SET
			rate_to_usd = excluded.rate_to_usd,
			source = excluded.source,
			updated_at = strftime('%Y-%m-%dT%H:%M:%SZ','now')
	`, strings.ToUpper(r.Currency), r.Date, r.RateToUSD.String(), r.Source)
	if err != nil {
		return fmt.Errorf("failed to store exchange rate: %w", err)
	}
	return nil
}

// RateOn returns the most recent rate dated on or before date
func (s *ExchangeRateStore) RateOn(ctx context.Context, currency, date string) (*ExchangeRate, error) {
	var r ExchangeRate
	var rate string
	err := s.store.db.QueryRowContext(ctx, `
		SELECT currency, rate_date, rate_to_usd, source FROM exchange_rates
		WHERE currency = ? AND rate_date <= ?
		ORDER BY rate_date DESC LIMIT 1
	`, strings.ToUpper(currency), date).Scan(&r.Currency, &r.Date, &rate, &r.Source)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("%s rate on %s", currency, date))
	}
	r.RateToUSD, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("bad stored rate %q: %w", rate, err)
	}
	return &r, nil
}

// List returns stored rates, newest first, optionally for one currency
func (s *ExchangeRateStore) List(ctx context.Context, currency string) ([]ExchangeRate, error) {
	query := "SELECT currency, rate_date, rate_to_usd, source FROM exchange_rates"
	var args []interface{}
	if currency != "" {
		query += " WHERE currency = ?"
		args = append(args, strings.ToUpper(currency))
	}
	query += " ORDER BY currency, rate_date DESC"

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchange rates: %w", err)
	}
	defer rows.Close()

	var out []ExchangeRate
	for rows.Next() {
		var r ExchangeRate
		var rate string
		if err := rows.Scan(&r.Currency, &r.Date, &rate, &r.Source); err != nil {
			return nil, err
		}
		if r.RateToUSD, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("bad stored rate %q: %w", rate, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
