package currency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/store"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name           string
		item, act, org string
		want           string
		wantResolvable bool
	}{
		{"item wins", "eur", "GBP", "USD", "EUR", true},
		{"activity fallback", " ", "gbp", "USD", "GBP", true},
		{"org fallback", "", "", "Usd", "USD", true},
		{"unresolvable", "", "  ", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.item, tt.act, tt.org)
			assert.Equal(t, tt.wantResolvable, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKnown(t *testing.T) {
	assert.True(t, Known("eur"))
	assert.True(t, Known("XOF"))
	assert.False(t, Known("ZZZ"))
	assert.False(t, Known(""))
}

type fakeRates struct {
	rates map[string]*store.ExchangeRate
	calls int
}

func (f *fakeRates) RateOn(_ context.Context, currency, date string) (*store.ExchangeRate, error) {
	f.calls++
	if r, ok := f.rates[currency]; ok && r.Date <= date {
		return r, nil
	}
	return nil, fmt.Errorf("no rate: %w", domain.ErrNotFound)
}

func TestRateConverter_ToUSD(t *testing.T) {
	rates := &fakeRates{rates: map[string]*store.ExchangeRate{
		"EUR": {Currency: "EUR", Date: "2024-01-01", RateToUSD: decimal.RequireFromString("1.105")},
	}}
	clock := func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	c := NewRateConverter(rates, WithClock(clock))
	ctx := context.Background()

	conv, ok, err := c.ToUSD(ctx, decimal.NewFromInt(100), "eur", "2024-02-01")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "110.5", conv.USDValue.String())
	assert.Equal(t, "2024-01-01", conv.RateDate)

	_, _, err = c.ToUSD(ctx, decimal.NewFromInt(5), "EUR", "2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, 1, rates.calls, "second lookup should hit the cache")

	conv, ok, err = c.ToUSD(ctx, decimal.NewFromInt(42), "USD", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, conv.USDValue.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, "2024-06-01", conv.RateDate)

	_, ok, err = c.ToUSD(ctx, decimal.Zero, "EUR", "2024-02-01")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.ToUSD(ctx, decimal.NewFromInt(10), "MMK", "2024-02-01")
	require.NoError(t, err)
	assert.False(t, ok, "unsupported currency")

	_, ok, err = c.ToUSD(ctx, decimal.NewFromInt(10), "GBP", "2024-02-01")
	require.NoError(t, err)
	assert.False(t, ok, "missing rate")
}

func TestValueDate(t *testing.T) {
	assert.Equal(t, "2024-01-02", ValueDate("", " 2024-01-02 ", "2024-01-03"))
	assert.Equal(t, "", ValueDate("", ""))
}
