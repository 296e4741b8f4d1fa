package currency

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/store"
)

// Conversion is a successful USD conversion
type Conversion struct {
	USDValue decimal.Decimal
	Rate     decimal.Decimal
	RateDate string
}

// Converter converts amounts to USD. ok is false when no conversion
// applies; that is never an error.
type Converter interface {
	ToUSD(ctx context.Context, amount decimal.Decimal, currency, date string) (Conversion, bool, error)
}

// RateSource looks up the most recent rate on or before a date
type RateSource interface {
	RateOn(ctx context.Context, currency, date string) (*store.ExchangeRate, error)
}

// RateConverter converts using dated rates from a RateSource. Lookups are
// cached for the converter's lifetime.
type RateConverter struct {
	source    RateSource
	supported map[string]struct{}
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]*store.ExchangeRate
}

// Option configures a RateConverter
type Option func(*RateConverter)

// WithSupported replaces the supported currency list
func WithSupported(codes []string) Option {
	return func(c *RateConverter) {
		c.supported = make(map[string]struct{}, len(codes))
		for _, code := range codes {
			c.supported[strings.ToUpper(code)] = struct{}{}
		}
	}
}

// WithClock sets the clock used when a row carries no date
func WithClock(now func() time.Time) Option {
	return func(c *RateConverter) { c.now = now }
}

// NewRateConverter creates a converter over source
func NewRateConverter(source RateSource, opts ...Option) *RateConverter {
	c := &RateConverter{
		source: source,
		now:    time.Now,
		cache:  map[string]*store.ExchangeRate{},
	}
	WithSupported(DefaultSupported)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ToUSD converts amount in currency on date. Non-positive amounts,
// unsupported currencies and missing rates give no conversion.
func (c *RateConverter) ToUSD(ctx context.Context, amount decimal.Decimal, currency, date string) (Conversion, bool, error) {
	if !amount.IsPositive() {
		return Conversion{}, false, nil
	}
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == USD {
		return Conversion{USDValue: amount, Rate: decimal.NewFromInt(1), RateDate: c.day(date)}, true, nil
	}
	if _, ok := c.supported[code]; !ok {
		return Conversion{}, false, nil
	}

	day := c.day(date)
	rate, err := c.lookup(ctx, code, day)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Conversion{}, false, nil
		}
		return Conversion{}, false, err
	}

	return Conversion{
		USDValue: amount.Mul(rate.RateToUSD).Round(2),
		Rate:     rate.RateToUSD,
		RateDate: rate.Date,
	}, true, nil
}

func (c *RateConverter) day(date string) string {
	date = strings.TrimSpace(date)
	if len(date) >= 10 {
		return date[:10]
	}
	return c.now().UTC().Format("2006-01-02")
}

func (c *RateConverter) lookup(ctx context.Context, code, day string) (*store.ExchangeRate, error) {
	key := code + "|" + day

	c.mu.Lock()
	rate, ok := c.cache[key]
	c.mu.Unlock()
	if ok {
		return rate, nil
	}

	rate, err := c.source.RateOn(ctx, code, day)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = rate
	c.mu.Unlock()
	return rate, nil
}

// ValueDate picks the date a row's value is converted on: the explicit
// value date, then the row's own date, then its period start.
func ValueDate(candidates ...string) string {
	for _, d := range candidates {
		if d = strings.TrimSpace(d); d != "" {
			return d
		}
	}
	return ""
}
