// Package currency resolves the currency applicable to a money-bearing row
// and converts amounts to USD from stored exchange rates.
package currency

import (
	"strings"

	"github.com/Rhymond/go-money"
)

// USD is the reporting currency every amount is converted to
const USD = "USD"

// Resolve returns the first non-empty currency in the order item, activity
// default, organization default. ok is false when all three are empty.
func Resolve(item, activityDefault, orgDefault string) (string, bool) {
	for _, candidate := range []string{item, activityDefault, orgDefault} {
		if c := strings.TrimSpace(candidate); c != "" {
			return strings.ToUpper(c), true
		}
	}
	return "", false
}

// Known reports whether code is an ISO 4217 currency
func Known(code string) bool {
	return money.GetCurrency(strings.ToUpper(strings.TrimSpace(code))) != nil
}

// DefaultSupported lists the currencies with maintained USD rates
var DefaultSupported = []string{
	"USD", "EUR", "GBP", "JPY", "AUD", "CAD", "CHF", "CNY", "SEK", "NZD",
	"MXN", "SGD", "HKD", "NOK", "TRY", "RUB", "INR", "BRL", "ZAR", "KRW",
	"PLN", "CZK", "HUF", "RON", "BGN", "HRK", "DKK", "THB", "MYR", "PHP",
	"IDR", "VND", "EGP", "MAD", "NGN", "KES", "GHS", "UGX", "TZS", "ZMW",
}
