package merge

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lherron/iatisync/internal/currency"
	"github.com/lherron/iatisync/internal/store"
)

// Signature is the natural key of a transaction. Two transactions with the
// same signature are the same fact.
type Signature struct {
	Type     string
	Date     string
	Value    string
	Currency string
}

// NewSignature normalizes the key fields of a transaction
func NewSignature(txType, date string, value decimal.Decimal, cur string) Signature {
	cur = strings.ToUpper(strings.TrimSpace(cur))
	if cur == "" {
		cur = currency.USD
	}
	return Signature{
		Type:     strings.TrimSpace(txType),
		Date:     strings.TrimSpace(date),
		Value:    normalizeValue(value),
		Currency: cur,
	}
}

// SignatureOf returns the signature of a resolved transaction row
func SignatureOf(t store.Transaction) Signature {
	return NewSignature(t.Type, t.Date, t.Value, t.Currency)
}

// SignatureOfKey returns the signature of a stored transaction key. A value
// that does not parse as a decimal is compared verbatim.
func SignatureOfKey(k store.TransactionKey) Signature {
	v, err := decimal.NewFromString(strings.TrimSpace(k.Value))
	if err != nil {
		sig := NewSignature(k.Type, k.Date, decimal.Zero, k.Currency)
		sig.Value = strings.TrimSpace(k.Value)
		return sig
	}
	return NewSignature(k.Type, k.Date, v, k.Currency)
}

// SignatureSet builds the lookup set for FilterNew from stored keys
func SignatureSet(keys []store.TransactionKey) map[Signature]struct{} {
	set := make(map[Signature]struct{}, len(keys))
	for _, k := range keys {
		set[SignatureOfKey(k)] = struct{}{}
	}
	return set
}

// FilterNew keeps the incoming transactions whose signature is absent from
// existing. Duplicates within incoming collapse to the first occurrence.
func FilterNew(existing map[Signature]struct{}, incoming []store.Transaction) []store.Transaction {
	seen := make(map[Signature]struct{}, len(existing)+len(incoming))
	for sig := range existing {
		seen[sig] = struct{}{}
	}

	fresh := make([]store.Transaction, 0, len(incoming))
	for _, t := range incoming {
		sig := SignatureOf(t)
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}
		fresh = append(fresh, t)
	}
	return fresh
}

// normalizeValue renders a decimal without trailing zeros so 1000, 1000.0
// and 1000.00 share a signature.
func normalizeValue(v decimal.Decimal) string {
	return v.String()
}
