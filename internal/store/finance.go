package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lherron/iatisync/internal/events"
)

// FinanceStore persists transactions, budgets, planned disbursements and
// financing terms.
type FinanceStore struct {
	store *Store
}

// Transaction is a transaction row with currency and organizations already
// resolved.
type Transaction struct {
	Type                string
	Date                string
	Value               decimal.Decimal
	Currency            string
	ValueDate           string
	Description         string
	ProviderOrgUUID     string
	ProviderOrgRef      string
	ProviderOrgName     string
	ReceiverOrgUUID     string
	ReceiverOrgRef      string
	ReceiverOrgName     string
	AidType             string
	FinanceType         string
	TiedStatus          string
	FlowType            string
	DisbursementChannel string
	USDValue            *decimal.Decimal
	ExchangeRate        *decimal.Decimal
}

// TransactionKey is the stored form of a transaction's natural key
type TransactionKey struct {
	Type     string
	Date     string
	Value    string
	Currency string
}

// Budget is a budget row with its currency resolved
type Budget struct {
	Type        string
	Status      string
	PeriodStart string
	PeriodEnd   string
	Value       decimal.Decimal
	Currency    string
	ValueDate   string
	USDValue    *decimal.Decimal
}

// PlannedDisbursement is a planned disbursement row with its currency and
// organizations resolved.
type PlannedDisbursement struct {
	Type            string
	PeriodStart     string
	PeriodEnd       string
	Value           decimal.Decimal
	Currency        string
	ValueDate       string
	ProviderOrgUUID string
	ProviderOrgName string
	ReceiverOrgUUID string
	ReceiverOrgName string
	USDValue        *decimal.Decimal
}

// LoanStatus is one yearly loan status row
type LoanStatus struct {
	Year                 int
	Currency             string
	ValueDate            string
	InterestReceived     *decimal.Decimal
	PrincipalOutstanding *decimal.Decimal
	PrincipalArrears     *decimal.Decimal
	InterestArrears      *decimal.Decimal
}

// FinancingFlag is an "other flags" entry
type FinancingFlag struct {
	Code         string
	Significance int
}

// FinancingTerms is the full financing block of an activity. HasLoanTerms
// is false when only statuses or flags were supplied.
type FinancingTerms struct {
	HasLoanTerms       bool
	Rate1              *decimal.Decimal
	Rate2              *decimal.Decimal
	RepaymentType      string
	RepaymentPlan      string
	CommitmentDate     string
	RepaymentFirstDate string
	RepaymentFinalDate string
	LoanStatuses       []LoanStatus
	Flags              []FinancingFlag
}

// TransactionKeys returns the natural keys of the activity's stored
// transactions.
func (s *FinanceStore) TransactionKeys(ctx context.Context, activityID string) ([]TransactionKey, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT transaction_type, coalesce(transaction_date, ''), value, currency
		FROM transactions WHERE activity_id = ?`, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction keys: %w", err)
	}
	defer rows.Close()

	var keys []TransactionKey
	for rows.Next() {
		var k TransactionKey
		if err := rows.Scan(&k.Type, &k.Date, &k.Value, &k.Currency); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// InsertTransactions adds transactions, ignoring any whose natural key is
// already stored. It returns the number of rows actually inserted.
func (s *FinanceStore) InsertTransactions(ctx context.Context, activityID string, txns []Transaction) (int, error) {
	inserted := 0
	err := s.store.withTx(ctx, func(tx *sql.Tx, _ *events.Writer) error {
		for _, t := range txns {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO transactions (uuid, activity_id, transaction_type, transaction_date, value,
					currency, value_date, description, provider_org_uuid, provider_org_ref,
					provider_org_name, receiver_org_uuid, receiver_org_ref, receiver_org_name,
					aid_type, finance_type, tied_status, flow_type, disbursement_channel,
					usd_value, exchange_rate)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`, uuid.NewString(), activityID, t.Type, nullString(t.Date), t.Value.String(),
				t.Currency, nullString(t.ValueDate), nullString(t.Description),
				nullString(t.ProviderOrgUUID), nullString(t.ProviderOrgRef), nullString(t.ProviderOrgName),
				nullString(t.ReceiverOrgUUID), nullString(t.ReceiverOrgRef), nullString(t.ReceiverOrgName),
				nullString(t.AidType), nullString(t.FinanceType), nullString(t.TiedStatus),
				nullString(t.FlowType), nullString(t.DisbursementChannel),
				nullDecimal(t.USDValue), nullDecimal(t.ExchangeRate))
			if err != nil {
				return fmt.Errorf("failed to insert transaction: %w", err)
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// CountTransactions returns the number of stored transactions for an activity
func (s *FinanceStore) CountTransactions(ctx context.Context, activityID string) (int, error) {
	var n int
	err := s.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE activity_id = ?", activityID).Scan(&n)
	return n, err
}

// ReplaceBudgets swaps the activity's budgets for the given set
func (s *FinanceStore) ReplaceBudgets(ctx context.Context, activityID string, budgets []Budget) (int, error) {
	err := s.store.replaceAll(ctx, activityID, []string{"budgets"}, func(tx *sql.Tx) error {
		for _, b := range budgets {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO budgets (uuid, activity_id, budget_type, status, period_start, period_end,
					value, currency, value_date, usd_value)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, uuid.NewString(), activityID, nullString(b.Type), nullString(b.Status),
				nullString(b.PeriodStart), nullString(b.PeriodEnd), b.Value.String(), b.Currency,
				nullString(b.ValueDate), nullDecimal(b.USDValue)); err != nil {
				return fmt.Errorf("failed to insert budget: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(budgets), nil
}

// ReplacePlannedDisbursements swaps the activity's planned disbursements for
// the given set.
func (s *FinanceStore) ReplacePlannedDisbursements(ctx context.Context, activityID string, pds []PlannedDisbursement) (int, error) {
	err := s.store.replaceAll(ctx, activityID, []string{"planned_disbursements"}, func(tx *sql.Tx) error {
		for _, pd := range pds {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO planned_disbursements (uuid, activity_id, disbursement_type, period_start,
					period_end, value, currency, value_date, provider_org_uuid, provider_org_name,
					receiver_org_uuid, receiver_org_name, usd_value)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, uuid.NewString(), activityID, nullString(pd.Type), nullString(pd.PeriodStart),
				nullString(pd.PeriodEnd), pd.Value.String(), pd.Currency, nullString(pd.ValueDate),
				nullString(pd.ProviderOrgUUID), nullString(pd.ProviderOrgName),
				nullString(pd.ReceiverOrgUUID), nullString(pd.ReceiverOrgName),
				nullDecimal(pd.USDValue)); err != nil {
				return fmt.Errorf("failed to insert planned disbursement: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(pds), nil
}

// ReplaceFinancingTerms swaps loan terms, loan statuses and flags. A nil
// terms value clears all three.
func (s *FinanceStore) ReplaceFinancingTerms(ctx context.Context, activityID string, terms *FinancingTerms) (int, error) {
	written := 0
	tables := []string{"financing_terms", "loan_statuses", "financing_flags"}
	err := s.store.replaceAll(ctx, activityID, tables, func(tx *sql.Tx) error {
		if terms == nil {
			return nil
		}
		if terms.HasLoanTerms {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO financing_terms (activity_id, rate_1, rate_2, repayment_type, repayment_plan,
					commitment_date, repayment_first_date, repayment_final_date)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, activityID, nullDecimal(terms.Rate1), nullDecimal(terms.Rate2),
				nullString(terms.RepaymentType), nullString(terms.RepaymentPlan),
				nullString(terms.CommitmentDate), nullString(terms.RepaymentFirstDate),
				nullString(terms.RepaymentFinalDate)); err != nil {
				return fmt.Errorf("failed to insert loan terms: %w", err)
			}
			written++
		}
		for _, ls := range terms.LoanStatuses {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO loan_statuses (uuid, activity_id, year, currency, value_date,
					interest_received, principal_outstanding, principal_arrears, interest_arrears)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, uuid.NewString(), activityID, ls.Year, ls.Currency, nullString(ls.ValueDate),
				nullDecimal(ls.InterestReceived), nullDecimal(ls.PrincipalOutstanding),
				nullDecimal(ls.PrincipalArrears), nullDecimal(ls.InterestArrears)); err != nil {
				return fmt.Errorf("failed to insert loan status %d: %w", ls.Year, err)
			}
			written++
		}
		for _, f := range terms.Flags {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO financing_flags (activity_id, code, significance) VALUES (?, ?, ?)
				ON CONFLICT (activity_id, code) DO UPDATE SET significance = excluded.significance
			`, activityID, f.Code, f.Significance); err != nil {
				return fmt.Errorf("failed to insert financing flag %s: %w", f.Code, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// CountRows returns the number of rows the activity owns in a child table
func (s *Store) CountRows(ctx context.Context, table, activityID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE activity_id = ?", table), activityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
