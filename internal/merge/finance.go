package merge

import (
	"context"
	"strconv"
	"strings"

	"github.com/lherron/iatisync/internal/currency"
	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/iati"
	"github.com/lherron/iatisync/internal/store"
)

// mergeTransactions inserts transactions whose signature is not stored yet.
// Stored transactions are never changed or removed.
func mergeTransactions(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	o := newOutcome(iati.GroupTransactions, len(p.Transactions))

	rows := make([]store.Transaction, 0, len(p.Transactions))
	for i, t := range p.Transactions {
		if w, bad := invalidRow(o.Group, i, t); bad {
			o.skip(w)
			continue
		}
		code, ok := env.resolveCurrency(t.Currency)
		if !ok {
			o.skip(currencyMissing(o.Group, i, describeMoney("transaction type "+t.Type, t.Date, t.Value)))
			continue
		}

		provider, err := env.resolveOrg(ctx, o, t.ProviderOrg)
		if err != nil {
			o.skipErr(err)
			continue
		}
		receiver, err := env.resolveOrg(ctx, o, t.ReceiverOrg)
		if err != nil {
			o.skipErr(err)
			continue
		}

		row := store.Transaction{
			Type:                strings.TrimSpace(t.Type),
			Date:                strings.TrimSpace(t.Date),
			Value:               t.Value,
			Currency:            code,
			ValueDate:           strings.TrimSpace(t.ValueDate),
			Description:         t.Description,
			ProviderOrgUUID:     orgUUID(provider),
			ProviderOrgName:     orgName(t.ProviderOrg, provider),
			ReceiverOrgUUID:     orgUUID(receiver),
			ReceiverOrgName:     orgName(t.ReceiverOrg, receiver),
			AidType:             t.AidType,
			FinanceType:         t.FinanceType,
			TiedStatus:          t.TiedStatus,
			FlowType:            t.FlowType,
			DisbursementChannel: t.DisbursementChannel,
		}
		if t.ProviderOrg != nil {
			row.ProviderOrgRef = t.ProviderOrg.Ref
		}
		if t.ReceiverOrg != nil {
			row.ReceiverOrgRef = t.ReceiverOrg.Ref
		}
		row.USDValue, row.ExchangeRate = env.toUSD(ctx, t.Value, code, currency.ValueDate(t.ValueDate, t.Date))
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return o.done()
	}

	keys, err := env.Store.Finance.TransactionKeys(ctx, env.ActivityID)
	if err != nil {
		return o.fail(err)
	}
	fresh := FilterNew(SignatureSet(keys), rows)
	added, err := env.Store.Finance.InsertTransactions(ctx, env.ActivityID, fresh)
	if err != nil {
		return o.fail(err)
	}
	o.Added = added
	return o.done()
}

// mergeBudgets replaces the activity's budgets
func mergeBudgets(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	o := newOutcome(iati.GroupBudgets, len(p.Budgets))

	rows := make([]store.Budget, 0, len(p.Budgets))
	for i, b := range p.Budgets {
		if w, bad := invalidRow(o.Group, i, b); bad {
			o.skip(w)
			continue
		}
		code, ok := env.resolveCurrency(b.Currency)
		if !ok {
			o.skip(currencyMissing(o.Group, i, describeMoney("budget", b.PeriodStart, b.Value)))
			continue
		}
		row := store.Budget{
			Type:        b.Type,
			Status:      b.Status,
			PeriodStart: strings.TrimSpace(b.PeriodStart),
			PeriodEnd:   strings.TrimSpace(b.PeriodEnd),
			Value:       b.Value,
			Currency:    code,
			ValueDate:   strings.TrimSpace(b.ValueDate),
		}
		row.USDValue, _ = env.toUSD(ctx, b.Value, code, currency.ValueDate(b.ValueDate, b.PeriodStart))
		rows = append(rows, row)
	}
	if o.allSkipped() {
		return o.done()
	}

	n, err := env.Store.Finance.ReplaceBudgets(ctx, env.ActivityID, rows)
	if err != nil {
		return o.fail(err)
	}
	o.Added = n
	return o.done()
}

// mergePlannedDisbursements replaces the activity's planned disbursements
func mergePlannedDisbursements(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	o := newOutcome(iati.GroupPlannedDisbursements, len(p.PlannedDisbursements))

	rows := make([]store.PlannedDisbursement, 0, len(p.PlannedDisbursements))
	for i, pd := range p.PlannedDisbursements {
		if w, bad := invalidRow(o.Group, i, pd); bad {
			o.skip(w)
			continue
		}
		code, ok := env.resolveCurrency(pd.Currency)
		if !ok {
			o.skip(currencyMissing(o.Group, i, describeMoney("planned disbursement", pd.PeriodStart, pd.Value)))
			continue
		}
		provider, err := env.resolveOrg(ctx, o, pd.ProviderOrg)
		if err != nil {
			o.skipErr(err)
			continue
		}
		receiver, err := env.resolveOrg(ctx, o, pd.ReceiverOrg)
		if err != nil {
			o.skipErr(err)
			continue
		}

		row := store.PlannedDisbursement{
			Type:            pd.Type,
			PeriodStart:     strings.TrimSpace(pd.PeriodStart),
			PeriodEnd:       strings.TrimSpace(pd.PeriodEnd),
			Value:           pd.Value,
			Currency:        code,
			ValueDate:       strings.TrimSpace(pd.ValueDate),
			ProviderOrgUUID: orgUUID(provider),
			ProviderOrgName: orgName(pd.ProviderOrg, provider),
			ReceiverOrgUUID: orgUUID(receiver),
			ReceiverOrgName: orgName(pd.ReceiverOrg, receiver),
		}
		row.USDValue, _ = env.toUSD(ctx, pd.Value, code, currency.ValueDate(pd.ValueDate, pd.PeriodStart))
		rows = append(rows, row)
	}
	if o.allSkipped() {
		return o.done()
	}

	n, err := env.Store.Finance.ReplacePlannedDisbursements(ctx, env.ActivityID, rows)
	if err != nil {
		return o.fail(err)
	}
	o.Added = n
	return o.done()
}

// mergeFinancingTerms replaces loan terms, loan statuses and other flags.
// An absent block clears them.
func mergeFinancingTerms(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	in := p.FinancingTerms
	if in == nil {
		o := newOutcome(iati.GroupFinancingTerms, 0)
		if _, err := env.Store.Finance.ReplaceFinancingTerms(ctx, env.ActivityID, nil); err != nil {
			return o.fail(err)
		}
		return o.done()
	}

	total := len(in.LoanStatuses) + len(in.OtherFlags)
	if in.LoanTerms != nil {
		total++
	}
	o := newOutcome(iati.GroupFinancingTerms, total)

	terms := &store.FinancingTerms{}
	if lt := in.LoanTerms; lt != nil {
		terms.HasLoanTerms = true
		terms.Rate1 = lt.Rate1
		terms.Rate2 = lt.Rate2
		terms.RepaymentType = lt.RepaymentType
		terms.RepaymentPlan = lt.RepaymentPlan
		terms.CommitmentDate = lt.CommitmentDate
		terms.RepaymentFirstDate = lt.RepaymentFirstDate
		terms.RepaymentFinalDate = lt.RepaymentFinalDate
	}
	for i, ls := range in.LoanStatuses {
		if w, bad := invalidRow(o.Group, i, ls); bad {
			o.skip(w)
			continue
		}
		code, ok := env.resolveCurrency(ls.Currency)
		if !ok {
			o.skip(domain.Warning{
				Type:    domain.CodeCurrencyUnresolvable,
				Message: "currency missing: loan status " + strconv.Itoa(ls.Year),
				Details: map[string]interface{}{"group": string(o.Group), "index": i},
			})
			continue
		}
		terms.LoanStatuses = append(terms.LoanStatuses, store.LoanStatus{
			Year:                 ls.Year,
			Currency:             code,
			ValueDate:            ls.ValueDate,
			InterestReceived:     ls.InterestReceived,
			PrincipalOutstanding: ls.PrincipalOutstanding,
			PrincipalArrears:     ls.PrincipalArrears,
			InterestArrears:      ls.InterestArrears,
		})
	}
	for i, f := range in.OtherFlags {
		if w, bad := invalidRow(o.Group, i, f); bad {
			o.skip(w)
			continue
		}
		terms.Flags = append(terms.Flags, store.FinancingFlag{Code: f.Code, Significance: f.Significance})
	}
	if o.allSkipped() {
		return o.done()
	}

	n, err := env.Store.Finance.ReplaceFinancingTerms(ctx, env.ActivityID, terms)
	if err != nil {
		return o.fail(err)
	}
	o.Added = n
	return o.done()
}
