package merge

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/lherron/iatisync/internal/currency"
	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/iati"
	"github.com/lherron/iatisync/internal/markers"
	"github.com/lherron/iatisync/internal/orgs"
	"github.com/lherron/iatisync/internal/relations"
	"github.com/lherron/iatisync/internal/store"
)

// Env is what a merger needs from the surrounding run
type Env struct {
	ActivityID string
	Activity   *domain.Activity

	// OrgCurrency is the reporting organization's default currency, the
	// last currency fallback.
	OrgCurrency string

	Store     *store.Store
	Orgs      *orgs.Resolver
	Markers   *markers.Resolver
	Linker    *relations.Linker
	Converter currency.Converter
	Log       *logrus.Entry
}

// Merger merges one field group from the payload
type Merger func(ctx context.Context, env *Env, p *iati.Payload) *Outcome

var mergers = map[iati.Group]Merger{
	iati.GroupParticipatingOrgs:    mergeParticipatingOrgs,
	iati.GroupSectors:              mergeSectors,
	iati.GroupLocations:            mergeLocations,
	iati.GroupTransactions:         mergeTransactions,
	iati.GroupBudgets:              mergeBudgets,
	iati.GroupPlannedDisbursements: mergePlannedDisbursements,
	iati.GroupPolicyMarkers:        mergePolicyMarkers,
	iati.GroupHumanitarianScope:    mergeHumanitarianScopes,
	iati.GroupDocumentLinks:        mergeDocumentLinks,
	iati.GroupFinancingTerms:       mergeFinancingTerms,
	iati.GroupTags:                 mergeTags,
	iati.GroupCountryBudgetItems:   mergeCountryBudgetItems,
	iati.GroupRelatedActivities:    mergeRelatedActivities,
	iati.GroupContacts:             mergeContacts,
	iati.GroupConditions:           mergeConditions,
}

// For returns the merger for a group
func For(group iati.Group) (Merger, bool) {
	m, ok := mergers[group]
	return m, ok
}

func (e *Env) log() *logrus.Entry {
	if e.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return e.Log
}

// resolveCurrency applies the item, activity, organization fallback
func (e *Env) resolveCurrency(item string) (string, bool) {
	activityDefault := ""
	if e.Activity != nil && e.Activity.DefaultCurrency != nil {
		activityDefault = *e.Activity.DefaultCurrency
	}
	code, ok := currency.Resolve(item, activityDefault, e.OrgCurrency)
	if ok && !currency.Known(code) {
		e.log().WithField("currency", code).Warn("currency is not an ISO 4217 code")
	}
	return code, ok
}

// toUSD converts an amount, logging lookup failures. A missing conversion
// leaves both return values nil.
func (e *Env) toUSD(ctx context.Context, amount decimal.Decimal, code, date string) (*decimal.Decimal, *decimal.Decimal) {
	if e.Converter == nil {
		return nil, nil
	}
	conv, ok, err := e.Converter.ToUSD(ctx, amount, code, date)
	if err != nil {
		e.log().WithError(err).WithField("currency", code).Warn("USD conversion failed")
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	return &conv.USDValue, &conv.Rate
}

// resolveOrg resolves an optional organization reference. A nil result
// with nil error means there was nothing to resolve.
func (e *Env) resolveOrg(ctx context.Context, o *Outcome, ref *iati.OrgRef) (*orgs.Resolution, error) {
	if ref.Empty() {
		return nil, nil
	}
	res, err := e.Orgs.ResolveOrCreate(ctx, orgs.Ref{Ref: ref.Ref, Name: ref.Name, Type: ref.Type})
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		o.warn(w)
	}
	return res, nil
}

func orgName(ref *iati.OrgRef, res *orgs.Resolution) string {
	if ref != nil && ref.Name != "" {
		return ref.Name
	}
	if res != nil {
		return res.Organization.Name
	}
	return ""
}

func orgUUID(res *orgs.Resolution) string {
	if res == nil {
		return ""
	}
	return res.OrganizationID
}

func describeMoney(kind, date string, value decimal.Decimal) string {
	if date == "" {
		date = "undated"
	}
	return fmt.Sprintf("%s %s value %s", kind, date, value.String())
}
