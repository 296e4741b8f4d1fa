package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/iatisync/internal/currency"
	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/iati"
	"github.com/lherron/iatisync/internal/logging"
	"github.com/lherron/iatisync/internal/markers"
	"github.com/lherron/iatisync/internal/orgs"
	"github.com/lherron/iatisync/internal/relations"
	"github.com/lherron/iatisync/internal/store"
	"github.com/lherron/iatisync/internal/testutil"
)

func newEnv(t *testing.T, opts ...testutil.ActivityOption) (*Env, *store.Store) {
	t.Helper()
	database, _ := testutil.TempDB(t)
	testutil.SeedActivity(t, database, "act-1", opts...)
	s := store.New(database)

	a, err := s.Activities.Get(context.Background(), "act-1")
	require.NoError(t, err)

	log := logging.Discard().WithField("test", t.Name())
	return &Env{
		ActivityID: "act-1",
		Activity:   a,
		Store:      s,
		Orgs:       orgs.NewResolver(s.Organizations, "tester", nil, log),
		Markers:    markers.NewResolver(s.PolicyMarkers),
		Linker:     relations.NewLinker(s.Activities, s.Relationships),
		Converter:  currency.NewRateConverter(s.ExchangeRates),
		Log:        log,
	}, s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intp(i int) *int { return &i }

func TestFilterNew(t *testing.T) {
	existing := SignatureSet([]store.TransactionKey{
		{Type: "2", Date: "2024-01-01", Value: "1000", Currency: "USD"},
	})
	incoming := []store.Transaction{
		{Type: "2", Date: "2024-01-01", Value: dec("1000.00"), Currency: "usd"},
		{Type: "2", Date: "", Value: dec("50"), Currency: ""},
		{Type: "2", Date: " ", Value: dec("50.0"), Currency: "USD"},
		{Type: "3", Date: "2024-01-01", Value: dec("1000"), Currency: "USD"},
	}

	fresh := FilterNew(existing, incoming)
	require.Len(t, fresh, 2)
	assert.Equal(t, "", fresh[0].Date)
	assert.Equal(t, "3", fresh[1].Type)
}

func TestSignature_Normalizes(t *testing.T) {
	a := NewSignature(" 2 ", "", dec("10.50"), "")
	b := SignatureOfKey(store.TransactionKey{Type: "2", Value: "10.5", Currency: "usd"})
	assert.Equal(t, a, b)
	assert.Equal(t, "USD", a.Currency)
}

func TestTransactions_CurrencyMissingDropped(t *testing.T) {
	env, s := newEnv(t)
	ctx := context.Background()

	out := mergeTransactions(ctx, env, &iati.Payload{Transactions: []iati.Transaction{
		{Type: "2", Date: "2024-01-01", Value: dec("1000")},
		{Type: "3", Date: "2024-02-01", Value: dec("500")},
	}})

	require.NoError(t, out.Err)
	assert.False(t, out.Updated)
	assert.Equal(t, 2, out.Skipped)
	require.Len(t, out.Warnings, 2)
	for _, w := range out.Warnings {
		assert.Equal(t, domain.CodeCurrencyUnresolvable, w.Type)
		assert.Contains(t, w.Message, "currency missing: ")
	}
	n, err := s.Finance.CountTransactions(ctx, "act-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTransactions_FallbackAndIdempotent(t *testing.T) {
	env, s := newEnv(t, testutil.WithDefaultCurrency("EUR"))
	ctx := context.Background()
	require.NoError(t, s.ExchangeRates.Set(ctx, store.ExchangeRate{Currency: "EUR", Date: "2024-01-01", RateToUSD: dec("1.1")}))

	payload := &iati.Payload{Transactions: []iati.Transaction{
		{Type: "2", Date: "2024-01-15", Value: dec("1000"), ProviderOrg: &iati.OrgRef{Ref: "XM-DAC-1", Name: "Donor"}},
		{Type: "2", Date: "2024-01-15", Value: dec("1000.00")},
	}}

	out := mergeTransactions(ctx, env, payload)
	require.NoError(t, out.Err)
	assert.True(t, out.Updated)
	assert.Equal(t, 1, out.Added, "in-batch duplicate collapses")

	var usd, cur string
	require.NoError(t, s.DB().QueryRow(
		"SELECT currency, usd_value FROM transactions WHERE activity_id = 'act-1'").Scan(&cur, &usd))
	assert.Equal(t, "EUR", cur)
	assert.Equal(t, "1100", usd)

	again := mergeTransactions(ctx, env, payload)
	require.NoError(t, again.Err)
	assert.True(t, again.Updated)
	assert.Zero(t, again.Added)

	n, err := s.Finance.CountTransactions(ctx, "act-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	count, err := s.Organizations.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTransactions_BlankOrgRefStoredUnlinked(t *testing.T) {
	env, s := newEnv(t, testutil.WithDefaultCurrency("USD"))

	out := mergeTransactions(context.Background(), env, &iati.Payload{Transactions: []iati.Transaction{
		{Type: "2", Date: "2024-03-01", Value: dec("75"),
			ProviderOrg: &iati.OrgRef{Ref: "   ", Name: " "}, ReceiverOrg: &iati.OrgRef{Ref: "\t"}},
	}})
	require.NoError(t, out.Err)
	assert.Equal(t, 1, out.Added)
	assert.Empty(t, out.Warnings)
	assert.Equal(t, 1, testutil.CountRows(t, s.DB(), "transactions", "provider_org_uuid IS NULL"))
	count, err := s.Organizations.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTransactions_OrganizationCurrencyFallback(t *testing.T) {
	env, s := newEnv(t)
	env.OrgCurrency = "gbp"

	out := mergeTransactions(context.Background(), env, &iati.Payload{Transactions: []iati.Transaction{
		{Type: "1", Value: dec("20")},
	}})
	require.NoError(t, out.Err)
	assert.Equal(t, 1, out.Added)
	assert.Equal(t, 1, testutil.CountRows(t, s.DB(), "transactions", "currency = 'GBP' AND transaction_date IS NULL"))
}

func TestBudgetsAndDisbursements_SkippedIndependently(t *testing.T) {
	env, s := newEnv(t)
	ctx := context.Background()

	_, err := s.Finance.ReplaceBudgets(ctx, "act-1", []store.Budget{{Value: dec("1"), Currency: "USD"}})
	require.NoError(t, err)

	budgets := mergeBudgets(ctx, env, &iati.Payload{Budgets: []iati.Budget{{Value: dec("100"), PeriodStart: "2024-01-01"}}})
	pds := mergePlannedDisbursements(ctx, env, &iati.Payload{PlannedDisbursements: []iati.PlannedDisbursement{{Value: dec("100")}}})
	sectors := mergeSectors(ctx, env, &iati.Payload{Sectors: []iati.Sector{{Code: "11220", Percentage: ptrDec("100")}}})

	assert.False(t, budgets.Updated)
	assert.False(t, pds.Updated)
	assert.True(t, sectors.Updated)
	assert.Equal(t, 1, sectors.Added)
	assert.Len(t, budgets.Warnings, 1)
	assert.Len(t, pds.Warnings, 1)
	assert.Equal(t, 1, testutil.CountRows(t, s.DB(), "budgets", "activity_id = 'act-1'"), "existing budgets kept")
}

func ptrDec(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestReplaceAll_EmptySetClears(t *testing.T) {
	env, s := newEnv(t)
	ctx := context.Background()

	first := mergeSectors(ctx, env, &iati.Payload{Sectors: []iati.Sector{{Code: "11220"}, {Code: "12240"}}})
	require.True(t, first.Updated)
	assert.Equal(t, 2, first.Added)

	cleared := mergeSectors(ctx, env, &iati.Payload{})
	assert.True(t, cleared.Updated)
	assert.Zero(t, testutil.CountRows(t, s.DB(), "activity_sectors", ""))
}

func TestSectors_InvalidRowSkipped(t *testing.T) {
	env, _ := newEnv(t)

	out := mergeSectors(context.Background(), env, &iati.Payload{Sectors: []iati.Sector{{Code: ""}, {Code: "151"}}})
	assert.True(t, out.Updated)
	assert.Equal(t, 1, out.Skipped)
	require.Len(t, out.Warnings, 1)
	assert.Equal(t, domain.CodeInvalidRow, out.Warnings[0].Type)
}

func TestPolicyMarkers_ClampAndNotFound(t *testing.T) {
	env, s := newEnv(t)
	ctx := context.Background()

	out := mergePolicyMarkers(ctx, env, &iati.Payload{PolicyMarkers: []iati.PolicyMarker{
		{Code: "1", Vocabulary: "1", Significance: intp(4)},
		{Code: "42", Vocabulary: "1", Significance: intp(1)},
		{Code: "X", Vocabulary: "99", VocabularyURI: "https://example.org", Significance: intp(3)},
	}})

	require.NoError(t, out.Err)
	assert.True(t, out.Updated)
	assert.Equal(t, 2, out.Added)
	assert.Equal(t, 1, out.Skipped)

	var types []domain.Code
	for _, w := range out.Warnings {
		types = append(types, w.Type)
	}
	assert.ElementsMatch(t, []domain.Code{domain.CodeSignificanceOutOfRange, domain.CodeMarkerNotFound}, types)

	assigned, err := s.PolicyMarkers.Assignments(ctx, "act-1")
	require.NoError(t, err)
	assert.Equal(t, 2, assigned["gender_equality"])
}

func TestParticipatingOrgs_Upsert(t *testing.T) {
	env, s := newEnv(t)
	ctx := context.Background()

	payload := &iati.Payload{ParticipatingOrgs: []iati.ParticipatingOrg{
		{Ref: "XM-DAC-41114", Name: "UNDP", Role: "4", Type: "40"},
		{Name: "Local Partner", Role: "4"},
		{Ref: "XM-BAD", Role: "9"},
	}}
	out := mergeParticipatingOrgs(ctx, env, payload)
	require.NoError(t, out.Err)
	assert.Equal(t, 2, out.Added)
	assert.Equal(t, 1, out.Skipped)

	payload.ParticipatingOrgs[0].Name = "UN Development Programme"
	env.Orgs = orgs.NewResolver(s.Organizations, "tester", nil, nil)
	again := mergeParticipatingOrgs(ctx, env, payload)
	assert.Zero(t, again.Added)
	assert.Equal(t, 2, again.Changed)

	links, err := s.ParticipatingOrgs.List(ctx, "act-1")
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestTags_SlugForMissingCode(t *testing.T) {
	env, s := newEnv(t)

	out := mergeTags(context.Background(), env, &iati.Payload{Tags: []iati.Tag{
		{Vocabulary: "99", Narrative: "Climate Finance"},
		{Vocabulary: "99", Code: "climate-finance"},
	}})
	require.NoError(t, out.Err)
	assert.Equal(t, 1, out.Added, "both rows name the same tag")
	assert.Equal(t, 1, testutil.CountRows(t, s.DB(), "tags", "code = 'climate-finance'"))
}

func TestRelatedActivities(t *testing.T) {
	env, s := newEnv(t, testutil.WithIATIIdentifier("XM-1-A"))
	testutil.SeedActivity(t, s.DB(), "act-2", testutil.WithIATIIdentifier("XM-1-B"))

	out := mergeRelatedActivities(context.Background(), env, &iati.Payload{RelatedActivities: []iati.RelatedActivity{
		{Ref: "XM-1-B", Type: "1"},
		{Ref: "XM-NOT-HERE", Type: "2"},
		{Ref: "XM-1-C", Type: "9"},
	}})
	require.NoError(t, out.Err)
	assert.Equal(t, 2, out.Added)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 1, testutil.CountRows(t, s.DB(), "activity_relationships", "is_resolved = 0"))
}

type brokenLookup struct {
	relations.Activities
	broken string
}

func (b brokenLookup) FindIDByIATIIdentifier(ctx context.Context, identifier string) (string, error) {
	if identifier == b.broken {
		return "", errors.New("database is locked")
	}
	return b.Activities.FindIDByIATIIdentifier(ctx, identifier)
}

func TestRelatedActivities_RowFailureIsRowLevel(t *testing.T) {
	env, s := newEnv(t, testutil.WithIATIIdentifier("XM-1-A"))
	env.Linker = relations.NewLinker(brokenLookup{Activities: s.Activities, broken: "XM-BROKEN"}, s.Relationships)

	out := mergeRelatedActivities(context.Background(), env, &iati.Payload{RelatedActivities: []iati.RelatedActivity{
		{Ref: "XM-BROKEN", Type: "1"},
		{Ref: "XM-NOT-HERE", Type: "2"},
	}})
	require.NoError(t, out.Err)
	assert.True(t, out.Updated)
	assert.Equal(t, 1, out.Added)
	assert.Equal(t, 1, out.Skipped)
	require.Len(t, out.Warnings, 1)
	w := out.Warnings[0]
	assert.Equal(t, domain.CodeRowWriteFailure, w.Type)
	assert.Equal(t, "XM-BROKEN", w.Details["ref"])
	assert.Equal(t, string(iati.GroupRelatedActivities), w.Details["group"])
	assert.Contains(t, w.Details["error"], "database is locked")
}

func TestFinancingTerms(t *testing.T) {
	env, s := newEnv(t, testutil.WithDefaultCurrency("USD"))
	ctx := context.Background()

	out := mergeFinancingTerms(ctx, env, &iati.Payload{FinancingTerms: &iati.FinancingTerms{
		LoanTerms:    &iati.LoanTerms{Rate1: ptrDec("2.5")},
		LoanStatuses: []iati.LoanStatus{{Year: 2023}, {Year: 1200}},
		OtherFlags:   []iati.FinancingFlag{{Code: "1", Significance: 1}},
	}})
	require.NoError(t, out.Err)
	assert.True(t, out.Updated)
	assert.Equal(t, 3, out.Added)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 1, testutil.CountRows(t, s.DB(), "loan_statuses", "currency = 'USD'"))

	cleared := mergeFinancingTerms(ctx, env, &iati.Payload{})
	assert.True(t, cleared.Updated)
	assert.Zero(t, testutil.CountRows(t, s.DB(), "financing_terms", ""))
}

func TestConditions(t *testing.T) {
	env, s := newEnv(t)

	out := mergeConditions(context.Background(), env, &iati.Payload{Conditions: &iati.Conditions{
		Attached: true,
		Items:    []iati.Condition{{Type: "1", Narrative: "Policy reform"}, {Type: "2"}},
	}})
	require.NoError(t, out.Err)
	assert.Equal(t, 1, out.Added)
	assert.Equal(t, 1, testutil.CountRows(t, s.DB(), "conditions", "attached = 1"))
}

func TestFor_CoversEveryGroup(t *testing.T) {
	for _, g := range iati.Groups {
		_, ok := For(g)
		assert.True(t, ok, "no merger for %s", g)
	}
}
