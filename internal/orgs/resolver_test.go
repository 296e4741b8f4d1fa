package orgs

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/logging"
	"github.com/lherron/iatisync/internal/store"
	"github.com/lherron/iatisync/internal/testutil"
)

func newResolver(t *testing.T, overrides map[string]string) (*Resolver, *store.Store) {
	t.Helper()
	database, _ := testutil.TempDB(t)
	s := store.New(database)
	return NewResolver(s.Organizations, "tester", overrides, logging.Discard().WithField("test", t.Name())), s
}

func TestFoldName(t *testing.T) {
	assert.Equal(t, FoldName("école"), FoldName("E\u0301COLE"))
	assert.Equal(t, "ministry of health", FoldName("Ministry\tof   HEALTH"))
	assert.Equal(t, "", FoldName("   "))
}

func TestResolveOrCreate_CreatesOnceAcrossRuns(t *testing.T) {
	r, s := newResolver(t, nil)
	ctx := context.Background()

	first, err := r.ResolveOrCreate(ctx, Ref{Ref: "GB-COH-123", Name: "Acme Relief", Type: "22"})
	require.NoError(t, err)
	assert.Equal(t, MethodCreated, first.Method)
	assert.False(t, first.WasExisting)
	assert.Equal(t, domain.OrgTypeNGO, first.Organization.Type)

	again, err := r.ResolveOrCreate(ctx, Ref{Ref: "GB-COH-123"})
	require.NoError(t, err)
	assert.Equal(t, first.OrganizationID, again.OrganizationID)
	assert.Equal(t, MethodCached, again.Method)

	nextRun := NewResolver(s.Organizations, "tester", nil, nil)
	later, err := nextRun.ResolveOrCreate(ctx, Ref{Ref: "GB-COH-123", Name: "Something else"})
	require.NoError(t, err)
	assert.Equal(t, first.OrganizationID, later.OrganizationID)
	assert.Equal(t, MethodRef, later.Method)

	n, err := s.Organizations.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, Stats{Created: 1, Linked: 0}, r.Stats())
	assert.Equal(t, Stats{Created: 0, Linked: 1}, nextRun.Stats())
}

func TestResolveOrCreate_LookupOrder(t *testing.T) {
	r, s := newResolver(t, nil)
	ctx := context.Background()
	database := s.DB()

	byRef := testutil.SeedOrganization(t, database, "XM-DAC-41114", "United Nations Development Programme", "united nations development programme", "USD")
	byName := testutil.SeedOrganization(t, database, "", "Ministry of Health", "ministry of health", "")
	require.NoError(t, s.Organizations.AddAlias(ctx, byRef, "41114"))

	res, err := r.ResolveOrCreate(ctx, Ref{Ref: "41114"})
	require.NoError(t, err)
	assert.Equal(t, byRef, res.OrganizationID)
	assert.Equal(t, MethodAlias, res.Method)

	res, err = r.ResolveOrCreate(ctx, Ref{Ref: "AF-MOH", Name: "MINISTRY OF HEALTH"})
	require.NoError(t, err)
	assert.Equal(t, byName, res.OrganizationID)
	assert.Equal(t, MethodName, res.Method)

	aliased, err := s.Organizations.FindByAlias(ctx, "AF-MOH")
	require.NoError(t, err)
	assert.Equal(t, byName, aliased.UUID, "name match records the new reference as an alias")

	res, err = r.ResolveOrCreate(ctx, Ref{Name: "Development Programme"})
	require.NoError(t, err)
	assert.Equal(t, byRef, res.OrganizationID)
	assert.Equal(t, MethodFuzzy, res.Method)

	res, err = r.ResolveOrCreate(ctx, Ref{Name: "UN"})
	require.NoError(t, err)
	assert.Equal(t, MethodCreated, res.Method, "fragments below the minimum length never fuzzy match")
}

func TestResolveOrCreate_EmptyRef(t *testing.T) {
	r, _ := newResolver(t, nil)
	_, err := r.ResolveOrCreate(context.Background(), Ref{Ref: " ", Name: ""})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeOrganizationResolution))
}

func TestResolveOrCreate_AcronymOverride(t *testing.T) {
	r, s := newResolver(t, map[string]string{"XM-DAC-41114": "UNDP"})
	ctx := context.Background()
	orgUUID := testutil.SeedOrganization(t, s.DB(), "XM-DAC-41114", "United Nations Development Programme", "united nations development programme", "")

	_, err := r.ResolveOrCreate(ctx, Ref{Ref: "XM-DAC-41114"})
	require.NoError(t, err)

	org, err := s.Organizations.Get(ctx, orgUUID)
	require.NoError(t, err)
	require.NotNil(t, org.Acronym)
	assert.Equal(t, "UNDP", *org.Acronym)
}

// raceStore hides the winning organization until a create has been
// attempted, then reports the create as a conflict.
type raceStore struct {
	Store
	winner  *domain.Organization
	created bool
}

func (s *raceStore) Create(ctx context.Context, actor string, o *domain.Organization) error {
	s.created = true
	return fmt.Errorf("insert: %w", domain.ErrConflict)
}

func (s *raceStore) FindByRef(ctx context.Context, ref string) (*domain.Organization, error) {
	if s.created && *s.winner.IATIOrgID == ref {
		return s.winner, nil
	}
	return nil, fmt.Errorf("ref %s: %w", ref, domain.ErrNotFound)
}

func TestResolveOrCreate_ConflictRequeries(t *testing.T) {
	_, s := newResolver(t, nil)
	ctx := context.Background()

	ref, code := "XI-IATI-1", "10"
	race := &raceStore{
		Store:  s.Organizations,
		winner: &domain.Organization{UUID: "u-1", ID: "ORG-00009", Name: "Racing Org", IATIOrgID: &ref, IATITypeCode: &code},
	}
	r := NewResolver(race, "tester", nil, nil)

	res, err := r.ResolveOrCreate(ctx, Ref{Ref: ref, Name: "Racing Org", Type: "21"})
	require.NoError(t, err)
	assert.True(t, race.created)
	assert.Equal(t, MethodRequery, res.Method)
	assert.Equal(t, "u-1", res.OrganizationID)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, domain.CodeOrganizationMismatch, res.Warnings[0].Type)
	assert.Equal(t, "10", *res.Organization.IATITypeCode, "existing record stays authoritative")
	assert.Equal(t, Stats{Created: 0, Linked: 1}, r.Stats())
}

func TestResolveOrCreate_ConcurrentRunsCreateOne(t *testing.T) {
	_, s := newResolver(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 4)
	errs := make([]error, 4)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := NewResolver(s.Organizations, "tester", nil, nil)
			res, err := r.ResolveOrCreate(ctx, Ref{Ref: "XM-RACE", Name: "Race Org"})
			errs[i] = err
			if err == nil {
				ids[i] = res.OrganizationID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	n, err := s.Organizations.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
