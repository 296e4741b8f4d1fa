package markers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/store"
	"github.com/lherron/iatisync/internal/testutil"
)

func newResolver(t *testing.T) (*Resolver, *store.Store) {
	t.Helper()
	database, _ := testutil.TempDB(t)
	s := store.New(database)
	return NewResolver(s.PolicyMarkers), s
}

func TestResolve_StandardClampsToMax(t *testing.T) {
	r, _ := newResolver(t)

	res, err := r.Resolve(context.Background(), Input{Code: "1", Vocabulary: "1", Significance: 4})
	require.NoError(t, err)
	assert.Equal(t, "gender_equality", res.Marker.Code)
	assert.Equal(t, 2, res.Significance)
	assert.True(t, res.Clamped)

	res, err = r.Resolve(context.Background(), Input{Code: "9", Significance: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Significance, "rmnch allows 4")
	assert.False(t, res.Clamped)
}

func TestResolve_StandardNeverCreated(t *testing.T) {
	r, s := newResolver(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, Input{Code: "13", Vocabulary: "1", Significance: 1})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeMarkerNotFound))

	_, err = s.DB().Exec("DELETE FROM policy_markers WHERE code = 'nutrition'")
	require.NoError(t, err)
	_, err = r.Resolve(ctx, Input{Code: "12", Vocabulary: "1"})
	assert.True(t, domain.IsCode(err, domain.CodeMarkerNotFound))

	_, err = r.Resolve(ctx, Input{Code: "1", Vocabulary: "7"})
	assert.True(t, domain.IsCode(err, domain.CodeMarkerNotFound))

	assert.Equal(t, 11, testutil.CountRows(t, s.DB(), "policy_markers", ""))
}

func TestResolve_CustomCreatedOnce(t *testing.T) {
	r, s := newResolver(t)
	ctx := context.Background()

	in := Input{Code: "A1", Vocabulary: "99", VocabularyURI: "https://example.org/markers", Significance: 3}
	first, err := r.Resolve(ctx, in)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "Custom marker A1", first.Marker.Name)
	assert.Equal(t, 3, first.Significance)

	second, err := r.Resolve(ctx, in)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.MarkerID, second.MarkerID)

	other, err := r.Resolve(ctx, Input{Code: "A1", Vocabulary: "99", VocabularyURI: "https://other.org"})
	require.NoError(t, err)
	assert.NotEqual(t, first.MarkerID, other.MarkerID, "uri is part of the custom identity")

	assert.Equal(t, 2, testutil.CountRows(t, s.DB(), "policy_markers", "is_custom = 1"))
}

func TestClamp(t *testing.T) {
	sig, clamped := Clamp(-1, 2)
	assert.Equal(t, 0, sig)
	assert.False(t, clamped)

	sig, clamped = Clamp(3, 3)
	assert.Equal(t, 3, sig)
	assert.False(t, clamped)

	sig, clamped = Clamp(4, 2)
	assert.Equal(t, 2, sig)
	assert.True(t, clamped)
}
