// Package markers maps incoming policy marker codes onto catalog entries and
// keeps significance within each marker's allowed range.
package markers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lherron/iatisync/internal/domain"
)

const (
	VocabularyStandard = "1"
	VocabularyCustom   = "99"

	// customMaxSignificance is the range given to auto-created markers
	customMaxSignificance = 4
)

// standardCodes maps IATI vocabulary 1 codes to seeded catalog codes
var standardCodes = map[string]string{
	"1":  "gender_equality",
	"2":  "environment",
	"3":  "good_governance",
	"4":  "trade_development",
	"5":  "biodiversity",
	"6":  "climate_mitigation",
	"7":  "climate_adaptation",
	"8":  "desertification",
	"9":  "rmnch",
	"10": "disaster_risk_reduction",
	"11": "disability",
	"12": "nutrition",
}

// StandardCode returns the catalog code for an IATI vocabulary 1 code
func StandardCode(iatiCode string) (string, bool) {
	code, ok := standardCodes[strings.TrimSpace(iatiCode)]
	return code, ok
}

// Catalog is the marker persistence the resolver needs
type Catalog interface {
	FindStandard(ctx context.Context, code string) (*domain.PolicyMarker, error)
	FindCustom(ctx context.Context, iatiCode, vocabularyURI string) (*domain.PolicyMarker, error)
	CreateCustom(ctx context.Context, m *domain.PolicyMarker) error
}

// Input is one incoming marker assignment
type Input struct {
	Code          string
	Vocabulary    string
	VocabularyURI string
	Significance  int
}

// Resolution is a marker ready to assign
type Resolution struct {
	MarkerID     string
	Marker       *domain.PolicyMarker
	Significance int
	Clamped      bool
	Created      bool
}

// Resolver resolves marker inputs against a catalog
type Resolver struct {
	catalog Catalog
}

// NewResolver creates a resolver over catalog
func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve finds the catalog marker for in and clamps its significance.
// Standard markers are never created; an unknown one is MarkerNotFound.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Resolution, error) {
	code := strings.TrimSpace(in.Code)
	vocabulary := strings.TrimSpace(in.Vocabulary)
	if vocabulary == "" {
		vocabulary = VocabularyStandard
	}

	var (
		marker  *domain.PolicyMarker
		created bool
		err     error
	)
	switch vocabulary {
	case VocabularyStandard:
		marker, err = r.standard(ctx, code)
	case VocabularyCustom:
		marker, created, err = r.custom(ctx, code, strings.TrimSpace(in.VocabularyURI))
	default:
		err = notFound(code, vocabulary, "unsupported vocabulary")
	}
	if err != nil {
		return nil, err
	}

	sig, clamped := Clamp(in.Significance, marker.MaxSignificance)
	return &Resolution{
		MarkerID:     marker.UUID,
		Marker:       marker,
		Significance: sig,
		Clamped:      clamped,
		Created:      created,
	}, nil
}

func (r *Resolver) standard(ctx context.Context, iatiCode string) (*domain.PolicyMarker, error) {
	code, ok := StandardCode(iatiCode)
	if !ok {
		return nil, notFound(iatiCode, VocabularyStandard, "unknown standard marker code")
	}
	marker, err := r.catalog.FindStandard(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, notFound(iatiCode, VocabularyStandard, "standard marker not seeded")
	}
	return marker, err
}

func (r *Resolver) custom(ctx context.Context, iatiCode, uri string) (*domain.PolicyMarker, bool, error) {
	marker, err := r.catalog.FindCustom(ctx, iatiCode, uri)
	if err == nil {
		return marker, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	marker = &domain.PolicyMarker{
		IATICode:        iatiCode,
		Name:            "Custom marker " + iatiCode,
		VocabularyURI:   uri,
		MaxSignificance: customMaxSignificance,
	}
	err = r.catalog.CreateCustom(ctx, marker)
	if errors.Is(err, domain.ErrConflict) {
		existing, ferr := r.catalog.FindCustom(ctx, iatiCode, uri)
		return existing, false, ferr
	}
	if err != nil {
		return nil, false, err
	}
	return marker, true, nil
}

// Clamp limits significance to [0, max]. clamped is true only when the
// value exceeded max.
func Clamp(significance, max int) (int, bool) {
	if significance < 0 {
		return 0, false
	}
	if significance > max {
		return max, true
	}
	return significance, false
}

func notFound(code, vocabulary, reason string) error {
	return domain.NewError(domain.CodeMarkerNotFound,
		fmt.Sprintf("policy marker %s (vocabulary %s): %s", code, vocabulary, reason),
		map[string]interface{}{"code": code, "vocabulary": vocabulary})
}
