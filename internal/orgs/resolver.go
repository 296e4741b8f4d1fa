package orgs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sirupsen/logrus"

	"github.com/lherron/iatisync/internal/domain"
)

// Method records how a reference was matched
type Method string

const (
	MethodRef     Method = "ref"
	MethodAlias   Method = "alias"
	MethodName    Method = "name"
	MethodFuzzy   Method = "fuzzy"
	MethodCreated Method = "created"
	MethodRequery Method = "requery"
	MethodCached  Method = "cached"
)

// Ref is an incoming organization reference
type Ref struct {
	Ref  string
	Name string
	Type string
}

// Resolution is the outcome of ResolveOrCreate
type Resolution struct {
	OrganizationID string
	Organization   *domain.Organization
	Method         Method
	WasExisting    bool
	Warnings       []domain.Warning
}

// Stats counts distinct organizations touched during a run
type Stats struct {
	Created int
	Linked  int
}

// Store is the organization persistence the resolver needs
type Store interface {
	FindByRef(ctx context.Context, ref string) (*domain.Organization, error)
	FindByAlias(ctx context.Context, ref string) (*domain.Organization, error)
	FindByFoldedName(ctx context.Context, folded string) (*domain.Organization, error)
	FindByNameFragment(ctx context.Context, fragment string, limit int) ([]*domain.Organization, error)
	Create(ctx context.Context, actor string, o *domain.Organization) error
	AddAlias(ctx context.Context, orgUUID, ref string) error
	SetAcronym(ctx context.Context, orgUUID, acronym string) error
}

// Resolver resolves references for a single import run. It caches matches
// by reference and folded name, so it must not be shared between runs.
type Resolver struct {
	store     Store
	actor     string
	overrides map[string]string
	log       *logrus.Entry

	mu      sync.Mutex
	byRef   map[string]*domain.Organization
	byName  map[string]*domain.Organization
	created map[string]struct{}
	linked  map[string]struct{}
}

// NewResolver creates a run-scoped resolver. overrides maps an IATI
// organization identifier to the acronym it should carry.
func NewResolver(store Store, actor string, overrides map[string]string, log *logrus.Entry) *Resolver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Resolver{
		store:     store,
		actor:     actor,
		overrides: overrides,
		log:       log,
		byRef:     map[string]*domain.Organization{},
		byName:    map[string]*domain.Organization{},
		created:   map[string]struct{}{},
		linked:    map[string]struct{}{},
	}
}

// Stats returns the created and linked counts so far
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Created: len(r.created), Linked: len(r.linked)}
}

// ResolveOrCreate finds the organization for ref by exact reference, alias,
// folded name, then substring name, creating it when nothing matches. A
// creation race is resolved by re-querying.
func (r *Resolver) ResolveOrCreate(ctx context.Context, in Ref) (*Resolution, error) {
	in.Ref = strings.TrimSpace(in.Ref)
	in.Name = strings.TrimSpace(in.Name)
	in.Type = strings.TrimSpace(in.Type)
	if in.Ref == "" && in.Name == "" {
		return nil, domain.NewError(domain.CodeOrganizationResolution,
			"organization has neither reference nor name", nil)
	}
	folded := FoldName(in.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if org := r.cached(in.Ref, folded); org != nil {
		return &Resolution{OrganizationID: org.UUID, Organization: org, Method: MethodCached, WasExisting: true}, nil
	}

	res, err := r.find(ctx, in, folded)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res, err = r.create(ctx, in, folded)
		if err != nil {
			return nil, err
		}
	}

	if err := r.applyOverride(ctx, res.Organization); err != nil {
		r.log.WithError(err).WithField("organization", res.Organization.ID).Warn("acronym override not applied")
	}

	r.remember(in.Ref, folded, res.Organization)
	if res.WasExisting {
		if _, createdHere := r.created[res.OrganizationID]; !createdHere {
			r.linked[res.OrganizationID] = struct{}{}
		}
	} else {
		r.created[res.OrganizationID] = struct{}{}
	}
	return res, nil
}

func (r *Resolver) cached(ref, folded string) *domain.Organization {
	if ref != "" {
		if org, ok := r.byRef[ref]; ok {
			return org
		}
		return nil
	}
	return r.byName[folded]
}

func (r *Resolver) remember(ref, folded string, org *domain.Organization) {
	if ref != "" {
		r.byRef[ref] = org
	}
	if folded != "" {
		r.byName[folded] = org
	}
}

// find walks the lookup chain. A nil resolution with nil error means no
// match.
func (r *Resolver) find(ctx context.Context, in Ref, folded string) (*Resolution, error) {
	if in.Ref != "" {
		org, err := r.store.FindByRef(ctx, in.Ref)
		if hit, err := r.hit(org, err, MethodRef); hit != nil || err != nil {
			return hit, err
		}
		org, err = r.store.FindByAlias(ctx, in.Ref)
		if hit, err := r.hit(org, err, MethodAlias); hit != nil || err != nil {
			return hit, err
		}
	}
	if folded == "" {
		return nil, nil
	}

	org, err := r.store.FindByFoldedName(ctx, folded)
	hit, err := r.hit(org, err, MethodName)
	if err != nil {
		return nil, err
	}
	if hit == nil && len([]rune(folded)) >= MinFragmentLength {
		hit, err = r.fuzzyMatch(ctx, folded)
		if err != nil {
			return nil, err
		}
	}
	if hit != nil && in.Ref != "" {
		// A name match under an unseen reference records the reference so
		// the next lookup is exact.
		if err := r.store.AddAlias(ctx, hit.OrganizationID, in.Ref); err != nil {
			r.log.WithError(err).WithField("ref", in.Ref).Warn("could not record organization alias")
		}
	}
	return hit, nil
}

func (r *Resolver) hit(org *domain.Organization, err error, method Method) (*Resolution, error) {
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, domain.WrapError(domain.CodeOrganizationResolution, "organization lookup failed", err)
	}
	return &Resolution{OrganizationID: org.UUID, Organization: org, Method: method, WasExisting: true}, nil
}

// fuzzyMatch picks the closest stored name containing folded
func (r *Resolver) fuzzyMatch(ctx context.Context, folded string) (*Resolution, error) {
	candidates, err := r.store.FindByNameFragment(ctx, folded, 20)
	if err != nil {
		return nil, domain.WrapError(domain.CodeOrganizationResolution, "organization name search failed", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.NameFolded
	}
	ranks := fuzzy.RankFind(folded, names)
	if len(ranks) == 0 {
		return nil, nil
	}
	sort.Sort(ranks)

	best := candidates[ranks[0].OriginalIndex]
	r.log.WithFields(logrus.Fields{
		"incoming": folded,
		"matched":  best.Name,
		"distance": ranks[0].Distance,
	}).Debug("organization matched by name fragment")
	return &Resolution{OrganizationID: best.UUID, Organization: best, Method: MethodFuzzy, WasExisting: true}, nil
}

func (r *Resolver) create(ctx context.Context, in Ref, folded string) (*Resolution, error) {
	name := in.Name
	if name == "" {
		name = in.Ref
		folded = FoldName(name)
	}

	org := &domain.Organization{
		Name:       name,
		NameFolded: folded,
		Type:       domain.MapIATIOrgType(in.Type),
	}
	if in.Ref != "" {
		ref := in.Ref
		org.IATIOrgID = &ref
	}
	if in.Type != "" {
		code := in.Type
		org.IATITypeCode = &code
	}
	if acronym, ok := r.override(in.Ref); ok {
		org.Acronym = &acronym
	}

	err := r.store.Create(ctx, r.actor, org)
	if err == nil {
		r.log.WithFields(logrus.Fields{"organization": org.ID, "ref": in.Ref, "name": name}).Info("organization created")
		return &Resolution{OrganizationID: org.UUID, Organization: org, Method: MethodCreated}, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, domain.WrapError(domain.CodeOrganizationResolution,
			fmt.Sprintf("could not create organization %q", name), err)
	}

	existing, err := r.requery(ctx, in.Ref, folded)
	if err != nil {
		return nil, err
	}
	res := &Resolution{OrganizationID: existing.UUID, Organization: existing, Method: MethodRequery, WasExisting: true}
	if w, mismatch := mismatchWarning(existing, in); mismatch {
		r.log.WithFields(logrus.Fields{"organization": existing.ID, "ref": in.Ref}).Warn(w.Message)
		res.Warnings = append(res.Warnings, w)
	}
	return res, nil
}

// requery looks the organization up again after a uniqueness violation
func (r *Resolver) requery(ctx context.Context, ref, folded string) (*domain.Organization, error) {
	lookups := []func() (*domain.Organization, error){}
	if ref != "" {
		lookups = append(lookups,
			func() (*domain.Organization, error) { return r.store.FindByRef(ctx, ref) },
			func() (*domain.Organization, error) { return r.store.FindByAlias(ctx, ref) },
		)
	}
	if folded != "" {
		lookups = append(lookups, func() (*domain.Organization, error) { return r.store.FindByFoldedName(ctx, folded) })
	}

	for _, lookup := range lookups {
		org, err := lookup()
		if err == nil {
			return org, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, domain.WrapError(domain.CodeOrganizationResolution, "organization re-query failed", err)
		}
	}
	return nil, domain.NewError(domain.CodeOrganizationResolution,
		"organization conflicted on create but could not be found", map[string]interface{}{"ref": ref, "name": folded})
}

// mismatchWarning reports an incoming type that disagrees with the stored
// record. The stored record is kept as is.
func mismatchWarning(existing *domain.Organization, in Ref) (domain.Warning, bool) {
	if in.Type == "" || existing.IATITypeCode == nil || *existing.IATITypeCode == in.Type {
		return domain.Warning{}, false
	}
	return domain.Warning{
		Type:    domain.CodeOrganizationMismatch,
		Message: fmt.Sprintf("organization %s kept existing type %s (incoming %s)", existing.ID, *existing.IATITypeCode, in.Type),
		Details: map[string]interface{}{
			"organization_id": existing.ID,
			"existing_type":   *existing.IATITypeCode,
			"incoming_type":   in.Type,
		},
	}, true
}

func (r *Resolver) override(ref string) (string, bool) {
	if ref == "" || r.overrides == nil {
		return "", false
	}
	acronym, ok := r.overrides[ref]
	acronym = strings.TrimSpace(acronym)
	return acronym, ok && acronym != ""
}

func (r *Resolver) applyOverride(ctx context.Context, org *domain.Organization) error {
	if org.IATIOrgID == nil {
		return nil
	}
	acronym, ok := r.override(*org.IATIOrgID)
	if !ok || (org.Acronym != nil && *org.Acronym == acronym) {
		return nil
	}
	if err := r.store.SetAcronym(ctx, org.UUID, acronym); err != nil {
		return err
	}
	org.Acronym = &acronym
	return nil
}
