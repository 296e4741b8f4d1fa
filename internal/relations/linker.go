// Package relations links related-activity references to local activities,
// leaving placeholders for references that are not held locally yet.
package relations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/store"
)

// Kind distinguishes internal links from external placeholders
type Kind string

const (
	KindInternal    Kind = "internal"
	KindPlaceholder Kind = "placeholder"
)

// Link is a written relationship row
type Link struct {
	Kind              Kind
	RelationshipID    string
	RelatedActivityID string
	ExternalRef       string
	Type              string
}

// Activities finds local activities by IATI identifier
type Activities interface {
	FindIDByIATIIdentifier(ctx context.Context, identifier string) (string, error)
}

// Relationships persists relationship rows
type Relationships interface {
	Clear(ctx context.Context, activityID string) error
	Insert(ctx context.Context, activityID string, rel *store.Relationship) error
	ResolvePending(ctx context.Context, identifier, activityID string) (int, error)
}

// Linker writes relationship rows for one activity at a time
type Linker struct {
	activities    Activities
	relationships Relationships
}

// NewLinker creates a linker
func NewLinker(activities Activities, relationships Relationships) *Linker {
	return &Linker{activities: activities, relationships: relationships}
}

// Clear removes the activity's existing relationships before a relink
func (l *Linker) Clear(ctx context.Context, activityID string) error {
	return l.relationships.Clear(ctx, activityID)
}

// Link writes one relationship from activityID to externalRef. A local
// activity carrying externalRef yields an internal link; otherwise the row
// is an unresolved placeholder.
func (l *Linker) Link(ctx context.Context, activityID, externalRef, relType string) (Link, error) {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return Link{}, fmt.Errorf("related activity reference is empty")
	}

	rel := &store.Relationship{ExternalIdentifier: externalRef, Type: strings.TrimSpace(relType)}
	localID, err := l.activities.FindIDByIATIIdentifier(ctx, externalRef)
	switch {
	case err == nil && localID != activityID:
		rel.RelatedActivityID = localID
		rel.IsResolved = true
	case err == nil, errors.Is(err, domain.ErrNotFound):
		// self references are kept as placeholders
	default:
		return Link{}, fmt.Errorf("failed to look up related activity %s: %w", externalRef, err)
	}

	if err := l.relationships.Insert(ctx, activityID, rel); err != nil {
		return Link{}, err
	}

	link := Link{
		Kind:              KindPlaceholder,
		RelationshipID:    rel.UUID,
		RelatedActivityID: rel.RelatedActivityID,
		ExternalRef:       externalRef,
		Type:              rel.Type,
	}
	if rel.IsResolved {
		link.Kind = KindInternal
	}
	return link, nil
}

// ResolvePending turns placeholders elsewhere that point at identifier into
// internal links to activityID.
func (l *Linker) ResolvePending(ctx context.Context, identifier, activityID string) (int, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return 0, nil
	}
	return l.relationships.ResolvePending(ctx, identifier, activityID)
}
