package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RelationshipStore persists related-activity links. Rows are written one
// at a time so a failed row does not discard the others.
type RelationshipStore struct {
	store *Store
}

// Relationship is an internal link when RelatedActivityID is set, otherwise
// an unresolved placeholder carrying only the external identifier.
type Relationship struct {
	UUID               string
	RelatedActivityID  string
	ExternalIdentifier string
	Type               string
	IsResolved         bool
}

// Clear removes the activity's relationship rows
func (s *RelationshipStore) Clear(ctx context.Context, activityID string) error {
	if _, err := s.store.db.ExecContext(ctx,
		"DELETE FROM activity_relationships WHERE activity_id = ?", activityID); err != nil {
		return fmt.Errorf("failed to clear relationships: %w", err)
	}
	return nil
}

// Insert writes a single relationship row
func (s *RelationshipStore) Insert(ctx context.Context, activityID string, rel *Relationship) error {
	if rel.UUID == "" {
		rel.UUID = uuid.NewString()
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO activity_relationships (uuid, activity_id, related_activity_id,
			external_iati_identifier, relationship_type, is_resolved)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rel.UUID, activityID, nullString(rel.RelatedActivityID), rel.ExternalIdentifier, rel.Type, rel.IsResolved)
	if err != nil {
		return fmt.Errorf("failed to insert relationship to %s: %w", rel.ExternalIdentifier, err)
	}
	return nil
}

// ResolvePending points unresolved placeholders for identifier at the local
// activity that now carries it.
func (s *RelationshipStore) ResolvePending(ctx context.Context, identifier, activityID string) (int, error) {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE activity_relationships
		SET related_activity_id = ?, is_resolved = 1
		WHERE external_iati_identifier = ? AND is_resolved = 0 AND activity_id <> ?
	`, activityID, identifier, activityID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve placeholders: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// List returns the activity's relationship rows in insertion order
func (s *RelationshipStore) List(ctx context.Context, activityID string) ([]Relationship, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT uuid, coalesce(related_activity_id, ''), external_iati_identifier, relationship_type, is_resolved
		FROM activity_relationships WHERE activity_id = ?
		ORDER BY created_at, rowid`, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.UUID, &r.RelatedActivityID, &r.ExternalIdentifier, &r.Type, &r.IsResolved); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
