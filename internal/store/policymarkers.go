package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/lherron/iatisync/internal/domain"
)

// PolicyMarkerStore reads the marker catalog and writes assignments
type PolicyMarkerStore struct {
	store *Store
}

// MarkerAssignment links an activity to a catalog marker
type MarkerAssignment struct {
	MarkerUUID   string
	Significance int
	Rationale    string
}

const markerColumns = `uuid, code, iati_code, name, vocabulary, vocabulary_uri, max_significance, is_custom`

func (s *PolicyMarkerStore) queryOne(ctx context.Context, what, where string, args ...interface{}) (*domain.PolicyMarker, error) {
	m := &domain.PolicyMarker{}
	err := s.store.db.QueryRowContext(ctx, "SELECT "+markerColumns+" FROM policy_markers WHERE "+where, args...).Scan(
		&m.UUID, &m.Code, &m.IATICode, &m.Name, &m.Vocabulary, &m.VocabularyURI, &m.MaxSignificance, &m.IsCustom)
	if err != nil {
		return nil, notFound(err, what)
	}
	return m, nil
}

// FindStandard looks up a seeded standard-vocabulary marker by internal code
func (s *PolicyMarkerStore) FindStandard(ctx context.Context, code string) (*domain.PolicyMarker, error) {
	return s.queryOne(ctx, "policy marker "+code, "code = ? AND vocabulary = '1'", code)
}

// FindCustom looks up a custom-vocabulary marker by IATI code and
// vocabulary URI.
func (s *PolicyMarkerStore) FindCustom(ctx context.Context, iatiCode, vocabularyURI string) (*domain.PolicyMarker, error) {
	return s.queryOne(ctx, "custom policy marker "+iatiCode,
		"vocabulary = '99' AND iati_code = ? AND vocabulary_uri = ?", iatiCode, vocabularyURI)
}

// CreateCustom adds a custom-vocabulary marker definition. A concurrent
// create of the same (code, uri) reports domain.ErrConflict.
func (s *PolicyMarkerStore) CreateCustom(ctx context.Context, m *domain.PolicyMarker) error {
	if m.UUID == "" {
		m.UUID = uuid.NewString()
	}
	if m.Code == "" {
		m.Code = "custom_" + m.UUID
	}
	m.Vocabulary = "99"
	m.IsCustom = true

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO policy_markers (uuid, code, iati_code, name, vocabulary, vocabulary_uri, max_significance, is_custom)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
	`, m.UUID, m.Code, m.IATICode, m.Name, m.Vocabulary, m.VocabularyURI, m.MaxSignificance)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("policy marker %s: %w", m.IATICode, domain.ErrConflict)
		}
		return fmt.Errorf("failed to create policy marker: %w", err)
	}
	return nil
}

// ReplaceAssignments swaps the activity's marker assignments. A marker
// listed twice keeps its last significance.
func (s *PolicyMarkerStore) ReplaceAssignments(ctx context.Context, activityID string, assignments []MarkerAssignment) (int, error) {
	seen := map[string]struct{}{}
	err := s.store.replaceAll(ctx, activityID, []string{"activity_policy_markers"}, func(tx *sql.Tx) error {
		for _, a := range assignments {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO activity_policy_markers (uuid, activity_id, policy_marker_uuid, significance, rationale)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (activity_id, policy_marker_uuid)
				DO UPDATE SET significance = excluded.significance, rationale = excluded.rationale
			`, uuid.NewString(), activityID, a.MarkerUUID, a.Significance, nullString(a.Rationale))
			if err != nil {
				return fmt.Errorf("failed to assign policy marker: %w", err)
			}
			seen[a.MarkerUUID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(seen), nil
}

// Assignments returns the activity's markers keyed by internal code
func (s *PolicyMarkerStore) Assignments(ctx context.Context, activityID string) (map[string]int, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT m.code, a.significance
		FROM activity_policy_markers a JOIN policy_markers m ON m.uuid = a.policy_marker_uuid
		WHERE a.activity_id = ?`, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy markers: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var code string
		var sig int
		if err := rows.Scan(&code, &sig); err != nil {
			return nil, err
		}
		out[code] = sig
	}
	return out, rows.Err()
}
