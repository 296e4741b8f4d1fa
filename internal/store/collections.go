package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lherron/iatisync/internal/iati"
)

// CollectionStore persists the replace-all child collections that carry no
// cross references: humanitarian scope, documents, tags, country budget
// items, contacts, conditions and locations.
type CollectionStore struct {
	store *Store
}

// ReplaceHumanitarianScopes swaps the activity's humanitarian scope rows
func (s *CollectionStore) ReplaceHumanitarianScopes(ctx context.Context, activityID string, scopes []iati.HumanitarianScope) (int, error) {
	err := s.store.replaceAll(ctx, activityID, []string{"humanitarian_scopes"}, func(tx *sql.Tx) error {
		for _, h := range scopes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO humanitarian_scopes (uuid, activity_id, scope_type, vocabulary, vocabulary_uri, code, narrative)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, uuid.NewString(), activityID, h.Type, h.Vocabulary, nullString(h.VocabularyURI),
				h.Code, nullString(h.Narrative)); err != nil {
				return fmt.Errorf("failed to insert humanitarian scope %s: %w", h.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(scopes), nil
}

// ReplaceDocumentLinks swaps the activity's document links and their
// categories.
func (s *CollectionStore) ReplaceDocumentLinks(ctx context.Context, activityID string, links []iati.DocumentLink) (int, error) {
	err := s.store.replaceAll(ctx, activityID, []string{"document_links"}, func(tx *sql.Tx) error {
		for _, d := range links {
			linkUUID := uuid.NewString()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO document_links (uuid, activity_id, url, format, title, description, language, document_date)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, linkUUID, activityID, d.URL, nullString(d.Format), nullString(d.Title),
				nullString(d.Description), nullString(d.Language), nullString(d.DocumentDate)); err != nil {
				return fmt.Errorf("failed to insert document link: %w", err)
			}
			for _, cat := range d.Categories {
				if _, err := tx.ExecContext(ctx, `
					INSERT OR IGNORE INTO document_link_categories (document_link_uuid, category_code)
					VALUES (?, ?)`, linkUUID, strings.TrimSpace(cat)); err != nil {
					return fmt.Errorf("failed to insert document category %s: %w", cat, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(links), nil
}

// ReplaceTags swaps the activity's tag assignments, creating catalog tags
// as needed. Every tag must carry a code.
func (s *CollectionStore) ReplaceTags(ctx context.Context, activityID string, tags []iati.Tag) (int, error) {
	seen := map[string]struct{}{}
	err := s.store.replaceAll(ctx, activityID, []string{"activity_tags"}, func(tx *sql.Tx) error {
		for _, t := range tags {
			name := t.Narrative
			if name == "" {
				name = t.Code
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO tags (uuid, vocabulary, vocabulary_uri, code, name)
				VALUES (?, ?, ?, ?, ?)
			`, uuid.NewString(), t.Vocabulary, t.VocabularyURI, t.Code, name); err != nil {
				return fmt.Errorf("failed to create tag %s: %w", t.Code, err)
			}

			var tagUUID string
			if err := tx.QueryRowContext(ctx, `
				SELECT uuid FROM tags WHERE vocabulary = ? AND vocabulary_uri = ? AND code = ?`,
				t.Vocabulary, t.VocabularyURI, t.Code).Scan(&tagUUID); err != nil {
				return fmt.Errorf("failed to load tag %s: %w", t.Code, err)
			}

			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO activity_tags (activity_id, tag_uuid) VALUES (?, ?)",
				activityID, tagUUID); err != nil {
				return fmt.Errorf("failed to assign tag %s: %w", t.Code, err)
			}
			seen[tagUUID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(seen), nil
}

// ReplaceCountryBudgetItems swaps the activity's country budget item
// blocks and their child items.
func (s *CollectionStore) ReplaceCountryBudgetItems(ctx context.Context, activityID string, blocks []iati.CountryBudgetItems) (int, error) {
	err := s.store.replaceAll(ctx, activityID, []string{"country_budget_items"}, func(tx *sql.Tx) error {
		for _, block := range blocks {
			blockUUID := uuid.NewString()
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO country_budget_items (uuid, activity_id, vocabulary) VALUES (?, ?, ?)",
				blockUUID, activityID, block.Vocabulary); err != nil {
				return fmt.Errorf("failed to insert country budget items: %w", err)
			}
			for _, item := range block.Items {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO budget_items (uuid, country_budget_item_uuid, code, percentage, description)
					VALUES (?, ?, ?, ?, ?)
				`, uuid.NewString(), blockUUID, item.Code, nullDecimal(item.Percentage),
					nullString(item.Description)); err != nil {
					return fmt.Errorf("failed to insert budget item %s: %w", item.Code, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(blocks), nil
}

// ReplaceContacts swaps the activity's contacts
func (s *CollectionStore) ReplaceContacts(ctx context.Context, activityID string, contacts []iati.Contact) (int, error) {
	err := s.store.replaceAll(ctx, activityID, []string{"contacts"}, func(tx *sql.Tx) error {
		for _, c := range contacts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO contacts (uuid, activity_id, contact_type, organisation, department, person_name,
					job_title, telephone, email, website, mailing_address)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, uuid.NewString(), activityID, nullString(c.Type), nullString(c.Organisation),
				nullString(c.Department), nullString(c.PersonName), nullString(c.JobTitle),
				nullString(c.Telephone), nullString(c.Email), nullString(c.Website),
				nullString(c.MailingAddress)); err != nil {
				return fmt.Errorf("failed to insert contact: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(contacts), nil
}

// ReplaceConditions swaps the activity's conditions. A detached block with
// no items stores a single marker row so the attached flag survives.
func (s *CollectionStore) ReplaceConditions(ctx context.Context, activityID string, conditions *iati.Conditions) (int, error) {
	written := 0
	err := s.store.replaceAll(ctx, activityID, []string{"conditions"}, func(tx *sql.Tx) error {
		if conditions == nil {
			return nil
		}
		if len(conditions.Items) == 0 {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO conditions (uuid, activity_id, attached) VALUES (?, ?, ?)",
				uuid.NewString(), activityID, conditions.Attached); err != nil {
				return fmt.Errorf("failed to insert conditions: %w", err)
			}
			return nil
		}
		for _, c := range conditions.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO conditions (uuid, activity_id, attached, condition_type, narrative)
				VALUES (?, ?, ?, ?, ?)
			`, uuid.NewString(), activityID, conditions.Attached, nullString(c.Type), c.Narrative); err != nil {
				return fmt.Errorf("failed to insert condition: %w", err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// ReplaceLocations swaps the activity's locations
func (s *CollectionStore) ReplaceLocations(ctx context.Context, activityID string, locations []iati.Location) (int, error) {
	err := s.store.replaceAll(ctx, activityID, []string{"locations"}, func(tx *sql.Tx) error {
		for _, l := range locations {
			admin := l.Administrative
			if admin == nil {
				admin = []iati.AdministrativeCode{}
			}
			adminJSON, err := json.Marshal(admin)
			if err != nil {
				return fmt.Errorf("failed to encode administrative codes: %w", err)
			}

			var lat, lng interface{}
			if l.Point != nil {
				lat, lng = l.Point.Latitude, l.Point.Longitude
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO locations (uuid, activity_id, ref, name, description, location_reach, exactness,
					location_class, feature_designation, latitude, longitude, admin_codes)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, uuid.NewString(), activityID, nullString(l.Ref), nullString(l.Name), nullString(l.Description),
				nullString(l.LocationReach), nullString(l.Exactness), nullString(l.LocationClass),
				nullString(l.FeatureDesignation), lat, lng, string(adminJSON)); err != nil {
				return fmt.Errorf("failed to insert location: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(locations), nil
}
