package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lherron/iatisync/internal/events"
)

// ParticipatingOrgStore persists (activity, organization, role) links
type ParticipatingOrgStore struct {
	store *Store
}

// ParticipatingOrg is one link row. The natural key is
// (activity, OrganizationUUID, Role).
type ParticipatingOrg struct {
	OrganizationUUID string
	Role             string
	IATITypeCode     string
	Narrative        string
	ActivityRef      string
}

// Upsert inserts unseen links and updates mutable attributes on links that
// already exist. Rows that are not listed are kept.
func (s *ParticipatingOrgStore) Upsert(ctx context.Context, activityID string, links []ParticipatingOrg) (added, updated int, err error) {
	err = s.store.withTx(ctx, func(tx *sql.Tx, _ *events.Writer) error {
		for _, link := range links {
			var existing string
			err := tx.QueryRowContext(ctx, `
				SELECT uuid FROM participating_orgs
				WHERE activity_id = ? AND organization_uuid = ? AND role = ?`,
				activityID, link.OrganizationUUID, link.Role,
			).Scan(&existing)

			switch {
			case errors.Is(err, sql.ErrNoRows):
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO participating_orgs (uuid, activity_id, organization_uuid, role,
						iati_type_code, narrative, activity_ref)
					VALUES (?, ?, ?, ?, ?, ?, ?)
				`, uuid.NewString(), activityID, link.OrganizationUUID, link.Role,
					nullString(link.IATITypeCode), nullString(link.Narrative), nullString(link.ActivityRef)); err != nil {
					return fmt.Errorf("failed to insert participating org: %w", err)
				}
				added++
			case err != nil:
				return fmt.Errorf("failed to look up participating org: %w", err)
			default:
				if _, err := tx.ExecContext(ctx, `
					UPDATE participating_orgs
					SET iati_type_code = ?, narrative = ?, activity_ref = ?,
						updated_at = strftime('%Y-%m-%dT%H:%M:%SZ','now')
					WHERE uuid = ?
				`, nullString(link.IATITypeCode), nullString(link.Narrative), nullString(link.ActivityRef), existing); err != nil {
					return fmt.Errorf("failed to update participating org: %w", err)
				}
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return added, updated, nil
}

// List returns the activity's links ordered by role then organization
func (s *ParticipatingOrgStore) List(ctx context.Context, activityID string) ([]ParticipatingOrg, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT organization_uuid, role, coalesce(iati_type_code, ''), coalesce(narrative, ''), coalesce(activity_ref, '')
		FROM participating_orgs WHERE activity_id = ?
		ORDER BY role, organization_uuid`, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participating orgs: %w", err)
	}
	defer rows.Close()

	var out []ParticipatingOrg
	for rows.Next() {
		var p ParticipatingOrg
		if err := rows.Scan(&p.OrganizationUUID, &p.Role, &p.IATITypeCode, &p.Narrative, &p.ActivityRef); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
