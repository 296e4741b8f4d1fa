package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/events"
)

// OrganizationStore persists organizations and their alias references
type OrganizationStore struct {
	store *Store
}

const organizationColumns = `uuid, id, iati_org_id, name, name_folded, acronym, type,
	iati_type_code, country, default_currency, created_at`

func scanOrganization(row interface{ Scan(...interface{}) error }) (*domain.Organization, error) {
	o := &domain.Organization{}
	var orgType string
	err := row.Scan(&o.UUID, &o.ID, &o.IATIOrgID, &o.Name, &o.NameFolded, &o.Acronym, &orgType,
		&o.IATITypeCode, &o.Country, &o.DefaultCurrency, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Type = domain.OrganizationType(orgType)
	return o, nil
}

func (s *OrganizationStore) queryOne(ctx context.Context, what, where string, args ...interface{}) (*domain.Organization, error) {
	row := s.store.db.QueryRowContext(ctx, "SELECT "+organizationColumns+" FROM organizations WHERE "+where+" LIMIT 1", args...)
	o, err := scanOrganization(row)
	if err != nil {
		return nil, notFound(err, what)
	}
	return o, nil
}

// Get loads an organization by uuid, including its aliases
func (s *OrganizationStore) Get(ctx context.Context, orgUUID string) (*domain.Organization, error) {
	o, err := s.queryOne(ctx, "organization "+orgUUID, "uuid = ?", orgUUID)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.db.QueryContext(ctx,
		"SELECT ref FROM organization_aliases WHERE organization_uuid = ? ORDER BY ref", orgUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load aliases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		o.Aliases = append(o.Aliases, ref)
	}
	return o, rows.Err()
}

// FindByRef matches the primary IATI organization reference exactly
func (s *OrganizationStore) FindByRef(ctx context.Context, ref string) (*domain.Organization, error) {
	return s.queryOne(ctx, "organization ref "+ref, "iati_org_id = ?", ref)
}

// FindByAlias matches any recorded alias reference
func (s *OrganizationStore) FindByAlias(ctx context.Context, ref string) (*domain.Organization, error) {
	return s.queryOne(ctx, "organization alias "+ref,
		"uuid = (SELECT organization_uuid FROM organization_aliases WHERE ref = ?)", ref)
}

// FindByFoldedName matches the case-folded name exactly. Organizations
// without a reference win ties so name-only rows stay canonical.
func (s *OrganizationStore) FindByFoldedName(ctx context.Context, folded string) (*domain.Organization, error) {
	row := s.store.db.QueryRowContext(ctx, "SELECT "+organizationColumns+` FROM organizations
		WHERE name_folded = ?
		ORDER BY iati_org_id IS NOT NULL, created_at, uuid
		LIMIT 1`, folded)
	o, err := scanOrganization(row)
	if err != nil {
		return nil, notFound(err, "organization name "+folded)
	}
	return o, nil
}

// FindByNameFragment returns organizations whose folded name contains the
// fragment, capped at limit.
func (s *OrganizationStore) FindByNameFragment(ctx context.Context, fragment string, limit int) ([]*domain.Organization, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.store.db.QueryContext(ctx, "SELECT "+organizationColumns+` FROM organizations
		WHERE instr(name_folded, ?) > 0
		ORDER BY length(name_folded), uuid
		LIMIT ?`, fragment, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*domain.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// Create inserts an organization and records its reference as the sole
// alias. A uniqueness violation is reported as domain.ErrConflict.
func (s *OrganizationStore) Create(ctx context.Context, actor string, o *domain.Organization) error {
	if strings.TrimSpace(o.Name) == "" {
		return fmt.Errorf("organization name is required")
	}
	if o.UUID == "" {
		o.UUID = uuid.NewString()
	}
	if o.Type == "" {
		o.Type = domain.OrgTypeOther
	}

	return s.store.withTx(ctx, func(tx *sql.Tx, ew *events.Writer) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (uuid, iati_org_id, name, name_folded, acronym, type,
				iati_type_code, country, default_currency)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, o.UUID, o.IATIOrgID, o.Name, o.NameFolded, o.Acronym, string(o.Type),
			o.IATITypeCode, o.Country, o.DefaultCurrency)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("organization %q: %w", o.Name, domain.ErrConflict)
			}
			return fmt.Errorf("failed to insert organization: %w", err)
		}

		if o.IATIOrgID != nil && *o.IATIOrgID != "" {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO organization_aliases (ref, organization_uuid) VALUES (?, ?)",
				*o.IATIOrgID, o.UUID); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("organization alias %q: %w", *o.IATIOrgID, domain.ErrConflict)
				}
				return fmt.Errorf("failed to insert alias: %w", err)
			}
			o.Aliases = []string{*o.IATIOrgID}
		}

		if err := tx.QueryRowContext(ctx,
			"SELECT id, created_at FROM organizations WHERE uuid = ?", o.UUID,
		).Scan(&o.ID, &o.CreatedAt); err != nil {
			return fmt.Errorf("failed to read organization id: %w", err)
		}

		return ew.LogOrganizationCreated(ctx, tx, actor, o)
	})
}

// AddAlias appends a reference to an organization's alias set. An alias
// already present is left as is.
func (s *OrganizationStore) AddAlias(ctx context.Context, orgUUID, ref string) error {
	_, err := s.store.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO organization_aliases (ref, organization_uuid) VALUES (?, ?)", ref, orgUUID)
	if err != nil {
		return fmt.Errorf("failed to add alias: %w", err)
	}
	return nil
}

// SetAcronym overwrites the organization's acronym
func (s *OrganizationStore) SetAcronym(ctx context.Context, orgUUID, acronym string) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE organizations SET acronym = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ','now')
		WHERE uuid = ?`, acronym, orgUUID)
	if err != nil {
		return fmt.Errorf("failed to set acronym: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("organization %s: %w", orgUUID, domain.ErrNotFound)
	}
	return nil
}

// Count returns the number of organizations
func (s *OrganizationStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM organizations").Scan(&n)
	return n, err
}
