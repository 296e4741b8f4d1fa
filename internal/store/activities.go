package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/events"
)

// ActivityStore reads and seeds activity aggregates. Scalar patches are
// applied by ImportLogStore.Finalize alongside the audit write.
type ActivityStore struct {
	store *Store
}

const activityColumns = `id, iati_identifier, title, description, description_objectives,
	description_target_groups, description_other, activity_status, planned_start_date,
	actual_start_date, planned_end_date, actual_end_date, default_currency, default_aid_type,
	default_finance_type, default_flow_type, default_tied_status, collaboration_type,
	recipient_countries, recipient_regions, custom_geographies, reporting_org_uuid,
	last_sync_time, sync_status, last_import_uuid`

func scanActivity(row interface{ Scan(...interface{}) error }) (*domain.Activity, error) {
	a := &domain.Activity{}
	err := row.Scan(
		&a.ID, &a.IATIIdentifier, &a.Title, &a.Description, &a.DescriptionObjectives,
		&a.DescriptionTargetGroups, &a.DescriptionOther, &a.ActivityStatus, &a.PlannedStartDate,
		&a.ActualStartDate, &a.PlannedEndDate, &a.ActualEndDate, &a.DefaultCurrency, &a.DefaultAidType,
		&a.DefaultFinanceType, &a.DefaultFlowType, &a.DefaultTiedStatus, &a.CollaborationType,
		&a.RecipientCountries, &a.RecipientRegions, &a.CustomGeographies, &a.ReportingOrgUUID,
		&a.LastSyncTime, &a.SyncStatus, &a.LastImportUUID,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Get loads an activity snapshot by id
func (s *ActivityStore) Get(ctx context.Context, id string) (*domain.Activity, error) {
	row := s.store.db.QueryRowContext(ctx, "SELECT "+activityColumns+" FROM activities WHERE id = ?", id)
	a, err := scanActivity(row)
	if err != nil {
		return nil, notFound(err, "activity "+id)
	}
	return a, nil
}

// FindIDByIATIIdentifier returns the local id of the activity carrying the
// given IATI identifier.
func (s *ActivityStore) FindIDByIATIIdentifier(ctx context.Context, identifier string) (string, error) {
	var id string
	err := s.store.db.QueryRowContext(ctx,
		"SELECT id FROM activities WHERE iati_identifier = ?", strings.TrimSpace(identifier),
	).Scan(&id)
	if err != nil {
		return "", notFound(err, "activity with identifier "+identifier)
	}
	return id, nil
}

// Create inserts an activity. Activities are owned outside the import
// engine; this exists for seeding and administration.
func (s *ActivityStore) Create(ctx context.Context, a *domain.Activity) error {
	if a.ID == "" {
		return fmt.Errorf("activity id is required")
	}
	for _, geo := range []*string{&a.RecipientCountries, &a.RecipientRegions, &a.CustomGeographies} {
		if *geo == "" {
			*geo = "[]"
		}
	}

	return s.store.withTx(ctx, func(tx *sql.Tx, _ *events.Writer) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO activities (id, iati_identifier, title, description, activity_status,
				default_currency, recipient_countries, recipient_regions, custom_geographies,
				reporting_org_uuid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.IATIIdentifier, a.Title, a.Description, a.ActivityStatus,
			a.DefaultCurrency, a.RecipientCountries, a.RecipientRegions, a.CustomGeographies,
			a.ReportingOrgUUID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("activity %s: %w", a.ID, domain.ErrConflict)
			}
			return fmt.Errorf("failed to insert activity: %w", err)
		}
		return nil
	})
}

// patchScalars writes column values and sync metadata onto an activity
func patchScalars(ctx context.Context, tx *sql.Tx, activityID string, columns []string, values []interface{}, sync SyncMetadata) error {
	sets := make([]string, 0, len(columns)+4)
	args := make([]interface{}, 0, len(values)+5)
	for i, column := range columns {
		sets = append(sets, column+" = ?")
		args = append(args, values[i])
	}
	if sync.ReportingOrgUUID != "" {
		sets = append(sets, "reporting_org_uuid = ?")
		args = append(args, sync.ReportingOrgUUID)
	}
	sets = append(sets,
		"last_sync_time = ?",
		"sync_status = ?",
		"last_import_uuid = ?",
		"updated_at = strftime('%Y-%m-%dT%H:%M:%SZ','now')",
	)
	args = append(args, sync.SyncTime, sync.SyncStatus, sync.ImportUUID, activityID)

	res, err := tx.ExecContext(ctx, "UPDATE activities SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to patch activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("activity %s: %w", activityID, domain.ErrNotFound)
	}
	return nil
}
