package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lherron/iatisync/internal/cursor"
	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/events"
)

// ImportLogStore writes the append-only import audit trail
type ImportLogStore struct {
	store *Store
}

// SyncMetadata is written onto the activity when a run finalizes
type SyncMetadata struct {
	SyncTime         string
	SyncStatus       string
	ImportUUID       string
	ReportingOrgUUID string
}

// FinalizeParams carries everything written in the finalize transaction
type FinalizeParams struct {
	ActivityID string
	Actor      string
	Columns    []string
	Values     []interface{}
	Sync       SyncMetadata
	Entry      *domain.ImportLog
}

// ListOptions filters and pages import log listings
type ListOptions struct {
	ActivityID string
	Status     string
	Limit      int
	Cursor     string
}

const importLogColumns = `uuid, id, activity_id, entity_type, file_name, status, fields_requested,
	fields_updated, previous_values, updated_values, rollback_patch, warnings, total_rows,
	successful_rows, failed_rows, actor, error_message, import_date`

// Finalize applies the scalar patch and sync metadata, appends the import
// log entry and records the activity.imported event in one transaction.
func (s *ImportLogStore) Finalize(ctx context.Context, p FinalizeParams) error {
	if len(p.Columns) != len(p.Values) {
		return fmt.Errorf("columns and values length mismatch")
	}
	if p.Entry.UUID == "" {
		p.Entry.UUID = uuid.NewString()
	}
	p.Sync.ImportUUID = p.Entry.UUID

	return s.store.withTx(ctx, func(tx *sql.Tx, ew *events.Writer) error {
		if err := patchScalars(ctx, tx, p.ActivityID, p.Columns, p.Values, p.Sync); err != nil {
			return err
		}
		if err := insertImportLog(ctx, tx, p.Entry); err != nil {
			return err
		}
		return ew.LogActivityImported(ctx, tx, p.Actor, p.Entry)
	})
}

// InsertFailure records a failed run and an import.failed event
func (s *ImportLogStore) InsertFailure(ctx context.Context, actor string, entry *domain.ImportLog, cause error) error {
	if entry.UUID == "" {
		entry.UUID = uuid.NewString()
	}
	entry.Status = domain.ImportStatusFailed
	if cause != nil && entry.ErrorMessage == nil {
		msg := cause.Error()
		entry.ErrorMessage = &msg
	}

	return s.store.withTx(ctx, func(tx *sql.Tx, ew *events.Writer) error {
		if err := insertImportLog(ctx, tx, entry); err != nil {
			return err
		}
		return ew.LogImportFailed(ctx, tx, actor, entry.ActivityID, cause)
	})
}

func insertImportLog(ctx context.Context, tx *sql.Tx, e *domain.ImportLog) error {
	if e.EntityType == "" {
		e.EntityType = "activity"
	}
	if e.FileName == "" {
		e.FileName = "api"
	}
	warnings := e.Warnings
	if len(warnings) > domain.MaxLoggedWarnings {
		warnings = warnings[:domain.MaxLoggedWarnings]
	}

	requested, err := marshalList(e.FieldsRequested)
	if err != nil {
		return err
	}
	updated, err := marshalList(e.FieldsUpdated)
	if err != nil {
		return err
	}
	if warnings == nil {
		warnings = []domain.Warning{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to encode warnings: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO import_logs (uuid, activity_id, entity_type, file_name, status, fields_requested,
			fields_updated, previous_values, updated_values, rollback_patch, warnings, total_rows,
			successful_rows, failed_rows, actor, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.UUID, e.ActivityID, e.EntityType, e.FileName, string(e.Status), requested, updated,
		orDefault(e.PreviousValues, "{}"), orDefault(e.UpdatedValues, "{}"), orDefault(e.RollbackPatch, "[]"),
		string(warningsJSON), e.TotalRows, e.SuccessfulRows, e.FailedRows, e.Actor, e.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to insert import log: %w", err)
	}

	if err := tx.QueryRowContext(ctx,
		"SELECT id, import_date FROM import_logs WHERE uuid = ?", e.UUID,
	).Scan(&e.ID, &e.ImportDate); err != nil {
		return fmt.Errorf("failed to read import log id: %w", err)
	}
	return nil
}

func marshalList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to encode field list: %w", err)
	}
	return string(data), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func scanImportLog(row interface{ Scan(...interface{}) error }) (*domain.ImportLog, error) {
	e := &domain.ImportLog{}
	var status, requested, updated, warnings string
	err := row.Scan(&e.UUID, &e.ID, &e.ActivityID, &e.EntityType, &e.FileName, &status, &requested,
		&updated, &e.PreviousValues, &e.UpdatedValues, &e.RollbackPatch, &warnings, &e.TotalRows,
		&e.SuccessfulRows, &e.FailedRows, &e.Actor, &e.ErrorMessage, &e.ImportDate)
	if err != nil {
		return nil, err
	}
	e.Status = domain.ImportStatus(status)
	if err := json.Unmarshal([]byte(requested), &e.FieldsRequested); err != nil {
		return nil, fmt.Errorf("bad fields_requested on %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(updated), &e.FieldsUpdated); err != nil {
		return nil, fmt.Errorf("bad fields_updated on %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(warnings), &e.Warnings); err != nil {
		return nil, fmt.Errorf("bad warnings on %s: %w", e.ID, err)
	}
	return e, nil
}

// Get loads an entry by friendly id (IMP-00001) or uuid
func (s *ImportLogStore) Get(ctx context.Context, ref string) (*domain.ImportLog, error) {
	row := s.store.db.QueryRowContext(ctx,
		"SELECT "+importLogColumns+" FROM import_logs WHERE id = ? OR uuid = ?", ref, ref)
	e, err := scanImportLog(row)
	if err != nil {
		return nil, notFound(err, "import log "+ref)
	}
	return e, nil
}

// List returns entries newest first. The second return value is the cursor
// for the next page, or "" when there are no more entries.
func (s *ImportLogStore) List(ctx context.Context, opts ListOptions) ([]*domain.ImportLog, string, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var where []string
	var args []interface{}
	if opts.ActivityID != "" {
		where = append(where, "activity_id = ?")
		args = append(args, opts.ActivityID)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.Cursor != "" {
		c, err := cursor.Decode(opts.Cursor)
		if err != nil {
			return nil, "", domain.WrapError(domain.CodeInvalidRequest, "invalid cursor", err)
		}
		clause, params := c.Where()
		where = append(where, clause)
		args = append(args, params...)
	}

	query := "SELECT " + importLogColumns + " FROM import_logs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY import_date DESC, id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list import logs: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ImportLog
	for rows.Next() {
		e, err := scanImportLog(rows)
		if err != nil {
			return nil, "", err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	if len(entries) <= limit {
		return entries, "", nil
	}
	entries = entries[:limit]
	last := entries[len(entries)-1]
	c, err := cursor.New(last.ImportDate, last.ID)
	if err != nil {
		return nil, "", err
	}
	next, err := c.Encode()
	if err != nil {
		return nil, "", err
	}
	return entries, next, nil
}
