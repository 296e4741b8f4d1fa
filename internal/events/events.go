package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lherron/iatisync/internal/domain"
)

// Writer handles writing events to the event log
type Writer struct {
	db *sql.DB
}

// NewWriter creates a new event writer
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// LogEvent writes an event to the event log. A nil tx writes outside any
// transaction.
func (w *Writer) LogEvent(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	query := `
		INSERT INTO event_log (actor, resource_type, resource_uuid, event_type, payload)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := w.getExecutor(tx).ExecContext(ctx, query, event.Actor, event.ResourceType, event.ResourceUUID, event.EventType, event.Payload)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// LogOrganizationCreated logs an organization created during resolution
func (w *Writer) LogOrganizationCreated(ctx context.Context, tx *sql.Tx, actor string, org *domain.Organization) error {
	return w.log(ctx, tx, actor, "organization", org.UUID, "organization.created", map[string]interface{}{
		"id":          org.ID,
		"name":        org.Name,
		"iati_org_id": org.IATIOrgID,
		"type":        org.Type,
	})
}

// LogActivityImported logs a finalized import run against an activity
func (w *Writer) LogActivityImported(ctx context.Context, tx *sql.Tx, actor string, entry *domain.ImportLog) error {
	return w.log(ctx, tx, actor, "activity", entry.ActivityID, "activity.imported", map[string]interface{}{
		"import_log_id":  entry.ID,
		"import_uuid":    entry.UUID,
		"status":         entry.Status,
		"fields_updated": entry.FieldsUpdated,
		"warnings":       len(entry.Warnings),
	})
}

// LogImportFailed logs a run that could not be finalized
func (w *Writer) LogImportFailed(ctx context.Context, tx *sql.Tx, actor string, activityID string, cause error) error {
	return w.log(ctx, tx, actor, "activity", activityID, "import.failed", map[string]interface{}{
		"error": cause.Error(),
	})
}

func (w *Writer) log(ctx context.Context, tx *sql.Tx, actor, resourceType, resourceUUID, eventType string, fields map[string]interface{}) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	payloadStr := string(payload)
	event := &domain.Event{
		ResourceType: resourceType,
		ResourceUUID: &resourceUUID,
		EventType:    eventType,
		Payload:      &payloadStr,
	}
	if actor != "" {
		event.Actor = &actor
	}

	return w.LogEvent(ctx, tx, event)
}

// getExecutor returns the appropriate executor (tx or db)
func (w *Writer) getExecutor(tx *sql.Tx) interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
} {
	if tx != nil {
		return tx
	}
	return w.db
}
