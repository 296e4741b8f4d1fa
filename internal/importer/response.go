package importer

import (
	"fmt"
	"net/http"

	"github.com/lherron/iatisync/internal/domain"
)

// Response is returned for a run that reached Done
type Response struct {
	ActivityID    string           `json:"activityId"`
	FieldsUpdated []string         `json:"fieldsUpdated"`
	Warnings      []domain.Warning `json:"warnings,omitempty"`
	ImportLogID   string           `json:"importLogId"`
	Summary       Summary          `json:"summary"`
}

// Summary carries the per-run counters
type Summary struct {
	FieldsRequested           int    `json:"fieldsRequested"`
	FieldsUpdated             int    `json:"fieldsUpdated"`
	SectorsUpdated            int    `json:"sectorsUpdated"`
	OrganizationsUpdated      int    `json:"organizationsUpdated"`
	TransactionsAdded         int    `json:"transactionsAdded"`
	PlannedDisbursementsAdded int    `json:"plannedDisbursementsAdded"`
	PolicyMarkersAdded        int    `json:"policyMarkersAdded"`
	BudgetsAdded              int    `json:"budgetsAdded"`
	RelatedActivitiesLinked   int    `json:"relatedActivitiesLinked"`
	OrganizationsCreated      int    `json:"organizationsCreated"`
	OrganizationsLinked       int    `json:"organizationsLinked"`
	LastSyncTime              string `json:"lastSyncTime"`
	SyncStatus                string `json:"syncStatus"`
	HasWarnings               bool   `json:"hasWarnings"`
}

// ErrorResponse is the body returned for a fatal run
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewErrorResponse maps a fatal error to its HTTP status and body
func NewErrorResponse(err error) (int, ErrorResponse) {
	e, ok := domain.AsError(err)
	if !ok {
		return http.StatusInternalServerError, ErrorResponse{
			Error:   err.Error(),
			Details: map[string]interface{}{"code": string(domain.CodeUnexpected)},
		}
	}

	details := map[string]interface{}{"code": string(e.Code)}
	for k, v := range e.Details {
		details[k] = v
	}
	body := ErrorResponse{Error: e.Message, Details: details}
	if e.Err != nil {
		body.Error = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	switch e.Code {
	case domain.CodeNotFound:
		return http.StatusNotFound, body
	case domain.CodeInvalidRequest:
		return http.StatusBadRequest, body
	default:
		return http.StatusInternalServerError, body
	}
}
