package domain

import (
	"encoding/json"
)

// ImportStatus is the outcome recorded on an import log entry
type ImportStatus string

const (
	ImportStatusSuccess ImportStatus = "success"
	ImportStatusPartial ImportStatus = "partial"
	ImportStatusFailed  ImportStatus = "failed"
)

// OrganizationType is the internal organization category
type OrganizationType string

const (
	OrgTypeGovernment   OrganizationType = "government"
	OrgTypeINGO         OrganizationType = "ingo"
	OrgTypeNGO          OrganizationType = "ngo"
	OrgTypeMultilateral OrganizationType = "multilateral"
	OrgTypePrivate      OrganizationType = "private"
	OrgTypeAcademic     OrganizationType = "academic"
	OrgTypeOther        OrganizationType = "other"
)

// Activity is the aggregate root an import reconciles into. Only scalar
// fields and sync metadata live here; child collections are separate tables.
type Activity struct {
	ID                      string  `json:"id" db:"id"`
	IATIIdentifier          *string `json:"iati_identifier,omitempty" db:"iati_identifier"`
	Title                   *string `json:"title,omitempty" db:"title"`
	Description             *string `json:"description,omitempty" db:"description"`
	DescriptionObjectives   *string `json:"description_objectives,omitempty" db:"description_objectives"`
	DescriptionTargetGroups *string `json:"description_target_groups,omitempty" db:"description_target_groups"`
	DescriptionOther        *string `json:"description_other,omitempty" db:"description_other"`
	ActivityStatus          *string `json:"activity_status,omitempty" db:"activity_status"`
	PlannedStartDate        *string `json:"planned_start_date,omitempty" db:"planned_start_date"`
	ActualStartDate         *string `json:"actual_start_date,omitempty" db:"actual_start_date"`
	PlannedEndDate          *string `json:"planned_end_date,omitempty" db:"planned_end_date"`
	ActualEndDate           *string `json:"actual_end_date,omitempty" db:"actual_end_date"`
	DefaultCurrency         *string `json:"default_currency,omitempty" db:"default_currency"`
	DefaultAidType          *string `json:"default_aid_type,omitempty" db:"default_aid_type"`
	DefaultFinanceType      *string `json:"default_finance_type,omitempty" db:"default_finance_type"`
	DefaultFlowType         *string `json:"default_flow_type,omitempty" db:"default_flow_type"`
	DefaultTiedStatus       *string `json:"default_tied_status,omitempty" db:"default_tied_status"`
	CollaborationType       *string `json:"collaboration_type,omitempty" db:"collaboration_type"`
	RecipientCountries      string  `json:"recipient_countries" db:"recipient_countries"` // JSON
	RecipientRegions        string  `json:"recipient_regions" db:"recipient_regions"`     // JSON
	CustomGeographies       string  `json:"custom_geographies" db:"custom_geographies"`   // JSON
	ReportingOrgUUID        *string `json:"reporting_org_uuid,omitempty" db:"reporting_org_uuid"`
	LastSyncTime            *string `json:"last_sync_time,omitempty" db:"last_sync_time"`
	SyncStatus              *string `json:"sync_status,omitempty" db:"sync_status"`
	LastImportUUID          *string `json:"last_import_uuid,omitempty" db:"last_import_uuid"`
}

// Scalars returns the importable scalar fields keyed by column name. JSON
// geography columns are decoded so diffs show structure rather than strings.
func (a *Activity) Scalars() map[string]interface{} {
	out := map[string]interface{}{
		"title":                     a.Title,
		"description":               a.Description,
		"description_objectives":    a.DescriptionObjectives,
		"description_target_groups": a.DescriptionTargetGroups,
		"description_other":         a.DescriptionOther,
		"activity_status":           a.ActivityStatus,
		"planned_start_date":        a.PlannedStartDate,
		"actual_start_date":         a.ActualStartDate,
		"planned_end_date":          a.PlannedEndDate,
		"actual_end_date":           a.ActualEndDate,
		"default_currency":          a.DefaultCurrency,
		"default_aid_type":          a.DefaultAidType,
		"default_finance_type":      a.DefaultFinanceType,
		"default_flow_type":         a.DefaultFlowType,
		"default_tied_status":       a.DefaultTiedStatus,
		"collaboration_type":        a.CollaborationType,
	}
	for column, raw := range map[string]string{
		"recipient_countries": a.RecipientCountries,
		"recipient_regions":   a.RecipientRegions,
		"custom_geographies":  a.CustomGeographies,
	} {
		var v interface{}
		if raw != "" && json.Unmarshal([]byte(raw), &v) == nil {
			out[column] = v
		} else {
			out[column] = []interface{}{}
		}
	}
	return out
}

// Organization is an identity record keyed by external reference, then by
// alias references, then by name.
type Organization struct {
	UUID            string           `json:"uuid" db:"uuid"`
	ID              string           `json:"id" db:"id"`
	IATIOrgID       *string          `json:"iati_org_id,omitempty" db:"iati_org_id"`
	Name            string           `json:"name" db:"name"`
	NameFolded      string           `json:"-" db:"name_folded"`
	Acronym         *string          `json:"acronym,omitempty" db:"acronym"`
	Type            OrganizationType `json:"type" db:"type"`
	IATITypeCode    *string          `json:"iati_type_code,omitempty" db:"iati_type_code"`
	Country         *string          `json:"country,omitempty" db:"country"`
	DefaultCurrency *string          `json:"default_currency,omitempty" db:"default_currency"`
	Aliases         []string         `json:"aliases,omitempty" db:"-"`
	CreatedAt       string           `json:"created_at" db:"created_at"`
}

// PolicyMarker is a catalog entry for a policy marker definition
type PolicyMarker struct {
	UUID            string `json:"uuid" db:"uuid"`
	Code            string `json:"code" db:"code"`
	IATICode        string `json:"iati_code" db:"iati_code"`
	Name            string `json:"name" db:"name"`
	Vocabulary      string `json:"vocabulary" db:"vocabulary"`
	VocabularyURI   string `json:"vocabulary_uri,omitempty" db:"vocabulary_uri"`
	MaxSignificance int    `json:"max_significance" db:"max_significance"`
	IsCustom        bool   `json:"is_custom" db:"is_custom"`
}

// Warning is a recoverable problem surfaced to the caller of an import
type Warning struct {
	Type    Code                   `json:"type"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ImportLog is the immutable audit record of one import run
type ImportLog struct {
	UUID            string       `json:"uuid" db:"uuid"`
	ID              string       `json:"id" db:"id"`
	ActivityID      string       `json:"activity_id" db:"activity_id"`
	EntityType      string       `json:"entity_type" db:"entity_type"`
	FileName        string       `json:"file_name" db:"file_name"`
	Status          ImportStatus `json:"status" db:"status"`
	FieldsRequested []string     `json:"fields_requested" db:"fields_requested"`
	FieldsUpdated   []string     `json:"fields_updated" db:"fields_updated"`
	PreviousValues  string       `json:"previous_values" db:"previous_values"` // JSON
	UpdatedValues   string       `json:"updated_values" db:"updated_values"`   // JSON
	RollbackPatch   string       `json:"rollback_patch" db:"rollback_patch"`   // JSON Patch
	Warnings        []Warning    `json:"warnings" db:"warnings"`
	TotalRows       int          `json:"total_rows" db:"total_rows"`
	SuccessfulRows  int          `json:"successful_rows" db:"successful_rows"`
	FailedRows      int          `json:"failed_rows" db:"failed_rows"`
	Actor           *string      `json:"actor,omitempty" db:"actor"`
	ErrorMessage    *string      `json:"error_message,omitempty" db:"error_message"`
	ImportDate      string       `json:"import_date" db:"import_date"`
}

// MaxLoggedWarnings caps the warnings stored on an import log entry
const MaxLoggedWarnings = 100

// Event represents an event in the event log
type Event struct {
	ID           int64   `json:"id" db:"id"`
	Timestamp    string  `json:"timestamp" db:"timestamp"`
	Actor        *string `json:"actor,omitempty" db:"actor"`
	ResourceType string  `json:"resource_type" db:"resource_type"`
	ResourceUUID *string `json:"resource_uuid,omitempty" db:"resource_uuid"`
	EventType    string  `json:"event_type" db:"event_type"`
	Payload      *string `json:"payload,omitempty" db:"payload"` // JSON
}
