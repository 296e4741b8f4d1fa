package iati

import (
	"encoding/json"
	"sort"
	"strings"
)

// Group names a selectable child-collection field group
type Group string

const (
	GroupParticipatingOrgs    Group = "participatingOrgs"
	GroupSectors              Group = "sectors"
	GroupLocations            Group = "locations"
	GroupTransactions         Group = "transactions"
	GroupBudgets              Group = "budgets"
	GroupPlannedDisbursements Group = "plannedDisbursements"
	GroupPolicyMarkers        Group = "policyMarkers"
	GroupHumanitarianScope    Group = "humanitarianScope"
	GroupDocumentLinks        Group = "documentLinks"
	GroupFinancingTerms       Group = "financingTerms"
	GroupTags                 Group = "tags"
	GroupCountryBudgetItems   Group = "countryBudgetItems"
	GroupRelatedActivities    Group = "relatedActivities"
	GroupContacts             Group = "contacts"
	GroupConditions           Group = "conditions"
)

// Groups lists every child-collection group
var Groups = []Group{
	GroupParticipatingOrgs,
	GroupSectors,
	GroupLocations,
	GroupTransactions,
	GroupBudgets,
	GroupPlannedDisbursements,
	GroupPolicyMarkers,
	GroupHumanitarianScope,
	GroupDocumentLinks,
	GroupFinancingTerms,
	GroupTags,
	GroupCountryBudgetItems,
	GroupRelatedActivities,
	GroupContacts,
	GroupConditions,
}

// ScalarField is a selectable activity column patched during finalize
type ScalarField struct {
	Name   string
	Column string
	value  func(p *Payload) (interface{}, bool)
}

// Value extracts the column value from the payload. ok is false when the
// payload does not carry the field.
func (f ScalarField) Value(p *Payload) (interface{}, bool) {
	return f.value(p)
}

func str(get func(p *Payload) *string) func(p *Payload) (interface{}, bool) {
	return func(p *Payload) (interface{}, bool) {
		v := get(p)
		if v == nil {
			return nil, false
		}
		return strings.TrimSpace(*v), true
	}
}

func upper(get func(p *Payload) *string) func(p *Payload) (interface{}, bool) {
	return func(p *Payload) (interface{}, bool) {
		v := get(p)
		if v == nil || strings.TrimSpace(*v) == "" {
			return nil, false
		}
		return strings.ToUpper(strings.TrimSpace(*v)), true
	}
}

func jsonList[T any](get func(p *Payload) []T) func(p *Payload) (interface{}, bool) {
	return func(p *Payload) (interface{}, bool) {
		v := get(p)
		if v == nil {
			return nil, false
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return string(data), true
	}
}

// ScalarFields lists the activity columns an import may patch, in patch order
var ScalarFields = []ScalarField{
	{"title", "title", str(func(p *Payload) *string { return p.Title })},
	{"description", "description", str(func(p *Payload) *string { return p.Description })},
	{"descriptionObjectives", "description_objectives", str(func(p *Payload) *string { return p.DescriptionObjectives })},
	{"descriptionTargetGroups", "description_target_groups", str(func(p *Payload) *string { return p.DescriptionTargetGroups })},
	{"descriptionOther", "description_other", str(func(p *Payload) *string { return p.DescriptionOther })},
	{"activityStatus", "activity_status", str(func(p *Payload) *string { return p.ActivityStatus })},
	{"plannedStartDate", "planned_start_date", str(func(p *Payload) *string { return p.PlannedStartDate })},
	{"actualStartDate", "actual_start_date", str(func(p *Payload) *string { return p.ActualStartDate })},
	{"plannedEndDate", "planned_end_date", str(func(p *Payload) *string { return p.PlannedEndDate })},
	{"actualEndDate", "actual_end_date", str(func(p *Payload) *string { return p.ActualEndDate })},
	{"defaultCurrency", "default_currency", upper(func(p *Payload) *string { return p.DefaultCurrency })},
	{"defaultAidType", "default_aid_type", str(func(p *Payload) *string { return p.DefaultAidType })},
	{"defaultFinanceType", "default_finance_type", str(func(p *Payload) *string { return p.DefaultFinanceType })},
	{"defaultFlowType", "default_flow_type", str(func(p *Payload) *string { return p.DefaultFlowType })},
	{"defaultTiedStatus", "default_tied_status", str(func(p *Payload) *string { return p.DefaultTiedStatus })},
	{"collaborationType", "collaboration_type", str(func(p *Payload) *string { return p.CollaborationType })},
	{"recipientCountries", "recipient_countries", jsonList(func(p *Payload) []RecipientCountry { return p.RecipientCountries })},
	{"recipientRegions", "recipient_regions", jsonList(func(p *Payload) []RecipientRegion { return p.RecipientRegions })},
	{"customGeographies", "custom_geographies", jsonList(func(p *Payload) []CustomGeography { return p.CustomGeographies })},
}

// Fields is the caller's selection mask: field name to include flag
type Fields map[string]bool

// Has reports whether name is selected
func (f Fields) Has(name string) bool {
	return f[name]
}

// Requested returns the selected names in a stable order
func (f Fields) Requested() []string {
	names := []string{}
	for name, on := range f {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Unknown returns selected names that are neither a group nor a scalar field
func (f Fields) Unknown() []string {
	var unknown []string
	for _, name := range f.Requested() {
		if !IsGroup(name) && !IsScalarField(name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// IsGroup reports whether name is a child-collection group
func IsGroup(name string) bool {
	for _, g := range Groups {
		if string(g) == name {
			return true
		}
	}
	return false
}

// IsScalarField reports whether name is a patchable activity field
func IsScalarField(name string) bool {
	for _, f := range ScalarFields {
		if f.Name == name {
			return true
		}
	}
	return false
}
