// Package iati defines the normalized IATI activity payload consumed by the
// importer. Each field group has its own row type; optional attributes are
// pointers or empty strings.
package iati

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Request is one import run as received from a caller
type Request struct {
	ActivityID       string            `json:"activityId" validate:"required"`
	Fields           Fields            `json:"fields"`
	IATIData         Payload           `json:"iatiData"`
	AcronymOverrides map[string]string `json:"acronymOverrides,omitempty"`

	// Source labels the origin of the payload in the import log
	// (a file name, or "api").
	Source string `json:"-"`
	Actor  string `json:"-"`
}

// Payload is a parsed iati-activity
type Payload struct {
	IATIIdentifier string  `json:"iatiIdentifier,omitempty"`
	ReportingOrg   *OrgRef `json:"reportingOrg,omitempty"`

	Title                   *string `json:"title,omitempty"`
	Description             *string `json:"description,omitempty"`
	DescriptionObjectives   *string `json:"descriptionObjectives,omitempty"`
	DescriptionTargetGroups *string `json:"descriptionTargetGroups,omitempty"`
	DescriptionOther        *string `json:"descriptionOther,omitempty"`
	ActivityStatus          *string `json:"activityStatus,omitempty"`
	PlannedStartDate        *string `json:"plannedStartDate,omitempty"`
	ActualStartDate         *string `json:"actualStartDate,omitempty"`
	PlannedEndDate          *string `json:"plannedEndDate,omitempty"`
	ActualEndDate           *string `json:"actualEndDate,omitempty"`
	DefaultCurrency         *string `json:"defaultCurrency,omitempty"`
	DefaultAidType          *string `json:"defaultAidType,omitempty"`
	DefaultFinanceType      *string `json:"defaultFinanceType,omitempty"`
	DefaultFlowType         *string `json:"defaultFlowType,omitempty"`
	DefaultTiedStatus       *string `json:"defaultTiedStatus,omitempty"`
	CollaborationType       *string `json:"collaborationType,omitempty"`

	RecipientCountries []RecipientCountry `json:"recipientCountries,omitempty"`
	RecipientRegions   []RecipientRegion  `json:"recipientRegions,omitempty"`
	CustomGeographies  []CustomGeography  `json:"customGeographies,omitempty"`

	Sectors              []Sector              `json:"sectors,omitempty"`
	ParticipatingOrgs    []ParticipatingOrg    `json:"participatingOrgs,omitempty"`
	Locations            []Location            `json:"locations,omitempty"`
	Transactions         []Transaction         `json:"transactions,omitempty"`
	Budgets              []Budget              `json:"budgets,omitempty"`
	PlannedDisbursements []PlannedDisbursement `json:"plannedDisbursements,omitempty"`
	PolicyMarkers        []PolicyMarker        `json:"policyMarkers,omitempty"`
	HumanitarianScopes   []HumanitarianScope   `json:"humanitarianScopes,omitempty"`
	DocumentLinks        []DocumentLink        `json:"documentLinks,omitempty"`
	FinancingTerms       *FinancingTerms       `json:"financingTerms,omitempty"`
	Tags                 []Tag                 `json:"tags,omitempty"`
	CountryBudgetItems   []CountryBudgetItems  `json:"countryBudgetItems,omitempty"`
	RelatedActivities    []RelatedActivity     `json:"relatedActivities,omitempty"`
	Contacts             []Contact             `json:"contacts,omitempty"`
	Conditions           *Conditions           `json:"conditions,omitempty"`
}

// OrgRef identifies an organization by reference, name, or both
type OrgRef struct {
	Ref  string `json:"ref,omitempty"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// Empty reports whether the reference carries nothing to resolve
func (o *OrgRef) Empty() bool {
	return o == nil || (strings.TrimSpace(o.Ref) == "" && strings.TrimSpace(o.Name) == "")
}

type RecipientCountry struct {
	Code       string           `json:"code" validate:"required,len=2"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	Narrative  string           `json:"narrative,omitempty"`
}

type RecipientRegion struct {
	Code          string           `json:"code" validate:"required"`
	Vocabulary    string           `json:"vocabulary,omitempty"`
	VocabularyURI string           `json:"vocabularyUri,omitempty"`
	Percentage    *decimal.Decimal `json:"percentage,omitempty"`
	Narrative     string           `json:"narrative,omitempty"`
}

type CustomGeography struct {
	Name       string           `json:"name" validate:"required"`
	Code       string           `json:"code,omitempty"`
	Vocabulary string           `json:"vocabulary,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
}

type Sector struct {
	Code       string           `json:"code" validate:"required"`
	Vocabulary string           `json:"vocabulary,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	Narrative  string           `json:"narrative,omitempty"`
}

type ParticipatingOrg struct {
	Ref        string `json:"ref,omitempty"`
	Name       string `json:"name,omitempty" validate:"required_without=Ref"`
	Type       string `json:"type,omitempty"`
	Role       string `json:"role" validate:"required,oneof=1 2 3 4"`
	ActivityID string `json:"activityId,omitempty"`
}

// OrgRef returns the organization reference carried by the row
func (p ParticipatingOrg) OrgRef() OrgRef {
	return OrgRef{Ref: p.Ref, Name: p.Name, Type: p.Type}
}

type Point struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

type AdministrativeCode struct {
	Vocabulary string `json:"vocabulary" validate:"required"`
	Level      string `json:"level,omitempty"`
	Code       string `json:"code" validate:"required"`
}

type Location struct {
	Ref                string               `json:"ref,omitempty"`
	Name               string               `json:"name,omitempty"`
	Description        string               `json:"description,omitempty"`
	LocationReach      string               `json:"locationReach,omitempty"`
	Exactness          string               `json:"exactness,omitempty"`
	LocationClass      string               `json:"locationClass,omitempty"`
	FeatureDesignation string               `json:"featureDesignation,omitempty"`
	Point              *Point               `json:"point,omitempty"`
	Administrative     []AdministrativeCode `json:"administrative,omitempty" validate:"dive"`
}

type Transaction struct {
	Ref                 string          `json:"ref,omitempty"`
	Type                string          `json:"type" validate:"required"`
	Date                string          `json:"date,omitempty"`
	Value               decimal.Decimal `json:"value"`
	Currency            string          `json:"currency,omitempty"`
	ValueDate           string          `json:"valueDate,omitempty"`
	Description         string          `json:"description,omitempty"`
	ProviderOrg         *OrgRef         `json:"providerOrg,omitempty"`
	ReceiverOrg         *OrgRef         `json:"receiverOrg,omitempty"`
	AidType             string          `json:"aidType,omitempty"`
	FinanceType         string          `json:"financeType,omitempty"`
	TiedStatus          string          `json:"tiedStatus,omitempty"`
	FlowType            string          `json:"flowType,omitempty"`
	DisbursementChannel string          `json:"disbursementChannel,omitempty"`
}

type Budget struct {
	Type        string          `json:"type,omitempty"`
	Status      string          `json:"status,omitempty"`
	PeriodStart string          `json:"periodStart,omitempty"`
	PeriodEnd   string          `json:"periodEnd,omitempty"`
	Value       decimal.Decimal `json:"value"`
	Currency    string          `json:"currency,omitempty"`
	ValueDate   string          `json:"valueDate,omitempty"`
}

type PlannedDisbursement struct {
	Type        string          `json:"type,omitempty"`
	PeriodStart string          `json:"periodStart,omitempty"`
	PeriodEnd   string          `json:"periodEnd,omitempty"`
	Value       decimal.Decimal `json:"value"`
	Currency    string          `json:"currency,omitempty"`
	ValueDate   string          `json:"valueDate,omitempty"`
	ProviderOrg *OrgRef         `json:"providerOrg,omitempty"`
	ReceiverOrg *OrgRef         `json:"receiverOrg,omitempty"`
}

type PolicyMarker struct {
	Code          string `json:"code" validate:"required"`
	Vocabulary    string `json:"vocabulary,omitempty"`
	VocabularyURI string `json:"vocabularyUri,omitempty"`
	Significance  *int   `json:"significance,omitempty"`
	Rationale     string `json:"rationale,omitempty"`
}

type HumanitarianScope struct {
	Type          string `json:"type" validate:"required,oneof=1 2"`
	Vocabulary    string `json:"vocabulary" validate:"required"`
	VocabularyURI string `json:"vocabularyUri,omitempty"`
	Code          string `json:"code" validate:"required"`
	Narrative     string `json:"narrative,omitempty"`
}

type DocumentLink struct {
	URL          string   `json:"url" validate:"required,url"`
	Format       string   `json:"format,omitempty"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Language     string   `json:"language,omitempty"`
	DocumentDate string   `json:"documentDate,omitempty"`
	Categories   []string `json:"categories,omitempty" validate:"dive,required"`
}

type LoanTerms struct {
	Rate1              *decimal.Decimal `json:"rate1,omitempty"`
	Rate2              *decimal.Decimal `json:"rate2,omitempty"`
	RepaymentType      string           `json:"repaymentType,omitempty"`
	RepaymentPlan      string           `json:"repaymentPlan,omitempty"`
	CommitmentDate     string           `json:"commitmentDate,omitempty"`
	RepaymentFirstDate string           `json:"repaymentFirstDate,omitempty"`
	RepaymentFinalDate string           `json:"repaymentFinalDate,omitempty"`
}

type LoanStatus struct {
	Year                 int              `json:"year" validate:"required,gte=1900,lte=2200"`
	Currency             string           `json:"currency,omitempty"`
	ValueDate            string           `json:"valueDate,omitempty"`
	InterestReceived     *decimal.Decimal `json:"interestReceived,omitempty"`
	PrincipalOutstanding *decimal.Decimal `json:"principalOutstanding,omitempty"`
	PrincipalArrears     *decimal.Decimal `json:"principalArrears,omitempty"`
	InterestArrears      *decimal.Decimal `json:"interestArrears,omitempty"`
}

type FinancingFlag struct {
	Code         string `json:"code" validate:"required"`
	Significance int    `json:"significance"`
}

type FinancingTerms struct {
	LoanTerms    *LoanTerms      `json:"loanTerms,omitempty"`
	LoanStatuses []LoanStatus    `json:"loanStatuses,omitempty"`
	OtherFlags   []FinancingFlag `json:"otherFlags,omitempty"`
}

type Tag struct {
	Vocabulary    string `json:"vocabulary,omitempty"`
	VocabularyURI string `json:"vocabularyUri,omitempty"`
	Code          string `json:"code,omitempty" validate:"required_without=Narrative"`
	Narrative     string `json:"narrative,omitempty"`
}

type BudgetItem struct {
	Code        string           `json:"code" validate:"required"`
	Percentage  *decimal.Decimal `json:"percentage,omitempty"`
	Description string           `json:"description,omitempty"`
}

type CountryBudgetItems struct {
	Vocabulary string       `json:"vocabulary" validate:"required"`
	Items      []BudgetItem `json:"items,omitempty" validate:"dive"`
}

type RelatedActivity struct {
	Ref  string `json:"ref" validate:"required"`
	Type string `json:"type" validate:"required,oneof=1 2 3 4 5"`
}

type Contact struct {
	Type           string `json:"type,omitempty"`
	Organisation   string `json:"organisation,omitempty"`
	Department     string `json:"department,omitempty"`
	PersonName     string `json:"personName,omitempty"`
	JobTitle       string `json:"jobTitle,omitempty"`
	Telephone      string `json:"telephone,omitempty"`
	Email          string `json:"email,omitempty" validate:"omitempty,email"`
	Website        string `json:"website,omitempty"`
	MailingAddress string `json:"mailingAddress,omitempty"`
}

type Condition struct {
	Type      string `json:"type,omitempty"`
	Narrative string `json:"narrative" validate:"required"`
}

type Conditions struct {
	Attached bool        `json:"attached"`
	Items    []Condition `json:"items,omitempty"`
}
