package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var currencyCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidateCurrencyCode validates an upper-case ISO 4217 style code
func ValidateCurrencyCode(code string) error {
	if !currencyCodePattern.MatchString(code) {
		return fmt.Errorf("invalid currency code %q: must be three upper-case letters", code)
	}
	return nil
}

// ValidateOrgRole validates an IATI organisation role code
func ValidateOrgRole(role string) error {
	switch role {
	case "1", "2", "3", "4":
		return nil
	default:
		return fmt.Errorf("invalid organisation role %q: must be one of 1, 2, 3, 4", role)
	}
}

// ValidateSignificance validates a policy marker significance
func ValidateSignificance(significance int) error {
	if significance < 0 || significance > 4 {
		return fmt.Errorf("invalid significance %d: must be between 0 and 4", significance)
	}
	return nil
}

// ValidateDate validates and parses an IATI date (YYYY-MM-DD). A datetime
// prefix is accepted and truncated.
func ValidateDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// MapIATIOrgType maps an IATI organisation type code to the internal category
func MapIATIOrgType(code string) OrganizationType {
	switch strings.TrimSpace(code) {
	case "10", "11", "15":
		return OrgTypeGovernment
	case "21":
		return OrgTypeINGO
	case "22", "23":
		return OrgTypeNGO
	case "30", "40":
		return OrgTypeMultilateral
	case "60", "70":
		return OrgTypePrivate
	case "80":
		return OrgTypeAcademic
	default:
		return OrgTypeOther
	}
}
