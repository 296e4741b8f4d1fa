// Package id formats and parses the friendly IDs handed out by the database
// sequences (ORG-00001, IMP-00001).
package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	organizationIDPattern = regexp.MustCompile(`^ORG-\d{5,}$`)
	importIDPattern       = regexp.MustCompile(`^IMP-\d{5,}$`)
	uuidPattern           = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// Type represents the type of resource
type Type string

const (
	TypeOrganization Type = "organization"
	TypeImport       Type = "import"
)

// FormatOrganization formats an organization friendly ID
func FormatOrganization(seq int) string {
	return fmt.Sprintf("ORG-%05d", seq)
}

// FormatImport formats an import log friendly ID
func FormatImport(seq int) string {
	return fmt.Sprintf("IMP-%05d", seq)
}

// Parse parses an ID string and returns the type and sequence number
func Parse(id string) (Type, int, error) {
	id = strings.TrimSpace(id)

	switch {
	case organizationIDPattern.MatchString(id):
		seq, _ := strconv.Atoi(id[4:])
		return TypeOrganization, seq, nil
	case importIDPattern.MatchString(id):
		seq, _ := strconv.Atoi(id[4:])
		return TypeImport, seq, nil
	default:
		return "", 0, fmt.Errorf("invalid friendly ID format: %s", id)
	}
}

// IsUUID checks if a string is a valid UUID
func IsUUID(s string) bool {
	return uuidPattern.MatchString(strings.ToLower(s))
}

// IsFriendlyID checks if a string is a valid friendly ID
func IsFriendlyID(s string) bool {
	_, _, err := Parse(s)
	return err == nil
}

// IsImportRef reports whether s can name an import log: an IMP- friendly
// ID or a UUID.
func IsImportRef(s string) bool {
	if IsUUID(s) {
		return true
	}
	t, _, err := Parse(s)
	return err == nil && t == TypeImport
}
