// Package slug derives stable codes from free-text labels, for catalog
// entries that arrive without a code of their own.
package slug

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	maxSlugLen  = 100
)

// Normalize turns a label into a slug.
// Rules:
// - Accents are stripped and the result is lower-case
// - Allowed characters: a-z, 0-9, -
// - Runs of separators collapse to a single hyphen
// - Must start with [a-z0-9]
// - Max length: 100 bytes, longer input is truncated
func Normalize(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("slug cannot be empty")
	}

	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		return "", fmt.Errorf("failed to normalize %q: %w", s, err)
	}
	stripped = strings.ToLower(stripped)

	var result strings.Builder
	hyphen := false
	for _, r := range stripped {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			result.WriteRune(r)
			hyphen = false
		case r == ' ' || r == '_' || r == '-' || r == '/' || r == '.':
			if !hyphen && result.Len() > 0 {
				result.WriteByte('-')
				hyphen = true
			}
		}
	}
	s = strings.Trim(result.String(), "-")

	if s == "" {
		return "", fmt.Errorf("slug must contain an alphanumeric character")
	}
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}

	if !slugPattern.MatchString(s) {
		return "", fmt.Errorf("invalid slug format: %s", s)
	}
	return s, nil
}
