// Package orgs resolves organization references to stored organizations,
// creating them when no match exists.
package orgs

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MinFragmentLength is the shortest folded name tried as a substring match
const MinFragmentLength = 3

// FoldName normalizes a name for case-insensitive comparison: NFC, Unicode
// case folding and collapsed whitespace.
func FoldName(name string) string {
	folded := cases.Fold().String(norm.NFC.String(name))
	return strings.Join(strings.Fields(folded), " ")
}
