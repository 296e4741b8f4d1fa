// Package merge reconciles each IATI field group into the stored activity.
// Every merger returns an Outcome; deciding what is a warning and what is
// fatal is left to the caller.
package merge

import (
	"fmt"

	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/iati"
)

// Outcome is the result of merging one field group
type Outcome struct {
	Group iati.Group

	// Updated is false when the group write failed or when every incoming
	// row was skipped.
	Updated bool

	Added   int
	Changed int
	Skipped int
	Total   int

	Warnings []domain.Warning

	// Err is a CodeGroupWriteFailure error when the group's write failed
	Err error
}

func newOutcome(group iati.Group, total int) *Outcome {
	return &Outcome{Group: group, Total: total}
}

// skip records a dropped row and its warning
func (o *Outcome) skip(w domain.Warning) {
	o.Skipped++
	o.Warnings = append(o.Warnings, w)
}

// skipErr records a dropped row for a typed error
func (o *Outcome) skipErr(err error) {
	if e, ok := domain.AsError(err); ok {
		o.skip(e.Warning())
		return
	}
	o.skip(domain.WrapError(domain.CodeInvalidRow, "row skipped", err).Warning())
}

func (o *Outcome) warn(w domain.Warning) {
	o.Warnings = append(o.Warnings, w)
}

// fail marks the group as not written
func (o *Outcome) fail(err error) *Outcome {
	o.Updated = false
	o.Err = domain.WrapError(domain.CodeGroupWriteFailure,
		fmt.Sprintf("failed to write %s", o.Group), err)
	return o
}

// allSkipped reports a non-empty incoming set that produced no rows. The
// stored rows are left untouched in that case.
func (o *Outcome) allSkipped() bool {
	return o.Total > 0 && o.Skipped == o.Total
}

// done marks the group written unless every row was skipped
func (o *Outcome) done() *Outcome {
	o.Updated = !o.allSkipped()
	return o
}

func invalidRow(group iati.Group, index int, row interface{}) (domain.Warning, bool) {
	failures, err := iati.ValidateRow(row)
	if err == nil {
		return domain.Warning{}, false
	}
	details := map[string]interface{}{"group": string(group), "index": index}
	for field, rule := range failures {
		details[field] = rule
	}
	return domain.Warning{
		Type:    domain.CodeInvalidRow,
		Message: fmt.Sprintf("%s[%d] skipped: %v", group, index, err),
		Details: details,
	}, true
}

func currencyMissing(group iati.Group, index int, describe string) domain.Warning {
	return domain.Warning{
		Type:    domain.CodeCurrencyUnresolvable,
		Message: "currency missing: " + describe,
		Details: map[string]interface{}{"group": string(group), "index": index},
	}
}
