package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is wrapped by store lookups that match no row.
	ErrNotFound = errors.New("not found")

	// ErrConflict is wrapped by store writes that hit a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Code categorizes import errors and warnings.
type Code string

const (
	// CodeNotFound: target activity does not exist. Fatal.
	CodeNotFound Code = "not_found"

	// CodeInvalidRequest: the request envelope is unusable. Fatal.
	CodeInvalidRequest Code = "invalid_request"

	// CodeCurrencyUnresolvable: no currency at any fallback level. Row skipped.
	CodeCurrencyUnresolvable Code = "currency_missing"

	// CodeOrganizationResolution: organization creation failed for a
	// non-race reason. Referencing row skipped.
	CodeOrganizationResolution Code = "organization_resolution_failed"

	// CodeOrganizationMismatch: an organization found after a creation race
	// disagrees with the incoming type or country. Informational.
	CodeOrganizationMismatch Code = "organization_mismatch"

	// CodeMarkerNotFound: standard-vocabulary marker absent from the catalog.
	CodeMarkerNotFound Code = "marker_not_found"

	// CodeSignificanceOutOfRange: significance clamped to the marker maximum.
	CodeSignificanceOutOfRange Code = "significance_clamped"

	// CodeInvalidRow: a payload row failed validation and was skipped.
	CodeInvalidRow Code = "invalid_row"

	// CodeGroupWriteFailure: storage error while writing a field group.
	CodeGroupWriteFailure Code = "group_write_failed"

	// CodeRowWriteFailure: one row of a group could not be written. Row
	// skipped; the rest of the group is kept.
	CodeRowWriteFailure Code = "row_write_failed"

	// CodeUnknownField: the field mask named a group that does not exist.
	CodeUnknownField Code = "unknown_field"

	// CodeUnexpected: anything uncaught. Fatal.
	CodeUnexpected Code = "unexpected_failure"
)

// Error is the typed error carried through an import run. Recoverable codes
// are converted into warnings by the orchestrator.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the code terminates a run.
func (e *Error) Fatal() bool {
	switch e.Code {
	case CodeNotFound, CodeInvalidRequest, CodeUnexpected:
		return true
	}
	return false
}

// Warning converts the error into its caller-facing warning form.
func (e *Error) Warning() Warning {
	w := Warning{Type: e.Code, Message: e.Message, Details: e.Details}
	if e.Err != nil {
		if w.Details == nil {
			w.Details = map[string]interface{}{}
		}
		w.Details["error"] = e.Err.Error()
	}
	return w
}

// NewError builds an Error with optional details.
func NewError(code Code, message string, details map[string]interface{}) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// WrapError builds an Error around a cause.
func WrapError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err's chain holds an *Error with the given code.
func IsCode(err error, code Code) bool {
	if e, ok := AsError(err); ok {
		return e.Code == code
	}
	return false
}
