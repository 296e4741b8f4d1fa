package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatching(t *testing.T) {
	base := NewError(CodeMarkerNotFound, "policy marker 1/13 not found", map[string]interface{}{"code": "13"})
	wrapped := fmt.Errorf("group policyMarkers: %w", base)

	if !IsCode(wrapped, CodeMarkerNotFound) {
		t.Error("expected IsCode to see through wrapping")
	}
	if IsCode(wrapped, CodeNotFound) {
		t.Error("expected IsCode to reject a different code")
	}
	if IsCode(errors.New("plain"), CodeMarkerNotFound) {
		t.Error("expected IsCode to reject a plain error")
	}

	e, ok := AsError(wrapped)
	if !ok || e != base {
		t.Fatalf("AsError did not return the original error")
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := WrapError(CodeGroupWriteFailure, "sectors", ErrConflict)
	if !errors.Is(err, ErrConflict) {
		t.Error("expected errors.Is to reach the cause")
	}
	if err.Error() != "group_write_failed: sectors: conflict" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestErrorFatal(t *testing.T) {
	fatal := []Code{CodeNotFound, CodeInvalidRequest, CodeUnexpected}
	for _, c := range fatal {
		if !NewError(c, "x", nil).Fatal() {
			t.Errorf("%s should be fatal", c)
		}
	}
	recoverable := []Code{
		CodeCurrencyUnresolvable, CodeOrganizationResolution, CodeMarkerNotFound,
		CodeSignificanceOutOfRange, CodeGroupWriteFailure, CodeInvalidRow,
		CodeRowWriteFailure,
	}
	for _, c := range recoverable {
		if NewError(c, "x", nil).Fatal() {
			t.Errorf("%s should be recoverable", c)
		}
	}
}

func TestErrorWarning(t *testing.T) {
	w := WrapError(CodeGroupWriteFailure, "failed to write tags", errors.New("disk full")).Warning()
	if w.Type != CodeGroupWriteFailure {
		t.Errorf("unexpected type %s", w.Type)
	}
	if w.Details["error"] != "disk full" {
		t.Errorf("expected cause in details, got %v", w.Details)
	}
}

func TestActivityScalarsDecodesGeography(t *testing.T) {
	title := "Water"
	a := &Activity{
		Title:              &title,
		RecipientCountries: `[{"code":"KE","percentage":100}]`,
		RecipientRegions:   "",
		CustomGeographies:  "not json",
	}

	s := a.Scalars()
	if s["title"] != &title {
		t.Error("expected title pointer to be carried through")
	}
	countries, ok := s["recipient_countries"].([]interface{})
	if !ok || len(countries) != 1 {
		t.Fatalf("expected decoded countries, got %#v", s["recipient_countries"])
	}
	if regions, ok := s["recipient_regions"].([]interface{}); !ok || len(regions) != 0 {
		t.Errorf("expected empty regions, got %#v", s["recipient_regions"])
	}
	if custom, ok := s["custom_geographies"].([]interface{}); !ok || len(custom) != 0 {
		t.Errorf("expected invalid JSON to decode as empty, got %#v", s["custom_geographies"])
	}
}
