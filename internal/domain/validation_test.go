package domain

import (
	"testing"
)

func TestValidateCurrencyCode(t *testing.T) {
	tests := []struct {
		code    string
		wantErr bool
	}{
		{"USD", false},
		{"EUR", false},
		{"usd", true},
		{"US", true},
		{"", true},
		{"USDX", true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := ValidateCurrencyCode(tt.code)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCurrencyCode(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}
		})
	}
}

func TestValidateOrgRole(t *testing.T) {
	for _, role := range []string{"1", "2", "3", "4"} {
		if err := ValidateOrgRole(role); err != nil {
			t.Errorf("ValidateOrgRole(%q) unexpected error: %v", role, err)
		}
	}
	for _, role := range []string{"", "0", "5", "funding"} {
		if err := ValidateOrgRole(role); err == nil {
			t.Errorf("ValidateOrgRole(%q) expected error", role)
		}
	}
}

func TestValidateSignificance(t *testing.T) {
	if err := ValidateSignificance(0); err != nil {
		t.Errorf("unexpected error for 0: %v", err)
	}
	if err := ValidateSignificance(4); err != nil {
		t.Errorf("unexpected error for 4: %v", err)
	}
	if err := ValidateSignificance(5); err == nil {
		t.Error("expected error for 5")
	}
	if err := ValidateSignificance(-1); err == nil {
		t.Error("expected error for -1")
	}
}

func TestValidateDate(t *testing.T) {
	got, err := ValidateDate("2024-03-15T10:00:00Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Format("2006-01-02") != "2024-03-15" {
		t.Errorf("expected 2024-03-15, got %s", got.Format("2006-01-02"))
	}

	if _, err := ValidateDate("15/03/2024"); err == nil {
		t.Error("expected error for non-ISO date")
	}
}

func TestMapIATIOrgType(t *testing.T) {
	tests := map[string]OrganizationType{
		"10": OrgTypeGovernment,
		"11": OrgTypeGovernment,
		"15": OrgTypeGovernment,
		"21": OrgTypeINGO,
		"22": OrgTypeNGO,
		"23": OrgTypeNGO,
		"30": OrgTypeMultilateral,
		"40": OrgTypeMultilateral,
		"60": OrgTypePrivate,
		"70": OrgTypePrivate,
		"80": OrgTypeAcademic,
		"90": OrgTypeOther,
		"":   OrgTypeOther,
		"99": OrgTypeOther,
	}
	for code, want := range tests {
		if got := MapIATIOrgType(code); got != want {
			t.Errorf("MapIATIOrgType(%q) = %s, want %s", code, got, want)
		}
	}
}
