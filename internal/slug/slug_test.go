package slug

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		// Valid inputs
		{
			name:  "simple lowercase",
			input: "health",
			want:  "health",
		},
		{
			name:  "mixed case and spaces",
			input: "Climate Finance",
			want:  "climate-finance",
		},
		{
			name:  "accents stripped",
			input: "Éducation Rurale",
			want:  "education-rurale",
		},
		{
			name:  "separator runs collapse",
			input: "SDG  3 / target_3.1",
			want:  "sdg-3-target-3-1",
		},
		{
			name:  "removes invalid characters",
			input: "gender@equality!",
			want:  "genderequality",
		},
		{
			name:  "leading/trailing separators removed",
			input: " -covid-19- ",
			want:  "covid-19",
		},
		{
			name:  "truncated",
			input: strings.Repeat("a", 150),
			want:  strings.Repeat("a", 100),
		},

		// Invalid inputs
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "only special characters",
			input:   "@@@",
			wantErr: true,
		},
		{
			name:    "only separators",
			input:   "- _ -",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Normalize() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("Normalize() unexpected error: %v", err)
				return
			}
			if got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}
