package validation

import "testing"

func TestIsValidPeriodKey(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		valid bool
	}{
		{
			name:  "valid january",
			key:   "2024-01",
			valid: true,
		},
		{
			name:  "valid december",
			key:   "2025-12",
			valid: true,
		},
		{
			name:  "month zero",
			key:   "2024-00",
			valid: false,
		},
		{
			name:  "month thirteen",
			key:   "2024-13",
			valid: false,
		},
		{
			name:  "missing separator",
			key:   "2024001",
			valid: false,
		},
		{
			name:  "too short",
			key:   "2024-1",
			valid: false,
		},
		{
			name:  "contains letters",
			key:   "2o24-01",
			valid: false,
		},
		{
			name:  "empty string",
			key:   "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidPeriodKey(tt.key)
			if got != tt.valid {
				t.Fatalf("IsValidPeriodKey(%q) = %v, want %v", tt.key, got, tt.valid)
			}
		})
	}
}

func TestIsValidCedula(t *testing.T) {
	tests := []struct {
		name   string
		cedula string
		valid  bool
	}{
		{
			name:   "six digits",
			cedula: "123456",
			valid:  true,
		},
		{
			name:   "ten digits",
			cedula: "1098765432",
			valid:  true,
		},
		{
			name:   "too short",
			cedula: "12345",
			valid:  false,
		},
		{
			name:   "too long",
			cedula: "12345678901",
			valid:  false,
		},
		{
			name:   "contains letters",
			cedula: "12345a",
			valid:  false,
		},
		{
			name:   "empty string",
			cedula: "",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidCedula(tt.cedula)
			if got != tt.valid {
				t.Fatalf("IsValidCedula(%q) = %v, want %v", tt.cedula, got, tt.valid)
			}
		})
	}
}
