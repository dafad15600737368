package validation

import "testing"

func TestIsValidBatteryCode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{
			name:  "plain code",
			code:  "BAT-000123",
			valid: true,
		},
		{
			name:  "digits only",
			code:  "778812",
			valid: true,
		},
		{
			name:  "lower case",
			code:  "bat-1",
			valid: false,
		},
		{
			name:  "too short",
			code:  "B1",
			valid: false,
		},
		{
			name:  "contains space",
			code:  "BAT 001",
			valid: false,
		},
		{
			name:  "non ascii",
			code:  "БАТ-001",
			valid: false,
		},
		{
			name:  "empty string",
			code:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidBatteryCode(tt.code)
			if got != tt.valid {
				t.Fatalf("IsValidBatteryCode(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}

func TestNormalizeBatteryCode(t *testing.T) {
	if got := NormalizeBatteryCode("  bat-001 "); got != "BAT-001" {
		t.Fatalf("NormalizeBatteryCode = %q, want BAT-001", got)
	}
}

func TestIsValidID(t *testing.T) {
	for _, id := range []string{"bk-1", "st_01", "8f14e45f-ceea-467f-a0e6-1b2c3d4e5f60"} {
		if !IsValidID(id) {
			t.Fatalf("IsValidID(%q) = false, want true", id)
		}
	}
	for _, id := range []string{"", "a b", "x;drop", "ид-1"} {
		if IsValidID(id) {
			t.Fatalf("IsValidID(%q) = true, want false", id)
		}
	}
}

func TestIsValidSessionID(t *testing.T) {
	if !IsValidSessionID("8f14e45f-ceea-467f-a0e6-1b2c3d4e5f60") {
		t.Fatalf("uuid must be valid")
	}
	if IsValidSessionID("session-1") {
		t.Fatalf("non-uuid must be invalid")
	}
}
