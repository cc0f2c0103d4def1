// Package uuid provides unit tests for identity minting.
package uuid

import (
	"strings"
	"testing"
)

// TestNew tests that New() generates valid UUID v4 strings.
func TestNew(t *testing.T) {
	id := New()
	if !IsValid(id) {
		t.Errorf("Generated UUID does not match v4 format: %s", id)
	}
	if IsTemp(id) {
		t.Errorf("New() should not produce a temporary identity: %s", id)
	}
}

// TestNewUniqueness tests that New() generates unique IDs.
func TestNewUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if ids[id] {
			t.Fatalf("Duplicate UUID generated: %s", id)
		}
		ids[id] = true
	}
}

// TestNewTemp tests temporary identity minting.
func TestNewTemp(t *testing.T) {
	id := NewTemp()
	if !IsTemp(id) {
		t.Fatalf("NewTemp() = %s, want %s prefix", id, TempPrefix)
	}
	if !IsValid(strings.TrimPrefix(id, TempPrefix)) {
		t.Errorf("NewTemp() suffix is not a UUID v4: %s", id)
	}
}

// TestIsValid tests UUID v4 validation.
func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		uuid string
		want bool
	}{
		{"valid UUID v4", "f47ac10b-58cc-4372-a567-0e02b2c3d479", true},
		{"valid uppercase", "F47AC10B-58CC-4372-A567-0E02B2C3D479", true},
		{"version 1", "f47ac10b-58cc-1372-a567-0e02b2c3d479", false},
		{"bad variant", "f47ac10b-58cc-4372-c567-0e02b2c3d479", false},
		{"no dashes", "f47ac10b58cc4372a5670e02b2c3d479", false},
		{"temp identity", NewTemp(), false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.uuid); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.uuid, got, tt.want)
			}
		})
	}
}

// TestValidate tests the error form of validation.
func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
	if err := Validate("nope"); err == nil {
		t.Error("Validate() expected error for invalid input")
	}
}
