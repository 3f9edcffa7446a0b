package validation

import (
	"strings"
	"testing"

	"github.com/qninhdt/storycards/internal/apperr"
)

// TestParseID tests id parsing
func TestParseID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{" 7 ", 7, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseID("card", tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseID(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseID(%q) = %d, want %d", tt.raw, got, tt.want)
		}
		if err != nil && !apperr.IsCode(err, apperr.CodeValidation) {
			t.Errorf("ParseID(%q) error code = %s", tt.raw, apperr.CodeOf(err))
		}
	}
}

// TestValidatePlayerInput tests player input bounds
func TestValidatePlayerInput(t *testing.T) {
	if err := ValidatePlayerInput("look around"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePlayerInput("   "); err == nil {
		t.Error("blank input accepted")
	}
	if err := ValidatePlayerInput(strings.Repeat("a", MaxPlayerInput+1)); err == nil {
		t.Error("oversized input accepted")
	}
}

// TestValidateTag tests tag syntax
func TestValidateTag(t *testing.T) {
	valid := []string{"quest", "item", "région", "act-1", "lore:old"}
	for _, tag := range valid {
		if err := ValidateTag(tag); err != nil {
			t.Errorf("ValidateTag(%q) = %v", tag, err)
		}
	}
	invalid := []string{"", "<script>", strings.Repeat("x", MaxTagLength+1)}
	for _, tag := range invalid {
		if err := ValidateTag(tag); err == nil {
			t.Errorf("ValidateTag(%q) accepted", tag)
		}
	}
}

// TestValidateName tests required and optional names
func TestValidateName(t *testing.T) {
	if err := ValidateName("", true); err != nil {
		t.Errorf("optional empty name rejected: %v", err)
	}
	if err := ValidateName("", false); err == nil {
		t.Error("required empty name accepted")
	}
	if err := ValidateName(strings.Repeat("n", MaxNameLength+1), true); err == nil {
		t.Error("long name accepted")
	}
}

// TestValidateMisc tests stage names, progress and trigger indexes
func TestValidateMisc(t *testing.T) {
	if err := ValidateStageName("auto-cards"); err != nil {
		t.Errorf("ValidateStageName: %v", err)
	}
	if err := ValidateStageName("../etc"); err == nil {
		t.Error("bad stage name accepted")
	}
	if err := ValidateProgress(0); err == nil {
		t.Error("zero progress accepted")
	}
	if _, err := ValidateTriggerIndex("-1"); err == nil {
		t.Error("negative trigger index accepted")
	}
	if i, err := ValidateTriggerIndex("99"); err != nil || i != 99 {
		t.Errorf("ValidateTriggerIndex(99) = %d, %v", i, err)
	}
}
