package flow

import (
	"errors"
	"testing"
	"time"

	"github.com/pharmflow/pharmflow/internal/models"
)

var validationNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestValidateTextField(t *testing.T) {
	step := &Step{Type: FieldText}

	v, err := ValidateField(step, "  Thandi Mokoena  ", validationNow)
	if err != nil {
		t.Fatalf("expected valid text, got %v", err)
	}
	if v.Kind != models.ValueText || v.Text != "Thandi Mokoena" {
		t.Errorf("unexpected value: %+v", v)
	}

	if _, err := ValidateField(step, "   ", validationNow); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput for blank text, got %v", err)
	}
}

func TestValidateDateField(t *testing.T) {
	step := &Step{Type: FieldDate}

	cases := []struct {
		name  string
		raw   string
		valid bool
	}{
		{"valid past date", "07/03/1985", true},
		{"rejects normalized overflow", "31/02/2020", false},
		{"rejects wrong shape", "7/3/1985", false},
		{"rejects ISO format", "1985-03-07", false},
		{"rejects text", "yesterday", false},
		{"rejects pre-1900", "01/01/1899", false},
		{"accepts 1900", "01/01/1900", true},
		{"rejects future", "01/01/2030", false},
		{"rejects today", "15/06/2025", false},
		{"accepts yesterday", "14/06/2025", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := ValidateField(step, tc.raw, validationNow)
			if tc.valid {
				if err != nil {
					t.Fatalf("expected %q to validate, got %v", tc.raw, err)
				}
				if v.Kind != models.ValueDate {
					t.Errorf("expected date value, got %+v", v)
				}
				if v.Date.Format("02/01/2006") != tc.raw {
					t.Errorf("date round trip = %q, want %q", v.Date.Format("02/01/2006"), tc.raw)
				}
			} else if !errors.Is(err, ErrInvalidDate) {
				t.Errorf("expected ErrInvalidDate for %q, got %v", tc.raw, err)
			}
		})
	}
}

func TestValidateChoiceField(t *testing.T) {
	step := &Step{
		Type:    FieldChoice,
		Options: []string{"PRESCRIPTION", "OTC"},
		Mode:    InputEither,
	}

	v, err := ValidateField(step, "OTC", validationNow)
	if err != nil || v.Token != "OTC" {
		t.Fatalf("token match failed: %v, %+v", err, v)
	}

	v, err = ValidateField(step, "1", validationNow)
	if err != nil || v.Token != "PRESCRIPTION" {
		t.Fatalf("numeric match failed: %v, %+v", err, v)
	}

	// Tokens are case-sensitive.
	if _, err := ValidateField(step, "otc", validationNow); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("expected case-sensitive token rejection, got %v", err)
	}
	if _, err := ValidateField(step, "3", validationNow); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("expected out-of-range index rejection, got %v", err)
	}
	if _, err := ValidateField(step, "0", validationNow); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("expected zero index rejection, got %v", err)
	}
}

func TestValidateChoiceModes(t *testing.T) {
	tokensOnly := &Step{Type: FieldChoice, Options: []string{"WORK", "HOME"}, Mode: InputTokens}
	if _, err := ValidateField(tokensOnly, "1", validationNow); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("tokens-only step should reject numeric input, got %v", err)
	}
	if v, err := ValidateField(tokensOnly, "WORK", validationNow); err != nil || v.Token != "WORK" {
		t.Errorf("tokens-only step should accept token: %v, %+v", err, v)
	}

	numbersOnly := &Step{Type: FieldChoice, Options: []string{"WORK", "HOME"}, Mode: InputNumbers}
	if _, err := ValidateField(numbersOnly, "WORK", validationNow); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("numbers-only step should reject token input, got %v", err)
	}
	if v, err := ValidateField(numbersOnly, "2", validationNow); err != nil || v.Token != "HOME" {
		t.Errorf("numbers-only step should accept index: %v, %+v", err, v)
	}
}

func TestValidateOptionalField(t *testing.T) {
	step := &Step{Type: FieldOptional, SkipToken: "N/A"}

	v, err := ValidateField(step, "Discovery Health", validationNow)
	if err != nil || v.Text != "Discovery Health" {
		t.Fatalf("optional text failed: %v, %+v", err, v)
	}

	// Skip token matches case-insensitively.
	for _, raw := range []string{"N/A", "n/a", "N/a"} {
		v, err := ValidateField(step, raw, validationNow)
		if err != nil {
			t.Fatalf("skip token %q rejected: %v", raw, err)
		}
		if !v.Absent() {
			t.Errorf("skip token %q should produce an absent value, got %+v", raw, v)
		}
	}

	if _, err := ValidateField(step, "", validationNow); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput for empty optional, got %v", err)
	}
}
