package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"off", true, false},
		{" true ", false, true},
		{"banana", true, true},
		{"banana", false, false},
	}
	for _, tt := range tests {
		key := "PHARMFLOW_TEST_BOOL"
		if tt.value == "" {
			t.Setenv(key, "")
		} else {
			t.Setenv(key, tt.value)
		}
		if got := ParseBoolEnv(key, tt.defaultValue); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.defaultValue, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	key := "PHARMFLOW_TEST_DURATION"

	t.Setenv(key, "")
	if got := ParseDurationEnv(key, 30*time.Minute); got != 30*time.Minute {
		t.Errorf("unset: got %v, want default", got)
	}

	t.Setenv(key, "90s")
	if got := ParseDurationEnv(key, time.Minute); got != 90*time.Second {
		t.Errorf("90s: got %v", got)
	}

	t.Setenv(key, " 2h ")
	if got := ParseDurationEnv(key, time.Minute); got != 2*time.Hour {
		t.Errorf("padded 2h: got %v", got)
	}

	t.Setenv(key, "not-a-duration")
	if got := ParseDurationEnv(key, 45*time.Second); got != 45*time.Second {
		t.Errorf("invalid: got %v, want default", got)
	}
}
