package util

import (
	"os"
	"testing"
)

func TestParseBoolEnv(t *testing.T) {
	const key = "LAPORBOT_TEST_BOOL"
	defer os.Unsetenv(key)

	tests := []struct {
		value    string
		fallback bool
		expected bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{" on ", false, true},
		{"false", true, false},
		{"0", true, false},
		{"No", true, false},
		{"off", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
		{"", true, true},
	}
	for _, tt := range tests {
		if tt.value == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, tt.value)
		}
		if got := ParseBoolEnv(key, tt.fallback); got != tt.expected {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.fallback, got, tt.expected)
		}
	}
}
