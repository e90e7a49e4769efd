// Package util holds small helpers for reading LaporBot configuration from
// the environment.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean environment variable, returning fallback when
// the variable is unset or carries an unrecognized token. Recognized tokens
// (case-insensitive): true/1/yes/on and false/0/no/off.
func ParseBoolEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: unrecognized boolean value, using fallback", "key", key, "value", raw, "fallback", fallback)
	return fallback
}
