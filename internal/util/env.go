// Package util provides environment variable parsing and ID helpers shared across components.
package util

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ParseBoolEnv parses a boolean environment variable with a default value.
// Accepts: true/1/yes/on and false/0/no/off (case-insensitive). Invalid values return default.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		slog.Warn("ParseBoolEnv: invalid boolean value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
}

// ParseDurationEnv parses a Go duration ("30s", "24h") with a default value.
func ParseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		slog.Warn("ParseDurationEnv: invalid duration, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return d
}

// ParseFloatEnv parses a float environment variable with a default value.
func ParseFloatEnv(key string, defaultValue float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		slog.Warn("ParseFloatEnv: invalid number, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return f
}

// ParseIntEnv parses an integer environment variable with a default value.
func ParseIntEnv(key string, defaultValue int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("ParseIntEnv: invalid integer, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return n
}

// GetEnvOrDefault returns the trimmed value of key, or defaultValue when unset.
func GetEnvOrDefault(key, defaultValue string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultValue
}
