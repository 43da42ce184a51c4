// Package util provides environment variable parsing helpers shared across components.
package util

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ParseBoolEnv reads a boolean flag from the environment. Besides the forms strconv.ParseBool
// understands it takes yes/no and on/off, in any case. Unset or unreadable values yield def.
func ParseBoolEnv(key string, def bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "":
		return def
	case "yes", "y", "on":
		return true
	case "no", "n", "off":
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("ParseBoolEnv: unreadable boolean, keeping default", "key", key, "value", raw, "default", def)
		return def
	}
	return v
}

// ParseDurationEnv parses a duration environment variable ("1s", "500ms") with a default value.
// Invalid or negative values return default.
func ParseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		slog.Warn("ParseDurationEnv: invalid duration value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return d
}
