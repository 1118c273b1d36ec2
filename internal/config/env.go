package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the named environment variable, or fallback if it is
// unset or empty.
func EnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnvInt returns the integer value of the named environment variable, or
// fallback if it is unset or not parseable.
func EnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// EnvFloat returns the float value of the named environment variable, or
// fallback if it is unset or not parseable.
func EnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// EnvDuration returns the duration value of the named environment variable,
// or fallback if it is unset or not parseable.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// EnvBool reports whether the named environment variable is "true" or "1".
func EnvBool(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}

// Pair is one entry of a list-valued environment variable.
type Pair struct {
	Key   string
	Value string
}

// EnvPairs parses the named environment variable as comma-separated
// key:value pairs, keeping their order. It returns nil when the variable is
// unset and an error when an entry has an empty key or value.
func EnvPairs(key string) ([]Pair, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	var out []Pair
	for _, entry := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(entry), ":")
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if !ok || k == "" || val == "" {
			return nil, fmt.Errorf("config: %s: entry %q is not key:value", key, entry)
		}
		out = append(out, Pair{Key: k, Value: val})
	}
	return out, nil
}
