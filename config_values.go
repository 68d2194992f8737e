package modreg

import (
	"reflect"
	"time"

	"github.com/golobby/cast"
)

// Typed accessors for module code. Values are normalized from whatever the
// decoder produced (JSON float64, TOML int64, environment strings); the
// fallback is returned when the key is absent or not convertible.

// String returns cfg[key] as a string.
func (c Config) String(key, fallback string) string {
	if s, ok := c[key].(string); ok {
		return s
	}
	return fallback
}

// Int returns cfg[key] as an int.
func (c Config) Int(key string, fallback int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case uint:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := cast.FromType(v, reflect.TypeOf(0)); err == nil {
			return n.(int)
		}
	}
	return fallback
}

// Float returns cfg[key] as a float64.
func (c Config) Float(key string, fallback float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := cast.FromType(v, reflect.TypeOf(0.0)); err == nil {
			return f.(float64)
		}
	}
	return fallback
}

// Bool returns cfg[key] as a bool.
func (c Config) Bool(key string, fallback bool) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		if b, err := cast.FromType(v, reflect.TypeOf(false)); err == nil {
			return b.(bool)
		}
	}
	return fallback
}

// Duration returns cfg[key] as a time.Duration. Strings are parsed with
// time.ParseDuration; bare numbers are taken as seconds.
func (c Config) Duration(key string, fallback time.Duration) time.Duration {
	switch v := c[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int, int64, float64:
		return time.Duration(c.Float(key, 0) * float64(time.Second))
	}
	return fallback
}

// Strings returns cfg[key] as a string slice.
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
