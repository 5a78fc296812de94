package config

import (
	"fmt"
	"strconv"
	"time"
)

// OptionString returns a string option or def.
func (e ProviderEntry) OptionString(key, def string) string {
	if v, ok := e.Options[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmtValue(v)
	}
	return def
}

// OptionFloat returns a numeric option or def. Integers and numeric strings
// are accepted.
func (e ProviderEntry) OptionFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// OptionInt returns an integer option or def.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// OptionBool returns a boolean option or def.
func (e ProviderEntry) OptionBool(key string, def bool) bool {
	switch v := e.Options[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// OptionDuration returns a duration option ("1.5s") or def.
func (e ProviderEntry) OptionDuration(key string, def time.Duration) time.Duration {
	if s, ok := e.Options[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return def
}

func fmtValue(v any) string { return fmt.Sprint(v) }
