package xemit

import "fmt"

// Config controls emitter-wide behavior.
type Config struct {
	// TrackErrors records failed deliveries in the error log (see Emitter.Errors).
	TrackErrors bool
	// ErrorLogSize caps the error log; the oldest entries are dropped (default: 100).
	ErrorLogSize int
	// Debug logs caught delivery errors at warn level instead of debug.
	Debug bool
	// DistinctHistory bounds how many payloads Distinct remembers per
	// subscription. Zero keeps every delivered payload.
	DistinctHistory int
}

// Defaults returns the default emitter Config.
func Defaults() Config {
	return Config{
		TrackErrors:     false,
		ErrorLogSize:    100,
		Debug:           false,
		DistinctHistory: 0,
	}
}

// Validate checks Config values.
func (c Config) Validate() error {
	if c.ErrorLogSize < 1 {
		return fmt.Errorf("%w: error_log_size must be >= 1, got %d", ErrInvalidConfig, c.ErrorLogSize)
	}
	if c.DistinctHistory < 0 {
		return fmt.Errorf("%w: distinct_history must be >= 0, got %d", ErrInvalidConfig, c.DistinctHistory)
	}
	return nil
}

// ConfigFromMap safely converts a generic map to Config, keeping defaults
// for missing or mistyped keys.
func ConfigFromMap(m map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := m[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}
	getBool := func(k string, d bool) bool {
		if v, ok := m[k].(bool); ok {
			return v
		}
		return d
	}

	c := Defaults()
	c.TrackErrors = getBool("track_errors", c.TrackErrors)
	c.Debug = getBool("debug", c.Debug)
	if v := getInt("error_log_size", c.ErrorLogSize); v > 0 {
		c.ErrorLogSize = v
	}
	if v := getInt("distinct_history", c.DistinctHistory); v >= 0 {
		c.DistinctHistory = v
	}
	return c
}
