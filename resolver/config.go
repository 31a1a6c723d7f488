package resolver

import "fmt"

// Config controls resolver caching.
type Config struct {
	// CacheSize bounds the number of memoized (topic, pattern) results (default: 8192).
	CacheSize int
}

// Defaults returns a Config suitable for most processes.
func Defaults() Config {
	return Config{
		CacheSize: 8192,
	}
}

// Validate checks Config for obvious mistakes.
func (c Config) Validate() error {
	if c.CacheSize < 1 {
		return fmt.Errorf("resolver config: cache_size must be >= 1, got %d", c.CacheSize)
	}
	return nil
}
