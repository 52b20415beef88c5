package config

import "time"

// CacheConfig tunes the per-agent response cache.
type CacheConfig struct {
	// Capacity is the max cached answers per agent before LRU eviction.
	Capacity int

	// TTL bounds the age of a served cached answer.
	TTL time.Duration
}

// DefaultCacheConfig returns the built-in response cache defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Capacity: 256,
		TTL:      24 * time.Hour,
	}
}

// CacheFromEnv returns the defaults overridden by environment variables.
func CacheFromEnv() CacheConfig {
	cfg := DefaultCacheConfig()
	cfg.Capacity = getEnvInt("RESPONSE_CACHE_CAPACITY", cfg.Capacity)
	cfg.TTL = getEnvDuration("RESPONSE_CACHE_TTL", cfg.TTL)
	return cfg
}
