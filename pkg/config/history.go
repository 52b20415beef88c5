package config

import "time"

// HistoryConfig gates and tunes the semantic history subsystem.
type HistoryConfig struct {
	// Enabled gates both the history_retrieve and history_capture nodes.
	Enabled bool

	// MaxMessages is the upper bound on the rendered history block.
	MaxMessages int

	// SimilarityThreshold is the minimum cosine similarity for a semantic
	// hit to be included.
	SimilarityThreshold float64

	// SimilarTopK and RecentN size the two retrieval legs.
	SimilarTopK int
	RecentN     int

	// EmbeddingModel is the embedder version tag stored with each vector.
	EmbeddingModel string

	// EmbeddingCacheTTL bounds the in-process text→vector cache.
	EmbeddingCacheTTL time.Duration

	// LexicalScanLimit caps how many recent messages the lexical fallback
	// ranks when no vectors are indexed.
	LexicalScanLimit int
}

// DefaultHistoryConfig returns the built-in history defaults.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Enabled:             true,
		MaxMessages:         15,
		SimilarityThreshold: 0.75,
		SimilarTopK:         10,
		RecentN:             5,
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingCacheTTL:   time.Hour,
		LexicalScanLimit:    500,
	}
}

// HistoryFromEnv returns the defaults overridden by environment variables.
func HistoryFromEnv() HistoryConfig {
	cfg := DefaultHistoryConfig()
	cfg.Enabled = getEnvBool("HISTORY_ENABLED", cfg.Enabled)
	cfg.MaxMessages = getEnvInt("HISTORY_MAX_MESSAGES", cfg.MaxMessages)
	cfg.SimilarityThreshold = getEnvFloat("HISTORY_SIMILARITY_THRESHOLD", cfg.SimilarityThreshold)
	cfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.EmbeddingCacheTTL = getEnvDuration("HISTORY_CACHE_TTL", cfg.EmbeddingCacheTTL)
	return cfg
}
