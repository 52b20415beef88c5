package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// vectorCache is a TTL cache from text hash to vector. Expired entries are
// dropped lazily on read; there is no background sweeper.
type vectorCache struct {
	mu      sync.Mutex
	entries map[string]vectorEntry
	ttl     time.Duration
}

type vectorEntry struct {
	vector    []float32
	expiresAt time.Time
}

func newVectorCache(ttl time.Duration) *vectorCache {
	return &vectorCache{
		entries: make(map[string]vectorEntry),
		ttl:     ttl,
	}
}

func cacheKey(model, text string) string {
	h := sha256.Sum256([]byte(model + ":" + text))
	return hex.EncodeToString(h[:])
}

func (c *vectorCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.vector, true
}

func (c *vectorCache) put(key string, vector []float32) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = vectorEntry{vector: vector, expiresAt: time.Now().Add(c.ttl)}
}
