// Package cache implements the per-agent response cache that short-circuits
// the pipeline for repeated questions.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Answer is a previously produced response, replayable on a fingerprint hit.
type Answer struct {
	FormattedResponse string
	SQLQuery          string
	CreatedAt         time.Time
}

// Manager caches answers per agent, keyed by fingerprint, with LRU eviction
// and TTL expiry. A stored answer is bound to the schema snapshot version it
// was produced under: when the observed version changes, the agent's entries
// are dropped wholesale.
type Manager struct {
	mu       sync.Mutex
	agents   map[string]*agentCache
	capacity int
	ttl      time.Duration
}

type agentCache struct {
	schemaVersion string
	entries       map[string]*list.Element
	lru           *list.List // front = most recently used
}

type cacheEntry struct {
	fingerprint string
	answer      Answer
}

// NewManager creates a cache manager with per-agent capacity and TTL.
func NewManager(capacity int, ttl time.Duration) *Manager {
	if capacity < 1 {
		capacity = 1
	}
	return &Manager{
		agents:   make(map[string]*agentCache),
		capacity: capacity,
		ttl:      ttl,
	}
}

// SchemaVersion returns the schema snapshot version last observed for the
// agent, or "" when the agent has no cached state yet.
func (m *Manager) SchemaVersion(agentID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ac, ok := m.agents[agentID]; ok {
		return ac.schemaVersion
	}
	return ""
}

// Get returns the cached answer for a fingerprint, if present and fresh.
func (m *Manager) Get(agentID, fingerprint string) (Answer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ac, ok := m.agents[agentID]
	if !ok {
		return Answer{}, false
	}
	el, ok := ac.entries[fingerprint]
	if !ok {
		return Answer{}, false
	}
	entry := el.Value.(*cacheEntry)
	if m.ttl > 0 && time.Since(entry.answer.CreatedAt) > m.ttl {
		ac.lru.Remove(el)
		delete(ac.entries, fingerprint)
		return Answer{}, false
	}
	ac.lru.MoveToFront(el)
	return entry.answer, true
}

// Store records an answer produced under the given schema version. A version
// change invalidates the agent's prior entries before the new one is kept.
func (m *Manager) Store(agentID, schemaVersion, fingerprint string, answer Answer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ac, ok := m.agents[agentID]
	if !ok || ac.schemaVersion != schemaVersion {
		ac = &agentCache{
			schemaVersion: schemaVersion,
			entries:       make(map[string]*list.Element),
			lru:           list.New(),
		}
		m.agents[agentID] = ac
	}

	if el, ok := ac.entries[fingerprint]; ok {
		el.Value.(*cacheEntry).answer = answer
		ac.lru.MoveToFront(el)
		return
	}

	el := ac.lru.PushFront(&cacheEntry{fingerprint: fingerprint, answer: answer})
	ac.entries[fingerprint] = el

	for ac.lru.Len() > m.capacity {
		oldest := ac.lru.Back()
		ac.lru.Remove(oldest)
		delete(ac.entries, oldest.Value.(*cacheEntry).fingerprint)
	}
}

// InvalidateAgent drops all cached answers for an agent. Called when the
// agent's connection or included tables change.
func (m *Manager) InvalidateAgent(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, agentID)
}
