package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_NormalizesQuestion(t *testing.T) {
	a := Fingerprint("How many   orders?", "agent-1", "v1")
	b := Fingerprint("  how many orders?  ", "agent-1", "v1")
	c := Fingerprint("HOW\tMANY\nORDERS?", "agent-1", "v1")

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestFingerprint_DistinguishesAgentAndSchema(t *testing.T) {
	base := Fingerprint("how many orders?", "agent-1", "v1")

	assert.NotEqual(t, base, Fingerprint("how many orders?", "agent-2", "v1"))
	assert.NotEqual(t, base, Fingerprint("how many orders?", "agent-1", "v2"))
	assert.NotEqual(t, base, Fingerprint("how many rows?", "agent-1", "v1"))
}

func TestManager_StoreAndGet(t *testing.T) {
	m := NewManager(10, time.Minute)

	fp := Fingerprint("how many orders?", "agent-1", "v1")
	m.Store("agent-1", "v1", fp, Answer{
		FormattedResponse: "There are 42 orders.",
		SQLQuery:          "SELECT COUNT(*) FROM orders",
		CreatedAt:         time.Now(),
	})

	got, ok := m.Get("agent-1", fp)
	require.True(t, ok)
	assert.Equal(t, "There are 42 orders.", got.FormattedResponse)
	assert.Equal(t, "SELECT COUNT(*) FROM orders", got.SQLQuery)
}

func TestManager_Miss(t *testing.T) {
	m := NewManager(10, time.Minute)

	_, ok := m.Get("agent-1", "unknown")
	assert.False(t, ok)
}

func TestManager_TTLExpiry(t *testing.T) {
	m := NewManager(10, 30*time.Millisecond)

	fp := Fingerprint("q", "agent-1", "v1")
	m.Store("agent-1", "v1", fp, Answer{FormattedResponse: "r", CreatedAt: time.Now()})

	_, ok := m.Get("agent-1", fp)
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)

	_, ok = m.Get("agent-1", fp)
	assert.False(t, ok)
}

func TestManager_SchemaVersionChangeInvalidates(t *testing.T) {
	m := NewManager(10, time.Minute)

	fpV1 := Fingerprint("q", "agent-1", "v1")
	m.Store("agent-1", "v1", fpV1, Answer{FormattedResponse: "old", CreatedAt: time.Now()})
	assert.Equal(t, "v1", m.SchemaVersion("agent-1"))

	// New schema version wipes entries stored under the old one.
	fpV2 := Fingerprint("q", "agent-1", "v2")
	m.Store("agent-1", "v2", fpV2, Answer{FormattedResponse: "new", CreatedAt: time.Now()})

	_, ok := m.Get("agent-1", fpV1)
	assert.False(t, ok, "answer stored under v1 must not survive the v2 snapshot")

	got, ok := m.Get("agent-1", fpV2)
	require.True(t, ok)
	assert.Equal(t, "new", got.FormattedResponse)
	assert.Equal(t, "v2", m.SchemaVersion("agent-1"))
}

func TestManager_LRUEviction(t *testing.T) {
	m := NewManager(2, time.Minute)

	for i := 0; i < 3; i++ {
		fp := Fingerprint(fmt.Sprintf("q%d", i), "agent-1", "v1")
		m.Store("agent-1", "v1", fp, Answer{FormattedResponse: fmt.Sprintf("r%d", i), CreatedAt: time.Now()})
	}

	_, ok := m.Get("agent-1", Fingerprint("q0", "agent-1", "v1"))
	assert.False(t, ok, "oldest entry should be evicted")

	_, ok = m.Get("agent-1", Fingerprint("q2", "agent-1", "v1"))
	assert.True(t, ok)
}

func TestManager_InvalidateAgent(t *testing.T) {
	m := NewManager(10, time.Minute)

	fp := Fingerprint("q", "agent-1", "v1")
	m.Store("agent-1", "v1", fp, Answer{FormattedResponse: "r", CreatedAt: time.Now()})

	m.InvalidateAgent("agent-1")

	_, ok := m.Get("agent-1", fp)
	assert.False(t, ok)
	assert.Equal(t, "", m.SchemaVersion("agent-1"))
}

func TestManager_AgentsAreIsolated(t *testing.T) {
	m := NewManager(10, time.Minute)

	fp := Fingerprint("q", "agent-1", "v1")
	m.Store("agent-1", "v1", fp, Answer{FormattedResponse: "r", CreatedAt: time.Now()})

	_, ok := m.Get("agent-2", fp)
	assert.False(t, ok)
}
