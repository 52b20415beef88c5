package embedding

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  int // fail the first n calls
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fail {
		return nil, errors.New("boom")
	}
	return []float32{float32(len(text))}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	content  map[string]string
	saved    map[string][]float32
	backlog  []string
	scanErrs int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		content: make(map[string]string),
		saved:   make(map[string][]float32),
	}
}

func (s *fakeStore) MessageContent(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.content[id]
	if !ok {
		return "", errors.New("no such message")
	}
	return c, nil
}

func (s *fakeStore) SaveEmbedding(_ context.Context, id string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[id] = vec
	return nil
}

func (s *fakeStore) MessagesWithoutEmbedding(_ context.Context, _ int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanErrs > 0 {
		s.scanErrs--
		return nil, errors.New("scan failed")
	}
	ids := s.backlog
	s.backlog = nil
	return ids, nil
}

func (s *fakeStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestGenerator_EmbedsEnqueuedMessages(t *testing.T) {
	store := newFakeStore()
	store.content["m1"] = "how many orders?"

	g := NewGenerator(&fakeEmbedder{}, store, slog.Default())
	g.Start(context.Background())
	defer g.Stop()

	g.Enqueue("m1")

	waitFor(t, func() bool { return store.savedCount() == 1 })
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Contains(t, store.saved, "m1")
	assert.Equal(t, []float32{16}, store.saved["m1"])
}

func TestGenerator_BackfillsOnStart(t *testing.T) {
	store := newFakeStore()
	store.content["m1"] = "a"
	store.content["m2"] = "bb"
	store.backlog = []string{"m1", "m2"}

	g := NewGenerator(&fakeEmbedder{}, store, slog.Default())
	g.Start(context.Background())
	defer g.Stop()

	waitFor(t, func() bool { return store.savedCount() == 2 })
}

func TestGenerator_RetriesTransientFailures(t *testing.T) {
	store := newFakeStore()
	store.content["m1"] = "q"

	g := NewGenerator(&fakeEmbedder{fail: 1}, store, slog.Default())
	g.Start(context.Background())
	defer g.Stop()

	g.Enqueue("m1")

	waitFor(t, func() bool { return store.savedCount() == 1 })
}

func TestGenerator_MissingMessageIsSkipped(t *testing.T) {
	store := newFakeStore()

	g := NewGenerator(&fakeEmbedder{}, store, slog.Default())
	g.Start(context.Background())
	defer g.Stop()

	g.Enqueue("ghost")

	// Give the worker a moment; nothing should be saved and nothing panics.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, store.savedCount())
}

func TestVectorCache_TTL(t *testing.T) {
	c := newVectorCache(20 * time.Millisecond)
	key := cacheKey("model", "text")

	c.put(key, []float32{1, 2})
	v, ok := c.get(key)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, v)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.get(key)
	assert.False(t, ok)
}
