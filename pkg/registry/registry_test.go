package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PutGetRoundTrip(t *testing.T) {
	r := New()

	obj := &struct{ name string }{name: "engine-1"}
	id := r.Put(CategoryEngine, obj)
	require.NotEmpty(t, id)

	got, err := r.Get(CategoryEngine, id)
	require.NoError(t, err)
	assert.Same(t, obj, got)
}

func TestRegistry_GetUnknownID(t *testing.T) {
	r := New()

	_, err := r.Get(CategoryEngine, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_CategoriesAreIsolated(t *testing.T) {
	r := New()

	id := r.Put(CategoryEngine, "engine")

	_, err := r.Get(CategoryAgentBundle, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_DropThenGet(t *testing.T) {
	r := New()

	id := r.Put(CategoryAgentBundle, "bundle")
	r.Drop(CategoryAgentBundle, id)

	_, err := r.Get(CategoryAgentBundle, id)
	assert.ErrorIs(t, err, ErrNotFound)

	// Dropping again is a no-op.
	r.Drop(CategoryAgentBundle, id)
}

func TestRegistry_PutKeyedReplaces(t *testing.T) {
	r := New()

	r.PutKeyed(CategoryAgentBundle, "agent-1", "v1")
	r.PutKeyed(CategoryAgentBundle, "agent-1", "v2")

	got, err := r.Get(CategoryAgentBundle, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
	assert.Equal(t, 1, r.Len(CategoryAgentBundle))
}

func TestRegistry_DropCategory(t *testing.T) {
	r := New()

	r.Put(CategoryEngine, "a")
	r.Put(CategoryEngine, "b")
	require.Equal(t, 2, r.Len(CategoryEngine))

	r.DropCategory(CategoryEngine)
	assert.Equal(t, 0, r.Len(CategoryEngine))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.Put(CategoryEngine, "obj")
			_, err := r.Get(CategoryEngine, id)
			assert.NoError(t, err)
			r.Drop(CategoryEngine, id)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len(CategoryEngine))
}
