// Package registry is a process-local store for non-serialisable values.
//
// Pipeline state crosses the job queue as JSON, so live resources (database
// engines, configured agent bundles, cache managers) never travel with it.
// They are parked here and referenced by opaque ids that resolve only within
// the worker process that stored them.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an id does not resolve in a category.
var ErrNotFound = errors.New("registry: object not found")

// Well-known categories with distinct lifetimes.
const (
	CategoryEngine      = "engine"       // long-lived; invalidated on connection mutation
	CategoryAgentBundle = "agent_bundle" // long-lived; rebuilt on agent or connection mutation
)

// Registry stores objects per category under generated ids.
type Registry struct {
	mu         sync.RWMutex
	categories map[string]map[string]any
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{categories: make(map[string]map[string]any)}
}

// Put stores obj under a fresh id in the category and returns the id.
func (r *Registry) Put(category string, obj any) string {
	id := uuid.New().String()
	r.mu.Lock()
	defer r.mu.Unlock()
	objs, ok := r.categories[category]
	if !ok {
		objs = make(map[string]any)
		r.categories[category] = objs
	}
	objs[id] = obj
	return id
}

// PutKeyed stores obj under a caller-chosen id, replacing any previous
// object under that id. Used for categories that cache per-entity state.
func (r *Registry) PutKeyed(category, id string, obj any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	objs, ok := r.categories[category]
	if !ok {
		objs = make(map[string]any)
		r.categories[category] = objs
	}
	objs[id] = obj
}

// Get resolves an id within a category.
func (r *Registry) Get(category, id string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if obj, ok := r.categories[category][id]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, category, id)
}

// Drop removes an id from a category. Dropping an unknown id is a no-op.
func (r *Registry) Drop(category, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.categories[category], id)
}

// DropCategory removes every object in a category.
func (r *Registry) DropCategory(category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.categories, category)
}

// Len reports the number of objects in a category.
func (r *Registry) Len(category string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.categories[category])
}
