// Package objects implements the Object Registry & Property Extractors
// (C6): assigning remote object ids to VM values during a pause, caching
// their extracted property descriptors, and dispatching extraction by
// runtime type.
package objects

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vmbridge/nashorn-bridge/internal/jdwp"
	"github.com/vmbridge/nashorn-bridge/pkg/model"
)

// RawValue is the tagged VM value an ObjectId refers to. It is only
// meaningful during the pause in which it was captured.
type RawValue struct {
	Tag jdwp.Tag
	Obj jdwp.ObjectID
}

type cacheKey struct {
	id            string
	onlyOwn       bool
	onlyAccessors bool
}

// Registry assigns and looks up ObjectIds for the current pause. It must be
// cleared on every pause entry and on resume, per the object registry
// invariant that ids handed out in pause P are meaningless in pause P'.
type Registry struct {
	mu         sync.Mutex
	idByObj    map[jdwp.ObjectID]string
	rawByID    map[string]RawValue
	propsCache map[cacheKey]map[string]model.ObjectPropertyDescriptor
}

// NewRegistry constructs an empty object registry.
func NewRegistry() *Registry {
	return &Registry{
		idByObj:    make(map[jdwp.ObjectID]string),
		rawByID:    make(map[string]RawValue),
		propsCache: make(map[cacheKey]map[string]model.ObjectPropertyDescriptor),
	}
}

// Assign returns the ObjectId for raw, minting a new one on first sight
// within this pause and returning the existing one on subsequent lookups
// (so the same VM object always maps to the same id within one pause).
func (r *Registry) Assign(raw RawValue) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.idByObj[raw.Obj]; ok {
		return id
	}
	id := uuid.NewString()
	r.idByObj[raw.Obj] = id
	r.rawByID[id] = raw
	return id
}

// Lookup resolves an ObjectId back to its raw value. ok is false for an
// unknown id, including one handed out during a previous pause.
func (r *Registry) Lookup(id string) (RawValue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.rawByID[id]
	return raw, ok
}

// Clear discards every assigned id and cached property set. Called on pause
// entry (a fresh pause starts with an empty registry) and on resume.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idByObj = make(map[jdwp.ObjectID]string)
	r.rawByID = make(map[string]RawValue)
	r.propsCache = make(map[cacheKey]map[string]model.ObjectPropertyDescriptor)
}

// InvalidateProperties drops only the cached property sets, keeping id
// assignments intact. Evaluation may mutate arbitrary objects, so every
// eval must call this even though it doesn't invalidate the ids themselves.
func (r *Registry) InvalidateProperties() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.propsCache = make(map[cacheKey]map[string]model.ObjectPropertyDescriptor)
}

// CacheGet returns a previously extracted property set for (id, onlyOwn,
// onlyAccessors) within the current pause, if one was cached.
func (r *Registry) CacheGet(id string, onlyOwn, onlyAccessors bool) (map[string]model.ObjectPropertyDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	props, ok := r.propsCache[cacheKey{id, onlyOwn, onlyAccessors}]
	return props, ok
}

// CachePut records an extracted property set for (id, onlyOwn,
// onlyAccessors), valid until the next InvalidateProperties or Clear.
func (r *Registry) CachePut(id string, onlyOwn, onlyAccessors bool, props map[string]model.ObjectPropertyDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.propsCache[cacheKey{id, onlyOwn, onlyAccessors}] = props
}
