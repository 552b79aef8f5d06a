package tools

import (
	"fmt"
	"sort"
)

// Registry maps tool IDs to backends. It is populated at startup and read-only
// afterwards; Register is not safe to call concurrently with lookups.
type Registry struct {
	backends map[ID]Backend
}

// NewRegistry creates a registry holding backends.
func NewRegistry(backends ...Backend) (*Registry, error) {
	r := &Registry{backends: make(map[ID]Backend, len(backends))}
	for _, b := range backends {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a backend. Duplicate IDs are rejected.
func (r *Registry) Register(b Backend) error {
	if b == nil || b.ID() == "" {
		return ErrInvalidTool
	}
	if _, ok := r.backends[b.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, b.ID())
	}
	r.backends[b.ID()] = b
	return nil
}

// Lookup returns the backend for id.
func (r *Registry) Lookup(id ID) (Backend, error) {
	b, ok := r.backends[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, id)
	}
	return b, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id ID) bool {
	_, ok := r.backends[id]
	return ok
}

// Resolve normalizes name and reports whether the tool is registered.
func (r *Registry) Resolve(name string) (ID, bool) {
	id, ok := Normalize(name)
	if !ok {
		id = ID(name)
	}
	return id, r.Has(id)
}

// IDs returns the registered IDs, sorted.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered backends.
func (r *Registry) Len() int { return len(r.backends) }
