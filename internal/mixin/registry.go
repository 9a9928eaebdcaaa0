package mixin

import (
	"sort"
	"sync"

	"mixinhost/pkg/transform"
)

// Registry holds pending injection descriptors per target and the set of
// targets touched since their last successful flush. Invariant: every dirty
// target has a pending entry. All access goes through mu.
type Registry struct {
	mu      sync.Mutex
	pending map[string][]transform.Descriptor
	dirty   map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string][]transform.Descriptor),
		dirty:   make(map[string]struct{}),
	}
}

// Add appends descriptor to target's pending list and marks it dirty.
func (r *Registry) Add(target string, descriptor transform.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[target] = append(r.pending[target], descriptor)
	r.dirty[target] = struct{}{}
}

// batch is a snapshot of one dirty target taken at flush start.
type batch struct {
	target      string
	descriptors []transform.Descriptor
}

// snapshot copies every dirty target's pending list, ordered by target name.
func (r *Registry) snapshot() []batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]batch, 0, len(r.dirty))
	for target := range r.dirty {
		list := r.pending[target]
		out = append(out, batch{target: target, descriptors: append([]transform.Descriptor(nil), list...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].target < out[j].target })
	return out
}

// settle drops the applied prefix of target's pending list. The target stays
// dirty when descriptors were appended after the snapshot.
func (r *Registry) settle(target string, applied int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.pending[target]
	if applied > len(list) {
		applied = len(list)
	}
	rest := list[applied:]
	if len(rest) == 0 {
		delete(r.pending, target)
		delete(r.dirty, target)
		return
	}
	r.pending[target] = append([]transform.Descriptor(nil), rest...)
	r.dirty[target] = struct{}{}
}

// Pending returns a copy of target's pending descriptors.
func (r *Registry) Pending(target string) []transform.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transform.Descriptor(nil), r.pending[target]...)
}

// Dirty returns the dirty targets in lexical order.
func (r *Registry) Dirty() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.dirty))
	for target := range r.dirty {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// Reset empties the registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = make(map[string][]transform.Descriptor)
	r.dirty = make(map[string]struct{})
}
