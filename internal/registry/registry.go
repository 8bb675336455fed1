// Package registry owns the process-wide service lookup shared by panels.
//
// Ownership boundary:
// - typed service keys
// - last-write-wins storage
//
// The registry holds non-owning references; it never disposes what it stores.
package registry

import (
	"sort"
	"strings"
	"sync"
)

// Key names one service slot and fixes the runtime type stored under it.
type Key[T any] struct {
	name string
}

// NewKey returns the typed key for name.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: strings.TrimSpace(name)}
}

// Name returns the slot name.
func (k Key[T]) Name() string {
	return k.name
}

// Registry stores service handles by name.
type Registry struct {
	mu   sync.RWMutex
	repo map[string]any
}

// New initializes an empty registry.
func New() *Registry {
	return &Registry{repo: make(map[string]any)}
}

// Set inserts or overwrites the value stored under key.
func Set[T any](r *Registry, key Key[T], value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repo[key.name] = value
}

// Get returns the value stored under key. A slot written through a key of a
// different type reads as absent.
func Get[T any](r *Registry, key Key[T]) (T, bool) {
	r.mu.RLock()
	raw, ok := r.repo[key.name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// MustGet is Get for services wired at activation; it panics when absent.
func MustGet[T any](r *Registry, key Key[T]) T {
	v, ok := Get(r, key)
	if !ok {
		panic("registry: service " + key.name + " not registered")
	}
	return v
}

// Has reports whether any value is stored under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.repo[strings.TrimSpace(name)]
	return ok
}

// Names returns the registered slot names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.repo))
	for name := range r.repo {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
