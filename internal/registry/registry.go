// Package registry provides the memoizing key → instance cache that gives
// graph nodes and metadata records their identity.
//
// A Registry creates at most one value per key for its whole lifetime.
// Callers that look up the same key observe the same value, so values may
// be compared with == (pointer identity) to deduplicate graph edges.
package registry

import (
	"fmt"
	"sync"
)

// Registry maps keys to the single value constructed for them.
// It is safe for concurrent use.
type Registry[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	order   []K
}

type entry[V any] struct {
	ready chan struct{}
	value V
	ok    bool
}

// New creates an empty registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{entries: make(map[K]*entry[V], 64)}
}

// GetOrCreate returns the value stored for key, running ctor to create it
// on first use. ctor runs at most once per key even when several goroutines
// ask for the same key at the same time; the losers wait for the winner.
//
// ctor must not request key itself: that would wait on its own
// construction. Other keys are fine.
func (r *Registry[K, V]) GetOrCreate(key K, ctor func(K) V) V {
	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		r.mu.Unlock()
		<-e.ready
		if !e.ok {
			panic(fmt.Sprintf("registry: constructor for key %v failed earlier", key))
		}
		return e.value
	}
	e := &entry[V]{ready: make(chan struct{})}
	r.entries[key] = e
	r.order = append(r.order, key)
	r.mu.Unlock()

	defer close(e.ready)
	e.value = ctor(key)
	e.ok = true
	return e.value
}

// Lookup returns the value for key if its construction has finished.
func (r *Registry[K, V]) Lookup(key K) (V, bool) {
	var zero V
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return zero, false
	}
	select {
	case <-e.ready:
		if !e.ok {
			return zero, false
		}
		return e.value, true
	default:
		return zero, false
	}
}

// Len reports the number of keys ever requested.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns a snapshot of the keys in first-request order. Under
// concurrent use that order is scheduling dependent; sort before using it
// for anything that reaches the output.
func (r *Registry[K, V]) Keys() []K {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]K, len(r.order))
	copy(out, r.order)
	return out
}

// Values returns the constructed values in first-request order.
func (r *Registry[K, V]) Values() []V {
	keys := r.Keys()
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		if v, ok := r.Lookup(k); ok {
			out = append(out, v)
		}
	}
	return out
}
