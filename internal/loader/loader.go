// Package loader batches and caches relation lookups within a single request.
// Sibling resolvers register the keys they need; the first thunk that is
// forced flushes every key collected so far in one storage round trip.
// Loaders are request-scoped and must never be shared across requests.
package loader

import (
	"context"
	"sync"
)

// FetchFunc resolves a deduplicated key set in one round trip. Keys absent
// from the result map are cached as the value type's zero value, so a missing
// relation row is an empty result rather than an error.
type FetchFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// Thunk defers a loaded value. Forcing any thunk from a batch resolves the
// whole batch.
type Thunk[V any] func() (V, error)

type batch[K comparable, V any] struct {
	once sync.Once
	keys []K
	err  error
}

// Loader accumulates keys into the current batch until a thunk is forced.
type Loader[K comparable, V any] struct {
	mu      sync.Mutex
	fetch   FetchFunc[K, V]
	cache   map[K]V
	pending *batch[K, V]

	fetches int
}

func New[K comparable, V any](fetch FetchFunc[K, V]) *Loader[K, V] {
	return &Loader[K, V]{
		fetch: fetch,
		cache: map[K]V{},
	}
}

// Load registers key in the current batch and returns a thunk for its value.
// Cached keys resolve immediately without joining a batch.
func (l *Loader[K, V]) Load(ctx context.Context, key K) Thunk[V] {
	l.mu.Lock()
	defer l.mu.Unlock()

	if value, ok := l.cache[key]; ok {
		return func() (V, error) { return value, nil }
	}

	if l.pending == nil {
		l.pending = &batch[K, V]{}
	}
	b := l.pending
	if !containsKey(b.keys, key) {
		b.keys = append(b.keys, key)
	}

	return func() (V, error) {
		l.resolve(ctx, b)
		if b.err != nil {
			var zero V
			return zero, b.err
		}
		l.mu.Lock()
		value := l.cache[key]
		l.mu.Unlock()
		return value, nil
	}
}

func (l *Loader[K, V]) resolve(ctx context.Context, b *batch[K, V]) {
	b.once.Do(func() {
		l.mu.Lock()
		if l.pending == b {
			l.pending = nil
		}
		keys := b.keys
		l.fetches++
		l.mu.Unlock()

		results, err := l.fetch(ctx, keys)
		if err != nil {
			b.err = err
			return
		}

		l.mu.Lock()
		for _, key := range keys {
			l.cache[key] = results[key]
		}
		l.mu.Unlock()
	})
}

// Fetches reports how many storage round trips this loader has made.
func (l *Loader[K, V]) Fetches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fetches
}

func containsKey[K comparable](keys []K, key K) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
