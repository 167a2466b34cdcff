// Package dataloader coalesces individual key lookups into batched fetches.
//
// A Loader collects every Load issued before the first Get of the open
// batch. That Get is the dispatch point: it closes the batch, runs a single
// fetch for the distinct keys and hands each waiter the value for its own
// key. Resolved thunks are memoized for the lifetime of the Loader, which
// must therefore be scoped to one incoming request.
package dataloader

import (
	"context"
	"fmt"
	"sync"
)

// BatchFunc fetches values for distinct keys. The result is indexed by the canonical key of each
// found entry; keys missing from the map resolve as absent.
type BatchFunc[K any, V any] func(ctx context.Context, keys []K) (map[string]V, error)

// Result is the outcome of one load.
type Result[V any] struct {
	Value V
	Found bool
}

// Loader batches and memoizes loads of V by K.
type Loader[K any, V any] struct {
	fetch    BatchFunc[K, V]
	keyOf    func(K) string
	maxBatch int

	mu      sync.Mutex
	thunks  map[string]*Thunk[K, V]
	current *batch[K, V]
}

// Option configures a Loader.
type Option func(*options)

type options struct {
	maxBatch int
}

// WithMaxBatch caps the number of distinct keys sent in one fetch. A full batch is sealed and a new one opened.
func WithMaxBatch(n int) Option {
	return func(o *options) { o.maxBatch = n }
}

// New creates a Loader. keyOf must map structurally equal keys to the same string and distinct keys to distinct strings.
func New[K any, V any](fetch BatchFunc[K, V], keyOf func(K) string, opts ...Option) *Loader[K, V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader[K, V]{
		fetch:    fetch,
		keyOf:    keyOf,
		maxBatch: o.maxBatch,
		thunks:   map[string]*Thunk[K, V]{},
	}
}

type batch[K any, V any] struct {
	loader *Loader[K, V]
	keys   []K
	thunks []*Thunk[K, V]
	// started is guarded by loader.mu.
	started bool
	done    chan struct{}
}

// Thunk is a pending or resolved load.
type Thunk[K any, V any] struct {
	batch *batch[K, V]
	key   string
	res   Result[V]
	err   error
}

// Load registers key in the open batch and returns its thunk. Loading a key already known to the
// Loader returns the existing thunk.
func (l *Loader[K, V]) Load(key K) *Thunk[K, V] {
	ck := l.keyOf(key)

	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.thunks[ck]; ok {
		return t
	}
	if l.current == nil || (l.maxBatch > 0 && len(l.current.keys) >= l.maxBatch) {
		l.current = &batch[K, V]{loader: l, done: make(chan struct{})}
	}
	t := &Thunk[K, V]{batch: l.current, key: ck}
	l.current.keys = append(l.current.keys, key)
	l.current.thunks = append(l.current.thunks, t)
	l.thunks[ck] = t
	return t
}

// Get resolves the thunk, dispatching its batch if nobody has yet. ctx of the dispatching caller
// governs the fetch; other waiters stop waiting when their own ctx ends.
func (t *Thunk[K, V]) Get(ctx context.Context) (V, bool, error) {
	b := t.batch
	select {
	case <-b.done:
		return t.res.Value, t.res.Found, t.err
	default:
	}

	l := b.loader
	l.mu.Lock()
	start := !b.started
	if start {
		b.started = true
		if l.current == b {
			l.current = nil
		}
	}
	l.mu.Unlock()
	if start {
		go b.dispatch(ctx)
	}

	select {
	case <-b.done:
		return t.res.Value, t.res.Found, t.err
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}

func (b *batch[K, V]) dispatch(ctx context.Context) {
	defer close(b.done)

	l := b.loader
	values, err := b.run(ctx)
	if err == nil {
		err = ctx.Err()
	}

	if err != nil {
		l.mu.Lock()
		for _, t := range b.thunks {
			t.err = err
			if l.thunks[t.key] == t {
				delete(l.thunks, t.key)
			}
		}
		l.mu.Unlock()
		return
	}
	for _, t := range b.thunks {
		v, ok := values[t.key]
		t.res = Result[V]{Value: v, Found: ok}
	}
}

// run calls the fetch on the dispatcher goroutine, where no request recovery is installed,
// so a panic becomes the batch error.
func (b *batch[K, V]) run(ctx context.Context) (values map[string]V, err error) {
	defer func() {
		if r := recover(); r != nil {
			values, err = nil, fmt.Errorf("dataloader: fetch panicked: %v", r)
		}
	}()
	return b.loader.fetch(ctx, b.keys)
}

// LoadMany loads every key and waits for all of them. Results line up with keys, duplicates included.
// A fetch failure fails the whole call.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) ([]Result[V], error) {
	thunks := make([]*Thunk[K, V], len(keys))
	for i, k := range keys {
		thunks[i] = l.Load(k)
	}
	out := make([]Result[V], len(keys))
	for i, t := range thunks {
		v, ok, err := t.Get(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = Result[V]{Value: v, Found: ok}
	}
	return out, nil
}

// Prime stores a known value for key without fetching. An existing entry is left untouched.
func (l *Loader[K, V]) Prime(key K, value V) {
	ck := l.keyOf(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.thunks[ck]; ok {
		return
	}
	b := &batch[K, V]{loader: l, started: true, done: make(chan struct{})}
	close(b.done)
	l.thunks[ck] = &Thunk[K, V]{batch: b, key: ck, res: Result[V]{Value: value, Found: true}}
}
