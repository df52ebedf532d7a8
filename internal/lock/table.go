// Package lock provides a table of named locks with paired-key redirection.
//
// Each lock is identified by a Key. Holding a lock is represented by a
// Flight: whoever holds it eventually publishes a result through Release,
// and callers that were redirected to that flight receive the same result.
//
// Acquire checks whether the paired key is currently held and, if not,
// registers the caller on its own key inside one critical section, so the
// "is the other path busy" test and the acquisition cannot be separated
// by a concurrent caller.
//
// Locks are created on first use and removed as soon as they are released
// with no queued waiter, so the table only ever holds in-flight keys.
package lock

import (
	"context"
	"log/slog"
	"sync"
)

// Key names one lock.
type Key struct {
	Namespace string
	Name      string
}

// Flight is one holder's tenure of a lock.
type Flight[V any] struct {
	key  Key
	done chan struct{}
	val  V
	err  error
}

// Key returns the key this flight holds.
func (f *Flight[V]) Key() Key { return f.key }

// Wait blocks until the flight is released and returns its result.
// ctx only bounds the wait.
func (f *Flight[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

type waiter[V any] struct {
	flight *Flight[V]
	ready  chan struct{}
}

type entry[V any] struct {
	holder  *Flight[V]
	waiters []waiter[V]
}

// Table is a set of named locks. The zero value is not usable; call NewTable.
type Table[V any] struct {
	mu      sync.Mutex
	entries map[Key]*entry[V]
	logger  *slog.Logger
}

// Option configures a Table.
type Option func(*tableConfig)

type tableConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for lock tracing at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *tableConfig) { c.logger = l }
}

// NewTable creates an empty lock table.
func NewTable[V any](opts ...Option) *Table[V] {
	cfg := tableConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Table[V]{
		entries: make(map[Key]*entry[V]),
		logger:  cfg.logger,
	}
}

// Acquire obtains the lock named own.
//
// If paired is non-nil and that lock is currently held, nothing is
// acquired: the paired holder's flight is returned as redirect and the
// caller should Wait on it instead. Otherwise the caller is queued on own
// (FIFO) and Acquire returns the held flight once ownership is granted.
// The caller must call Release exactly once on a held flight.
//
// If ctx is cancelled while queued, Acquire returns ctx.Err() and the
// caller holds nothing.
func (t *Table[V]) Acquire(ctx context.Context, own Key, paired *Key) (held, redirect *Flight[V], err error) {
	t.mu.Lock()
	if paired != nil {
		if pe, ok := t.entries[*paired]; ok && pe.holder != nil {
			holder := pe.holder
			t.mu.Unlock()
			t.logger.Debug("lock redirected to paired holder",
				"key", own.Name, "namespace", own.Namespace, "paired_namespace", paired.Namespace)
			return nil, holder, nil
		}
	}

	e, ok := t.entries[own]
	if !ok {
		e = &entry[V]{}
		t.entries[own] = e
	}
	f := &Flight[V]{key: own, done: make(chan struct{})}
	if e.holder == nil {
		e.holder = f
		t.mu.Unlock()
		t.logger.Debug("lock acquired", "key", own.Name, "namespace", own.Namespace)
		return f, nil, nil
	}

	w := waiter[V]{flight: f, ready: make(chan struct{})}
	e.waiters = append(e.waiters, w)
	t.mu.Unlock()
	t.logger.Debug("lock busy, waiting", "key", own.Name, "namespace", own.Namespace)

	select {
	case <-w.ready:
		return f, nil, nil
	case <-ctx.Done():
	}

	t.mu.Lock()
	for i, queued := range e.waiters {
		if queued.flight == f {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			t.mu.Unlock()
			return nil, nil, ctx.Err()
		}
	}
	t.mu.Unlock()

	// Ownership was handed over while ctx fired; pass it on.
	var zero V
	t.Release(f, zero, ctx.Err())
	return nil, nil, ctx.Err()
}

// Release publishes the holder's result to everyone waiting on f and hands
// the lock to the next queued caller, or removes it when nobody waits.
func (t *Table[V]) Release(f *Flight[V], val V, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f.val, f.err = val, err
	close(f.done)

	e, ok := t.entries[f.key]
	if !ok || e.holder != f {
		return
	}
	if len(e.waiters) == 0 {
		delete(t.entries, f.key)
		t.logger.Debug("lock erased", "key", f.key.Name, "namespace", f.key.Namespace)
		return
	}
	next := e.waiters[0]
	e.waiters = e.waiters[1:]
	e.holder = next.flight
	close(next.ready)
}

// Held reports whether key is currently held.
func (t *Table[V]) Held(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	return ok && e.holder != nil
}

// Len returns the number of live locks.
func (t *Table[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
