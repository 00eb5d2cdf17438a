package playground

import (
	"context"
	"sync"
)

// inflightCall is one shared network operation. Followers block on done and
// then read the settled value and error the leader stored.
type inflightCall struct {
	done chan struct{}
	val  any
	err  error
}

// Deduplicator ensures at most one in-flight operation per logical key.
// Concurrent callers for the same key share the leader's outcome instead of
// issuing duplicate network calls. A Deduplicator is scoped to one Playground
// instance.
type Deduplicator struct {
	mu       sync.Mutex
	inflight map[string]*inflightCall
}

// NewDeduplicator creates an empty deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{inflight: make(map[string]*inflightCall)}
}

// Do executes fn under key, collapsing concurrent calls. The first caller
// (the leader) runs fn on its own goroutine; every other caller arriving
// before the leader settles waits for and shares the leader's result. The key
// is released when fn settles, success or failure, so a failed call never
// blocks future retries under the same key.
//
// A follower whose ctx is cancelled stops waiting and returns the context
// error; the leader's call keeps running for the remaining callers.
func (d *Deduplicator) Do(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	d.mu.Lock()
	if c, ok := d.inflight[key]; ok {
		d.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c := &inflightCall{done: make(chan struct{})}
	d.inflight[key] = c
	d.mu.Unlock()

	// Release the key before signalling followers, even if fn panics.
	defer func() {
		d.mu.Lock()
		delete(d.inflight, key)
		d.mu.Unlock()
		close(c.done)
	}()

	c.val, c.err = fn()
	return c.val, c.err
}

// InFlight reports whether an operation is currently running under key.
func (d *Deduplicator) InFlight(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[key]
	return ok
}
