// Package base provides the scaffolding shared by all domain stores: status
// flags, the single-flight fetch guard, the stale-response sequencer, and the
// change notifier. Stores embed or hold these types and keep their own state
// behind their own RWMutex.
package base

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Status
// =============================================================================

// Status carries the request flags every store exposes alongside its data.
type Status struct {
	// Loading is true while a list fetch is in flight.
	Loading bool
	// Submitting is true while a mutation is in flight.
	Submitting bool
	// LastError is the most recent failure, nil after a success.
	LastError error
	// LastFetch is the time of the last successful fetch.
	LastFetch time.Time
}

// FinishFetch records a fetch outcome. A failure keeps the previous LastFetch
// stamp so stale data stays visibly stale.
func (s *Status) FinishFetch(err error) {
	s.Loading = false
	s.LastError = err
	if err == nil {
		s.LastFetch = time.Now()
	}
}

// FinishSubmit records a mutation outcome.
func (s *Status) FinishSubmit(err error) {
	s.Submitting = false
	s.LastError = err
}

// =============================================================================
// FetchGuard
// =============================================================================

// FetchGuard collapses concurrent EnsureLoaded calls into a single fetch per
// epoch. It is deliberately separate from the observable Status flags so the
// guard itself never shows up in snapshots.
type FetchGuard struct {
	mu     sync.Mutex
	epoch  uint64
	loaded bool
	wait   chan struct{}
	err    error
}

// Do runs fetch unless the current epoch already loaded. Concurrent callers
// join the in-flight fetch and share its result; a caller whose context ends
// first leaves with ctx.Err() while the fetch finishes for the rest.
func (g *FetchGuard) Do(ctx context.Context, fetch func(context.Context) error) error {
	g.mu.Lock()
	if g.loaded {
		g.mu.Unlock()
		return nil
	}
	if g.wait != nil {
		wait := g.wait
		g.mu.Unlock()
		select {
		case <-wait:
			g.mu.Lock()
			err := g.err
			g.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	wait := make(chan struct{})
	g.wait = wait
	epoch := g.epoch
	g.mu.Unlock()

	err := fetch(ctx)

	g.mu.Lock()
	g.err = err
	// A Reset during the fetch moves the epoch; the result then no longer
	// counts as loaded and the next caller fetches again.
	if err == nil && g.epoch == epoch {
		g.loaded = true
	}
	g.wait = nil
	close(wait)
	g.mu.Unlock()
	return err
}

// Loaded reports whether the current epoch has a successful fetch.
func (g *FetchGuard) Loaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loaded
}

// Reset starts a new epoch. The next Do fetches again.
func (g *FetchGuard) Reset() {
	g.mu.Lock()
	g.epoch++
	g.loaded = false
	g.err = nil
	g.mu.Unlock()
}

// =============================================================================
// Sequencer
// =============================================================================

// Sequencer orders fetch requests so a slow response cannot overwrite the
// result of a newer one. Callers take Next before the request and check Stale
// before applying the response.
type Sequencer struct {
	n atomic.Uint64
}

// Next claims the next request sequence number.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// Stale reports whether a newer request began after seq was claimed.
func (s *Sequencer) Stale(seq uint64) bool {
	return seq < s.n.Load()
}

// =============================================================================
// Notifier
// =============================================================================

// Notifier fans out store change notifications. Watchers run on the mutating
// goroutine, after the store released its own lock, in registration order.
type Notifier struct {
	mu       sync.Mutex
	watchers map[int]func()
	order    []int
	next     int
}

// Watch registers fn and returns the function that removes it. Removing twice
// is safe.
func (n *Notifier) Watch(fn func()) func() {
	n.mu.Lock()
	if n.watchers == nil {
		n.watchers = make(map[int]func())
	}
	id := n.next
	n.next++
	n.watchers[id] = fn
	n.order = append(n.order, id)
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.watchers[id]; !ok {
			return
		}
		delete(n.watchers, id)
		for i, v := range n.order {
			if v == id {
				n.order = append(n.order[:i], n.order[i+1:]...)
				break
			}
		}
	}
}

// Notify invokes every watcher. Callers must not hold their store lock.
func (n *Notifier) Notify() {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.order))
	for _, id := range n.order {
		fns = append(fns, n.watchers[id])
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
