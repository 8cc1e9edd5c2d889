// ABOUTME: Short-memory suppression of redelivered channel events
// ABOUTME: Remembers recently handled event IDs so a replayed sync slice cannot re-run a command

package dedupe

import (
	"sync"
	"time"
)

// Window remembers event IDs for a bounded time and count. The sync
// protocol can redeliver a timeline slice after a token reset; an event
// inside the window is handled once no matter how often it reappears. The
// connection epoch only fences the past at startup, so this is the only
// guard against mid-run replays.
type Window struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	order []string

	ttl time.Duration
	cap int

	done chan struct{}
	once sync.Once
}

// NewWindow creates a window holding ids for ttl, capped at capacity
// entries with oldest-first eviction. A background sweeper trims expired
// entries; call Close to stop it.
func NewWindow(ttl time.Duration, capacity int) *Window {
	w := &Window{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		cap:  capacity,
		done: make(chan struct{}),
	}
	go w.sweep()
	return w
}

// Seen marks id as handled and reports whether it already was within the
// window. Check and mark are a single step so two arrivals of the same id
// cannot both pass.
func (w *Window) Seen(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	at, present := w.seen[id]
	if present && time.Since(at) < w.ttl {
		return true
	}

	if !present {
		if len(w.order) >= w.cap {
			oldest := w.order[0]
			w.order = w.order[1:]
			delete(w.seen, oldest)
		}
		w.order = append(w.order, id)
	}
	w.seen[id] = time.Now()
	return false
}

// Len returns the number of remembered ids.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// sweep trims expired entries in the background until Close.
func (w *Window) sweep() {
	interval := w.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.removeExpired()
		}
	}
}

// removeExpired drops every id past its ttl, keeping map and order in step.
func (w *Window) removeExpired() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	kept := w.order[:0]
	for _, id := range w.order {
		at, ok := w.seen[id]
		if ok && now.Sub(at) < w.ttl {
			kept = append(kept, id)
			continue
		}
		delete(w.seen, id)
	}
	w.order = kept
}

// Close stops the background sweeper. Safe to call more than once.
func (w *Window) Close() {
	w.once.Do(func() { close(w.done) })
}
