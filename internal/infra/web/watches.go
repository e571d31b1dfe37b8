package web

import (
	"sync"
	"time"

	"course-checkout/internal/usecase"
)

// watch is one purchase being polled on behalf of the return page. handle
// is nil until a pool worker picks the watch up.
type watch struct {
	id       string
	queuedAt time.Time

	mu      sync.Mutex
	handle  *usecase.PollHandle
	dropped bool
}

// attach records the running poll. It reports false when the watch was
// dropped while queued; the caller then owns cancelling h.
func (w *watch) attach(h *usecase.PollHandle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dropped {
		return false
	}
	w.handle = h
	return true
}

func (w *watch) snapshot() usecase.PollSnapshot {
	w.mu.Lock()
	h := w.handle
	w.mu.Unlock()
	if h == nil {
		return usecase.PollSnapshot{PurchaseID: w.id, StartedAt: w.queuedAt}
	}
	return h.Snapshot()
}

func (w *watch) cancel() {
	w.mu.Lock()
	w.dropped = true
	h := w.handle
	w.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// watchRegistry keeps one watch per purchase. A watch that settled on a
// terminal status stays readable for ttl so page reloads do not restart
// polling; an exhausted, failed or cancelled one is replaced on the next
// acquire so the user can retry.
type watchRegistry struct {
	mu      sync.Mutex
	entries map[string]*watch
	ttl     time.Duration
	now     func() time.Time
}

func newWatchRegistry(ttl time.Duration) *watchRegistry {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &watchRegistry{entries: map[string]*watch{}, ttl: ttl, now: time.Now}
}

// acquire returns the watch for id, creating it when absent or retryable.
// created tells the caller it owns starting the poll.
func (r *watchRegistry) acquire(id string) (w *watch, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	if w, ok := r.entries[id]; ok && !retryable(w.snapshot()) {
		return w, false
	}
	w = &watch{id: id, queuedAt: r.now()}
	r.entries[id] = w
	return w, true
}

func retryable(s usecase.PollSnapshot) bool {
	return s.Done() && s.Outcome != usecase.PollTerminal
}

func (r *watchRegistry) get(id string) *watch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// drop removes w if it is still the registered watch for its purchase.
func (r *watchRegistry) drop(w *watch) {
	r.mu.Lock()
	if r.entries[w.id] == w {
		delete(r.entries, w.id)
	}
	r.mu.Unlock()
	w.cancel()
}

func (r *watchRegistry) pruneLocked() {
	now := r.now()
	for id, w := range r.entries {
		s := w.snapshot()
		if s.Done() && !s.FinishedAt.IsZero() && now.Sub(s.FinishedAt) > r.ttl {
			delete(r.entries, id)
		}
	}
}

func (r *watchRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
