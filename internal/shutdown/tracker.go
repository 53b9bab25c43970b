// ABOUTME: Registry of in-flight calls that shutdown can wait for and force-cancel
// ABOUTME: Each call registers a cancel-with-cause func and untracks on exit

package shutdown

import (
	"context"
	"sync"
)

// Tracker follows in-flight calls.
type Tracker struct {
	mu     sync.Mutex
	calls  map[uint64]context.CancelCauseFunc
	nextID uint64
	idle   chan struct{} // closed while no call is tracked
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{
		calls: make(map[uint64]context.CancelCauseFunc),
		idle:  idle,
	}
}

// Track registers a call. The returned func untracks it and is safe to call
// more than once.
func (t *Tracker) Track(cancel context.CancelCauseFunc) (untrack func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	if len(t.calls) == 0 {
		t.idle = make(chan struct{})
	}
	t.calls[id] = cancel
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.untrack(id) })
	}
}

func (t *Tracker) untrack(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.calls[id]; !ok {
		return
	}
	delete(t.calls, id)
	if len(t.calls) == 0 {
		close(t.idle)
	}
}

// Count returns the number of tracked calls.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// CancelAll cancels every tracked call with cause and returns how many were
// cancelled. Calls stay tracked until they untrack themselves.
func (t *Tracker) CancelAll(cause error) int {
	t.mu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(t.calls))
	for _, cancel := range t.calls {
		cancels = append(cancels, cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel(cause)
	}
	return len(cancels)
}

// Wait blocks until no call is tracked or ctx is done. Returns true if every
// call finished.
func (t *Tracker) Wait(ctx context.Context) bool {
	for {
		t.mu.Lock()
		if len(t.calls) == 0 {
			t.mu.Unlock()
			return true
		}
		idle := t.idle
		t.mu.Unlock()

		select {
		case <-idle:
			// Re-check: a new call may have been tracked since.
		case <-ctx.Done():
			return false
		}
	}
}
