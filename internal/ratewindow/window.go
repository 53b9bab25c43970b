// ABOUTME: Sliding-window event counter used for per-stream message rate limiting
// ABOUTME: Keeps admitted timestamps in a FIFO ring and evicts those older than the span

// Package ratewindow implements a sliding-window rate limiter.
//
// A Window remembers the time of every admitted event within its span. Allow
// admits a new event only while fewer than limit events are inside the window
// ending at now. Rejected events are not recorded, so a burst is cut off at
// exactly limit events per span.
package ratewindow

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

// Window is a thread-safe sliding window of event timestamps.
type Window struct {
	mu     sync.Mutex
	span   time.Duration
	events *queue.Queue // time.Time values, oldest at the head
}

// New creates a window covering span. A non-positive span defaults to one second.
func New(span time.Duration) *Window {
	if span <= 0 {
		span = time.Second
	}
	return &Window{
		span:   span,
		events: queue.New(),
	}
}

// Allow records an event at now and returns true if fewer than limit events
// fall inside the window. A limit <= 0 disables the check and records nothing.
func (w *Window) Allow(now time.Time, limit int) bool {
	if limit <= 0 {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.evictLocked(now)
	if w.events.Length() >= limit {
		return false
	}
	w.events.Add(now)
	return true
}

// Count returns the number of events inside the window ending at now.
func (w *Window) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evictLocked(now)
	return w.events.Length()
}

// Span returns the window length.
func (w *Window) Span() time.Duration {
	return w.span
}

// evictLocked drops events at or before now-span. Must be called with mu held.
func (w *Window) evictLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	for w.events.Length() > 0 {
		oldest, _ := w.events.Peek().(time.Time)
		if oldest.After(cutoff) {
			return
		}
		w.events.Remove()
	}
}
