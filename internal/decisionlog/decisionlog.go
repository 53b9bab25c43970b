// ABOUTME: Structured one-line-per-transition decision log with optional persistence
// ABOUTME: Lines go to slog immediately; SQLite writes flow through a bounded queue

// Package decisionlog records every lifecycle decision the gateway makes.
//
// Each Entry becomes exactly one slog record with the message "decision" and
// the fixed attributes scope, method, decision, duration_ms and ts, followed by
// the session, device and context attributes. When a Store is configured the
// entry is also handed to a background writer over a bounded channel; if the
// writer falls behind, persistence of that entry is skipped and counted, but
// the log line is never lost.
package decisionlog

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/voice-gateway/internal/store"
)

// DefaultQueueSize is the persistence queue length used when none is configured.
const DefaultQueueSize = 256

// Entry is one decision.
type Entry struct {
	Timestamp  time.Time
	Level      slog.Level
	Scope      string // stream, interrupt, reaper, shutdown
	Method     string // RPC or task name
	Decision   string
	SessionID  string
	HardwareID string
	Duration   time.Duration
	Context    map[string]any
}

// Logger records decisions. Implementations must be safe for concurrent use
// and must not block the caller on I/O.
type Logger interface {
	Log(Entry)
}

// Nop discards every entry.
type Nop struct{}

// Log implements Logger.
func (Nop) Log(Entry) {}

// Store persists decisions.
type Store interface {
	AppendDecision(ctx context.Context, d *store.Decision) error
}

// Writer is the production Logger.
type Writer struct {
	logger *slog.Logger
	store  Store
	now    func() time.Time

	mu      sync.RWMutex
	closed  bool
	queue   chan Entry
	done    chan struct{}
	dropped atomic.Int64
	written atomic.Int64
}

// New creates a Writer. st may be nil, in which case entries are only logged.
func New(logger *slog.Logger, st Store, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	w := &Writer{
		logger: logger,
		store:  st,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	if st != nil {
		w.queue = make(chan Entry, queueSize)
		go w.persist()
	} else {
		close(w.done)
	}
	return w
}

// Log writes the entry's log line and queues it for persistence.
func (w *Writer) Log(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = w.now()
	}
	w.logger.LogAttrs(context.Background(), e.Level, "decision", attrs(e)...)

	if w.queue == nil {
		return
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return
	}
	select {
	case w.queue <- e:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns the number of entries that were logged but not persisted.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Written returns the number of entries persisted.
func (w *Writer) Written() int64 {
	return w.written.Load()
}

// Close stops accepting entries, flushes the queue and waits for the writer.
// It is safe to call multiple times.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed && w.queue != nil {
		close(w.queue)
	}
	w.closed = true
	w.mu.Unlock()

	<-w.done
}

// persist drains the queue into the store until Close.
func (w *Writer) persist() {
	defer close(w.done)

	for e := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.store.AppendDecision(ctx, toRecord(e))
		cancel()
		if err != nil {
			w.dropped.Add(1)
			w.logger.Warn("failed to persist decision", "decision", e.Decision, "error", err)
			continue
		}
		w.written.Add(1)
	}
}

// attrs builds the fixed attribute layout of a decision line.
func attrs(e Entry) []slog.Attr {
	out := make([]slog.Attr, 0, 7+len(e.Context))
	out = append(out,
		slog.String("scope", e.Scope),
		slog.String("method", e.Method),
		slog.String("decision", e.Decision),
		slog.Int64("duration_ms", e.Duration.Milliseconds()),
		slog.String("ts", e.Timestamp.UTC().Format(time.RFC3339Nano)),
	)
	if e.SessionID != "" {
		out = append(out, slog.String("session_id", e.SessionID))
	}
	if e.HardwareID != "" {
		out = append(out, slog.String("hardware_id", e.HardwareID))
	}

	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, slog.Any(k, e.Context[k]))
	}
	return out
}

func toRecord(e Entry) *store.Decision {
	return &store.Decision{
		Timestamp:  e.Timestamp.UTC(),
		Level:      e.Level.String(),
		Scope:      e.Scope,
		Method:     e.Method,
		Decision:   e.Decision,
		SessionID:  e.SessionID,
		HardwareID: e.HardwareID,
		Duration:   e.Duration,
		Context:    e.Context,
	}
}
