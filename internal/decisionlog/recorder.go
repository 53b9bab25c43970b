// ABOUTME: In-memory decision Logger for tests and embedders
// ABOUTME: Keeps every entry in order and supports lookup by decision

package decisionlog

import "sync"

// Recorder is a Logger that keeps entries in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Log implements Logger.
func (r *Recorder) Log(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns a copy of all recorded entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Decisions returns the decision values in order.
func (r *Recorder) Decisions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Decision
	}
	return out
}

// Find returns the entries with the given decision.
func (r *Recorder) Find(decision string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Decision == decision {
			out = append(out, e)
		}
	}
	return out
}
