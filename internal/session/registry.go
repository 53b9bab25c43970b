// ABOUTME: Registry of in-flight sessions keyed by session id and indexed by device
// ABOUTME: Single RWMutex guards every session mutation, reaper sweep and interrupt

package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry owns all sessions of the process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byDevice map[string]map[string]*Session
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used for opened_at and the initial activity time.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator sets the generator used when no usable client id is given.
func WithIDGenerator(newID func() string) Option {
	return func(r *Registry) { r.newID = newID }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		byDevice: make(map[string]map[string]*Session),
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates an active session for a call that already holds slot.
// suggestedID is used when non-empty and not held by a live session.
func (r *Registry) Register(hardwareID, suggestedID string, slot Releaser) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := suggestedID
	if _, taken := r.sessions[id]; id == "" || taken {
		id = r.newID()
		for _, taken := r.sessions[id]; taken; _, taken = r.sessions[id] {
			id = r.newID()
		}
	}

	now := r.now()
	s := &Session{
		id:           id,
		hardwareID:   hardwareID,
		openedAt:     now,
		slot:         slot,
		reaped:       make(chan struct{}),
		state:        StateActive,
		lastActivity: now,
	}
	r.sessions[id] = s

	device, ok := r.byDevice[hardwareID]
	if !ok {
		device = make(map[string]*Session)
		r.byDevice[hardwareID] = device
	}
	device[id] = s

	r.logger.Debug("session registered",
		"session_id", id,
		"hardware_id", hardwareID,
		"suggested_id", suggestedID,
		"total_sessions", len(r.sessions),
	)
	return s
}

// Touch records one emitted unit at time at. The activity time never moves
// backward. Returns false if the session is unknown or no longer active.
func (r *Registry) Touch(id string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.state != StateActive {
		return false
	}
	if at.After(s.lastActivity) {
		s.lastActivity = at
	}
	s.unitsSent++
	return true
}

// State returns the current state of a session.
func (r *Registry) State(id string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return StateCompleted, false
	}
	return s.state, true
}

// Get returns a snapshot of a session.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshotLocked(), true
}

// GetActive returns snapshots of the device's active sessions, oldest first.
func (r *Registry) GetActive(hardwareID string) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Snapshot
	for _, s := range r.byDevice[hardwareID] {
		if s.state == StateActive {
			out = append(out, s.snapshotLocked())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Mark moves an active session to a terminal state. Marking a terminal
// session, marking back to active, or marking an unknown id is a no-op that
// returns false.
func (r *Registry) Mark(id string, state State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	return r.markLocked(s, state)
}

// markLocked applies a transition. Must be called with mu held.
func (r *Registry) markLocked(s *Session, state State) bool {
	if s.state.Terminal() || !state.Terminal() {
		return false
	}
	s.state = state
	if state == StateExpired {
		close(s.reaped)
	}
	r.logger.Debug("session state changed",
		"session_id", s.id,
		"hardware_id", s.hardwareID,
		"state", state.String(),
	)
	return true
}

// InterruptDevice marks every active session of the device as interrupted and
// returns the affected ids, sorted. Sessions registered later are unaffected.
func (r *Registry) InterruptDevice(hardwareID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := []string{}
	for _, s := range r.byDevice[hardwareID] {
		if r.markLocked(s, StateInterrupted) {
			ids = append(ids, s.id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ExpireIdle marks every active session whose last activity is at or before
// cutoff as expired and returns them. The caller releases their slots.
func (r *Registry) ExpireIdle(cutoff time.Time) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*Session
	for _, s := range r.sessions {
		if s.state != StateActive || s.lastActivity.After(cutoff) {
			continue
		}
		r.markLocked(s, StateExpired)
		expired = append(expired, s)
	}
	return expired
}

// Remove deletes a session. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)
	if device := r.byDevice[s.hardwareID]; device != nil {
		delete(device, id)
		if len(device) == 0 {
			delete(r.byDevice, s.hardwareID)
		}
	}

	r.logger.Debug("session removed",
		"session_id", id,
		"hardware_id", s.hardwareID,
		"state", s.state.String(),
		"units_sent", s.unitsSent,
		"total_sessions", len(r.sessions),
	)
	return true
}

// Count returns the number of registered sessions in any state.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns snapshots of every registered session.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.snapshotLocked())
	}
	return out
}
