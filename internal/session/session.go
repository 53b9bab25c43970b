// ABOUTME: Session entity and lifecycle states for one streaming call
// ABOUTME: Holds the admission slot the call owns until final cleanup

package session

import (
	"time"
)

// State is the lifecycle state of a session.
type State int

const (
	StateActive State = iota
	StateInterrupted
	StateExpired
	StateCompleted
)

// String returns the lowercase state name used in logs.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateInterrupted:
		return "interrupted"
	case StateExpired:
		return "expired"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s != StateActive
}

// Releaser is the admission slot a session holds. Release must be idempotent.
type Releaser interface {
	Release()
}

// Session is the bookkeeping for one in-flight call. Mutable fields are
// guarded by the owning Registry's mutex.
type Session struct {
	id         string
	hardwareID string
	openedAt   time.Time
	slot       Releaser
	reaped     chan struct{}

	state        State
	lastActivity time.Time
	unitsSent    int
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// HardwareID returns the device the session belongs to.
func (s *Session) HardwareID() string { return s.hardwareID }

// OpenedAt returns when the session was registered.
func (s *Session) OpenedAt() time.Time { return s.openedAt }

// Slot returns the admission slot owned by the session.
func (s *Session) Slot() Releaser { return s.slot }

// Reaped is closed when the session is expired by the idle reaper.
func (s *Session) Reaped() <-chan struct{} { return s.reaped }

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID           string    `json:"session_id"`
	HardwareID   string    `json:"hardware_id"`
	State        State     `json:"-"`
	OpenedAt     time.Time `json:"opened_at"`
	LastActivity time.Time `json:"last_activity_at"`
	UnitsSent    int       `json:"units_sent"`
}

// snapshotLocked copies s. Must be called with the registry mutex held.
func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:           s.id,
		HardwareID:   s.hardwareID,
		State:        s.state,
		OpenedAt:     s.openedAt,
		LastActivity: s.lastActivity,
		UnitsSent:    s.unitsSent,
	}
}
