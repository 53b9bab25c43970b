// ABOUTME: Admission control over concurrent streams with per-slot rate windows
// ABOUTME: Runs the idle-session reaper that reclaims capacity from stalled calls

package backpressure

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/voice-gateway/internal/decisionlog"
	"github.com/2389/voice-gateway/internal/faults"
	"github.com/2389/voice-gateway/internal/metrics"
	"github.com/2389/voice-gateway/internal/ratewindow"
	"github.com/2389/voice-gateway/internal/session"
)

// DefaultReaperInterval is the sweep tick used when none is configured.
const DefaultReaperInterval = 5 * time.Second

// Config holds admission limits. It is immutable once the Manager is built.
type Config struct {
	MaxConcurrentStreams int
	MaxMessageRate       int // units per second per stream; 0 disables
	IdleTimeout          time.Duration
	ReaperInterval       time.Duration
}

// Params wires a Manager.
type Params struct {
	Config    Config
	Registry  *session.Registry
	Decisions decisionlog.Logger
	Metrics   metrics.Sink
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Manager grants and reclaims stream slots.
type Manager struct {
	cfg       Config
	registry  *session.Registry
	decisions decisionlog.Logger
	metrics   metrics.Sink
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	active   int
	draining bool
	nextID   uint64
}

// NewManager creates a Manager.
func NewManager(p Params) *Manager {
	if p.Config.ReaperInterval <= 0 {
		p.Config.ReaperInterval = DefaultReaperInterval
	}
	if p.Decisions == nil {
		p.Decisions = decisionlog.Nop{}
	}
	if p.Metrics == nil {
		p.Metrics = metrics.Nop{}
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Manager{
		cfg:       p.Config,
		registry:  p.Registry,
		decisions: p.Decisions,
		metrics:   p.Metrics,
		logger:    p.Logger,
		now:       p.Clock,
	}
}

// Slot is one unit of concurrent-stream capacity.
type Slot struct {
	id         uint64
	hardwareID string
	window     *ratewindow.Window
	mgr        *Manager
	released   atomic.Bool
}

// ID returns the slot's sequence number.
func (s *Slot) ID() uint64 { return s.id }

// Release returns the slot's capacity. Only the first call has an effect.
func (s *Slot) Release() {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	s.mgr.release(s)
}

// Released reports whether Release has been called.
func (s *Slot) Released() bool {
	return s.released.Load()
}

// Acquire reserves a slot for the device's call.
func (m *Manager) Acquire(hardwareID string) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.draining {
		return nil, faults.ErrShuttingDown
	}
	if m.active >= m.cfg.MaxConcurrentStreams {
		m.logger.Debug("admission denied",
			"hardware_id", hardwareID,
			"active", m.active,
			"max", m.cfg.MaxConcurrentStreams,
		)
		return nil, faults.ErrStreamLimit
	}

	m.active++
	m.nextID++
	slot := &Slot{
		id:         m.nextID,
		hardwareID: hardwareID,
		window:     ratewindow.New(time.Second),
		mgr:        m,
	}
	m.logger.Debug("slot acquired", "slot", slot.id, "hardware_id", hardwareID, "active", m.active)
	return slot, nil
}

// Release returns a slot's capacity. Equivalent to slot.Release().
func (m *Manager) Release(slot *Slot) {
	slot.Release()
}

func (m *Manager) release(slot *Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active > 0 {
		m.active--
	}
	m.logger.Debug("slot released", "slot", slot.id, "hardware_id", slot.hardwareID, "active", m.active)
}

// RateCheck records one unit for slot at now and reports whether it is within
// MaxMessageRate. A zero rate always passes.
func (m *Manager) RateCheck(slot *Slot, now time.Time) bool {
	if m.cfg.MaxMessageRate <= 0 {
		return true
	}
	return slot.window.Allow(now, m.cfg.MaxMessageRate)
}

// Drain makes every later Acquire fail as unavailable. Held slots are untouched.
func (m *Manager) Drain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draining = true
}

// Draining reports whether Drain was called.
func (m *Manager) Draining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// Active returns the number of held slots.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Capacity returns MaxConcurrentStreams.
func (m *Manager) Capacity() int {
	return m.cfg.MaxConcurrentStreams
}

// Config returns the admission limits.
func (m *Manager) Config() Config {
	return m.cfg
}

// Sweep expires sessions idle for IdleTimeout or longer as of now and releases
// their slots. Returns the number of sessions reaped.
func (m *Manager) Sweep(now time.Time) int {
	if m.registry == nil || m.cfg.IdleTimeout <= 0 {
		return 0
	}

	expired := m.registry.ExpireIdle(now.Add(-m.cfg.IdleTimeout))
	for _, s := range expired {
		if slot := s.Slot(); slot != nil {
			slot.Release()
		}
		m.decisions.Log(decisionlog.Entry{
			Timestamp:  now,
			Level:      slog.LevelWarn,
			Scope:      "reaper",
			Method:     "IdleReaper",
			Decision:   "stream_idle_timeout",
			SessionID:  s.ID(),
			HardwareID: s.HardwareID(),
			Duration:   now.Sub(s.OpenedAt()),
			Context:    map[string]any{"idle_timeout_seconds": int(m.cfg.IdleTimeout / time.Second)},
		})
		m.metrics.Record(metrics.Event{RPC: "IdleReaper", Decision: "stream_idle_timeout", Duration: now.Sub(s.OpenedAt())})
	}
	if len(expired) > 0 {
		m.logger.Info("reaped idle sessions", "count", len(expired), "active", m.Active())
	}
	return len(expired)
}

// Run sweeps every ReaperInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReaperInterval)
	defer ticker.Stop()

	m.logger.Debug("idle reaper started", "interval", m.cfg.ReaperInterval, "idle_timeout", m.cfg.IdleTimeout)
	for {
		select {
		case <-ticker.C:
			m.Sweep(m.now())
		case <-ctx.Done():
			m.logger.Debug("idle reaper stopped")
			return
		}
	}
}
