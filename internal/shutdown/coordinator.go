// ABOUTME: Graceful drain of in-flight streams within a bounded grace window
// ABOUTME: Stops admission, waits, force-cancels stragglers and logs the final snapshot

package shutdown

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/voice-gateway/internal/decisionlog"
	"github.com/2389/voice-gateway/internal/faults"
	"github.com/2389/voice-gateway/internal/metrics"
)

// DefaultForceWait bounds how long Shutdown waits for force-cancelled calls
// to unwind.
const DefaultForceWait = 5 * time.Second

// Drainer stops admitting new work.
type Drainer interface {
	Drain()
}

// Params wires a Coordinator.
type Params struct {
	Admission Drainer
	Tracker   *Tracker
	Grace     time.Duration
	ForceWait time.Duration
	Snapshot  func() metrics.Snapshot
	Decisions decisionlog.Logger
	Logger    *slog.Logger
	// OnDrain hooks run right after admission stops (e.g. flip health to NOT_SERVING).
	OnDrain []func()
}

// Report summarizes a shutdown.
type Report struct {
	InFlight  int              // calls in flight when draining began
	Forced    int              // calls force-cancelled after the grace window
	Remaining int              // calls still tracked when Shutdown returned
	Elapsed   time.Duration    // total time spent
	Metrics   metrics.Snapshot // final aggregates
}

// Coordinator runs the shutdown sequence once.
type Coordinator struct {
	p      Params
	once   sync.Once
	report Report
	now    func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(p Params) *Coordinator {
	if p.ForceWait <= 0 {
		p.ForceWait = DefaultForceWait
	}
	if p.Decisions == nil {
		p.Decisions = decisionlog.Nop{}
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Snapshot == nil {
		p.Snapshot = func() metrics.Snapshot { return metrics.Snapshot{} }
	}
	return &Coordinator{p: p, now: time.Now}
}

// Shutdown drains in-flight calls. The grace window is also cut short by ctx.
// Later calls return the first report.
func (c *Coordinator) Shutdown(ctx context.Context) Report {
	c.once.Do(func() {
		c.report = c.run(ctx)
	})
	return c.report
}

func (c *Coordinator) run(ctx context.Context) Report {
	start := c.now()
	logger := c.p.Logger

	if c.p.Admission != nil {
		c.p.Admission.Drain()
	}
	for _, hook := range c.p.OnDrain {
		hook()
	}

	report := Report{InFlight: c.p.Tracker.Count()}
	c.log(start, slog.LevelInfo, "draining", map[string]any{
		"in_flight":            report.InFlight,
		"grace_period_seconds": int(c.p.Grace / time.Second),
	})
	logger.Info("draining in-flight streams", "in_flight", report.InFlight, "grace", c.p.Grace)

	graceCtx, cancel := context.WithTimeout(ctx, c.p.Grace)
	drained := c.p.Tracker.Wait(graceCtx)
	cancel()

	if drained {
		c.log(start, slog.LevelInfo, "drained", nil)
	} else {
		report.Forced = c.p.Tracker.CancelAll(faults.ErrShuttingDown)
		logger.Warn("grace period elapsed, force-terminating streams", "count", report.Forced)
		c.log(start, slog.LevelWarn, "forced_termination", map[string]any{"count": report.Forced})

		// Cancelled calls still need to send their terminal message and release.
		forceCtx, cancel := context.WithTimeout(context.Background(), c.p.ForceWait)
		c.p.Tracker.Wait(forceCtx)
		cancel()
	}

	report.Remaining = c.p.Tracker.Count()
	report.Elapsed = c.now().Sub(start)
	report.Metrics = c.p.Snapshot()

	c.log(start, slog.LevelInfo, "final_snapshot", map[string]any{
		"total_requests": report.Metrics.TotalRequests,
		"errors":         report.Metrics.Errors,
		"error_rate":     report.Metrics.ErrorRate,
		"forced":         report.Forced,
		"remaining":      report.Remaining,
	})
	logger.Info("shutdown complete",
		"in_flight", report.InFlight,
		"forced", report.Forced,
		"remaining", report.Remaining,
		"elapsed", report.Elapsed,
		"total_requests", report.Metrics.TotalRequests,
		"error_rate", report.Metrics.ErrorRate,
	)
	return report
}

func (c *Coordinator) log(start time.Time, level slog.Level, decision string, ctx map[string]any) {
	c.p.Decisions.Log(decisionlog.Entry{
		Level:    level,
		Scope:    "shutdown",
		Method:   "Shutdown",
		Decision: decision,
		Duration: c.now().Sub(start),
		Context:  ctx,
	})
}
