// ABOUTME: Device-scoped interrupt handling over the session registry
// ABOUTME: Point-in-time query-and-mark; later sessions never inherit an interrupt

// Package interrupt stops in-flight work for a device on request.
//
// Interrupt marks every session of the device that is active at call time as
// interrupted, atomically under the registry lock, and returns their ids. No
// flag outlives the call: a session registered afterwards starts clean. The
// owning stream observes the mark at its next unit boundary.
package interrupt

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/voice-gateway/internal/decisionlog"
	"github.com/2389/voice-gateway/internal/faults"
	"github.com/2389/voice-gateway/internal/metrics"
	"github.com/2389/voice-gateway/internal/session"
)

// Method is the RPC name used in decisions and metrics.
const Method = "InterruptSession"

// Coordinator applies interrupts.
type Coordinator struct {
	registry  *session.Registry
	decisions decisionlog.Logger
	metrics   metrics.Sink
	logger    *slog.Logger
	now       func() time.Time
}

// NewCoordinator creates a Coordinator. decisions and sink may be nil.
func NewCoordinator(registry *session.Registry, decisions decisionlog.Logger, sink metrics.Sink, logger *slog.Logger) *Coordinator {
	if decisions == nil {
		decisions = decisionlog.Nop{}
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Coordinator{
		registry:  registry,
		decisions: decisions,
		metrics:   sink,
		logger:    logger,
		now:       time.Now,
	}
}

// Interrupt marks the device's active sessions as interrupted and returns
// their ids, sorted. No active sessions yields an empty, non-nil list.
func (c *Coordinator) Interrupt(ctx context.Context, hardwareID string) ([]string, error) {
	start := c.now()
	hardwareID = strings.TrimSpace(hardwareID)

	if hardwareID == "" {
		err := faults.Validation("hardware_id is required")
		c.record(start, hardwareID, "validation_failed", slog.LevelWarn, metrics.OutcomeError, nil)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := c.registry.InterruptDevice(hardwareID)

	decision := "interrupted"
	if len(ids) == 0 {
		decision = "no_active_sessions"
	}
	c.record(start, hardwareID, decision, slog.LevelInfo, metrics.OutcomeOK, ids)

	c.logger.Info("interrupt applied",
		"hardware_id", hardwareID,
		"interrupted", len(ids),
	)
	return ids, nil
}

func (c *Coordinator) record(start time.Time, hardwareID, decision string, level slog.Level, outcome metrics.Outcome, ids []string) {
	elapsed := c.now().Sub(start)
	entry := decisionlog.Entry{
		Level:      level,
		Scope:      "interrupt",
		Method:     Method,
		Decision:   decision,
		HardwareID: hardwareID,
		Duration:   elapsed,
	}
	if ids != nil {
		entry.Context = map[string]any{"interrupted_sessions": ids, "count": len(ids)}
	}
	c.decisions.Log(entry)
	c.metrics.Record(metrics.Event{RPC: Method, Decision: decision, Duration: elapsed, Outcome: outcome})
}
