// ABOUTME: Per-call orchestrator for StreamResponses: admit, register, pump, terminate
// ABOUTME: Guarantees one terminal message and slot/session release on every exit path

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/voice-gateway/internal/backend"
	"github.com/2389/voice-gateway/internal/backpressure"
	"github.com/2389/voice-gateway/internal/decisionlog"
	"github.com/2389/voice-gateway/internal/faults"
	"github.com/2389/voice-gateway/internal/metrics"
	"github.com/2389/voice-gateway/internal/session"
	"github.com/2389/voice-gateway/internal/shutdown"
	pb "github.com/2389/voice-gateway/proto/voice"
)

// Method is the RPC name used in decisions and metrics.
const Method = "StreamResponses"

// EndMessage is the end_message text of a completed call.
const EndMessage = "stream complete"

// Sink receives the responses of one call. Send is never called concurrently.
type Sink interface {
	Send(*pb.StreamResponse) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(*pb.StreamResponse) error

// Send implements Sink.
func (f SinkFunc) Send(r *pb.StreamResponse) error { return f(r) }

// Params wires a Coordinator.
type Params struct {
	Admission *backpressure.Manager
	Registry  *session.Registry
	Backend   backend.Generator
	Tracker   *shutdown.Tracker
	Decisions decisionlog.Logger
	Metrics   metrics.Sink
	Logger    *slog.Logger
	Clock     func() time.Time

	// MaxScreenshotBytes bounds StreamRequest.screenshot; 0 disables the check.
	MaxScreenshotBytes int
}

// Coordinator runs streaming calls. It is safe for concurrent use.
type Coordinator struct {
	admission     *backpressure.Manager
	registry      *session.Registry
	backend       backend.Generator
	tracker       *shutdown.Tracker
	decisions     decisionlog.Logger
	metrics       metrics.Sink
	logger        *slog.Logger
	now           func() time.Time
	maxScreenshot int
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(p Params) *Coordinator {
	if p.Decisions == nil {
		p.Decisions = decisionlog.Nop{}
	}
	if p.Metrics == nil {
		p.Metrics = metrics.Nop{}
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	return &Coordinator{
		admission:     p.Admission,
		registry:      p.Registry,
		backend:       p.Backend,
		tracker:       p.Tracker,
		decisions:     p.Decisions,
		metrics:       p.Metrics,
		logger:        p.Logger.With("component", "stream"),
		now:           p.Clock,
		maxScreenshot: p.MaxScreenshotBytes,
	}
}

// call is the state of one Run.
type call struct {
	req       *pb.StreamRequest
	sink      Sink
	start     time.Time
	sessionID string
	slotID    uint64
	unitsSent int
}

// Run serves one call. It sends exactly one terminal message to sink and
// returns nil on completion or the classified gRPC status error otherwise.
func (c *Coordinator) Run(ctx context.Context, req *pb.StreamRequest, sink Sink) error {
	cl := &call{req: req, sink: sink, start: c.now()}

	callCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if c.tracker != nil {
		untrack := c.tracker.Track(cancel)
		defer untrack()
	}

	err := c.serve(callCtx, cl)
	out := faults.Classify(err)

	terminal := pb.EndResponse(EndMessage)
	if !out.OK() {
		terminal = pb.ErrorResponse(out.Terminal())
	}
	if sendErr := sink.Send(terminal); sendErr != nil {
		c.logger.Debug("terminal message not delivered",
			"session_id", cl.sessionID,
			"reason", out.Reason,
			"error", sendErr,
		)
	}

	c.finish(cl, out)
	return out.Err()
}

// serve admits the call and streams until a terminal condition. The slot and
// session are released before it returns.
func (c *Coordinator) serve(ctx context.Context, cl *call) error {
	if err := c.validate(cl.req); err != nil {
		return err
	}

	hardwareID := strings.TrimSpace(cl.req.GetHardwareId())
	slot, err := c.admission.Acquire(hardwareID)
	if err != nil {
		return err
	}
	defer slot.Release()
	cl.slotID = slot.ID()

	sess := c.registry.Register(hardwareID, cl.req.GetSessionId(), slot)
	cl.sessionID = sess.ID()
	defer c.registry.Remove(sess.ID())

	c.decisions.Log(decisionlog.Entry{
		Level:      slog.LevelInfo,
		Scope:      "stream",
		Method:     Method,
		Decision:   "admitted",
		SessionID:  sess.ID(),
		HardwareID: hardwareID,
		Duration:   c.now().Sub(cl.start),
		Context: map[string]any{
			"slot":           slot.ID(),
			"active_streams": c.admission.Active(),
			"capacity":       c.admission.Capacity(),
		},
	})
	c.metrics.Record(metrics.Event{RPC: Method, Decision: "admitted", Duration: c.now().Sub(cl.start), Outcome: metrics.OutcomeNone})

	err = c.stream(ctx, cl, sess, slot)
	// No-op when an interrupt or the reaper got there first.
	c.registry.Mark(sess.ID(), session.StateCompleted)
	return err
}

func (c *Coordinator) validate(req *pb.StreamRequest) error {
	switch {
	case req == nil:
		return faults.Validation("request is required")
	case strings.TrimSpace(req.GetPrompt()) == "":
		return faults.Validation("prompt is required")
	case strings.TrimSpace(req.GetHardwareId()) == "":
		return faults.Validation("hardware_id is required")
	case req.ScreenWidth < 0 || req.ScreenHeight < 0:
		return faults.Validation("screen dimensions must be non-negative")
	case c.maxScreenshot > 0 && len(req.GetScreenshot()) > c.maxScreenshot:
		return faults.Validation("screenshot exceeds %d bytes", c.maxScreenshot)
	}
	return nil
}

type pumped struct {
	unit backend.Unit
	err  error
}

// stream pulls units from the backend and forwards them until the backend is
// done or a terminal condition is observed.
func (c *Coordinator) stream(ctx context.Context, cl *call, sess *session.Session, slot *backpressure.Slot) error {
	gen, err := c.backend.Generate(ctx, backend.Request{
		Prompt:       cl.req.GetPrompt(),
		HardwareID:   sess.HardwareID(),
		SessionID:    sess.ID(),
		Screenshot:   cl.req.GetScreenshot(),
		ScreenWidth:  cl.req.ScreenWidth,
		ScreenHeight: cl.req.ScreenHeight,
	})
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return fmt.Errorf("starting generation: %w", err)
	}

	pumpCtx, stopPump := context.WithCancel(ctx)
	units := make(chan pumped, 1)
	pumpDone := make(chan struct{})
	go pump(pumpCtx, gen, units, pumpDone)
	defer func() {
		stopPump()
		<-pumpDone
		if err := gen.Close(); err != nil {
			c.logger.Debug("closing generation", "session_id", sess.ID(), "error", err)
		}
	}()

	for {
		// The call context wins over anything else that is ready.
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)

		case <-sess.Reaped():
			return faults.ErrIdleTimeout

		case p := <-units:
			if p.err != nil && !errors.Is(p.err, backend.ErrDone) {
				if ctx.Err() != nil {
					return context.Cause(ctx)
				}
				return fmt.Errorf("generating: %w", p.err)
			}

			if p.err != nil {
				// End of generation is a unit boundary too.
				return c.checkState(sess.ID())
			}

			for _, resp := range toResponses(p.unit) {
				if err := c.deliver(ctx, cl, sess, slot, resp); err != nil {
					return err
				}
			}
		}
	}
}

// deliver sends one response. Every response is its own boundary: state,
// rate and activity are checked and recorded per message.
func (c *Coordinator) deliver(ctx context.Context, cl *call, sess *session.Session, slot *backpressure.Slot, resp *pb.StreamResponse) error {
	if err := c.checkState(sess.ID()); err != nil {
		return err
	}

	now := c.now()
	if !c.admission.RateCheck(slot, now) {
		return faults.ErrRateLimit
	}

	if err := cl.sink.Send(resp); err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return faults.Wrap(faults.KindClientCancelled, "sending response", err)
	}
	cl.unitsSent++
	c.registry.Touch(sess.ID(), now)
	return nil
}

// checkState maps a session that left active to its terminal error.
func (c *Coordinator) checkState(id string) error {
	switch state, _ := c.registry.State(id); state {
	case session.StateActive:
		return nil
	case session.StateInterrupted:
		return faults.ErrInterrupted
	default:
		return faults.ErrIdleTimeout
	}
}

// pump feeds units from gen until it errors or ctx is done. It is the only
// goroutine calling gen.Next.
func pump(ctx context.Context, gen backend.Stream, out chan<- pumped, done chan<- struct{}) {
	defer close(done)
	for {
		u, err := gen.Next(ctx)
		select {
		case out <- pumped{unit: u, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// toResponses splits a unit into wire messages: text first, then audio.
// A unit with neither yields one empty text chunk.
func toResponses(u backend.Unit) []*pb.StreamResponse {
	var out []*pb.StreamResponse
	if u.Text != "" || u.Audio == nil {
		out = append(out, pb.TextResponse(u.Text))
	}
	if u.Audio != nil {
		out = append(out, pb.AudioResponse(&pb.AudioChunk{
			AudioData:  u.Audio.Data,
			Dtype:      u.Audio.Dtype,
			Shape:      u.Audio.Shape,
			SampleRate: u.Audio.SampleRate,
			Channels:   u.Audio.Channels,
		}))
	}
	return out
}

// finish records the terminal decision and metric for a call.
func (c *Coordinator) finish(cl *call, out faults.Outcome) {
	elapsed := c.now().Sub(cl.start)

	level := slog.LevelInfo
	outcome := metrics.OutcomeOK
	switch {
	case out.OK():
	case out.Kind == faults.KindInternal:
		level, outcome = slog.LevelError, metrics.OutcomeError
	default:
		level, outcome = slog.LevelWarn, metrics.OutcomeError
	}

	entryCtx := map[string]any{
		"units_sent": cl.unitsSent,
		"code":       out.Code.String(),
	}
	if !out.OK() {
		entryCtx["retry_action"] = out.Action
		entryCtx["max_retries"] = out.MaxRetries
	}
	if cl.slotID != 0 {
		entryCtx["slot"] = cl.slotID
	}

	c.decisions.Log(decisionlog.Entry{
		Level:      level,
		Scope:      "stream",
		Method:     Method,
		Decision:   out.Reason,
		SessionID:  cl.sessionID,
		HardwareID: strings.TrimSpace(cl.req.GetHardwareId()),
		Duration:   elapsed,
		Context:    entryCtx,
	})
	c.metrics.Record(metrics.Event{
		RPC:      Method,
		Decision: out.Reason,
		Duration: elapsed,
		Outcome:  outcome,
		Attrs:    map[string]string{"code": out.Code.String()},
	})

	if out.Kind == faults.KindInternal && !out.OK() {
		c.logger.Error("stream failed",
			"session_id", cl.sessionID,
			"error", out.Cause,
		)
	}
}
