// ABOUTME: Request, error and decision counters for the status surfaces and OpenTelemetry
// ABOUTME: Keeps in-process aggregates and mirrors every record to otel instruments

// Package metrics aggregates per-call outcomes.
//
// Record is fire-and-forget: it updates in-process counters used by /status
// and the final shutdown snapshot, and forwards the same data to OpenTelemetry
// instruments on the configured meter.
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome marks whether an event closes a request.
type Outcome int

const (
	// OutcomeNone is a non-terminal transition (e.g. admitted).
	OutcomeNone Outcome = iota
	OutcomeOK
	OutcomeError
)

// Event is one recorded decision.
type Event struct {
	RPC      string
	Decision string
	Duration time.Duration
	Outcome  Outcome
	Attrs    map[string]string
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Record(Event)
}

// Nop discards events.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(Event) {}

// Latency summarizes terminal durations of one RPC.
type Latency struct {
	Count int64   `json:"count"`
	AvgMS float64 `json:"avg_ms"`
	MaxMS float64 `json:"max_ms"`
}

// Snapshot is a point-in-time copy of the aggregates.
type Snapshot struct {
	TotalRequests int64              `json:"total_requests"`
	Errors        int64              `json:"errors"`
	ErrorRate     float64            `json:"error_rate"`
	Decisions     map[string]int64   `json:"decisions"`
	Latency       map[string]Latency `json:"latency"`
}

type latencyAgg struct {
	count int64
	sum   time.Duration
	max   time.Duration
}

// Aggregator is the production Sink.
type Aggregator struct {
	mu        sync.Mutex
	total     int64
	errors    int64
	decisions map[string]int64
	latency   map[string]*latencyAgg

	decisionCounter metric.Int64Counter
	requestCounter  metric.Int64Counter
	duration        metric.Float64Histogram
}

// NewAggregator creates an Aggregator whose otel instruments live on meter.
func NewAggregator(meter metric.Meter) (*Aggregator, error) {
	decisionCounter, err := meter.Int64Counter("voice_gateway.decisions",
		metric.WithDescription("Lifecycle decisions by rpc and decision"))
	if err != nil {
		return nil, err
	}
	requestCounter, err := meter.Int64Counter("voice_gateway.requests",
		metric.WithDescription("Completed requests by rpc and outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("voice_gateway.request.duration",
		metric.WithDescription("Request duration until the terminal decision"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Aggregator{
		decisions:       make(map[string]int64),
		latency:         make(map[string]*latencyAgg),
		decisionCounter: decisionCounter,
		requestCounter:  requestCounter,
		duration:        duration,
	}, nil
}

// Record implements Sink.
func (a *Aggregator) Record(e Event) {
	a.mu.Lock()
	a.decisions[e.Decision]++
	if e.Outcome != OutcomeNone {
		a.total++
		if e.Outcome == OutcomeError {
			a.errors++
		}
		l, ok := a.latency[e.RPC]
		if !ok {
			l = &latencyAgg{}
			a.latency[e.RPC] = l
		}
		l.count++
		l.sum += e.Duration
		if e.Duration > l.max {
			l.max = e.Duration
		}
	}
	a.mu.Unlock()

	ctx := context.Background()
	kv := attributes(e)
	a.decisionCounter.Add(ctx, 1, metric.WithAttributes(kv...))
	if e.Outcome != OutcomeNone {
		outcome := "ok"
		if e.Outcome == OutcomeError {
			outcome = "error"
		}
		reqAttrs := metric.WithAttributes(attribute.String("rpc", e.RPC), attribute.String("outcome", outcome))
		a.requestCounter.Add(ctx, 1, reqAttrs)
		a.duration.Record(ctx, float64(e.Duration)/float64(time.Millisecond), reqAttrs)
	}
}

// Snapshot returns the current aggregates.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		TotalRequests: a.total,
		Errors:        a.errors,
		Decisions:     make(map[string]int64, len(a.decisions)),
		Latency:       make(map[string]Latency, len(a.latency)),
	}
	if a.total > 0 {
		s.ErrorRate = float64(a.errors) / float64(a.total)
	}
	for k, v := range a.decisions {
		s.Decisions[k] = v
	}
	for rpc, l := range a.latency {
		s.Latency[rpc] = Latency{
			Count: l.count,
			AvgMS: float64(l.sum) / float64(l.count) / float64(time.Millisecond),
			MaxMS: float64(l.max) / float64(time.Millisecond),
		}
	}
	return s
}

func attributes(e Event) []attribute.KeyValue {
	kv := []attribute.KeyValue{
		attribute.String("rpc", e.RPC),
		attribute.String("decision", e.Decision),
	}
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv = append(kv, attribute.String(k, e.Attrs[k]))
	}
	return kv
}
