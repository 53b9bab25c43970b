// ABOUTME: Read-only HTTP status surfaces: liveness, readiness, aggregate status and decision history
// ABOUTME: Readiness turns 503 as soon as the gateway starts draining

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/voice-gateway/internal/metrics"
	"github.com/2389/voice-gateway/internal/store"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status        string                     `json:"status"`
	Draining      bool                       `json:"draining"`
	Profile       string                     `json:"profile"`
	ActiveStreams int                        `json:"active_streams"`
	Capacity      int                        `json:"capacity"`
	Sessions      int                        `json:"sessions"`
	TotalRequests int64                      `json:"total_requests"`
	Errors        int64                      `json:"errors"`
	ErrorRate     float64                    `json:"error_rate"`
	Decisions     map[string]int64           `json:"decisions"`
	Latency       map[string]metrics.Latency `json:"latency"`
	DecisionLog   DecisionLogStatus          `json:"decision_log"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
}

// DecisionLogStatus reports decision persistence counters.
type DecisionLogStatus struct {
	Persisted bool  `json:"persisted"`
	Written   int64 `json:"written"`
	Dropped   int64 `json:"dropped"`
}

// DecisionView is the JSON form of a persisted decision.
type DecisionView struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"ts"`
	Level      string         `json:"level"`
	Scope      string         `json:"scope"`
	Method     string         `json:"method"`
	Decision   string         `json:"decision"`
	SessionID  string         `json:"session_id,omitempty"`
	HardwareID string         `json:"hardware_id,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Context    map[string]any `json:"context,omitempty"`
}

// handleHealth returns 200 OK while the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK while new streams are admitted.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.admission.Draining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d/%d streams)", g.admission.Active(), g.admission.Capacity())
}

// Status returns a point-in-time view of the gateway.
func (g *Gateway) Status() StatusResponse {
	snap := g.metrics.Snapshot()
	draining := g.admission.Draining()
	state := "serving"
	if draining {
		state = "draining"
	}
	return StatusResponse{
		Status:        state,
		Draining:      draining,
		Profile:       g.config.Backpressure.Profile,
		ActiveStreams: g.admission.Active(),
		Capacity:      g.admission.Capacity(),
		Sessions:      g.registry.Count(),
		TotalRequests: snap.TotalRequests,
		Errors:        snap.Errors,
		ErrorRate:     snap.ErrorRate,
		Decisions:     snap.Decisions,
		Latency:       snap.Latency,
		DecisionLog: DecisionLogStatus{
			Persisted: g.store != nil,
			Written:   g.decisions.Written(),
			Dropped:   g.decisions.Dropped(),
		},
		UptimeSeconds: int64(time.Since(g.startedAt).Seconds()),
	}
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, g.Status())
}

// handleDecisions lists persisted decisions, newest first.
// Query parameters: hardware_id, session_id, decision, scope, limit.
func (g *Gateway) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if g.store == nil {
		http.Error(w, "decision log persistence is disabled", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	filter := store.DecisionFilter{
		HardwareID: optional(q.Get("hardware_id")),
		SessionID:  optional(q.Get("session_id")),
		Decision:   optional(q.Get("decision")),
		Scope:      optional(q.Get("scope")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	records, err := g.store.ListDecisions(r.Context(), filter)
	if err != nil {
		g.logger.Error("listing decisions", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	views := make([]DecisionView, 0, len(records))
	for _, d := range records {
		views = append(views, DecisionView{
			ID:         d.ID,
			Timestamp:  d.Timestamp,
			Level:      d.Level,
			Scope:      d.Scope,
			Method:     d.Method,
			Decision:   d.Decision,
			SessionID:  d.SessionID,
			HardwareID: d.HardwareID,
			DurationMS: d.Duration.Milliseconds(),
			Context:    d.Context,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": views})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
