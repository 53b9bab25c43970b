// ABOUTME: WebSocket and JSON HTTP bridge onto the stream and interrupt coordinators
// ABOUTME: One request frame in, one JSON text frame per StreamResponse out, then close

// Package wsbridge exposes the voice gateway to clients that cannot speak gRPC.
//
// GET /v1/stream upgrades to a WebSocket. The client sends one JSON
// StreamRequest text frame; the server answers with one JSON StreamResponse
// text frame per unit, ending with the end_message or error_message frame,
// and then closes the connection. Closing the socket early cancels the call.
//
// POST /v1/interrupt takes a JSON InterruptRequest and returns an
// InterruptResponse, or an error document with the classified HTTP status.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/voice-gateway/internal/faults"
	"github.com/2389/voice-gateway/internal/interrupt"
	"github.com/2389/voice-gateway/internal/stream"
	pb "github.com/2389/voice-gateway/proto/voice"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReadLimit        = 16 << 20
)

// StreamRunner runs one streaming call.
type StreamRunner interface {
	Run(ctx context.Context, req *pb.StreamRequest, sink stream.Sink) error
}

// Interrupter interrupts a device's sessions.
type Interrupter interface {
	Interrupt(ctx context.Context, hardwareID string) ([]string, error)
}

var (
	_ StreamRunner = (*stream.Coordinator)(nil)
	_ Interrupter  = (*interrupt.Coordinator)(nil)
)

// Handler serves the bridge endpoints.
type Handler struct {
	Streams    StreamRunner
	Interrupts Interrupter
	Logger     *slog.Logger

	// ReadLimit caps the request frame size in bytes.
	ReadLimit        int64
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	upgrader websocket.Upgrader
}

// Register mounts the stream endpoint at streamPath and the interrupt
// endpoint at /v1/interrupt.
func (h *Handler) Register(mux *http.ServeMux, streamPath string) {
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	mux.HandleFunc("GET "+streamPath, h.ServeStream)
	mux.HandleFunc("POST /v1/interrupt", h.ServeInterrupt)
}

// ServeStream upgrades the connection and runs one call over it.
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	readLimit := h.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	handshake := h.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	sink := &wsSink{conn: conn, timeout: h.writeTimeout()}

	_ = conn.SetReadDeadline(time.Now().Add(handshake))
	messageType, frame, err := conn.ReadMessage()
	if err != nil {
		h.Logger.Debug("reading request frame", "error", err)
		return
	}
	var req pb.StreamRequest
	if messageType != websocket.TextMessage {
		h.reject(sink, faults.Validation("request must be a JSON text frame"))
		return
	}
	if err := (pb.Codec{}).Unmarshal(frame, &req); err != nil {
		h.reject(sink, faults.Validation("request frame is not a valid StreamRequest"))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	// The reader only watches for the client going away.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err = h.Streams.Run(ctx, &req, sink)
	h.Logger.Debug("websocket stream finished",
		"hardware_id", req.HardwareId,
		"error", err,
	)
	sink.close(websocket.CloseNormalClosure, "")
}

func (h *Handler) reject(sink *wsSink, err error) {
	out := faults.Classify(err)
	_ = sink.Send(pb.ErrorResponse(out.Terminal()))
	sink.close(websocket.ClosePolicyViolation, out.Reason)
}

func (h *Handler) writeTimeout() time.Duration {
	if h.WriteTimeout <= 0 {
		return defaultWriteTimeout
	}
	return h.WriteTimeout
}

// wsSink writes StreamResponses as JSON text frames. The coordinator never
// calls Send concurrently, which satisfies the one-writer rule of the conn.
type wsSink struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsSink) Send(resp *pb.StreamResponse) error {
	payload, err := (pb.Codec{}).Marshal(resp)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSink) close(code int, reason string) {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(s.timeout))
}

// errorBody is the JSON error document of the HTTP endpoints.
type errorBody struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	RetryAction string `json:"retry_action"`
	MaxRetries  int    `json:"max_retries"`
	RetryAfterS int    `json:"retry_after_seconds,omitempty"`
}

// ServeInterrupt handles POST /v1/interrupt.
func (h *Handler) ServeInterrupt(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, faults.Validation("request body too large"))
			return
		}
		h.writeError(w, faults.Validation("reading request body"))
		return
	}

	var req pb.InterruptRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, faults.Validation("request body is not a valid InterruptRequest"))
		return
	}

	ids, err := h.Interrupts.Interrupt(r.Context(), req.HardwareId)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pb.NewInterruptResponse(ids))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	out := faults.Classify(err)
	if out.Kind == faults.KindInternal {
		h.Logger.Error("interrupt failed", "error", out.Cause)
	}
	if out.RetryDelay > 0 {
		w.Header().Set("Retry-After", formatSeconds(out.RetryDelay))
	}
	writeJSON(w, out.HTTPStatus, errorBody{
		Error:       out.Reason,
		Message:     out.Message,
		RetryAction: out.Action,
		MaxRetries:  out.MaxRetries,
		RetryAfterS: int(out.RetryDelay / time.Second),
	})
}

func formatSeconds(d time.Duration) string {
	return strconv.Itoa(max(int(d/time.Second), 1))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
