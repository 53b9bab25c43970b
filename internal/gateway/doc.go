// Package gateway assembles the voice-gateway server.
//
// # Overview
//
// Gateway owns every long-lived component and wires them together:
//
//	config ─► backpressure.Manager ◄─ session.Registry
//	                 │                        ▲
//	                 ▼                        │
//	          stream.Coordinator ─────► interrupt.Coordinator
//	                 │
//	     ┌───────────┼───────────────┐
//	     ▼           ▼               ▼
//	 gRPC server  wsbridge      decisionlog.Writer ─► store (optional)
//
// # gRPC
//
// The VoiceGateway service (StreamResponses, InterruptSession) is served in
// the protobuf wire format, or JSON for clients requesting the "json"
// content-subtype, next to the standard health service. Every call passes
// through the recovery and logging interceptors and the otelgrpc stats
// handler.
//
// # HTTP
//
//   - GET /health - liveness
//   - GET /health/ready - 503 once draining
//   - GET /status - admission, session and outcome aggregates
//   - GET /status/decisions - persisted decision history (when a store is configured)
//   - GET /v1/stream, POST /v1/interrupt - WebSocket bridge (when enabled)
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks; canceling ctx runs Shutdown
//
// Shutdown stops admission, flips health to NOT_SERVING, waits up to the
// grace period for in-flight streams, force-cancels the rest with
// server_shutting_down, then stops the servers and flushes the decision log.
package gateway
