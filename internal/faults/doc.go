// Package faults is the gateway's error taxonomy and its mapping to the wire.
//
// # Overview
//
// Every failure a streaming call can end with is represented as a *Error
// carrying a Kind. Components build these errors (or wrap causes in them) and
// return them up the stack; only this package decides which gRPC status code,
// reason string and retry recommendation a client receives.
//
// # Kinds
//
//	KindValidation          INVALID_ARGUMENT   validation_failed
//	KindAdmissionDenied     RESOURCE_EXHAUSTED stream_limit_exceeded
//	KindRateExceeded        RESOURCE_EXHAUSTED rate_limit_exceeded
//	KindInterrupted         CANCELLED          interrupted
//	KindClientCancelled     CANCELLED          client_cancelled
//	KindIdleTimeout         DEADLINE_EXCEEDED  stream_idle_timeout
//	KindBackendTimeout      DEADLINE_EXCEEDED  backend_timeout
//	KindBackendUnavailable  UNAVAILABLE        backend_unavailable
//	KindShuttingDown        UNAVAILABLE        server_shutting_down
//	KindInternal            INTERNAL           internal_error
//
// # Usage
//
//	outcome := faults.Classify(err)
//	logger.Warn("stream failed", "reason", outcome.Reason)
//	return outcome.Err()
//
// Outcome.Err attaches errdetails.ErrorInfo (reason, domain and retry
// metadata) and, when a delay is recommended, errdetails.RetryInfo.
package faults
