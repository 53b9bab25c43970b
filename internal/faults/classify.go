// ABOUTME: Classifier mapping internal failures to gRPC status, reason and retry policy
// ABOUTME: The only place in the gateway that chooses a wire status code

package faults

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Domain is the ErrorInfo domain attached to every status.
const Domain = "voice-gateway"

// Retry actions recommended to clients.
const (
	ActionNone             = "none"
	ActionStop             = "stop"
	ActionFixPayload       = "fix_payload"
	ActionRetryBackoff     = "retry_with_backoff"
	ActionRetryExponential = "retry_exponential_backoff"
	ActionBackoff          = "backoff"
	ActionThrottle         = "throttle"
	ActionRetryOnce        = "retry_once"
)

// ReasonCompleted is the decision recorded for a successful call.
const ReasonCompleted = "completed"

// policy is the fixed wire treatment of one Kind.
type policy struct {
	code       codes.Code
	reason     string
	action     string
	maxRetries int
	retryDelay time.Duration
	httpStatus int
}

var policies = map[Kind]policy{
	KindValidation:         {codes.InvalidArgument, "validation_failed", ActionFixPayload, 0, 0, http.StatusBadRequest},
	KindAdmissionDenied:    {codes.ResourceExhausted, "stream_limit_exceeded", ActionBackoff, 2, 60 * time.Second, http.StatusTooManyRequests},
	KindRateExceeded:       {codes.ResourceExhausted, "rate_limit_exceeded", ActionThrottle, 3, time.Second, http.StatusTooManyRequests},
	KindInterrupted:        {codes.Canceled, "interrupted", ActionStop, 0, 0, http.StatusConflict},
	KindClientCancelled:    {codes.Canceled, "client_cancelled", ActionStop, 0, 0, 499},
	KindIdleTimeout:        {codes.DeadlineExceeded, "stream_idle_timeout", ActionRetryBackoff, 3, time.Second, http.StatusGatewayTimeout},
	KindBackendTimeout:     {codes.DeadlineExceeded, "backend_timeout", ActionRetryBackoff, 3, time.Second, http.StatusGatewayTimeout},
	KindBackendUnavailable: {codes.Unavailable, "backend_unavailable", ActionRetryExponential, 5, 2 * time.Second, http.StatusServiceUnavailable},
	KindShuttingDown:       {codes.Unavailable, "server_shutting_down", ActionRetryExponential, 5, 2 * time.Second, http.StatusServiceUnavailable},
	KindInternal:           {codes.Internal, "internal_error", ActionRetryOnce, 1, 0, http.StatusInternalServerError},
}

// Outcome is the classified, client-facing result of a call.
type Outcome struct {
	Kind       Kind
	Code       codes.Code
	Reason     string
	Message    string // client-safe
	Action     string
	MaxRetries int
	RetryDelay time.Duration
	HTTPStatus int
	Cause      error // full internal error, for logs only
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Code == codes.OK
}

// Classify maps err to its wire outcome. A nil error is a successful completion.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{
			Code:       codes.OK,
			Reason:     ReasonCompleted,
			Message:    "stream complete",
			Action:     ActionNone,
			HTTPStatus: http.StatusOK,
		}
	}

	var fe *Error
	switch {
	case errors.As(err, &fe):
		return outcomeFor(fe.Kind, fe.Reason, clientMessage(fe), err)
	case errors.Is(err, context.Canceled):
		return outcomeFor(KindClientCancelled, "", ErrClientCancelled.Message, err)
	case errors.Is(err, context.DeadlineExceeded):
		return outcomeFor(KindBackendTimeout, "deadline_exceeded", "deadline exceeded", err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Canceled:
			return outcomeFor(KindClientCancelled, "", ErrClientCancelled.Message, err)
		case codes.DeadlineExceeded:
			return outcomeFor(KindBackendTimeout, "deadline_exceeded", "deadline exceeded", err)
		case codes.Unavailable:
			return outcomeFor(KindBackendUnavailable, "", ErrBackendUnavailable.Message, err)
		}
	}

	return outcomeFor(KindInternal, "", "internal error", err)
}

func outcomeFor(kind Kind, reason, message string, cause error) Outcome {
	p, ok := policies[kind]
	if !ok {
		p = policies[KindInternal]
		kind = KindInternal
	}
	if reason == "" {
		reason = p.reason
	}
	if kind == KindInternal {
		message = "internal error"
	}
	return Outcome{
		Kind:       kind,
		Code:       p.code,
		Reason:     reason,
		Message:    message,
		Action:     p.action,
		MaxRetries: p.maxRetries,
		RetryDelay: p.retryDelay,
		HTTPStatus: p.httpStatus,
		Cause:      cause,
	}
}

// clientMessage returns the message of the outermost *Error, which never
// includes the wrapped cause.
func clientMessage(fe *Error) string {
	if fe.Message != "" {
		return fe.Message
	}
	return fe.Kind.String()
}

// Terminal is the text of the error_message a client receives before the
// stream closes.
func (o Outcome) Terminal() string {
	return o.Reason + ": " + o.Message
}

// Status returns the gRPC status for the outcome, with error details attached.
func (o Outcome) Status() *status.Status {
	if o.OK() {
		return status.New(codes.OK, "")
	}
	st := status.New(o.Code, o.Terminal())

	details := []protoadapt.MessageV1{
		&errdetails.ErrorInfo{
			Reason: o.Reason,
			Domain: Domain,
			Metadata: map[string]string{
				"retry_action": o.Action,
				"max_retries":  strconv.Itoa(o.MaxRetries),
			},
		},
	}
	if o.RetryDelay > 0 {
		details = append(details, &errdetails.RetryInfo{RetryDelay: durationpb.New(o.RetryDelay)})
	}

	withDetails, err := st.WithDetails(details...)
	if err != nil {
		return st
	}
	return withDetails
}

// Err returns the status as an error, or nil for a successful outcome.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return o.Status().Err()
}
