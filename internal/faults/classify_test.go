// ABOUTME: Tests for the fault classifier and status details
// ABOUTME: Verifies every Kind maps to the documented code, reason and retry policy

package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassify_Table(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   codes.Code
		wantReason string
		wantAction string
		wantMax    int
	}{
		{"success", nil, codes.OK, "completed", ActionNone, 0},
		{"validation", Validation("prompt is required"), codes.InvalidArgument, "validation_failed", ActionFixPayload, 0},
		{"admission", ErrStreamLimit, codes.ResourceExhausted, "stream_limit_exceeded", ActionBackoff, 2},
		{"rate", ErrRateLimit, codes.ResourceExhausted, "rate_limit_exceeded", ActionThrottle, 3},
		{"interrupted", ErrInterrupted, codes.Canceled, "interrupted", ActionStop, 0},
		{"idle", ErrIdleTimeout, codes.DeadlineExceeded, "stream_idle_timeout", ActionRetryBackoff, 3},
		{"backend timeout", fmt.Errorf("tts: %w", ErrBackendTimeout), codes.DeadlineExceeded, "backend_timeout", ActionRetryBackoff, 3},
		{"backend unavailable", ErrBackendUnavailable, codes.Unavailable, "backend_unavailable", ActionRetryExponential, 5},
		{"shutdown", ErrShuttingDown, codes.Unavailable, "server_shutting_down", ActionRetryExponential, 5},
		{"context canceled", context.Canceled, codes.Canceled, "client_cancelled", ActionStop, 0},
		{"context deadline", context.DeadlineExceeded, codes.DeadlineExceeded, "deadline_exceeded", ActionRetryBackoff, 3},
		{"grpc canceled", status.Error(codes.Canceled, "gone"), codes.Canceled, "client_cancelled", ActionStop, 0},
		{"unclassified", errors.New("nil map write"), codes.Internal, "internal_error", ActionRetryOnce, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.Equal(t, tt.wantAction, got.Action)
			assert.Equal(t, tt.wantMax, got.MaxRetries)
		})
	}
}

func TestClassify_InternalHidesCause(t *testing.T) {
	out := Classify(fmt.Errorf("decode frame: %w", errors.New("pointer 0xdeadbeef")))

	assert.Equal(t, "internal error", out.Message)
	assert.NotContains(t, out.Err().Error(), "deadbeef")
	require.Error(t, out.Cause)
	assert.Contains(t, out.Cause.Error(), "deadbeef")
}

func TestClassify_WrappedCauseNotLeaked(t *testing.T) {
	err := Wrap(KindBackendUnavailable, "generation backend unavailable", errors.New("dial tcp 10.0.0.7:9000: refused"))
	out := Classify(err)

	assert.Equal(t, codes.Unavailable, out.Code)
	assert.NotContains(t, out.Terminal(), "10.0.0.7")
}

func TestClassify_CustomReason(t *testing.T) {
	err := &Error{Kind: KindAdmissionDenied, Reason: "unavailable", Message: "gateway draining"}
	out := Classify(err)

	assert.Equal(t, codes.ResourceExhausted, out.Code)
	assert.Equal(t, "unavailable", out.Reason)
}

func TestOutcome_StatusDetails(t *testing.T) {
	err := Classify(ErrStreamLimit).Err()
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.ResourceExhausted, st.Code())

	var info *errdetails.ErrorInfo
	var retry *errdetails.RetryInfo
	for _, d := range st.Details() {
		switch v := d.(type) {
		case *errdetails.ErrorInfo:
			info = v
		case *errdetails.RetryInfo:
			retry = v
		}
	}
	require.NotNil(t, info)
	assert.Equal(t, "stream_limit_exceeded", info.GetReason())
	assert.Equal(t, Domain, info.GetDomain())
	assert.Equal(t, "2", info.GetMetadata()["max_retries"])
	assert.Equal(t, ActionBackoff, info.GetMetadata()["retry_action"])
	require.NotNil(t, retry)
	assert.Equal(t, 60*time.Second, retry.GetRetryDelay().AsDuration())
}

func TestOutcome_NoRetryInfoWhenNoDelay(t *testing.T) {
	st := Classify(ErrInterrupted).Status()
	for _, d := range st.Details() {
		_, isRetry := d.(*errdetails.RetryInfo)
		assert.False(t, isRetry)
	}
}

func TestOutcome_ErrNilOnSuccess(t *testing.T) {
	assert.NoError(t, Classify(nil).Err())
	assert.True(t, Classify(nil).OK())
}

func TestError_IsByKind(t *testing.T) {
	err := fmt.Errorf("call: %w", New(KindRateExceeded, "11 units in 1s"))
	assert.ErrorIs(t, err, ErrRateLimit)
	assert.NotErrorIs(t, err, ErrStreamLimit)
	assert.Equal(t, KindRateExceeded, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}
