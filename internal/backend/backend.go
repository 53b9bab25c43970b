// ABOUTME: Generation backend contract consumed by the stream coordinator
// ABOUTME: Lazy, finite, non-restartable sequences of text and audio units

// Package backend defines the generation backend the gateway streams from.
//
// A Generator starts one generation per call. The returned Stream yields units
// in order until it returns ErrDone. Streams are not restartable; a retry is a
// new Generate call, which the gateway never makes on the client's behalf.
//
// Backends report their failures with ErrTimeout and ErrUnavailable (wrapped
// as needed); any other error is treated as an internal fault.
package backend

import (
	"context"
	"errors"

	"github.com/2389/voice-gateway/internal/faults"
)

// ErrDone marks the normal end of a Stream.
var ErrDone = errors.New("backend: stream done")

// Backend failures. They are *faults.Error values so the classifier maps them
// directly.
var (
	ErrTimeout     = faults.ErrBackendTimeout
	ErrUnavailable = faults.ErrBackendUnavailable
)

// Request is one generation request.
type Request struct {
	Prompt       string
	HardwareID   string
	SessionID    string
	Screenshot   []byte
	ScreenWidth  int32
	ScreenHeight int32
}

// Audio is one chunk of synthesized audio.
type Audio struct {
	Data       []byte
	Dtype      string
	Shape      []int32
	SampleRate int32
	Channels   int32
}

// Unit is one generated element: text, audio, or both. A unit carrying both
// reaches the client as a text chunk followed by an audio chunk.
type Unit struct {
	Text  string
	Audio *Audio
}

// Generator starts generations.
type Generator interface {
	Generate(ctx context.Context, req Request) (Stream, error)
}

// Stream yields units of one generation.
//
// Next must return promptly once ctx is done. Close releases backend resources
// and is called exactly once by the consumer, after its last Next returned.
type Stream interface {
	Next(ctx context.Context) (Unit, error)
	Close() error
}

// GeneratorFunc adapts a function to a Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Stream, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Stream, error) {
	return f(ctx, req)
}
