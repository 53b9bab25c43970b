// ABOUTME: Tests for the echo generator and slice streams
// ABOUTME: Covers word splitting, synthetic audio framing and cancellation

package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s Stream) []Unit {
	t.Helper()
	var out []Unit
	for {
		u, err := s.Next(context.Background())
		if errors.Is(err, ErrDone) {
			return out
		}
		require.NoError(t, err)
		out = append(out, u)
	}
}

func TestEcho_SplitsPromptIntoWords(t *testing.T) {
	s, err := (&Echo{}).Generate(context.Background(), Request{Prompt: "  turn on   the lights "})
	require.NoError(t, err)
	defer s.Close()

	units := drain(t, s)
	require.Len(t, units, 4)
	assert.Equal(t, "turn ", units[0].Text)
	assert.Equal(t, "lights ", units[3].Text)
	assert.Nil(t, units[0].Audio)
}

func TestEcho_AudioFraming(t *testing.T) {
	s, err := (&Echo{Audio: true, SampleRate: 8000}).Generate(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)

	units := drain(t, s)
	require.Len(t, units, 2)
	audio := units[1].Audio
	require.NotNil(t, audio)
	assert.Equal(t, "int16", audio.Dtype)
	assert.Equal(t, []int32{160, 1}, audio.Shape)
	assert.Len(t, audio.Data, 320)
	assert.Equal(t, int32(8000), audio.SampleRate)
	assert.Equal(t, int32(1), audio.Channels)
}

func TestEcho_DelayHonorsCancellation(t *testing.T) {
	s, err := (&Echo{ChunkDelay: time.Hour}).Generate(context.Background(), Request{Prompt: "slow"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEcho_CanceledBeforeGenerate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Echo{}).Generate(ctx, Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromUnits_StopsAfterClose(t *testing.T) {
	s := FromUnits(Unit{Text: "a"}, Unit{Text: "b"})

	u, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", u.Text)

	require.NoError(t, s.Close())
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrDone)
}

func TestGeneratorFunc(t *testing.T) {
	g := GeneratorFunc(func(ctx context.Context, req Request) (Stream, error) {
		return nil, ErrUnavailable
	})

	_, err := g.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
