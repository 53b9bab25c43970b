// ABOUTME: Development generator that streams the prompt back word by word
// ABOUTME: Optional cadence and synthetic silent PCM audio after each word

package backend

import (
	"context"
	"strings"
	"time"
)

// Echo streams the words of the prompt back as text units.
type Echo struct {
	// ChunkDelay is the pause before each unit.
	ChunkDelay time.Duration
	// Audio adds a silent int16 PCM chunk after every text unit.
	Audio bool
	// SampleRate of the synthetic audio. Defaults to 16000.
	SampleRate int32
}

// Generate implements Generator.
func (e *Echo) Generate(ctx context.Context, req Request) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rate := e.SampleRate
	if rate <= 0 {
		rate = 16000
	}

	var units []Unit
	for _, word := range strings.Fields(req.Prompt) {
		units = append(units, Unit{Text: word + " "})
		if e.Audio {
			// 20ms of mono silence.
			samples := rate / 50
			units = append(units, Unit{Audio: &Audio{
				Data:       make([]byte, samples*2),
				Dtype:      "int16",
				Shape:      []int32{samples, 1},
				SampleRate: rate,
				Channels:   1,
			}})
		}
	}
	return &sliceStream{units: units, delay: e.ChunkDelay}, nil
}

// FromUnits returns a Stream that yields units in order and then ErrDone.
func FromUnits(units ...Unit) Stream {
	return &sliceStream{units: units}
}

type sliceStream struct {
	units  []Unit
	delay  time.Duration
	pos    int
	closed bool
}

func (s *sliceStream) Next(ctx context.Context) (Unit, error) {
	if s.closed || s.pos >= len(s.units) {
		return Unit{}, ErrDone
	}
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Unit{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Unit{}, err
	}
	u := s.units[s.pos]
	s.pos++
	return u, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}
