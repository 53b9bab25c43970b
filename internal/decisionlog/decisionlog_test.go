// ABOUTME: Tests for the decision log writer
// ABOUTME: Covers line format, persistence through the queue, overflow and Close

package decisionlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/voice-gateway/internal/store"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Lines(t *testing.T) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(b.buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

// blockingStore blocks every append until release is closed.
type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	got     []*store.Decision
}

func (s *blockingStore) AppendDecision(ctx context.Context, d *store.Decision) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, d)
	return nil
}

type failingStore struct{}

func (failingStore) AppendDecision(context.Context, *store.Decision) error {
	return errors.New("disk full")
}

func TestWriter_LineFormat(t *testing.T) {
	var buf syncBuffer
	w := New(slog.New(slog.NewJSONHandler(&buf, nil)), nil, 0)
	defer w.Close()

	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	w.Log(Entry{
		Timestamp:  ts,
		Level:      slog.LevelWarn,
		Scope:      "stream",
		Method:     "StreamResponses",
		Decision:   "rate_limit_exceeded",
		SessionID:  "S1",
		HardwareID: "hw1",
		Duration:   250 * time.Millisecond,
		Context:    map[string]any{"units_sent": 10},
	})

	lines := buf.Lines(t)
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "decision", line["msg"])
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "stream", line["scope"])
	assert.Equal(t, "StreamResponses", line["method"])
	assert.Equal(t, "rate_limit_exceeded", line["decision"])
	assert.Equal(t, float64(250), line["duration_ms"])
	assert.Equal(t, "2026-02-03T04:05:06Z", line["ts"])
	assert.Equal(t, "S1", line["session_id"])
	assert.Equal(t, "hw1", line["hardware_id"])
	assert.Equal(t, float64(10), line["units_sent"])
}

func TestWriter_PersistsToSQLite(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	defer st.Close()

	var buf syncBuffer
	w := New(slog.New(slog.NewJSONHandler(&buf, nil)), st, 8)
	w.Log(Entry{Scope: "stream", Method: "StreamResponses", Decision: "admitted", SessionID: "S1"})
	w.Log(Entry{Scope: "stream", Method: "StreamResponses", Decision: "completed", SessionID: "S1"})
	w.Close()

	got, err := st.ListDecisions(context.Background(), store.DecisionFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int64(2), w.Written())
	assert.Equal(t, int64(0), w.Dropped())
}

func TestWriter_OverflowDropsPersistenceNotLines(t *testing.T) {
	bs := &blockingStore{release: make(chan struct{})}
	var buf syncBuffer
	w := New(slog.New(slog.NewJSONHandler(&buf, nil)), bs, 1)

	for i := 0; i < 10; i++ {
		w.Log(Entry{Scope: "stream", Method: "StreamResponses", Decision: "admitted"})
	}

	assert.Len(t, buf.Lines(t), 10)
	// One entry in flight, one queued, the rest dropped.
	assert.GreaterOrEqual(t, w.Dropped(), int64(8))

	close(bs.release)
	w.Close()
	assert.Equal(t, int64(10), w.Dropped()+w.Written())
}

func TestWriter_StoreErrorsCountAsDropped(t *testing.T) {
	var buf syncBuffer
	w := New(slog.New(slog.NewJSONHandler(&buf, nil)), failingStore{}, 4)
	w.Log(Entry{Decision: "admitted"})
	w.Close()

	assert.Equal(t, int64(1), w.Dropped())
}

func TestWriter_LogAfterCloseDoesNotPanic(t *testing.T) {
	var buf syncBuffer
	w := New(slog.New(slog.NewJSONHandler(&buf, nil)), failingStore{}, 4)
	w.Close()
	w.Close()

	assert.NotPanics(t, func() { w.Log(Entry{Decision: "late"}) })
	assert.Len(t, buf.Lines(t), 1)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.Log(Entry{Decision: "admitted"})
	r.Log(Entry{Decision: "completed"})

	assert.Equal(t, []string{"admitted", "completed"}, r.Decisions())
	assert.Len(t, r.Find("completed"), 1)
	assert.Len(t, r.Entries(), 2)
}
