// ABOUTME: Decision log entity and store methods for lifecycle audit records
// ABOUTME: Append-only writes plus filtered, newest-first listing

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// tsLayout is fixed-width so lexical order in SQLite matches time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Decision is one persisted decision-log record.
type Decision struct {
	ID         string         // UUID v4
	Timestamp  time.Time      // when the transition happened
	Level      string         // slog level name
	Scope      string         // stream, interrupt, reaper, shutdown
	Method     string         // RPC or task name
	Decision   string         // transition outcome
	SessionID  string         // empty for device- or process-scoped decisions
	HardwareID string         // empty for process-scoped decisions
	Duration   time.Duration  // time spent in the call so far
	Context    map[string]any // additional attributes
}

// DecisionFilter specifies filtering options for listing decisions.
type DecisionFilter struct {
	Since      *time.Time // entries at or after this time
	Until      *time.Time // entries at or before this time
	Scope      *string
	Decision   *string
	SessionID  *string
	HardwareID *string
	Limit      int // max results (default 100, max 1000)
}

// AppendDecision appends a record. Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendDecision(ctx context.Context, d *Decision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}

	var contextJSON *string
	if len(d.Context) > 0 {
		data, err := json.Marshal(d.Context)
		if err != nil {
			return fmt.Errorf("marshaling decision context: %w", err)
		}
		str := string(data)
		contextJSON = &str
	}

	query := `
		INSERT INTO decisions (id, ts, level, scope, method, decision, session_id, hardware_id, duration_ms, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID,
		d.Timestamp.UTC().Format(tsLayout),
		d.Level,
		d.Scope,
		d.Method,
		d.Decision,
		nullable(d.SessionID),
		nullable(d.HardwareID),
		d.Duration.Milliseconds(),
		contextJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting decision: %w", err)
	}
	return nil
}

// normalizeLimit applies default (100) and cap (1000) to a list limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(tsLayout)
	return &s
}

const listDecisionsQuery = `
	SELECT id, ts, level, scope, method, decision, session_id, hardware_id, duration_ms, context_json
	FROM decisions
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	  AND (? IS NULL OR scope = ?)
	  AND (? IS NULL OR decision = ?)
	  AND (? IS NULL OR session_id = ?)
	  AND (? IS NULL OR hardware_id = ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListDecisions returns records matching the filter, newest first.
func (s *SQLiteStore) ListDecisions(ctx context.Context, f DecisionFilter) ([]Decision, error) {
	since, until := formatTime(f.Since), formatTime(f.Until)

	rows, err := s.db.QueryContext(ctx, listDecisionsQuery,
		since, since,
		until, until,
		f.Scope, f.Scope,
		f.Decision, f.Decision,
		f.SessionID, f.SessionID,
		f.HardwareID, f.HardwareID,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating decisions: %w", err)
	}
	return out, nil
}

// scanDecision scans a row into a Decision.
func scanDecision(scanner interface{ Scan(dest ...any) error }) (Decision, error) {
	var d Decision
	var tsStr string
	var sessionID, hardwareID, contextJSON *string
	var durationMS int64

	if err := scanner.Scan(
		&d.ID,
		&tsStr,
		&d.Level,
		&d.Scope,
		&d.Method,
		&d.Decision,
		&sessionID,
		&hardwareID,
		&durationMS,
		&contextJSON,
	); err != nil {
		return d, fmt.Errorf("scanning decision: %w", err)
	}

	var err error
	d.Timestamp, err = time.Parse(tsLayout, tsStr)
	if err != nil {
		return d, fmt.Errorf("parsing timestamp: %w", err)
	}
	if sessionID != nil {
		d.SessionID = *sessionID
	}
	if hardwareID != nil {
		d.HardwareID = *hardwareID
	}
	d.Duration = time.Duration(durationMS) * time.Millisecond

	if contextJSON != nil {
		if err := json.Unmarshal([]byte(*contextJSON), &d.Context); err != nil {
			return d, fmt.Errorf("unmarshaling context: %w", err)
		}
	}
	return d, nil
}

// CountDecisions returns the number of records per decision value.
func (s *SQLiteStore) CountDecisions(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT decision, COUNT(*) FROM decisions GROUP BY decision`)
	if err != nil {
		return nil, fmt.Errorf("counting decisions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var decision string
		var n int64
		if err := rows.Scan(&decision, &n); err != nil {
			return nil, fmt.Errorf("scanning decision count: %w", err)
		}
		counts[decision] = n
	}
	return counts, rows.Err()
}
