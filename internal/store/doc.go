// Package store persists the gateway's decision log in SQLite.
//
// # Overview
//
// Sessions and slots live only in memory; the one thing worth keeping across
// restarts is the decision log, an append-only record of every lifecycle
// transition (admitted, completed, interrupted, rate limited, reaped...).
// The store is optional: it is opened only when decision_log.path is set.
//
// # Schema
//
//	decisions(
//	    id TEXT PRIMARY KEY,      -- UUID v4
//	    ts TEXT NOT NULL,         -- RFC3339Nano, UTC
//	    level TEXT NOT NULL,      -- INFO, WARN, ERROR
//	    scope TEXT NOT NULL,      -- stream, interrupt, reaper, shutdown
//	    method TEXT NOT NULL,     -- RPC or background task name
//	    decision TEXT NOT NULL,   -- admitted, completed, rate_limit_exceeded, ...
//	    session_id TEXT,
//	    hardware_id TEXT,
//	    duration_ms INTEGER NOT NULL,
//	    context_json TEXT
//	)
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/voice-gateway/decisions.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	err = s.AppendDecision(ctx, &store.Decision{Scope: "stream", Method: "StreamResponses", Decision: "completed"})
//	recent, err := s.ListDecisions(ctx, store.DecisionFilter{HardwareID: ptr("hw1"), Limit: 50})
//
// SQLite runs in WAL mode so the async writer does not block readers of the
// status surfaces.
package store
