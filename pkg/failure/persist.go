package failure

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Persister mirrors Store writes into the shared failure_records table so a
// Minion's failure history survives container restarts within one issue's
// revision cycle. It wraps a *Store rather than replacing it: in-process
// reads (BuildFailureContext) always come from the in-memory copy, and
// persistence failures never block the agent loop (fail-open, logged).
type Persister struct {
	*Store
	db *sql.DB
}

// NewPersister wraps store with best-effort persistence against db. A nil
// db degrades to a pure in-memory Store.
func NewPersister(store *Store, db *sql.DB) *Persister {
	return &Persister{Store: store, db: db}
}

// RecordFailure records into the in-memory store and mirrors the write to
// Postgres, logging (not returning) any persistence error.
func (p *Persister) RecordFailure(sessionID, toolName, errorMessage string, arguments map[string]interface{}) *Record {
	rec := p.Store.RecordFailure(sessionID, toolName, errorMessage, arguments)
	if p.db == nil {
		return rec
	}

	argsJSON, err := json.Marshal(rec.Arguments)
	if err != nil {
		argsJSON = []byte("null")
	}

	_, err = p.db.ExecContext(context.Background(), `
		INSERT INTO failure_records (id, session_id, event_timestamp, tool_name, error_type, error_message, arguments, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.SessionID, rec.Timestamp, rec.ToolName, string(rec.ErrorType), rec.ErrorMessage, argsJSON, rec.Resolved)
	if err != nil {
		slog.Warn("failure memory: failed to persist record", "id", rec.ID, "error", err)
	}

	return rec
}

// MarkResolved updates the in-memory store and mirrors the resolution to
// Postgres for the most recently inserted matching row.
func (p *Persister) MarkResolved(toolName string, errorType ErrorType) {
	p.Store.MarkResolved(toolName, errorType)
	if p.db == nil {
		return
	}

	_, err := p.db.ExecContext(context.Background(), `
		UPDATE failure_records SET resolved = true
		WHERE id = (
			SELECT id FROM failure_records
			WHERE tool_name = $1 AND error_type = $2 AND resolved = false
			ORDER BY event_timestamp DESC LIMIT 1
		)`, toolName, string(errorType))
	if err != nil {
		slog.Warn("failure memory: failed to persist resolution", "tool", toolName, "error_type", errorType, "error", err)
	}
}

// LoadHistory replays all Postgres-persisted records for sessionID back
// into the in-memory store, e.g. so a revision Minion inherits the prior
// attempt's failure patterns.
func (p *Persister) LoadHistory(ctx context.Context, sessionID string) error {
	if p.db == nil {
		return nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, session_id, event_timestamp, tool_name, error_type, error_message, arguments, resolved
		FROM failure_records WHERE session_id = $1 ORDER BY event_timestamp ASC`, sessionID)
	if err != nil {
		return fmt.Errorf("failure memory: load history: %w", err)
	}
	defer rows.Close()

	p.Store.mu.Lock()
	defer p.Store.mu.Unlock()

	for rows.Next() {
		var rec Record
		var errType string
		var argsJSON []byte
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Timestamp, &rec.ToolName, &errType, &rec.ErrorMessage, &argsJSON, &rec.Resolved); err != nil {
			return fmt.Errorf("failure memory: scan history row: %w", err)
		}
		rec.ErrorType = ErrorType(errType)
		if len(argsJSON) > 0 {
			_ = json.Unmarshal(argsJSON, &rec.Arguments)
		}
		p.Store.records = append(p.Store.records, &rec)
	}
	return rows.Err()
}
