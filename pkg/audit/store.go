package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Store is the single-writer, append-only audit log backed by the shared
// audit_log table (pkg/storedb). Writers are serialized through mu so the
// previous_hash read-then-insert sequence cannot race across goroutines;
// readers (VerifyIntegrity, Export) do not need the lock.
type Store struct {
	db     *sql.DB
	signer *Signer
	logger *slog.Logger

	mu sync.Mutex
}

// NewStore builds a Store. signer may be nil to disable signing.
func NewStore(db *sql.DB, signer *Signer) *Store {
	return &Store{db: db, signer: signer, logger: slog.Default().With("component", "audit")}
}

// Append writes one audit entry recording event against taskID, with
// arbitrary structured eventData and a human-readable reasoning string. It
// is the only write path into the audit_log table.
func (s *Store) Append(ctx context.Context, event, taskID string, eventData interface{}, reasoning string) (*Entry, error) {
	raw, err := json.Marshal(eventData)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal event_data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevHash, err := s.lastHash(ctx)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		EntryID:      newEntryID(),
		Event:        event,
		TaskID:       taskID,
		Timestamp:    nowFunc(),
		EventData:    raw,
		Reasoning:    reasoning,
		PreviousHash: prevHash,
	}

	hash, err := computeHash(entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash

	sig, err := s.signer.sign(hash)
	if err != nil {
		return nil, fmt.Errorf("audit: sign entry: %w", err)
	}
	entry.Signature = sig

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO audit_log (entry_id, event, task_id, event_timestamp, event_data, reasoning, previous_hash, signature, entry_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING insertion_order`,
		entry.EntryID, entry.Event, entry.TaskID, entry.Timestamp, []byte(entry.EventData), entry.Reasoning,
		entry.PreviousHash, entry.Signature, entry.EntryHash,
	).Scan(&entry.InsertionOrder)
	if err != nil {
		return nil, fmt.Errorf("audit: insert entry: %w", err)
	}

	s.logger.Debug("audit entry appended", "event", event, "task_id", taskID, "entry_id", entry.EntryID)
	return entry, nil
}

func (s *Store) lastHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT entry_hash FROM audit_log ORDER BY insertion_order DESC LIMIT 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return genesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("audit: read last hash: %w", err)
	}
	return hash, nil
}

func (s *Store) allEntries(ctx context.Context, taskID string) ([]*Entry, error) {
	query := `SELECT entry_id, event, task_id, event_timestamp, event_data, reasoning, previous_hash, signature, entry_hash, insertion_order
		FROM audit_log`
	args := []interface{}{}
	if taskID != "" {
		query += ` WHERE task_id = $1`
		args = append(args, taskID)
	}
	query += ` ORDER BY insertion_order ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var data []byte
		if err := rows.Scan(&e.EntryID, &e.Event, &e.TaskID, &e.Timestamp, &data, &e.Reasoning,
			&e.PreviousHash, &e.Signature, &e.EntryHash, &e.InsertionOrder); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		e.EventData = data
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyIntegrity recomputes every entry's hash in insertion order and
// checks the chain link to its predecessor and, if signing is configured,
// the signature over entry_hash. It returns false plus one diagnostic
// string for the first deviation found in each broken link; scanning
// continues past a break so every defect is reported, not just the first.
func (s *Store) VerifyIntegrity(ctx context.Context) (bool, []string, error) {
	entries, err := s.allEntries(ctx, "")
	if err != nil {
		return false, nil, err
	}

	ok := true
	var diagnostics []string
	prevHash := genesisHash

	for _, e := range entries {
		if e.PreviousHash != prevHash {
			ok = false
			diagnostics = append(diagnostics, fmt.Sprintf(
				"entry %s: previous_hash %q does not match prior entry_hash %q", e.EntryID, e.PreviousHash, prevHash))
		}

		recomputed, err := computeHash(e)
		if err != nil {
			return false, nil, err
		}
		if recomputed != e.EntryHash {
			ok = false
			diagnostics = append(diagnostics, fmt.Sprintf(
				"entry %s: recomputed hash %q does not match stored hash %q (tampered)", e.EntryID, recomputed, e.EntryHash))
		}

		if !s.signer.verify(e.EntryHash, e.Signature) {
			ok = false
			diagnostics = append(diagnostics, fmt.Sprintf("entry %s: signature does not verify", e.EntryID))
		}

		prevHash = e.EntryHash
	}

	return ok, diagnostics, nil
}

// ExportResult is the payload returned by Export.
type ExportResult struct {
	Entries         []*Entry `json:"entries"`
	IntegrityOK     bool     `json:"integrity_ok"`
	IntegrityErrors []string `json:"integrity_errors,omitempty"`
}

// Export returns every entry (optionally filtered to one task_id) plus the
// chain's integrity status, computed over the full chain regardless of the
// task_id filter so a caller always knows whether the whole log is intact.
func (s *Store) Export(ctx context.Context, taskID string) (*ExportResult, error) {
	entries, err := s.allEntries(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ok, diagnostics, err := s.VerifyIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	return &ExportResult{Entries: entries, IntegrityOK: ok, IntegrityErrors: diagnostics}, nil
}
