// Package store implements the Overlord State Store: durable
// records of active Minions, completed work, and supervisor evaluations,
// backed by the shared Postgres database (pkg/storedb). Connection-scoped
// methods return typed rows and wrapped sentinel errors, plain SQL rather
// than a generated ORM client.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrMinionNotFound is returned when a lookup by id or (repo, issue) finds
// no matching active Minion.
var ErrMinionNotFound = errors.New("store: minion not found")

// Status is a Minion's lifecycle state as tracked in active_minions /
// work_history.
type Status string

const (
	StatusStarting       Status = "starting"
	StatusWorking        Status = "working"
	StatusAwaitingAnswer Status = "awaiting_answer"
	StatusInReview       Status = "in_review"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusTimedOut       Status = "timed_out"
)

// Minion is one row of active_minions or work_history.
type Minion struct {
	MinionID       string
	ContainerID    string
	Repo           string
	IssueNumber    int
	Status         Status
	StartedAt      time.Time
	LastHeartbeat  time.Time
	CompletedAt    *time.Time
	PRNumber       *int
	ErrorMessage   *string
	RevisionNumber int
}

// Evaluation is one row of the evaluations table, keyed by
// (repo, pr_number, revision_number).
type Evaluation struct {
	ID             int64
	Repo           string
	PRNumber       int
	RevisionNumber int
	TestScore      string
	LintScore      string
	ReviewScore    string
	Overall        string
	Feedback       string
	CreatedAt      time.Time
}

// Store is the single-writer state store. Writes are serialized through
// mu; reads go straight to the pool without taking the lock.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// New wraps db. db is expected to already have storedb's migrations
// applied.
func New(db *sql.DB) *Store {
	return &Store{db: db, logger: slog.Default().With("component", "store")}
}

// AddMinion inserts a new active Minion row.
func (s *Store) AddMinion(ctx context.Context, m *Minion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.StartedAt.IsZero() {
		m.StartedAt = time.Now()
	}
	if m.LastHeartbeat.IsZero() {
		m.LastHeartbeat = m.StartedAt
	}
	if m.Status == "" {
		m.Status = StatusStarting
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO active_minions (minion_id, container_id, repo, issue_number, status, started_at, last_heartbeat, pr_number, error_message, revision_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.MinionID, m.ContainerID, m.Repo, m.IssueNumber, string(m.Status), m.StartedAt, m.LastHeartbeat,
		m.PRNumber, m.ErrorMessage, m.RevisionNumber)
	if err != nil {
		return fmt.Errorf("store: add minion %s: %w", m.MinionID, err)
	}
	s.logger.Info("minion added", "minion_id", m.MinionID, "repo", m.Repo, "issue_number", m.IssueNumber)
	return nil
}

// MinionUpdate carries the subset of fields update_minion may change; nil
// fields are left untouched.
type MinionUpdate struct {
	ContainerID   *string
	Status        *Status
	LastHeartbeat *time.Time
	PRNumber      *int
	ErrorMessage  *string
}

// UpdateMinion applies a partial update to an active Minion row.
func (s *Store) UpdateMinion(ctx context.Context, minionID string, upd MinionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{}
	args := []interface{}{}
	idx := 1

	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if upd.ContainerID != nil {
		add("container_id", *upd.ContainerID)
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.LastHeartbeat != nil {
		add("last_heartbeat", *upd.LastHeartbeat)
	}
	if upd.PRNumber != nil {
		add("pr_number", *upd.PRNumber)
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	}

	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE active_minions SET %s WHERE minion_id = $%d", joinSets(sets), idx)
	args = append(args, minionID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: update minion %s: %w", minionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update minion %s: %w", minionID, err)
	}
	if n == 0 {
		return fmt.Errorf("store: update minion %s: %w", minionID, ErrMinionNotFound)
	}
	return nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

const minionColumns = `minion_id, container_id, repo, issue_number, status, started_at, last_heartbeat, pr_number, error_message, revision_number`

func scanMinion(row interface{ Scan(...interface{}) error }) (*Minion, error) {
	m := &Minion{}
	var status string
	if err := row.Scan(&m.MinionID, &m.ContainerID, &m.Repo, &m.IssueNumber, &status,
		&m.StartedAt, &m.LastHeartbeat, &m.PRNumber, &m.ErrorMessage, &m.RevisionNumber); err != nil {
		return nil, err
	}
	m.Status = Status(status)
	return m, nil
}

// GetMinion returns the active Minion with the given id.
func (s *Store) GetMinion(ctx context.Context, minionID string) (*Minion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+minionColumns+` FROM active_minions WHERE minion_id = $1`, minionID)
	m, err := scanMinion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMinionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get minion %s: %w", minionID, err)
	}
	return m, nil
}

// GetMinionByIssue returns the active Minion assigned to (repo, issueNumber).
func (s *Store) GetMinionByIssue(ctx context.Context, repo string, issueNumber int) (*Minion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+minionColumns+` FROM active_minions WHERE repo = $1 AND issue_number = $2`, repo, issueNumber)
	m, err := scanMinion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMinionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get minion by issue %s#%d: %w", repo, issueNumber, err)
	}
	return m, nil
}

// GetActiveMinions lists every row currently in active_minions.
func (s *Store) GetActiveMinions(ctx context.Context) ([]*Minion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+minionColumns+` FROM active_minions ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: get active minions: %w", err)
	}
	defer rows.Close()

	var out []*Minion
	for rows.Next() {
		m, err := scanMinion(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan active minion: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordCompletion moves minionID from active_minions to work_history in a
// single transaction: the row is read, inserted into work_history with
// completedAt and the terminal status/prNumber/errorMessage applied, then
// deleted from active_minions. The move is atomic: a reader
// never observes the Minion absent from both tables or present in both.
func (s *Store) RecordCompletion(ctx context.Context, minionID string, terminalStatus Status, prNumber *int, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: record completion %s: begin tx: %w", minionID, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+minionColumns+` FROM active_minions WHERE minion_id = $1 FOR UPDATE`, minionID)
	m, err := scanMinion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: record completion %s: %w", minionID, ErrMinionNotFound)
	}
	if err != nil {
		return fmt.Errorf("store: record completion %s: %w", minionID, err)
	}

	m.Status = terminalStatus
	completedAt := time.Now()
	if prNumber != nil {
		m.PRNumber = prNumber
	}
	if errMsg != nil {
		m.ErrorMessage = errMsg
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_history (minion_id, container_id, repo, issue_number, status, started_at, last_heartbeat, completed_at, pr_number, error_message, revision_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.MinionID, m.ContainerID, m.Repo, m.IssueNumber, string(m.Status), m.StartedAt, m.LastHeartbeat,
		completedAt, m.PRNumber, m.ErrorMessage, m.RevisionNumber)
	if err != nil {
		return fmt.Errorf("store: record completion %s: insert history: %w", minionID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_minions WHERE minion_id = $1`, minionID); err != nil {
		return fmt.Errorf("store: record completion %s: delete active: %w", minionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: record completion %s: commit: %w", minionID, err)
	}

	m.CompletedAt = &completedAt
	s.logger.Info("minion completed", "minion_id", minionID, "status", terminalStatus, "repo", m.Repo, "issue_number", m.IssueNumber)
	return nil
}

// RemoveMinion deletes an active Minion row without recording history, for
// operator-initiated hard removal.
func (s *Store) RemoveMinion(ctx context.Context, minionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM active_minions WHERE minion_id = $1`, minionID)
	if err != nil {
		return fmt.Errorf("store: remove minion %s: %w", minionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: remove minion %s: %w", minionID, err)
	}
	if n == 0 {
		return fmt.Errorf("store: remove minion %s: %w", minionID, ErrMinionNotFound)
	}
	return nil
}

// GetWorkHistory lists completed Minions for repo, most recent first,
// supporting the operator's `history` command.
func (s *Store) GetWorkHistory(ctx context.Context, repo string, limit int) ([]*Minion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT minion_id, container_id, repo, issue_number, status, started_at, last_heartbeat, completed_at, pr_number, error_message, revision_number
		FROM work_history WHERE repo = $1 OR $1 = '' ORDER BY completed_at DESC LIMIT $2`, repo, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get work history: %w", err)
	}
	defer rows.Close()

	var out []*Minion
	for rows.Next() {
		m := &Minion{}
		var status string
		if err := rows.Scan(&m.MinionID, &m.ContainerID, &m.Repo, &m.IssueNumber, &status,
			&m.StartedAt, &m.LastHeartbeat, &m.CompletedAt, &m.PRNumber, &m.ErrorMessage, &m.RevisionNumber); err != nil {
			return nil, fmt.Errorf("store: scan work history: %w", err)
		}
		m.Status = Status(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordEvaluation inserts or replaces the evaluation for
// (repo, pr_number, revision_number).
func (s *Store) RecordEvaluation(ctx context.Context, e *Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO evaluations (repo, pr_number, revision_number, test_score, lint_score, review_score, overall, feedback)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (repo, pr_number, revision_number)
		DO UPDATE SET test_score = EXCLUDED.test_score, lint_score = EXCLUDED.lint_score,
			review_score = EXCLUDED.review_score, overall = EXCLUDED.overall, feedback = EXCLUDED.feedback
		RETURNING id, created_at`,
		e.Repo, e.PRNumber, e.RevisionNumber, e.TestScore, e.LintScore, e.ReviewScore, e.Overall, e.Feedback,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: record evaluation %s#%d rev%d: %w", e.Repo, e.PRNumber, e.RevisionNumber, err)
	}
	return nil
}

// GetEvaluation returns the stored evaluation for
// (repo, pr_number, revision_number), if any.
func (s *Store) GetEvaluation(ctx context.Context, repo string, prNumber, revisionNumber int) (*Evaluation, error) {
	e := &Evaluation{Repo: repo, PRNumber: prNumber, RevisionNumber: revisionNumber}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, test_score, lint_score, review_score, overall, feedback, created_at
		FROM evaluations WHERE repo = $1 AND pr_number = $2 AND revision_number = $3`,
		repo, prNumber, revisionNumber,
	).Scan(&e.ID, &e.TestScore, &e.LintScore, &e.ReviewScore, &e.Overall, &e.Feedback, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get evaluation %s#%d rev%d: %w", repo, prNumber, revisionNumber, err)
	}
	return e, nil
}
