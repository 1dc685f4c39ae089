// Package store archives finished exploration runs in Postgres: one row per
// run, one row per idea, plus the users and schedules the serve mode needs.
// The live search never touches the database; archiving happens after a run
// completes, from its snapshot document.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/ideaforge/internal/snapshot"
	"github.com/mohammad-safakhou/ideaforge/internal/tree"
)

// ErrNotFound is returned when a run, idea, or schedule id does not resolve.
var ErrNotFound = errors.New("not found")

// Run statuses persisted for serve-mode explorations.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

type Store struct {
	DB *sql.DB
}

// New opens a Postgres connection with the given DSN and verifies it.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{DB: db}, nil
}

// Run is an archived (or in-flight, in serve mode) exploration.
type Run struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Statement  string     `json:"statement"`
	Status     string     `json:"status"`
	StopReason string     `json:"stop_reason,omitempty"`
	Iterations int        `json:"iterations"`
	NodeCount  int        `json:"node_count"`
	BestScore  float64    `json:"best_score"`
	Error      *string    `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Idea is one archived node of a run's tree.
type Idea struct {
	ID         string             `json:"id"`
	RunID      string             `json:"run_id"`
	ParentID   string             `json:"parent_id,omitempty"`
	Directive  string             `json:"directive,omitempty"`
	Content    string             `json:"content"`
	Depth      int                `json:"depth"`
	Seq        int                `json:"seq"`
	Visits     int                `json:"visits"`
	TotalValue float64            `json:"total_value"`
	Aggregate  float64            `json:"aggregate"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	Terminal   bool               `json:"is_terminal"`
}

// Schedule is a recurring exploration definition for serve mode.
type Schedule struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Problem   string     `json:"problem"` // problem definition YAML
	Cron      string     `json:"cron"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// CreateUser inserts a user with a bcrypt password hash.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, now())`,
		uuid.NewString(), email, passwordHash)
	return err
}

// GetUserByEmail returns the user's id and password hash.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email = $1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return id, hash, err
}

// CreateRun inserts a run row in running state and returns its id. Used by
// serve mode before the search starts; CLI archiving goes through
// ArchiveSnapshot instead.
func (s *Store) CreateRun(ctx context.Context, title, statement string) (string, error) {
	id := uuid.NewString()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, title, statement, status, created_at) VALUES ($1, $2, $3, $4, now())`,
		id, title, statement, RunStatusRunning)
	return id, err
}

// FinishRun closes out a run row created by CreateRun.
func (s *Store) FinishRun(ctx context.Context, id, status, stopReason string, runErr *string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET status = $2, stop_reason = $3, error = $4, finished_at = now() WHERE id = $1`,
		id, status, stopReason, runErr)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// ArchiveSnapshot persists a finished run and every evaluated idea from its
// snapshot in one transaction. When runID is empty a fresh run row is
// created; otherwise the existing row (serve mode) is filled in. Returns the
// run id.
func (s *Store) ArchiveSnapshot(ctx context.Context, runID string, doc *snapshot.Document, stopReason string) (string, error) {
	tr, err := tree.Restore(doc.Nodes)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	best := 0.0
	for _, n := range doc.Nodes {
		if n.Scores != nil && n.Scores.Aggregate > best {
			best = n.Scores.Aggregate
		}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	title := doc.RunID
	if runID == "" {
		runID = doc.RunID
		if runID == "" {
			runID = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO runs (id, title, statement, status, stop_reason, iterations, node_count, best_score, created_at, finished_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
			 ON CONFLICT (id) DO UPDATE SET
			   status = EXCLUDED.status, stop_reason = EXCLUDED.stop_reason,
			   iterations = EXCLUDED.iterations, node_count = EXCLUDED.node_count,
			   best_score = EXCLUDED.best_score, finished_at = now()`,
			runID, title, doc.Statement, RunStatusSucceeded, stopReason, doc.Iterations, tr.Size(), best)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE runs SET status = $2, stop_reason = $3, iterations = $4, node_count = $5, best_score = $6, finished_at = now()
			 WHERE id = $1`,
			runID, RunStatusSucceeded, stopReason, doc.Iterations, tr.Size(), best)
	}
	if err != nil {
		return "", fmt.Errorf("archive run: %w", err)
	}

	// Re-archiving a run replaces its ideas wholesale.
	if _, err := tx.ExecContext(ctx, `DELETE FROM ideas WHERE run_id = $1`, runID); err != nil {
		return "", fmt.Errorf("archive ideas: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ideas (id, run_id, parent_id, directive, content, depth, seq, visits, total_value, aggregate, scores, is_terminal)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for _, n := range doc.Nodes {
		if n.IsRoot() || !n.Evaluated() {
			continue
		}
		scores, err := json.Marshal(n.Scores.Criteria)
		if err != nil {
			return "", fmt.Errorf("archive idea %s: %w", n.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			n.ID, runID, n.ParentID, n.Directive, n.Content,
			n.Depth, n.Seq, n.Visits, n.TotalValue, n.Scores.Aggregate, scores, n.Terminal); err != nil {
			return "", fmt.Errorf("archive idea %s: %w", n.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return runID, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, title, statement, status, COALESCE(stop_reason, ''), iterations, node_count, best_score, error, created_at, finished_at
		 FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Title, &r.Statement, &r.Status, &r.StopReason,
			&r.Iterations, &r.NodeCount, &r.BestScore, &r.Error, &r.CreatedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var r Run
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, title, statement, status, COALESCE(stop_reason, ''), iterations, node_count, best_score, error, created_at, finished_at
		 FROM runs WHERE id = $1`, id).
		Scan(&r.ID, &r.Title, &r.Statement, &r.Status, &r.StopReason,
			&r.Iterations, &r.NodeCount, &r.BestScore, &r.Error, &r.CreatedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// ListIdeas returns a run's ideas in creation order.
func (s *Store) ListIdeas(ctx context.Context, runID string) ([]Idea, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, run_id, parent_id, directive, content, depth, seq, visits, total_value, aggregate, scores, is_terminal
		 FROM ideas WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIdeas(rows)
}

// TopIdeas returns a run's k best ideas ordered by aggregate score, earlier
// creation winning ties.
func (s *Store) TopIdeas(ctx context.Context, runID string, k int) ([]Idea, error) {
	if k <= 0 {
		k = 5
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, run_id, parent_id, directive, content, depth, seq, visits, total_value, aggregate, scores, is_terminal
		 FROM ideas WHERE run_id = $1 ORDER BY aggregate DESC, seq ASC LIMIT $2`, runID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIdeas(rows)
}

func scanIdeas(rows *sql.Rows) ([]Idea, error) {
	var out []Idea
	for rows.Next() {
		var (
			i   Idea
			raw []byte
		)
		if err := rows.Scan(&i.ID, &i.RunID, &i.ParentID, &i.Directive, &i.Content,
			&i.Depth, &i.Seq, &i.Visits, &i.TotalValue, &i.Aggregate, &raw, &i.Terminal); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &i.Scores); err != nil {
				return nil, fmt.Errorf("idea %s scores: %w", i.ID, err)
			}
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// CreateSchedule registers a recurring exploration.
func (s *Store) CreateSchedule(ctx context.Context, title, problemYAML, cron string) (string, error) {
	id := uuid.NewString()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO schedules (id, title, problem, cron, enabled, created_at) VALUES ($1, $2, $3, $4, TRUE, now())`,
		id, title, problemYAML, cron)
	return id, err
}

// ListSchedules returns every schedule, enabled or not.
func (s *Store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, title, problem, cron, enabled, created_at, last_run_at FROM schedules ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		var sc Schedule
		if err := rows.Scan(&sc.ID, &sc.Title, &sc.Problem, &sc.Cron, &sc.Enabled, &sc.CreatedAt, &sc.LastRunAt); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// TouchSchedule records that the schedule fired.
func (s *Store) TouchSchedule(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE schedules SET last_run_at = $2 WHERE id = $1`, id, at)
	return err
}

// SetScheduleEnabled toggles a schedule.
func (s *Store) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE schedules SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}
