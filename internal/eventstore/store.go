package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/textreel/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a job id is unknown.
var ErrNotFound = errors.New("job not found")

// timeLayout is fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Job is the audit row for one render request.
type Job struct {
	ID         string
	UserID     string
	Status     string
	OutputPath string
	ErrorKind  string
	Privacy    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Event is one pipeline state transition.
type Event struct {
	ID        int64
	JobID     string
	State     string
	Detail    string
	ErrorKind string
	Payload   []byte
	Privacy   string
	CreatedAt time.Time
}

// Store wraps a SQLite-backed job audit log.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    user_id TEXT,
    status TEXT NOT NULL,
    output_path TEXT,
    error_kind TEXT,
    privacy_scope TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    state TEXT NOT NULL,
    detail TEXT,
    error_kind TEXT,
    payload BLOB,
    privacy_scope TEXT,
    created_at TEXT NOT NULL,
    FOREIGN KEY(job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_job_created ON events(job_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendJob inserts the job row, or refreshes owner and privacy if it exists.
func (s *Store) AppendJob(ctx context.Context, jobID, userID, privacy string) error {
	if s.disabled() {
		return nil
	}
	now := s.clock().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(job_id, user_id, status, privacy_scope, created_at, updated_at)
		 VALUES(?, ?, 'pending', ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET user_id=excluded.user_id, privacy_scope=excluded.privacy_scope`,
		jobID, userID, privacy, now, now)
	return err
}

// UpdateJob records the latest status of a job.
func (s *Store) UpdateJob(ctx context.Context, jobID, status, outputPath, errorKind string) error {
	if s.disabled() {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, output_path = ?, error_kind = ?, updated_at = ? WHERE job_id = ?`,
		status, outputPath, errorKind, s.clock().UTC().Format(timeLayout), jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob loads one job row.
func (s *Store) GetJob(ctx context.Context, jobID string) (Job, error) {
	if s.disabled() {
		return Job{}, ErrNotFound
	}
	var j Job
	var output, kind, privacy, user sql.NullString
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, user_id, status, output_path, error_kind, privacy_scope, created_at, updated_at
		 FROM jobs WHERE job_id = ?`, jobID).
		Scan(&j.ID, &user, &j.Status, &output, &kind, &privacy, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.UserID, j.OutputPath, j.ErrorKind, j.Privacy = user.String, output.String, kind.String, privacy.String
	j.CreatedAt, _ = time.Parse(timeLayout, created)
	j.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return j, nil
}

// AppendEvent writes a state transition for an existing job.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.disabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(job_id, state, detail, error_kind, payload, privacy_scope, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		evt.JobID, evt.State, evt.Detail, evt.ErrorKind, evt.Payload, evt.Privacy, evt.CreatedAt.UTC().Format(timeLayout))
	return err
}

// ListJobEvents retrieves up to limit events for a job in the order they happened.
func (s *Store) ListJobEvents(ctx context.Context, jobID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, state, detail, error_kind, payload, privacy_scope, created_at
		 FROM events WHERE job_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var detail, kind, privacy sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.JobID, &e.State, &detail, &kind, &e.Payload, &privacy, &created); err != nil {
			return nil, err
		}
		e.Detail, e.ErrorKind, e.Privacy = detail.String, kind.String, privacy.String
		if ts, err := time.Parse(timeLayout, created); err == nil {
			e.CreatedAt = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().Format(timeLayout)
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxJobs > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id IN (
			SELECT job_id FROM jobs ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxJobs)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ensure supplies a no-op store when persistence disabled.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
