package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // sqlite

	"github.com/baldanca/dataset-exporter/exporter"
	"github.com/baldanca/dataset-exporter/record"
)

// DefaultSQLiteConfig checkpoints every five minutes and waits up to five
// seconds for the database lock.
var DefaultSQLiteConfig = SQLiteConfig{
	CheckpointInterval: 5 * time.Minute,
	BusyTimeout:        5 * time.Second,
}

// SQLiteConfig configures a SQLite store. Zero durations take the
// DefaultSQLiteConfig values.
type SQLiteConfig struct {
	// Path is the database file. Required.
	Path string

	// CheckpointInterval is how often the WAL is checkpointed.
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for the database lock.
	BusyTimeout time.Duration

	// Notifier, when set, receives terminal job events.
	Notifier Notifier

	// Logger receives dropped-event warnings. Defaults to a discard logger.
	Logger *slog.Logger
}

// SQLite is a Store backed by a single-file SQLite database, for deployments
// that must keep job rows across restarts.
//
// The database runs in WAL mode with a single writer connection. Expired rows
// are not swept automatically; callers run DeleteExpired on their own
// schedule.
type SQLite struct {
	db       *sql.DB
	notifier Notifier
	log      *slog.Logger

	createStmt *sql.Stmt
	getStmt    *sql.Stmt
	updateStmt *sql.Stmt
	listStmt   *sql.Stmt
	sweepStmt  *sql.Stmt

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*SQLite)(nil)
var _ exporter.JobStore = (*SQLite)(nil)

// NewSQLite opens (creating if needed) the database at cfg.Path.
func NewSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, errors.New("registry: database path is required")
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultSQLiteConfig.CheckpointInterval
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = DefaultSQLiteConfig.BusyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("registry: open database: %w", err)
	}

	// Single writer. SQLite serializes writes anyway; one connection keeps
	// the prepared statements and the WAL pragmas on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// The driver does not read pragma query parameters from the DSN.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("registry: %s: %w", pragma, err)
		}
	}

	s := &SQLite{
		db:       db,
		notifier: cfg.Notifier,
		log:      cfg.Logger,
		done:     make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: init schema: %w", err)
	}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: prepare statements: %w", err)
	}

	go s.checkpointLoop(cfg.CheckpointInterval)
	return s, nil
}

func (s *SQLite) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS export_jobs (
			id         TEXT PRIMARY KEY,
			format     TEXT NOT NULL,
			columns    TEXT NOT NULL,
			compress   INTEGER NOT NULL,
			status     TEXT NOT NULL,
			detail     TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_export_jobs_updated ON export_jobs(updated_at);
	`)
	return err
}

func (s *SQLite) prepare() error {
	var err error

	s.createStmt, err = s.db.Prepare(`
		INSERT INTO export_jobs (id, format, columns, compress, status, detail, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return err
	}

	s.getStmt, err = s.db.Prepare(`
		SELECT id, format, columns, compress, status, detail, created_at, updated_at
		FROM export_jobs WHERE id = ?
	`)
	if err != nil {
		return err
	}

	s.updateStmt, err = s.db.Prepare(`
		UPDATE export_jobs SET status = ?, detail = ?, updated_at = ? WHERE id = ?
	`)
	if err != nil {
		return err
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT id, format, columns, compress, status, detail, created_at, updated_at
		FROM export_jobs ORDER BY created_at DESC, id
	`)
	if err != nil {
		return err
	}

	s.sweepStmt, err = s.db.Prepare(`
		DELETE FROM export_jobs WHERE updated_at < ? AND status IN (?, ?)
	`)
	return err
}

// Create inserts job. Returns ErrExists when the id is already taken.
func (s *SQLite) Create(ctx context.Context, job Job) error {
	if job.ID == "" {
		return errMissingID
	}
	job = normalize(job, time.Now())

	columns := ""
	if len(job.Columns) > 0 {
		b, err := json.Marshal(job.Columns)
		if err != nil {
			return fmt.Errorf("registry: marshal columns: %w", err)
		}
		columns = string(b)
	}

	res, err := s.createStmt.ExecContext(ctx,
		job.ID, string(job.Format), columns, job.Compress,
		string(job.Status), job.Detail, job.CreatedAt.Unix(), job.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("registry: create job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: create job: %w", err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

// Get returns the job row for id.
func (s *SQLite) Get(ctx context.Context, id string) (Job, error) {
	job, err := scanJob(s.getStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("registry: get job: %w", err)
	}
	return job, nil
}

// UpdateStatus advances the job and publishes terminal events.
func (s *SQLite) UpdateStatus(ctx context.Context, id string, status exporter.Status, detail string) error {
	now := time.Now()
	res, err := s.updateStmt.ExecContext(ctx, string(status), detail, now.Unix(), id)
	if err != nil {
		return fmt.Errorf("registry: update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: update job: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	notifyTerminal(ctx, s.notifier, s.log, Job{ID: id, Status: status, Detail: detail, UpdatedAt: now})
	return nil
}

// List returns all job rows, newest first.
func (s *SQLite) List(ctx context.Context) ([]Job, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: list jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: list jobs: %w", err)
	}
	return jobs, nil
}

// DeleteExpired removes terminal jobs not updated since olderThan.
func (s *SQLite) DeleteExpired(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.sweepStmt.ExecContext(ctx, olderThan.Unix(),
		string(exporter.StatusComplete), string(exporter.StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("registry: sweep jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("registry: sweep jobs: %w", err)
	}
	return int(n), nil
}

// Close checkpoints the WAL and closes the database. Close is idempotent.
func (s *SQLite) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		for _, stmt := range []*sql.Stmt{s.createStmt, s.getStmt, s.updateStmt, s.listStmt, s.sweepStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *SQLite) checkpointLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		job       Job
		format    string
		columns   string
		status    string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&job.ID, &format, &columns, &job.Compress,
		&status, &job.Detail, &createdAt, &updatedAt)
	if err != nil {
		return Job{}, err
	}

	job.Format = exporter.Format(format)
	job.Status = exporter.Status(status)
	job.CreatedAt = time.Unix(createdAt, 0).UTC()
	job.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if columns != "" {
		var mapping record.ColumnMapping
		if err := json.Unmarshal([]byte(columns), &mapping); err != nil {
			return Job{}, fmt.Errorf("columns: %w", err)
		}
		job.Columns = mapping
	}
	return job, nil
}
