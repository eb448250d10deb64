// Package registry keeps track of export jobs: their shape, their status
// transitions and their terminal outcome.
//
// A Store outlives individual exports. The pipeline itself only consumes the
// narrow exporter.JobStore surface (UpdateStatus); the rest of the interface
// serves whoever fronts the exporter, typically an HTTP handler or a worker
// loop. Every Store implementation satisfies exporter.JobStore.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/baldanca/dataset-exporter/exporter"
	"github.com/baldanca/dataset-exporter/record"
)

var (
	// ErrNotFound reports an id with no job row behind it.
	ErrNotFound = errors.New("registry: job not found")

	// ErrExists reports a Create with an id that is already taken.
	ErrExists = errors.New("registry: job already exists")
)

var errMissingID = errors.New("registry: job id is required")

// Job is one export job row.
//
// Status starts at exporter.StatusPending and is advanced by the pipeline
// through UpdateStatus. Detail carries the failure cause or the final row and
// byte counts, whichever applies.
type Job struct {
	ID        string
	Format    exporter.Format
	Columns   record.ColumnMapping
	Compress  bool
	Status    exporter.Status
	Detail    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewID returns a fresh job id.
func NewID() string { return uuid.New().String() }

// Store persists export job rows.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new job row. A zero Status becomes
	// exporter.StatusPending; zero timestamps become now.
	Create(ctx context.Context, job Job) error

	// Get returns the job row for id, or ErrNotFound.
	Get(ctx context.Context, id string) (Job, error)

	// UpdateStatus advances the job to status and replaces its detail.
	// Returns ErrNotFound when no row matches id.
	UpdateStatus(ctx context.Context, id string, status exporter.Status, detail string) error

	// List returns all job rows, newest first.
	List(ctx context.Context) ([]Job, error)

	// DeleteExpired removes terminal jobs not updated since olderThan and
	// reports how many were removed. Pending and streaming jobs are never
	// swept.
	DeleteExpired(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases the store. Close is idempotent.
	Close() error
}

// Event describes a job reaching a terminal status.
type Event struct {
	JobID  string          `json:"job_id"`
	Status exporter.Status `json:"status"`
	Detail string          `json:"detail,omitempty"`
	At     time.Time       `json:"at"`
}

// Notifier receives terminal job events.
//
// Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// notifyTerminal publishes an event for terminal transitions. Delivery is
// best effort: the job row is the source of truth, a lost event is only
// logged.
func notifyTerminal(ctx context.Context, n Notifier, log *slog.Logger, job Job) {
	if n == nil || !job.Status.Terminal() {
		return
	}
	ev := Event{JobID: job.ID, Status: job.Status, Detail: job.Detail, At: job.UpdatedAt}
	if err := n.Notify(ctx, ev); err != nil {
		log.Warn("job event dropped", "job", job.ID, "status", string(job.Status), "error", err)
	}
}

func normalize(job Job, now time.Time) Job {
	if job.Status == "" {
		job.Status = exporter.StatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	return job
}
