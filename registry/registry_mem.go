package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/baldanca/dataset-exporter/exporter"
)

// DefaultMemoryConfig keeps terminal jobs for a day and sweeps every minute.
var DefaultMemoryConfig = MemoryConfig{
	TTL:           24 * time.Hour,
	SweepInterval: time.Minute,
}

// MemoryConfig configures a Memory store. Zero fields take the
// DefaultMemoryConfig values.
type MemoryConfig struct {
	// TTL is how long terminal jobs stay visible after their last update.
	TTL time.Duration

	// SweepInterval is how often expired jobs are removed.
	SweepInterval time.Duration

	// Notifier, when set, receives terminal job events.
	Notifier Notifier

	// Logger receives dropped-event warnings. Defaults to a discard logger.
	Logger *slog.Logger
}

// Memory is an in-process Store. All rows are lost when the process exits.
//
// A background sweeper removes terminal jobs older than the TTL; active jobs
// are never swept.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]Job

	notifier Notifier
	log      *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

var _ Store = (*Memory)(nil)
var _ exporter.JobStore = (*Memory)(nil)

// NewMemory starts a Memory store and its sweeper.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultMemoryConfig.TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultMemoryConfig.SweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	m := &Memory{
		jobs:     make(map[string]Job),
		notifier: cfg.Notifier,
		log:      cfg.Logger,
		done:     make(chan struct{}),
	}
	go m.sweep(cfg.TTL, cfg.SweepInterval)
	return m
}

// Create inserts job. Returns ErrExists when the id is already taken.
func (m *Memory) Create(ctx context.Context, job Job) error {
	if job.ID == "" {
		return errMissingID
	}
	job = normalize(job, time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrExists
	}
	m.jobs[job.ID] = job
	return nil
}

// Get returns the job row for id.
func (m *Memory) Get(ctx context.Context, id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

// UpdateStatus advances the job and publishes terminal events.
func (m *Memory) UpdateStatus(ctx context.Context, id string, status exporter.Status, detail string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	job.Status = status
	job.Detail = detail
	job.UpdatedAt = time.Now()
	m.jobs[id] = job
	m.mu.Unlock()

	// Outside the lock: the notifier may do network work.
	notifyTerminal(ctx, m.notifier, m.log, job)
	return nil
}

// List returns all job rows, newest first.
func (m *Memory) List(ctx context.Context) ([]Job, error) {
	m.mu.RLock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

// DeleteExpired removes terminal jobs not updated since olderThan.
func (m *Memory) DeleteExpired(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for id, job := range m.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(olderThan) {
			delete(m.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored jobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// Close stops the sweeper. Close is idempotent.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *Memory) sweep(ttl, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = m.DeleteExpired(context.Background(), time.Now().Add(-ttl))
		case <-m.done:
			return
		}
	}
}
