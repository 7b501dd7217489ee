// Package scheduler runs named background jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc is one run of a scheduled job.
type JobFunc func(ctx context.Context) error

// Manager runs jobs on cron expressions. A job never overlaps with itself.
type Manager struct {
	cron    *cron.Cron
	jobs    map[string]cron.EntryID
	timeout time.Duration
	logger  *zap.Logger
	mu      sync.RWMutex
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
}

// Config for the manager.
type Config struct {
	// JobTimeout bounds a single run. Zero means no bound.
	JobTimeout time.Duration
	Location   *time.Location
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{JobTimeout: 10 * time.Minute, Location: time.UTC}
}

// NewManager creates a manager. Expressions use the standard five fields or
// descriptors such as "@every 15m".
func NewManager(logger *zap.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		jobs:    make(map[string]cron.EntryID),
		timeout: cfg.JobTimeout,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// AddJob schedules fn under name, replacing any job with the same name.
func (m *Manager) AddJob(name, spec string, fn JobFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.jobs[name]; ok {
		m.cron.Remove(entryID)
		delete(m.jobs, name)
	}

	entryID, err := m.cron.AddFunc(spec, func() { m.run(name, fn) })
	if err != nil {
		return fmt.Errorf("failed to add cron job %q: %w", name, err)
	}
	m.jobs[name] = entryID

	m.logger.Info("Added job", zap.String("job", name), zap.String("cron", spec))
	return nil
}

// RemoveJob unschedules name.
func (m *Manager) RemoveJob(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.jobs[name]; ok {
		m.cron.Remove(entryID)
		delete(m.jobs, name)
		m.logger.Info("Removed job", zap.String("job", name))
	}
}

// RunNow runs the named job once, outside its schedule.
func (m *Manager) RunNow(name string) error {
	m.mu.RLock()
	entryID, ok := m.jobs[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	m.cron.Entry(entryID).WrappedJob.Run()
	return nil
}

// Start starts the scheduler
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("scheduler already running")
	}
	m.running = true
	m.cron.Start()
	m.logger.Info("Scheduler started", zap.Int("jobs", len(m.jobs)))
	return nil
}

// Stop cancels running jobs and waits for them to return or ctx to expire.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Stopping scheduler")
	m.cancel()
	done := m.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JobStatus represents the status of a scheduled job
type JobStatus struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
	PrevRun time.Time `json:"prev_run"`
}

// Jobs returns the status of every scheduled job.
func (m *Manager) Jobs() []JobStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]JobStatus, 0, len(m.jobs))
	for name, id := range m.jobs {
		entry := m.cron.Entry(id)
		out = append(out, JobStatus{Name: name, NextRun: entry.Next, PrevRun: entry.Prev})
	}
	return out
}

func (m *Manager) run(name string, fn JobFunc) {
	ctx := m.baseCtx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()

	if err := fn(ctx); err != nil {
		m.logger.Error("Job failed", zap.String("job", name), zap.Duration("duration", time.Since(start)), zap.Error(err))
		return
	}
	m.logger.Info("Job completed", zap.String("job", name), zap.Duration("duration", time.Since(start)))
}

// ValidateExpression validates a cron expression
func ValidateExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}
