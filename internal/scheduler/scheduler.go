// Package scheduler runs operator-defined jobs on interval, cron or daily
// schedules. Command jobs pass through the guardrail like any other command.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/clawinfra/opsguardian/internal/config"
)

// Scheduler manages all scheduled jobs
type Scheduler struct {
	jobs     map[string]*Job
	runners  map[string]*JobRunner
	executor Executor
	client   *http.Client
	logger   *slog.Logger
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewScheduler creates a new scheduler. A nil client uses a 30s-timeout
// default for HTTP actions.
func NewScheduler(executor Executor, client *http.Client, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		jobs:     make(map[string]*Job),
		runners:  make(map[string]*JobRunner),
		executor: executor,
		client:   client,
		logger:   logger.With("component", "scheduler"),
	}
}

// Run starts every enabled job and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

// Start initializes and starts all enabled jobs
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("starting scheduler", "jobs", len(s.jobs))

	for id, job := range s.jobs {
		if !job.Enabled {
			s.logger.Debug("skipping disabled job", "job", id)
			continue
		}
		s.startLocked(job)
	}

	s.logger.Info("scheduler started", "active_jobs", len(s.runners))
}

// Stop stops all job runners
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("stopping scheduler")

	// Cancel context to stop all runners
	if s.cancel != nil {
		s.cancel()
	}

	for id, runner := range s.runners {
		runner.Stop()
		s.logger.Debug("stopped job runner", "job", id)
	}

	s.runners = make(map[string]*JobRunner)
	s.ctx = nil
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) startLocked(job *Job) {
	runner := NewJobRunner(job, s.executor, s.client, s.logger)
	s.runners[job.ID] = runner
	go runner.Start(s.ctx)
}

// AddJob adds a new job to the scheduler
func (s *Scheduler) AddJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", job.ID)
	}

	s.jobs[job.ID] = job

	// Start runner if scheduler is running and job is enabled
	if s.ctx != nil && job.Enabled {
		s.startLocked(job)
		s.logger.Info("job added and started", "job", job.ID)
	} else {
		s.logger.Info("job added", "job", job.ID, "enabled", job.Enabled)
	}

	return nil
}

// RemoveJob removes a job from the scheduler
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if runner, exists := s.runners[id]; exists {
		runner.Stop()
		delete(s.runners, id)
	}

	delete(s.jobs, id)
	s.logger.Info("job removed", "job", id)

	return nil
}

// GetJob retrieves a copy of a job by ID
func (s *Scheduler) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	return job.Clone(), nil
}

// ListJobs returns copies of all jobs ordered by id
func (s *Scheduler) ListJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	slices.SortFunc(jobs, func(a, b *Job) int { return strings.Compare(a.ID, b.ID) })

	return jobs
}

// RunJobNow triggers a job immediately (bypassing schedule) and returns its
// output.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	job, exists := s.jobs[id]
	s.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	runner := NewJobRunner(job, s.executor, s.client, s.logger)
	return runner.executeJob(ctx)
}

// LoadJobs loads jobs from configuration, skipping invalid entries.
func (s *Scheduler) LoadJobs(jobs []config.JobConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, jc := range jobs {
		job := FromConfig(jc)
		if err := job.Validate(); err != nil {
			s.logger.Warn("invalid job in config, skipping",
				"job", job.ID,
				"error", err)
			continue
		}
		if _, exists := s.jobs[job.ID]; exists {
			s.logger.Warn("duplicate job id in config, skipping", "job", job.ID)
			continue
		}

		s.jobs[job.ID] = job
		s.logger.Debug("loaded job from config", "job", job.ID)
	}

	s.logger.Info("jobs loaded", "count", len(s.jobs))
}

// Stats summarizes job activity.
type Stats struct {
	TotalJobs   int   `json:"total_jobs"`
	ActiveJobs  int   `json:"active_jobs"`
	RunningJobs int   `json:"running_jobs"`
	TotalRuns   int64 `json:"total_runs"`
	TotalErrors int64 `json:"total_errors"`
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{TotalJobs: len(s.jobs), RunningJobs: len(s.runners)}
	for _, job := range s.jobs {
		snap := job.Clone()
		stats.TotalRuns += snap.State.RunCount
		stats.TotalErrors += snap.State.ErrorCount
		if snap.Enabled {
			stats.ActiveJobs++
		}
	}
	return stats
}
