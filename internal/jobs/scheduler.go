package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrJobNotFound is returned by RunNow for an unregistered name.
var ErrJobNotFound = errors.New("job not found")

// Job is a unit of background work run on a cron schedule.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs named jobs on cron schedules
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]Job
	entries map[string]cron.EntryID
	timeout time.Duration
	logger  *zap.Logger
	mu      sync.RWMutex
	running bool
}

// NewScheduler creates a scheduler. Each run gets a context bounded by
// timeout. Overlapping runs of the same job are skipped.
func NewScheduler(timeout time.Duration, logger *zap.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
		timeout: timeout,
		logger:  logger,
	}
}

// AddJob schedules job under spec, replacing any job with the same name.
func (s *Scheduler) AddJob(spec string, job Job) error {
	if err := ValidateCronExpression(spec); err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", job.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[job.Name()]; ok {
		s.cron.Remove(entryID)
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.execute(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobs[job.Name()] = job
	s.entries[job.Name()] = entryID

	s.logger.Info("Added job",
		zap.String("job", job.Name()),
		zap.String("cron", spec))
	return nil
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	started := time.Now()
	err := job.Run(ctx)
	if err != nil {
		s.logger.Error("Job failed",
			zap.String("job", job.Name()),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return err
	}
	s.logger.Debug("Job completed",
		zap.String("job", job.Name()),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true

	s.logger.Info("Starting scheduler", zap.Int("jobs", len(s.entries)))
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

// ActiveJobs returns the number of scheduled jobs
func (s *Scheduler) ActiveJobs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// JobStatus is the schedule state of one job
type JobStatus struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"nextRun"`
	PrevRun time.Time `json:"prevRun"`
}

// Status returns the schedule state of every job
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.entries))
	for name, entryID := range s.entries {
		entry := s.cron.Entry(entryID)
		out = append(out, JobStatus{Name: name, NextRun: entry.Next, PrevRun: entry.Prev})
	}
	return out
}

// ValidateCronExpression validates a five-field cron expression or a
// descriptor such as @every 1h.
func ValidateCronExpression(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(expr)
	return err
}
