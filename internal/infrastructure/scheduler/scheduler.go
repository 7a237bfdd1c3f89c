// Package scheduler runs the engine's maintenance jobs (evaluation sweep,
// level repair) on top of gocron. With a distributed locker only one worker
// instance runs a given tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Job is one maintenance task. Name doubles as the lock key.
type Job interface {
	Name() string
	Description() string
	// Run must return when ctx is done.
	Run(ctx context.Context) error
}

// JobResult describes one finished run.
type JobResult struct {
	JobName   string
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Error     error
}

var (
	ErrNilJob           = errors.New("scheduler: job is nil")
	ErrJobAlreadyExists = errors.New("scheduler: job already registered")
	ErrJobNotFound      = errors.New("scheduler: job not found")
	ErrInvalidInterval  = errors.New("scheduler: interval must be positive")
)

type Config struct {
	Logger *slog.Logger

	// Location is used for schedule calculations. nil means UTC.
	Location *time.Location

	// Locker makes every tick take a lock named after the job.
	Locker gocron.Locker

	// JobTimeout bounds one run; zero leaves runs unbounded.
	JobTimeout time.Duration
}

type entry struct {
	job  Job
	last *JobResult
}

// Scheduler wraps gocron and keeps the last result of every job.
type Scheduler struct {
	cron    gocron.Scheduler
	logger  *slog.Logger
	timeout time.Duration

	// stopping is cancelled by Stop so running jobs can wind down.
	stopping context.Context
	stop     context.CancelFunc

	mu      sync.RWMutex
	entries map[string]*entry
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	opts := []gocron.SchedulerOption{gocron.WithLocation(cfg.Location)}
	if cfg.Locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(cfg.Locker))
	}
	cron, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	stopping, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron,
		logger:   cfg.Logger.With("component", "scheduler"),
		timeout:  cfg.JobTimeout,
		stopping: stopping,
		stop:     stop,
		entries:  make(map[string]*entry),
	}, nil
}

// Register runs job every interval. A tick that arrives while the previous
// run is still going is skipped.
func (s *Scheduler) Register(job Job, every time.Duration) error {
	switch {
	case job == nil:
		return ErrNilJob
	case every <= 0:
		return fmt.Errorf("%w: %s", ErrInvalidInterval, job.Name())
	}

	name := job.Name()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	if _, err := s.cron.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() { s.run(s.stopping, job) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("scheduler: schedule %s: %w", name, err)
	}

	s.entries[name] = &entry{job: job}
	s.logger.Info("job registered", "job", name, "description", job.Description(), "every", every.String())
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.Jobs())
}

// Stop cancels running jobs and waits for them.
func (s *Scheduler) Stop() error {
	s.stop()
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// RunNow runs a registered job on the caller's goroutine, outside the
// schedule and without the distributed lock.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	res := s.run(ctx, e.job)
	return res, res.Error
}

// Jobs lists registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.entries))
}

// LastResult returns the latest run of a job, if it has run.
func (s *Scheduler) LastResult(name string) (JobResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[name]; ok && e.last != nil {
		return *e.last, true
	}
	return JobResult{}, false
}

func (s *Scheduler) run(ctx context.Context, job Job) JobResult {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res := JobResult{JobName: job.Name(), StartedAt: time.Now()}
	res.Error = guard(ctx, job)
	res.Duration = time.Since(res.StartedAt)
	res.Success = res.Error == nil

	log := s.logger.With("job", res.JobName, "duration", res.Duration)
	if res.Success {
		log.Info("job completed")
	} else {
		log.Error("job failed", "error", res.Error)
	}

	s.mu.Lock()
	if e, ok := s.entries[res.JobName]; ok {
		e.last = &res
	}
	s.mu.Unlock()
	return res
}

// guard turns a panicking job into an error.
func guard(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}
