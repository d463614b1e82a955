// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/cryptofolio/internal/domain"
	"github.com/aristath/cryptofolio/internal/events"
	"github.com/aristath/cryptofolio/internal/scheduler/base"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// runRecorder is implemented by jobs that embed base.JobBase
type runRecorder interface {
	RecordRun(started time.Time, err error)
	Status() base.JobStatus
}

// Scheduler manages background jobs. A panicking job is recovered, and a job
// that is still running (from a tick or a manual run) is never started twice.
// Failed runs are published on the bus as ERROR events.
type Scheduler struct {
	cron   *cron.Cron
	bus    *events.Bus // may be nil
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]base.Job
	entries map[string]cron.EntryID
	running map[string]bool
}

// New creates a new scheduler. bus may be nil.
func New(bus *events.Bus, log zerolog.Logger) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	cronLog := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		bus:     bus,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]base.Job),
		entries: make(map[string]cron.EntryID),
		running: make(map[string]bool),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule
// Schedule examples:
//   - "*/5 * * * *"   - Every 5 minutes
//   - "@hourly"       - Every hour
//   - "@every 10m"    - Every 10 minutes
func (s *Scheduler) AddJob(schedule string, job base.Job) error {
	s.mu.Lock()
	if _, exists := s.jobs[job.Name()]; exists {
		s.mu.Unlock()
		return fmt.Errorf("job %s is already registered", job.Name())
	}
	s.jobs[job.Name()] = job
	s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() { _ = s.run(s.ctx, job) })
	s.mu.Lock()
	if err != nil {
		delete(s.jobs, job.Name())
	} else {
		s.entries[job.Name()] = id
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, job.Name(), err)
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// RunNow executes a registered job immediately (outside schedule).
// It fails with domain.ErrJobRunning when the job is already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown job %s", domain.ErrNotFound, name)
	}

	s.log.Info().Str("job", name).Msg("Running job immediately")
	return s.run(ctx, job)
}

// acquire marks name as running; false means a run is already in flight
func (s *Scheduler) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	delete(s.running, name)
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context, job base.Job) error {
	if !s.acquire(job.Name()) {
		s.log.Info().Str("job", job.Name()).Msg("Job still running, skipped")
		return fmt.Errorf("%w: %s", domain.ErrJobRunning, job.Name())
	}
	defer s.release(job.Name())

	started := time.Now()
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	err := job.Run(ctx)
	if r, ok := job.(runRecorder); ok {
		r.RecordRun(started, err)
	}

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Dur("duration_ms", time.Since(started)).
			Msg("Job failed")
		if s.bus != nil {
			s.bus.Emit("scheduler", &events.ErrorEventData{
				Error:   err.Error(),
				Context: job.Name(),
			})
		}
	} else {
		s.log.Debug().
			Str("job", job.Name()).
			Dur("duration_ms", time.Since(started)).
			Msg("Job completed")
	}
	return err
}

// JobInfo is the status of one registered job
type JobInfo struct {
	Name    string         `json:"name"`
	NextRun *time.Time     `json:"next_run,omitempty"`
	Status  base.JobStatus `json:"status"`
}

// Jobs reports every registered job, sorted by name
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, job := range s.jobs {
		info := JobInfo{Name: name}
		if next := s.cron.Entry(s.entries[name]).Next; !next.IsZero() {
			info.NextRun = &next
		}
		if r, ok := job.(runRecorder); ok {
			info.Status = r.Status()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
