// Package scheduler runs named jobs (group refreshes and source rescans)
// on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wesm/tilevault/internal/config"
)

// RegroupJob is the name of the scheduled forced regroup.
const RegroupJob = "regroup"

// JobFunc is the callback invoked when a scheduled job should run.
type JobFunc func(ctx context.Context) error

// SourceFunc rescans the named data source.
type SourceFunc func(ctx context.Context, source string) error

// JobStatus represents the state of a scheduled job.
type JobStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	Schedule  string    `json:"schedule"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	entry    cron.EntryID
	schedule string
	fn       JobFunc
}

// Scheduler manages cron-based jobs. A job never runs concurrently with
// itself.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.RWMutex
	jobs    map[string]*job
	running map[string]bool
	lastRun map[string]time.Time
	lastErr map[string]error

	ctx     context.Context    // cancelled on Stop
	cancel  context.CancelFunc // cancels ctx
	wg      sync.WaitGroup     // tracks running job goroutines
	started bool
	stopped bool
}

// New creates an empty Scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithParser(newParser())),
		logger:  slog.Default(),
		jobs:    make(map[string]*job),
		running: make(map[string]bool),
		lastRun: make(map[string]time.Time),
		lastErr: make(map[string]error),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddJob schedules fn under name, replacing any job with the same name.
// Returns an error if the cron expression is invalid.
func (s *Scheduler) AddJob(name, cronExpr string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, exists := s.jobs[name]; exists {
		s.cron.Remove(j.entry)
		delete(s.jobs, name)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.stopped || s.running[name] {
			s.mu.Unlock()
			return
		}
		j := s.jobs[name]
		if j == nil {
			s.mu.Unlock()
			return
		}
		s.running[name] = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.run(name, j.fn)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.jobs[name] = &job{entry: entryID, schedule: cronExpr, fn: fn}
	s.logger.Info("scheduled job",
		"job", name,
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)
	return nil
}

// SourceJobName is the job name used for a source rescan.
func SourceJobName(source string) string {
	return "scan:" + source
}

// AddSourcesFromConfig schedules a rescan for every enabled source with a
// schedule. Returns the number of jobs added and any errors encountered.
func (s *Scheduler) AddSourcesFromConfig(cfg *config.Config, scan SourceFunc) (int, []error) {
	var errs []error
	scheduled := 0

	for _, src := range cfg.ScheduledSources() {
		name := src.Name
		err := s.AddJob(SourceJobName(name), src.Schedule, func(ctx context.Context) error {
			return scan(ctx, name)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		} else {
			scheduled++
		}
	}
	return scheduled, errs
}

// RemoveJob removes a scheduled job.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, exists := s.jobs[name]; exists {
		s.cron.Remove(j.entry)
		delete(s.jobs, name)
		s.logger.Info("removed schedule", "job", name)
	}
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", n)
}

// IsRunning returns true if the scheduler has been started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop stops the scheduler, cancels running jobs and returns a context
// that is done when all of them have returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// run executes a job. The caller must have already called wg.Add(1) and
// set running[name].
func (s *Scheduler) run(name string, fn JobFunc) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
	}()

	s.logger.Info("starting job", "job", name)
	start := time.Now()

	err := fn(s.ctx)

	s.mu.Lock()
	if err != nil {
		s.lastErr[name] = err
		s.logger.Error("job failed",
			"job", name,
			"duration", time.Since(start),
			"error", err)
	} else {
		s.lastRun[name] = time.Now()
		s.lastErr[name] = nil
		s.logger.Info("job completed",
			"job", name,
			"duration", time.Since(start))
	}
	s.mu.Unlock()
}

// IsScheduled returns true if a job with the name exists.
func (s *Scheduler) IsScheduled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[name]
	return exists
}

// TriggerJob runs a job now, outside of its schedule. Returns an error if
// it is already running, not scheduled, or the scheduler has been stopped.
func (s *Scheduler) TriggerJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	j, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s is not scheduled", name)
	}
	if s.running[name] {
		return fmt.Errorf("job %s is already running", name)
	}

	s.running[name] = true
	s.wg.Add(1)
	go s.run(name, j.fn)
	return nil
}

// Status returns the state of every job, ordered by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for name, j := range s.jobs {
		status := JobStatus{
			Name:     name,
			Running:  s.running[name],
			LastRun:  s.lastRun[name],
			NextRun:  s.cron.Entry(j.entry).Next,
			Schedule: j.schedule,
		}
		if err := s.lastErr[name]; err != nil {
			status.LastError = err.Error()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, k int) bool { return statuses[i].Name < statuses[k].Name })
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	if _, err := newParser().Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
