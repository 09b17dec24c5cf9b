// Package scheduling runs the gateway's background maintenance jobs: the
// periodic health sweep and usage retention pruning.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultJobTimeout = 5 * time.Minute

// Job is one recurring maintenance job.
type Job struct {
	Name string
	// Schedule is a cron expression ("*/5 * * * *", "@daily") or a Go
	// duration ("30s").
	Schedule  string
	Run       func(ctx context.Context) error
	Immediate bool          // also run once when the scheduler starts
	Timeout   time.Duration // per-run deadline; 0 means 5m
}

// JobStats summarizes the runs of one job.
type JobStats struct {
	Name      string    `json:"name"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	Skipped   int       `json:"skipped"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	Job
	running bool
	stats   JobStats
}

// Scheduler runs jobs on cron or fixed-interval schedules. A run that is
// still in flight when the next tick arrives causes that tick to be skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	pending []*job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
		jobs:   make(map[string]*job),
	}
}

// Add registers j. Names must be unique.
func (s *Scheduler) Add(j Job) error {
	if j.Run == nil {
		return fmt.Errorf("scheduler: job %q has no run function", j.Name)
	}
	sched, err := parseSchedule(j.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: job %q: %w", j.Name, err)
	}
	if j.Timeout <= 0 {
		j.Timeout = defaultJobTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[j.Name]; dup {
		return fmt.Errorf("scheduler: duplicate job %q", j.Name)
	}
	jb := &job{Job: j, stats: JobStats{Name: j.Name}}
	s.jobs[j.Name] = jb

	s.cron.Schedule(sched, cron.FuncJob(func() { s.tick(jb) }))
	if j.Immediate {
		if s.ctx != nil {
			s.spawn(jb)
		} else {
			s.pending = append(s.pending, jb)
		}
	}
	s.logger.Info("job scheduled", "job", j.Name, "schedule", j.Schedule, "immediate", j.Immediate)
	return nil
}

// Start begins ticking. Immediate jobs run right away in the background.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, jb := range s.pending {
		s.spawn(jb)
	}
	s.pending = nil
	s.cron.Start()
	return nil
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.ctx = nil
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	return nil
}

// Stats returns per-job counters sorted by name.
func (s *Scheduler) Stats() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStats, 0, len(s.jobs))
	for _, jb := range s.jobs {
		out = append(out, jb.stats)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// spawn must be called with s.mu held.
func (s *Scheduler) spawn(jb *job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick(jb)
	}()
}

func (s *Scheduler) tick(jb *job) {
	s.mu.Lock()
	ctx := s.ctx
	if ctx == nil || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if jb.running {
		jb.stats.Skipped++
		s.mu.Unlock()
		s.logger.Debug("job still running, tick skipped", "job", jb.Name)
		return
	}
	jb.running = true
	s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, jb.Timeout)
	start := time.Now()
	err := jb.Run(runCtx)
	cancel()
	elapsed := time.Since(start)

	s.mu.Lock()
	jb.running = false
	jb.stats.Runs++
	jb.stats.LastRun = start
	jb.stats.LastError = ""
	if err != nil {
		jb.stats.Failures++
		jb.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("job failed", "job", jb.Name, "error", err, "duration", elapsed)
		return
	}
	s.logger.Debug("job completed", "job", jb.Name, "duration", elapsed)
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// parseSchedule accepts a cron expression, else a positive duration.
func parseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if sched, err := cronParser.Parse(spec); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %q is neither a cron expression nor a duration", spec)
	}
	if d <= 0 {
		return nil, fmt.Errorf("schedule %q: interval must be positive", spec)
	}
	return interval(d), nil
}

// Every formats d as a schedule accepted by Add.
func Every(d time.Duration) string { return d.String() }

// interval is a fixed-delay cron.Schedule. cron.Every rounds to whole
// seconds; this does not.
type interval time.Duration

func (d interval) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }
