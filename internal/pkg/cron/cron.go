// Package cron runs the service's maintenance jobs on fixed intervals.
package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrBusy is returned by Trigger when the job is already running.
var ErrBusy = errors.New("job is already running")

type Outcome string

const (
	OutcomeNone   Outcome = "none"
	OutcomeOK     Outcome = "ok"
	OutcomeFailed Outcome = "failed"
)

// Job is a named function run every Interval. With Immediate set the first
// run happens right after Start instead of one interval later.
type Job struct {
	Name        string
	Description string
	Interval    time.Duration
	Immediate   bool
	Fn          func(ctx context.Context) error
}

// Info is a point-in-time view of a job, served on the health endpoint.
type Info struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Interval    string     `json:"interval"`
	Running     bool       `json:"running"`
	Runs        int        `json:"runs"`
	Failures    int        `json:"failures"`
	Last        Outcome    `json:"last"`
	LastError   string     `json:"lastError,omitempty"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
	LastTookMs  int64      `json:"lastTookMs,omitempty"`
	NextRunAt   time.Time  `json:"nextRunAt"`
}

type entry struct {
	job Job

	mu        sync.Mutex
	running   bool
	runs      int
	failures  int
	last      Outcome
	lastError string
	lastRunAt *time.Time
	lastTook  time.Duration
	nextRunAt time.Time
}

type Scheduler struct {
	mu      sync.RWMutex
	entries map[string]*entry
	started bool
	wg      sync.WaitGroup
	logger  *zap.Logger
	now     func() time.Time
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		entries: make(map[string]*entry),
		logger:  logger.Named("cron"),
		now:     time.Now,
	}
}

// Register adds job. Jobs registered after Start are not scheduled.
func (s *Scheduler) Register(job Job) {
	if job.Interval <= 0 {
		panic(fmt.Sprintf("cron: job %q needs a positive interval", job.Name))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[job.Name] = &entry{job: job, last: OutcomeNone}
}

// Start schedules every registered job until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
}

// Wait blocks until every job loop started by Start has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	first := e.job.Interval
	if e.job.Immediate {
		first = 0
	}
	e.mu.Lock()
	e.nextRunAt = s.now().Add(first)
	e.mu.Unlock()

	timer := time.NewTimer(first)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := s.run(ctx, e); err != nil && !errors.Is(err, ErrBusy) && ctx.Err() == nil {
			s.logger.Warn("job failed", zap.String("job", e.job.Name), zap.Error(err))
		}
		e.mu.Lock()
		e.nextRunAt = s.now().Add(e.job.Interval)
		e.mu.Unlock()
		timer.Reset(e.job.Interval)
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrBusy
	}
	e.running = true
	e.mu.Unlock()

	started := s.now()
	err := e.job.Fn(ctx)
	took := s.now().Sub(started)

	e.mu.Lock()
	e.running = false
	e.runs++
	e.lastRunAt = &started
	e.lastTook = took
	if err != nil {
		e.failures++
		e.last = OutcomeFailed
		e.lastError = err.Error()
	} else {
		e.last = OutcomeOK
		e.lastError = ""
	}
	e.mu.Unlock()

	s.logger.Debug("job finished", zap.String("job", e.job.Name), zap.Duration("took", took), zap.Bool("ok", err == nil))
	return err
}

// Trigger runs the named job now, in the caller's goroutine, and returns
// its error.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return s.run(ctx, e)
}

// List returns every job sorted by name.
func (s *Scheduler) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		out = append(out, Info{
			Name:        e.job.Name,
			Description: e.job.Description,
			Interval:    e.job.Interval.String(),
			Running:     e.running,
			Runs:        e.runs,
			Failures:    e.failures,
			Last:        e.last,
			LastError:   e.lastError,
			LastRunAt:   e.lastRunAt,
			LastTookMs:  e.lastTook.Milliseconds(),
			NextRunAt:   e.nextRunAt,
		})
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
