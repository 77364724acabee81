// Package cron runs named periodic tasks, such as organizer sweeps, on
// standard cron expressions or "@every <duration>" descriptors.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a schedule Add would accept.
func ValidateSchedule(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return errors.New("empty schedule")
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

type job struct {
	name    string
	fn      func(ctx context.Context)
	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
}

// Scheduler runs jobs. A tick is skipped while the previous run of the same
// job is still in progress.
type Scheduler struct {
	c      *cron.Cron
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*job
	started bool
}

func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		c:      cron.New(cron.WithParser(parser)),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}
}

// Add registers fn under a unique name.
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context)) error {
	if name == "" {
		return errors.New("cron job requires a name")
	}
	if fn == nil {
		return fmt.Errorf("cron job %s: nil func", name)
	}
	if err := ValidateSchedule(spec); err != nil {
		return fmt.Errorf("cron job %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("cron job %q already exists", name)
	}
	j := &job{name: name, fn: fn}
	if _, err := s.c.AddFunc(spec, func() { s.run(j) }); err != nil {
		return fmt.Errorf("cron job %s: %w", name, err)
	}
	s.jobs[name] = j
	s.log.Info("cron job added", "name", name, "schedule", spec)
	return nil
}

func (s *Scheduler) run(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		s.log.Warn("cron job still running, tick skipped", "name", j.name)
		return
	}
	defer j.running.Store(false)
	j.runs.Add(1)
	j.fn(s.ctx)
}

// Runs returns how many times name has run and how many ticks were skipped.
func (s *Scheduler) Runs(name string) (runs, skipped int64) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return 0, 0
	}
	return j.runs.Load(), j.skipped.Load()
}

// Start launches the scheduler in the background.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	s.c.Start()
	return nil
}

// Stop cancels running jobs and waits for them to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
