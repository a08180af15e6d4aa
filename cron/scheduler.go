package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/tenantrun/job"
)

// RunFunc is the callback the scheduler uses to start a run.
// This breaks the import cycle: the engine provides the implementation.
type RunFunc func(ctx context.Context, jobName string)

// Source lists the jobs to schedule. *job.Registry satisfies it.
type Source interface {
	Scheduled() []*job.Definition
}

// Emitter emits trigger lifecycle events.
// ext.Registry satisfies this interface via EmitTriggerFired.
type Emitter interface {
	EmitTriggerFired(ctx context.Context, jobName string)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due jobs.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Validate reports whether expr is a schedule the scheduler accepts.
func Validate(expr string) error {
	if _, err := ParseSchedule(expr); err != nil {
		return fmt.Errorf("cron: invalid schedule %q: %w", expr, err)
	}
	return nil
}

// Scheduler runs scheduled jobs on a tick loop.
type Scheduler struct {
	source  Source
	run     RunFunc
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time

	tickInterval time.Duration

	// parsedSchedules caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	mu      sync.Mutex
	entries map[string]*Entry
	running bool

	stopCh chan struct{}
	loopWg sync.WaitGroup
	runWg  sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	source Source,
	run RunFunc,
	emitter Emitter,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		source:       source,
		run:          run,
		emitter:      emitter,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		tickInterval: 1 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		entries:      make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick goroutine. Runs fired by the scheduler get a
// context detached from ctx's cancellation that keeps its values.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	s.Tick(runCtx)

	s.loopWg.Add(1)
	go s.tickLoop(runCtx)
	s.logger.Info("cron scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop stops firing new runs and waits for fired runs to return, or for
// ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.loopWg.Wait()

	done := make(chan struct{})
	go func() {
		s.runWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("cron scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("cron scheduler stop timed out with runs in flight")
		return ctx.Err()
	}
}

// Entries returns a snapshot of the scheduled jobs, sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobName < out[j].JobName })
	return out
}

// tickLoop fires on each tick interval and processes due jobs.
func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.loopWg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every scheduled job once and fires the due ones. The
// tick loop calls it; it is exported for deterministic tests and manual
// drivers.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	defs := s.source.Scheduled()

	s.mu.Lock()
	seen := make(map[string]bool, len(defs))
	var due []string
	for _, def := range defs {
		seen[def.Name] = true
		sched, err := s.getOrParseSchedule(def.Schedule)
		if err != nil {
			s.logger.Error("parse cron schedule error",
				slog.String("job", def.Name),
				slog.String("schedule", def.Schedule),
				slog.String("error", err.Error()),
			)
			continue
		}

		entry := s.entries[def.Name]
		if entry == nil || entry.Schedule != def.Schedule {
			s.entries[def.Name] = &Entry{
				JobName:   def.Name,
				Schedule:  def.Schedule,
				NextRunAt: sched.Next(now),
			}
			continue
		}
		if entry.NextRunAt.After(now) {
			continue
		}

		fired := now
		entry.LastRunAt = &fired
		entry.NextRunAt = sched.Next(now)
		due = append(due, def.Name)
	}
	// Drop jobs that were unregistered or lost their schedule.
	for name := range s.entries {
		if !seen[name] {
			delete(s.entries, name)
		}
	}
	s.mu.Unlock()

	for _, name := range due {
		s.fire(ctx, name)
	}
}

func (s *Scheduler) fire(ctx context.Context, jobName string) {
	if s.emitter != nil {
		s.emitter.EmitTriggerFired(ctx, jobName)
	}
	s.logger.Info("cron fired", slog.String("job", jobName))

	s.runWg.Add(1)
	go func() {
		defer s.runWg.Done()
		s.run(ctx, jobName)
	}()
}

// getOrParseSchedule caches parsed cron expressions.
func (s *Scheduler) getOrParseSchedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
