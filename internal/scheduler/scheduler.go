// Package scheduler starts executions of registered programs on cron
// schedules. It keeps a ticker loop rather than per-entry timers so a large
// number of schedules costs one goroutine.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/statelyvm/stately/internal/jsonpath"
	"github.com/statelyvm/stately/internal/program"
)

// Starter is the interface the scheduler uses to launch executions.
// Satisfied by the interpreter (avoids import cycle).
type Starter interface {
	Start(ctx context.Context, prog *program.Program, input any) (executionID string, err error)
}

// Entry is one registered schedule: a program started with a fixed input
// document whenever its cron expression fires.
type Entry struct {
	Name    string
	Cron    string
	Program *program.Program
	Input   any

	schedule  cron.Schedule
	nextRunAt time.Time
	lastRunAt time.Time
	lastError string
}

// Scheduler ticks once a minute and starts every registered entry that has
// come due.
type Scheduler struct {
	starter Starter
	parser  cron.Parser
	logger  *slog.Logger
	clock   func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
	cancel  context.CancelFunc
	done    chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // entry names currently starting (dedup)
}

// New creates a Scheduler over a Starter. Standard five-field cron
// expressions, minute resolution.
func New(starter Starter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		starter:  starter,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		clock:    time.Now,
		entries:  make(map[string]*Entry),
		inflight: make(map[string]struct{}),
	}
}

// Register adds a schedule. The cron expression is validated here so a bad
// schedule fails at registration, not at its first tick.
func (s *Scheduler) Register(entry Entry) error {
	if entry.Name == "" {
		return fmt.Errorf("schedule name is empty")
	}
	if entry.Program == nil {
		return fmt.Errorf("schedule %q has no program", entry.Name)
	}
	schedule, err := s.parser.Parse(entry.Cron)
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", entry.Cron, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.Name]; exists {
		return fmt.Errorf("schedule %q already registered", entry.Name)
	}
	entry.schedule = schedule
	entry.nextRunAt = schedule.Next(s.clock().UTC())
	s.entries[entry.Name] = &entry
	return nil
}

// Unregister removes a schedule by name.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// NextRun returns the next fire time recorded for a schedule.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return e.nextRunAt, true
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick starts every entry whose next run time has passed. Exported so tests
// and recovery paths can fire it directly.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock().UTC()

	s.mu.Lock()
	var due []*Entry
	for _, e := range s.entries {
		if !e.nextRunAt.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if !s.tryAcquire(e.Name) {
			continue // previous start still in flight (dedup)
		}
		s.runEntry(ctx, e, now)
		s.release(e.Name)
	}
}

// runEntry starts one execution and updates the entry's timestamps. Each
// start gets its own copy of the input document.
func (s *Scheduler) runEntry(ctx context.Context, e *Entry, now time.Time) {
	id, err := s.starter.Start(ctx, e.Program, jsonpath.Clone(e.Input))

	s.mu.Lock()
	e.lastRunAt = now
	e.nextRunAt = e.schedule.Next(now)
	if err != nil {
		e.lastError = err.Error()
	} else {
		e.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled start failed",
			slog.String("schedule", e.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("scheduled execution started",
		slog.String("schedule", e.Name),
		slog.String("execution_id", id),
	)
}

// tryAcquire marks the entry as in-flight if it is not already.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) release(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// Stop gracefully shuts down the scheduling loop.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
