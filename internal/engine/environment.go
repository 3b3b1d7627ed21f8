package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/statelyvm/stately/pkg/asl"
)

// ContextScope is the read-only execution context visible to evaluators
// through "$$." paths in Parameters.
type ContextScope struct {
	ExecutionID string
	StateName   string
	StartTime   time.Time
}

// Document renders the scope as a path-addressable document.
func (s ContextScope) Document() map[string]any {
	return map[string]any{
		"Execution": map[string]any{
			"Id":        s.ExecutionID,
			"StartTime": s.StartTime.UTC().Format(time.RFC3339),
		},
		"State": map[string]any{
			"Name": s.StateName,
		},
	}
}

// Environment is the mutable evaluation context owned exclusively by one
// in-flight execution (or one branch of it). It holds the current working
// document, the context scope, the error register, per-state retry attempt
// counters, and the cancellation flag.
//
// Branches get their own Environment over a copy of the working document;
// only the cancellation flag and the history sink are shared with the parent.
type Environment struct {
	Doc     any
	Scope   ContextScope
	Failure *asl.StatesError

	history   HistorySink
	aborted   *atomic.Bool
	mu        sync.Mutex
	attempts  map[string]int
}

// NewEnvironment creates the root Environment of an execution.
func NewEnvironment(executionID string, startTime time.Time, input any, history HistorySink) *Environment {
	return &Environment{
		Doc:      input,
		Scope:    ContextScope{ExecutionID: executionID, StartTime: startTime},
		history:  history,
		aborted:  &atomic.Bool{},
		attempts: make(map[string]int),
	}
}

// BranchEnv derives an Environment for one branch: its own document and
// attempt counters, the parent's identity, cancellation flag, and history.
func (e *Environment) BranchEnv(doc any) *Environment {
	return &Environment{
		Doc:      doc,
		Scope:    ContextScope{ExecutionID: e.Scope.ExecutionID, StartTime: e.Scope.StartTime},
		history:  e.history,
		aborted:  e.aborted,
		attempts: make(map[string]int),
	}
}

// Attempts returns the retry attempt count recorded for a state.
func (e *Environment) Attempts(state string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[state]
}

// RecordAttempt increments and returns the attempt count for a state.
func (e *Environment) RecordAttempt(state string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts[state]++
	return e.attempts[state]
}

// ResetAttempts clears the attempt counter for a state after it completes or
// is caught.
func (e *Environment) ResetAttempts(state string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.attempts, state)
}

// Abort raises the shared cancellation flag. Branches observe it at their
// next suspension point or state boundary.
func (e *Environment) Abort() {
	e.aborted.Store(true)
}

// Aborted reports whether cancellation has been requested.
func (e *Environment) Aborted() bool {
	return e.aborted.Load()
}

// record appends a history event, best-effort.
func (e *Environment) record(ctx context.Context, ev *asl.HistoryEvent) {
	if e.history == nil {
		return
	}
	if ev.ExecutionID == "" {
		ev.ExecutionID = e.Scope.ExecutionID
	}
	_ = e.history.Append(ctx, ev)
}
