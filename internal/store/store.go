// Package store persists executions and their histories in libSQL. It backs
// the interpreter's in-memory recorder with a durable, queryable copy.
package store

import (
	"context"

	"github.com/statelyvm/stately/pkg/asl"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Executions
	CreateExecution(ctx context.Context, rec *ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)
	DeleteExecution(ctx context.Context, id string) error

	// History (append-only)
	AppendEvent(ctx context.Context, ev *asl.HistoryEvent) error
	Events(ctx context.Context, executionID string, since int64) ([]*asl.HistoryEvent, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Sink adapts a Store to the interpreter's history sink interface.
type Sink struct {
	Store Store
}

func (s Sink) Append(ctx context.Context, ev *asl.HistoryEvent) error {
	return s.Store.AppendEvent(ctx, ev)
}
