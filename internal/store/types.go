package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/statelyvm/stately/pkg/asl"
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")

func notFound(resource, id string) error {
	return fmt.Errorf("%s %q: %w", resource, id, ErrNotFound)
}

// ExecutionRecord is the persisted view of one execution.
type ExecutionRecord struct {
	ID          string
	Name        string
	Status      asl.ExecutionStatus
	Input       json.RawMessage
	Output      json.RawMessage
	Error       json.RawMessage
	StartedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// ExecutionUpdate is a partial update; nil fields are left untouched.
type ExecutionUpdate struct {
	Status      *asl.ExecutionStatus
	Output      json.RawMessage
	Error       json.RawMessage
	CompletedAt *time.Time
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	Status *asl.ExecutionStatus
	Since  *time.Time
	Limit  int
	Offset int
}
