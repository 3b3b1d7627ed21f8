package asl

import "time"

// Event type constants for the execution history.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionSucceeded = "execution_succeeded"
	EventExecutionFailed    = "execution_failed"
	EventExecutionAborted   = "execution_aborted"
	EventExecutionTimedOut  = "execution_timed_out"

	EventStateEntered = "state_entered"
	EventStateExited  = "state_exited"
	EventStateFailed  = "state_failed"
	EventStateCaught  = "state_caught"
	EventStateRetried = "state_retried"

	EventWaitScheduled = "wait_scheduled"
	EventWaitCompleted = "wait_completed"

	EventBranchStarted   = "branch_started"
	EventBranchSucceeded = "branch_succeeded"
	EventBranchFailed    = "branch_failed"

	EventTaskScheduled = "task_scheduled"
	EventTaskSucceeded = "task_succeeded"
	EventTaskFailed    = "task_failed"
)

// ExecutionStatus is the lifecycle state of one execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusSuspended ExecutionStatus = "SUSPENDED"
	StatusSucceeded ExecutionStatus = "SUCCEEDED"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusAborted   ExecutionStatus = "ABORTED"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusAborted
}

// HistoryEvent is one discrete entry in an execution's ordered history.
// Input and Output are point-in-time snapshots of the working document.
type HistoryEvent struct {
	ExecutionID string       `json:"execution_id"`
	Sequence    int64        `json:"sequence"`
	Type        string       `json:"type"`
	Timestamp   time.Time    `json:"timestamp"`
	State       string       `json:"state,omitempty"`
	Input       any          `json:"input,omitempty"`
	Output      any          `json:"output,omitempty"`
	Error       *StatesError `json:"error,omitempty"`
}
