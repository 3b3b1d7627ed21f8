package engine

import (
	"github.com/statelyvm/stately/pkg/asl"
)

// validStatusTransitions defines the allowed execution status transitions.
// Terminal statuses admit none.
var validStatusTransitions = map[asl.ExecutionStatus][]asl.ExecutionStatus{
	asl.StatusRunning:   {asl.StatusSuspended, asl.StatusSucceeded, asl.StatusFailed, asl.StatusAborted},
	asl.StatusSuspended: {asl.StatusRunning, asl.StatusFailed, asl.StatusAborted},
	asl.StatusSucceeded: {},
	asl.StatusFailed:    {},
	asl.StatusAborted:   {},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to asl.ExecutionStatus) bool {
	for _, allowed := range validStatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// statusEvent maps a terminal status to its history event type.
func statusEvent(to asl.ExecutionStatus) string {
	switch to {
	case asl.StatusSucceeded:
		return asl.EventExecutionSucceeded
	case asl.StatusFailed:
		return asl.EventExecutionFailed
	case asl.StatusAborted:
		return asl.EventExecutionAborted
	default:
		return ""
	}
}
