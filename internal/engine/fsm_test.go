package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/statelyvm/stately/pkg/asl"
)

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to asl.ExecutionStatus }{
		{asl.StatusRunning, asl.StatusSuspended},
		{asl.StatusRunning, asl.StatusSucceeded},
		{asl.StatusRunning, asl.StatusFailed},
		{asl.StatusRunning, asl.StatusAborted},
		{asl.StatusSuspended, asl.StatusRunning},
		{asl.StatusSuspended, asl.StatusFailed},
		{asl.StatusSuspended, asl.StatusAborted},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}

	denied := []struct{ from, to asl.ExecutionStatus }{
		{asl.StatusSuspended, asl.StatusSucceeded},
		{asl.StatusSucceeded, asl.StatusRunning},
		{asl.StatusFailed, asl.StatusRunning},
		{asl.StatusAborted, asl.StatusSuspended},
		{asl.StatusRunning, asl.StatusRunning},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}
}

func TestStatusEvent(t *testing.T) {
	assert.Equal(t, asl.EventExecutionSucceeded, statusEvent(asl.StatusSucceeded))
	assert.Equal(t, asl.EventExecutionFailed, statusEvent(asl.StatusFailed))
	assert.Equal(t, asl.EventExecutionAborted, statusEvent(asl.StatusAborted))
	assert.Empty(t, statusEvent(asl.StatusRunning))
}
