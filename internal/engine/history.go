package engine

import (
	"context"
	"sync"
	"time"

	"github.com/statelyvm/stately/pkg/asl"
)

// HistorySink consumes the ordered history of an execution. Implementations
// must be safe for concurrent use: branches append interleaved with their
// parent.
type HistorySink interface {
	Append(ctx context.Context, ev *asl.HistoryEvent) error
}

// Recorder is the in-memory HistorySink. It assigns sequence numbers and
// serves point-in-time snapshot reads.
type Recorder struct {
	mu     sync.Mutex
	seq    int64
	events []*asl.HistoryEvent
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append stamps and stores the event.
func (r *Recorder) Append(_ context.Context, ev *asl.HistoryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ev.Sequence = r.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a snapshot of the history in append order.
func (r *Recorder) Events() []*asl.HistoryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*asl.HistoryEvent, len(r.events))
	copy(out, r.events)
	return out
}

// teeSink fans an event out to several sinks. The first sink assigns the
// sequence number; downstream sinks must preserve it.
type teeSink struct {
	sinks []HistorySink
}

// Tee combines sinks into one. Nil sinks are skipped.
func Tee(sinks ...HistorySink) HistorySink {
	var kept []HistorySink
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return &teeSink{sinks: kept}
}

func (t *teeSink) Append(ctx context.Context, ev *asl.HistoryEvent) error {
	var firstErr error
	for _, s := range t.sinks {
		if err := s.Append(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
