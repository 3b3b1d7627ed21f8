package engine

import (
	"context"
	"math"
	"time"

	"github.com/statelyvm/stately/internal/jsonpath"
	"github.com/statelyvm/stately/pkg/asl"
)

// resolveWait computes the concrete delay a Wait state suspends for, given
// the current working document. Data-dependent specifications go through the
// path evaluator; all failures classify as States.Runtime and are subject to
// the enclosing state's Retry/Catch.
func resolveWait(ctx context.Context, paths *jsonpath.Evaluator, st *asl.State, doc any, now time.Time) (time.Duration, error) {
	switch {
	case st.Seconds != nil:
		return time.Duration(*st.Seconds) * time.Second, nil

	case st.SecondsPath != "":
		v, err := paths.First(ctx, st.SecondsPath, doc)
		if err != nil {
			return 0, err
		}
		seconds, ok := asSeconds(v)
		if !ok {
			return 0, asl.NewStatesErrorf(asl.ErrorRuntime,
				"SecondsPath %q must resolve to an integer, got %T", st.SecondsPath, v)
		}
		if seconds < 0 {
			return 0, asl.NewStatesErrorf(asl.ErrorRuntime,
				"SecondsPath %q resolved to negative seconds %d", st.SecondsPath, seconds)
		}
		return time.Duration(seconds) * time.Second, nil

	case st.Timestamp != "":
		return untilTimestamp(st.Timestamp, now)

	case st.TimestampPath != "":
		v, err := paths.First(ctx, st.TimestampPath, doc)
		if err != nil {
			return 0, err
		}
		s, ok := v.(string)
		if !ok {
			return 0, asl.NewStatesErrorf(asl.ErrorRuntime,
				"TimestampPath %q must resolve to a timestamp string, got %T", st.TimestampPath, v)
		}
		return untilTimestamp(s, now)
	}

	// Unreachable for validated programs.
	return 0, asl.NewStatesError(asl.ErrorRuntime, "wait state has no wait specification")
}

// asSeconds coerces a document value to an integral second count. JSON
// numbers decode as float64; only whole values qualify.
func asSeconds(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// untilTimestamp parses an RFC3339 timestamp and returns the remaining delay,
// clamped at zero for instants already past.
func untilTimestamp(s string, now time.Time) (time.Duration, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, asl.NewStatesErrorf(asl.ErrorRuntime,
			"timestamp %q is not RFC3339: %s", s, err.Error()).WithWrapped(err)
	}
	d := t.Sub(now)
	if d < 0 {
		return 0, nil
	}
	return d, nil
}
