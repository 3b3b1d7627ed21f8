package engine

import (
	"math"
	"time"

	"github.com/statelyvm/stately/pkg/asl"
)

// matchErrorName reports whether an error-name set matches name. The
// wildcard States.ALL matches anything.
func matchErrorName(set []string, name string) bool {
	for _, candidate := range set {
		if candidate == asl.ErrorWildcard || candidate == name {
			return true
		}
	}
	return false
}

// findRetrier scans the Retry list in declaration order for the first rule
// matching the error name.
func findRetrier(retriers []asl.Retrier, name string) *asl.Retrier {
	for i := range retriers {
		if matchErrorName(retriers[i].ErrorEquals, name) {
			return &retriers[i]
		}
	}
	return nil
}

// findCatcher scans the Catch list in declaration order for the first rule
// matching the error name.
func findCatcher(catchers []asl.Catcher, name string) *asl.Catcher {
	for i := range catchers {
		if matchErrorName(catchers[i].ErrorEquals, name) {
			return &catchers[i]
		}
	}
	return nil
}

// backoffDelay computes the delay before retry attempt n (1-based):
// IntervalSeconds × BackoffRate^(n−1).
func backoffDelay(r *asl.Retrier, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := float64(r.Interval()) * math.Pow(r.Backoff(), float64(attempt-1))
	return time.Duration(seconds * float64(time.Second))
}
