package engine

import (
	"context"
	"time"

	"github.com/statelyvm/stately/internal/jsonpath"
	"github.com/statelyvm/stately/pkg/asl"
)

// evaluateChoices evaluates a Choice state's ordered rules against the
// working document and returns the Next of the first rule whose predicate is
// true. Falls back to Default; with no default it fails with
// States.NoChoiceMatched.
func evaluateChoices(ctx context.Context, paths *jsonpath.Evaluator, st *asl.State, doc any) (string, error) {
	for i := range st.Choices {
		ok, err := evalRule(ctx, paths, &st.Choices[i], doc)
		if err != nil {
			return "", err
		}
		if ok {
			return st.Choices[i].Next, nil
		}
	}
	if st.Default != "" {
		return st.Default, nil
	}
	return "", asl.NewStatesError(asl.ErrorNoChoiceMatched,
		"no choice rule matched and no Default is declared")
}

// evalRule evaluates one rule. Combinators recurse; comparisons resolve the
// Variable path (first match authoritative, missing value is a runtime
// error) and compare typed. A type mismatch makes the rule false rather than
// failing, so ordered rule lists can discriminate on type.
func evalRule(ctx context.Context, paths *jsonpath.Evaluator, r *asl.ChoiceRule, doc any) (bool, error) {
	switch {
	case len(r.And) > 0:
		for i := range r.And {
			ok, err := evalRule(ctx, paths, &r.And[i], doc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case len(r.Or) > 0:
		for i := range r.Or {
			ok, err := evalRule(ctx, paths, &r.Or[i], doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case r.Not != nil:
		ok, err := evalRule(ctx, paths, r.Not, doc)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}

	v, err := paths.First(ctx, r.Variable, doc)
	if err != nil {
		return false, err
	}
	return compare(r, v)
}

func compare(r *asl.ChoiceRule, v any) (bool, error) {
	switch {
	case r.StringEquals != nil:
		return compareString(v, *r.StringEquals, eq), nil
	case r.StringLessThan != nil:
		return compareString(v, *r.StringLessThan, lt), nil
	case r.StringGreaterThan != nil:
		return compareString(v, *r.StringGreaterThan, gt), nil
	case r.StringLessThanEquals != nil:
		return compareString(v, *r.StringLessThanEquals, lte), nil
	case r.StringGreaterThanEquals != nil:
		return compareString(v, *r.StringGreaterThanEquals, gte), nil

	case r.NumericEquals != nil:
		return compareNumber(v, *r.NumericEquals, eq), nil
	case r.NumericLessThan != nil:
		return compareNumber(v, *r.NumericLessThan, lt), nil
	case r.NumericGreaterThan != nil:
		return compareNumber(v, *r.NumericGreaterThan, gt), nil
	case r.NumericLessThanEquals != nil:
		return compareNumber(v, *r.NumericLessThanEquals, lte), nil
	case r.NumericGreaterThanEquals != nil:
		return compareNumber(v, *r.NumericGreaterThanEquals, gte), nil

	case r.BooleanEquals != nil:
		b, ok := v.(bool)
		return ok && b == *r.BooleanEquals, nil

	case r.TimestampEquals != nil:
		return compareTimestamp(v, *r.TimestampEquals, eq)
	case r.TimestampLessThan != nil:
		return compareTimestamp(v, *r.TimestampLessThan, lt)
	case r.TimestampGreaterThan != nil:
		return compareTimestamp(v, *r.TimestampGreaterThan, gt)
	case r.TimestampLessThanEquals != nil:
		return compareTimestamp(v, *r.TimestampLessThanEquals, lte)
	case r.TimestampGreaterThanEquals != nil:
		return compareTimestamp(v, *r.TimestampGreaterThanEquals, gte)
	}

	// Unreachable for validated programs.
	return false, asl.NewStatesError(asl.ErrorRuntime, "choice rule has no comparison")
}

type ordering int

const (
	lt ordering = iota
	lte
	eq
	gte
	gt
)

func holds(cmp int, o ordering) bool {
	switch o {
	case lt:
		return cmp < 0
	case lte:
		return cmp <= 0
	case eq:
		return cmp == 0
	case gte:
		return cmp >= 0
	default:
		return cmp > 0
	}
}

func compareString(v any, want string, o ordering) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	switch {
	case s < want:
		return holds(-1, o)
	case s > want:
		return holds(1, o)
	default:
		return holds(0, o)
	}
}

func compareNumber(v any, want float64, o ordering) bool {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case int:
		n = float64(x)
	default:
		return false
	}
	switch {
	case n < want:
		return holds(-1, o)
	case n > want:
		return holds(1, o)
	default:
		return holds(0, o)
	}
}

// compareTimestamp compares instants, not strings: "2020-01-01T00:00:00Z"
// and "2020-01-01T01:00:00+01:00" are equal. A malformed rule literal is a
// runtime error; a malformed document value makes the rule false.
func compareTimestamp(v any, want string, o ordering) (bool, error) {
	wantT, err := time.Parse(time.RFC3339, want)
	if err != nil {
		return false, asl.NewStatesErrorf(asl.ErrorRuntime,
			"timestamp comparison literal %q is not RFC3339: %s", want, err.Error()).WithWrapped(err)
	}
	s, ok := v.(string)
	if !ok {
		return false, nil
	}
	haveT, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return false, nil
	}
	switch {
	case haveT.Before(wantT):
		return holds(-1, o), nil
	case haveT.After(wantT):
		return holds(1, o), nil
	default:
		return holds(0, o), nil
	}
}
