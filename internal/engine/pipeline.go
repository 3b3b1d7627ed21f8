package engine

import (
	"context"
	"strings"

	"github.com/statelyvm/stately/internal/jsonpath"
	"github.com/statelyvm/stately/pkg/asl"
)

// The data-flow pipeline wraps every state's core behavior in the fixed
// order InputPath → Parameters → core → ResultPath → OutputPath. Each stage
// replaces the working document wholesale; nothing mutates in place.

// effectiveInput applies InputPath and Parameters to the state's raw input.
func effectiveInput(ctx context.Context, paths *jsonpath.Evaluator, st *asl.State, raw any, scope ContextScope) (any, error) {
	in := raw
	if st.InputPath != nil && *st.InputPath != "$" {
		v, err := paths.First(ctx, *st.InputPath, raw)
		if err != nil {
			return nil, err
		}
		in = v
	}

	if st.Parameters != nil {
		built, err := buildParameters(ctx, paths, st.Parameters, in, scope)
		if err != nil {
			return nil, err
		}
		in = built
	}
	return in, nil
}

// buildParameters constructs the Parameters payload. Keys ending in ".$"
// have their (path) values substituted: "$." paths select from the effective
// input, "$$." paths from the context scope. Plain values pass through,
// nested objects and arrays recurse.
func buildParameters(ctx context.Context, paths *jsonpath.Evaluator, params map[string]any, doc any, scope ContextScope) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for key, value := range params {
		if strings.HasSuffix(key, ".$") {
			pathExpr, ok := value.(string)
			if !ok {
				return nil, asl.NewStatesErrorf(asl.ErrorRuntime,
					"parameter %q must hold a path string, got %T", key, value)
			}
			resolved, err := resolveParameterPath(ctx, paths, pathExpr, doc, scope)
			if err != nil {
				return nil, err
			}
			out[strings.TrimSuffix(key, ".$")] = resolved
			continue
		}

		switch v := value.(type) {
		case map[string]any:
			nested, err := buildParameters(ctx, paths, v, doc, scope)
			if err != nil {
				return nil, err
			}
			out[key] = nested
		case []any:
			list := make([]any, len(v))
			for i, item := range v {
				if m, ok := item.(map[string]any); ok {
					nested, err := buildParameters(ctx, paths, m, doc, scope)
					if err != nil {
						return nil, err
					}
					list[i] = nested
				} else {
					list[i] = item
				}
			}
			out[key] = list
		default:
			out[key] = value
		}
	}
	return out, nil
}

func resolveParameterPath(ctx context.Context, paths *jsonpath.Evaluator, pathExpr string, doc any, scope ContextScope) (any, error) {
	if strings.HasPrefix(pathExpr, "$$") {
		return paths.First(ctx, pathExpr[1:], scope.Document())
	}
	return paths.First(ctx, pathExpr, doc)
}

// assembleOutput applies ResultPath and OutputPath around a state's result.
// ResultPath names where in the raw input the result lands ("$" replaces the
// whole document); OutputPath then filters what the next state sees.
func assembleOutput(ctx context.Context, paths *jsonpath.Evaluator, st *asl.State, raw, result any) (any, error) {
	merged := result
	if st.ResultPath != nil && *st.ResultPath != "$" {
		m, err := jsonpath.SetRef(raw, *st.ResultPath, result)
		if err != nil {
			return nil, err
		}
		merged = m
	}

	if st.OutputPath != nil && *st.OutputPath != "$" {
		v, err := paths.First(ctx, *st.OutputPath, merged)
		if err != nil {
			return nil, err
		}
		merged = v
	}
	return merged, nil
}
