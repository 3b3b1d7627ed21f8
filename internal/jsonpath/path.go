// Package jsonpath evaluates the path expressions used throughout a state
// machine: InputPath/OutputPath/ItemsPath extraction, Parameters substitution,
// Choice variables, and ResultPath merging.
//
// Read paths are translated to jq programs and evaluated with gojq; compiled
// programs are cached and reused across goroutines. Write (reference) paths
// are applied with gabs, see ref.go.
package jsonpath

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/statelyvm/stately/pkg/asl"
)

// Evaluator evaluates path expressions against a working document.
// Thread-safe: compiled *gojq.Code objects are cached under an RWMutex.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// New creates an Evaluator with an empty compile cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*gojq.Code)}
}

// Evaluate returns the ordered sequence of matches for path against doc.
// A path addressing nothing yields an empty slice, not an error. Literal
// null results are treated as non-matches: the supported subset cannot
// distinguish an explicit null from an absent key.
func (e *Evaluator) Evaluate(ctx context.Context, path string, doc any) ([]any, error) {
	if path == "$" {
		return []any{doc}, nil
	}

	code, err := e.getOrCompile(path)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, doc)
	var matches []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if evalErr, isErr := v.(error); isErr {
			return nil, asl.NewStatesErrorf(asl.ErrorRuntime,
				"path %q evaluation failed: %s", path, evalErr.Error()).WithWrapped(evalErr)
		}
		if v == nil {
			continue
		}
		matches = append(matches, v)
	}
	return matches, nil
}

// First returns the first match for path, failing with a runtime error when
// the path addresses nothing. When a path matches several nodes the first
// match is authoritative.
func (e *Evaluator) First(ctx context.Context, path string, doc any) (any, error) {
	matches, err := e.Evaluate(ctx, path, doc)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, asl.NewStatesErrorf(asl.ErrorRuntime, "path %q yields no result", path)
	}
	return matches[0], nil
}

func (e *Evaluator) getOrCompile(path string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[path]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	query, err := translate(path)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[path]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, asl.NewStatesErrorf(asl.ErrorRuntime,
			"path %q is not a supported expression: %s", path, err.Error()).WithWrapped(err)
	}
	code, err := gojq.Compile(parsed,
		// Block $ENV and env access from path expressions.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, asl.NewStatesErrorf(asl.ErrorRuntime,
			"path %q does not compile: %s", path, err.Error()).WithWrapped(err)
	}

	e.cache[path] = code
	return code, nil
}

// translate converts the supported path subset into a jq program.
// Supported: "$", dot fields ($.a.b), bracket fields ($['a']), numeric
// indices ($.a[0]) and the wildcard index ($.items[*]).
func translate(path string) (string, error) {
	if !strings.HasPrefix(path, "$") {
		return "", asl.NewStatesErrorf(asl.ErrorRuntime, "path %q must start with '$'", path)
	}
	rest := path[1:]
	if rest == "" {
		return ".", nil
	}

	var segs []string
	i := 0
	for i < len(rest) {
		switch rest[i] {
		case '.':
			j := i + 1
			for j < len(rest) && rest[j] != '.' && rest[j] != '[' {
				j++
			}
			name := rest[i+1 : j]
			if name == "" {
				return "", asl.NewStatesErrorf(asl.ErrorRuntime, "path %q has an empty field segment", path)
			}
			segs = append(segs, fmt.Sprintf(".[%q]?", name))
			i = j
		case '[':
			j := strings.IndexByte(rest[i:], ']')
			if j < 0 {
				return "", asl.NewStatesErrorf(asl.ErrorRuntime, "path %q has an unterminated bracket", path)
			}
			inner := rest[i+1 : i+j]
			switch {
			case inner == "*":
				segs = append(segs, ".[]?")
			case len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"'):
				if inner[len(inner)-1] != inner[0] {
					return "", asl.NewStatesErrorf(asl.ErrorRuntime, "path %q has a malformed quoted segment", path)
				}
				segs = append(segs, fmt.Sprintf(".[%q]?", inner[1:len(inner)-1]))
			default:
				idx, err := strconv.Atoi(inner)
				if err != nil {
					return "", asl.NewStatesErrorf(asl.ErrorRuntime, "path %q has a non-integer index %q", path, inner)
				}
				segs = append(segs, fmt.Sprintf(".[%d]?", idx))
			}
			i += j + 1
		default:
			return "", asl.NewStatesErrorf(asl.ErrorRuntime, "path %q has an unexpected character %q", path, rest[i])
		}
	}
	return strings.Join(segs, " | "), nil
}
