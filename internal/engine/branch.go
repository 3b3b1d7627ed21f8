package engine

import (
	"context"
	"sync"

	"github.com/statelyvm/stately/internal/jsonpath"
	"github.com/statelyvm/stately/internal/program"
	"github.com/statelyvm/stately/pkg/asl"
)

// runParallel executes every declared branch against an independent copy of
// the state's effective input. The first branch failure cancels all
// still-running siblings, their partial results are discarded, and the failure
// propagates through the Parallel state's own Retry/Catch. On success the
// result is the ordered list of branch outputs, position preserved.
func (itp *Interpreter) runParallel(ctx context.Context, env *Environment, node *program.Node, input any) (any, *asl.StatesError) {
	env.record(ctx, &asl.HistoryEvent{Type: asl.EventBranchStarted, State: node.Name})

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outputs := make([]any, len(node.Branches))
	failures := make([]*asl.StatesError, len(node.Branches))
	var wg sync.WaitGroup

	for i := range node.Branches {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			benv := env.BranchEnv(jsonpath.Clone(input))
			out, serr := itp.runSync(branchCtx, node.Branches[idx], benv)
			if serr != nil {
				failures[idx] = serr
				cancel()
				return
			}
			outputs[idx] = out
		}(i)
	}
	wg.Wait()

	return itp.joinBranches(ctx, env, node, outputs, failures)
}

// runMap evaluates ItemsPath against the state's effective input and runs one
// iterator execution per element, bounded by MaxConcurrency. Output order
// matches input order regardless of completion order; failure semantics are
// the same as Parallel.
func (itp *Interpreter) runMap(ctx context.Context, env *Environment, node *program.Node, input any) (any, *asl.StatesError) {
	itemsPath := node.State.ItemsPath
	if itemsPath == "" {
		itemsPath = "$"
	}
	v, err := itp.paths.First(ctx, itemsPath, input)
	if err != nil {
		return nil, asl.AsStatesError(err, asl.ErrorRuntime)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, asl.NewStatesErrorf(asl.ErrorRuntime,
			"ItemsPath %q must resolve to an array, got %T", itemsPath, v)
	}

	env.record(ctx, &asl.HistoryEvent{Type: asl.EventBranchStarted, State: node.Name})

	limit := itp.cfg.DefaultMapConcurrency
	if node.State.MaxConcurrency != nil && *node.State.MaxConcurrency > 0 {
		limit = *node.State.MaxConcurrency
	}
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	if limit == 0 {
		limit = 1
	}

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outputs := make([]any, len(items))
	failures := make([]*asl.StatesError, len(items))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i := range items {
		select {
		case sem <- struct{}{}:
		case <-branchCtx.Done():
		}
		if branchCtx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			benv := env.BranchEnv(jsonpath.Clone(items[idx]))
			out, serr := itp.runSync(branchCtx, node.Iterator, benv)
			if serr != nil {
				failures[idx] = serr
				cancel()
				return
			}
			outputs[idx] = out
		}(i)
	}
	wg.Wait()

	return itp.joinBranches(ctx, env, node, outputs, failures)
}

// joinBranches reduces per-branch results to the state's outcome: the first
// real failure wins, cancellation propagates as abort, otherwise the ordered
// output list.
func (itp *Interpreter) joinBranches(ctx context.Context, env *Environment, node *program.Node, outputs []any, failures []*asl.StatesError) (any, *asl.StatesError) {
	for _, serr := range failures {
		if serr != nil && serr != errAborted {
			env.record(ctx, &asl.HistoryEvent{Type: asl.EventBranchFailed, State: node.Name, Error: serr})
			return nil, asl.NewStatesErrorf(asl.ErrorBranchFailed,
				"branch failed: %s", serr.Error()).WithWrapped(serr)
		}
	}
	if env.Aborted() || ctx.Err() != nil {
		return nil, errAborted
	}
	env.record(ctx, &asl.HistoryEvent{Type: asl.EventBranchSucceeded, State: node.Name})
	return outputs, nil
}
