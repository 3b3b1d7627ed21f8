package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/statelyvm/stately/pkg/asl"
)

// Heartbeat is called by long-running invokers to signal liveness. Each call
// resets the state's heartbeat timer.
type Heartbeat func()

// Invoker executes a task's external side effect. It returns the task result
// or an error; a *asl.StatesError keeps its classification, anything else is
// wrapped as States.TaskFailed.
type Invoker interface {
	Invoke(ctx context.Context, input any, beat Heartbeat) (any, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, input any, beat Heartbeat) (any, error)

func (f InvokerFunc) Invoke(ctx context.Context, input any, beat Heartbeat) (any, error) {
	return f(ctx, input, beat)
}

// Registry is the thread-safe mapping from resource identifier to Invoker.
type Registry struct {
	mu       sync.RWMutex
	invokers map[string]Invoker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{invokers: make(map[string]Invoker)}
}

// Register adds an invoker under a resource identifier. Duplicate
// registrations are rejected.
func (r *Registry) Register(resource string, inv Invoker) error {
	if resource == "" {
		return asl.NewStatesError(asl.ErrorRuntime, "resource identifier is empty")
	}
	if inv == nil {
		return asl.NewStatesErrorf(asl.ErrorRuntime, "invoker for %q is nil", resource)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.invokers[resource]; exists {
		return asl.NewStatesErrorf(asl.ErrorRuntime, "resource %q already registered", resource)
	}
	r.invokers[resource] = inv
	return nil
}

// Resolve looks up the invoker for a resource identifier.
func (r *Registry) Resolve(resource string) (Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invokers[resource]
	if !ok {
		return nil, asl.NewStatesErrorf(asl.ErrorTaskFailed, "resource %q is not registered", resource)
	}
	return inv, nil
}

// Resources returns the registered resource identifiers, sorted.
func (r *Registry) Resources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.invokers))
	for name := range r.invokers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin resource identifiers, registered by RegisterBuiltins. They cover
// the common needs of local runs and tests.
const (
	ResourceEcho  = "builtin:echo"
	ResourceSleep = "builtin:sleep"
	ResourceFail  = "builtin:fail"
)

// RegisterBuiltins installs the built-in invokers on a registry.
func RegisterBuiltins(r *Registry) error {
	builtins := map[string]Invoker{
		ResourceEcho: InvokerFunc(func(_ context.Context, input any, _ Heartbeat) (any, error) {
			return input, nil
		}),
		ResourceSleep: InvokerFunc(func(ctx context.Context, input any, beat Heartbeat) (any, error) {
			millis := 0.0
			if m, ok := input.(map[string]any); ok {
				if v, ok := m["millis"].(float64); ok {
					millis = v
				}
			}
			t := time.NewTimer(time.Duration(millis) * time.Millisecond)
			defer t.Stop()
			select {
			case <-t.C:
				beat()
				return input, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
		ResourceFail: InvokerFunc(func(_ context.Context, input any, _ Heartbeat) (any, error) {
			name, cause := asl.ErrorTaskFailed, "builtin failure"
			if m, ok := input.(map[string]any); ok {
				if v, ok := m["error"].(string); ok && v != "" {
					name = v
				}
				if v, ok := m["cause"].(string); ok {
					cause = v
				}
			}
			return nil, asl.NewStatesError(name, cause)
		}),
	}

	for resource, inv := range builtins {
		if err := r.Register(resource, inv); err != nil {
			return err
		}
	}
	return nil
}
