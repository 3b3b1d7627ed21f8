// Package engine interprets compiled programs: it walks states one at a time,
// threads the working document through each state's data-flow pipeline, and
// suspends instead of blocking whenever a delay is called for. Suspended
// executions hold no worker; a timer re-submits their continuation.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/statelyvm/stately/internal/jsonpath"
	"github.com/statelyvm/stately/internal/logging"
	"github.com/statelyvm/stately/internal/program"
	"github.com/statelyvm/stately/internal/timers"
	"github.com/statelyvm/stately/pkg/asl"
)

// DefaultPoolSize bounds concurrent interpreter steps when Config leaves
// PoolSize unset.
const DefaultPoolSize = 10

// errAborted is the internal sentinel a branch run returns when it was torn
// down by cancellation. It never surfaces to callers: cancellation ends an
// execution with status ABORTED, not with a failure.
var errAborted = asl.NewStatesError("States.Aborted", "execution aborted")

// Config carries interpreter tuning knobs.
type Config struct {
	// PoolSize bounds the number of concurrently running interpreter steps.
	PoolSize int
	// DefaultMapConcurrency applies to Map states that declare no
	// MaxConcurrency. Zero means unbounded.
	DefaultMapConcurrency int
	// Logger receives structured interpreter logs. Defaults to slog.Default
	// wrapped with correlation attributes.
	Logger *slog.Logger
	// Clock supplies the current time; tests override it.
	Clock func() time.Time
}

// Interpreter runs executions of compiled programs. One Interpreter serves
// many programs and many concurrent executions.
type Interpreter struct {
	cfg      Config
	paths    *jsonpath.Evaluator
	registry *Registry
	timers   *timers.Service
	pool     *Pool
	logger   *slog.Logger

	mu         sync.Mutex
	executions map[string]*Execution
}

// New creates an Interpreter over the given invoker registry and timer
// service. The caller owns the timer service's lifecycle.
func New(registry *Registry, tm *timers.Service, cfg Config) *Interpreter {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(logging.NewCorrelationHandler(slog.Default().Handler()))
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Interpreter{
		cfg:        cfg,
		paths:      jsonpath.New(),
		registry:   registry,
		timers:     tm,
		pool:       NewPool(cfg.PoolSize),
		logger:     cfg.Logger,
		executions: make(map[string]*Execution),
	}
}

// Execution is one in-flight or finished run of a program.
type Execution struct {
	ID string

	program  *program.Program
	env      *Environment
	recorder *Recorder
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex
	status  asl.ExecutionStatus
	current string
	wake    func()
	output  any
	failure *asl.StatesError
}

// Status returns the execution's current lifecycle status.
func (ex *Execution) Status() asl.ExecutionStatus {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.status
}

// CurrentState returns the name of the state most recently entered.
func (ex *Execution) CurrentState() string {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.current
}

// Outcome returns the terminal status, output, and failure. Output is only
// set for SUCCEEDED, failure only for FAILED.
func (ex *Execution) Outcome() (asl.ExecutionStatus, any, *asl.StatesError) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.status, ex.output, ex.failure
}

// History returns a snapshot of the ordered event history.
func (ex *Execution) History() []*asl.HistoryEvent {
	return ex.recorder.Events()
}

// Wait blocks until the execution reaches a terminal status or ctx is done.
func (ex *Execution) Wait(ctx context.Context) error {
	select {
	case <-ex.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort requests cancellation. Running work observes it at the next state
// boundary or suspension point; a suspended execution finishes immediately.
// Terminal executions are unaffected.
func (ex *Execution) Abort() {
	ex.env.Abort()

	ex.mu.Lock()
	suspended := ex.status == asl.StatusSuspended
	ex.mu.Unlock()

	ex.cancel()
	if suspended {
		ex.finalize(context.Background(), asl.StatusAborted, nil, nil)
	}
}

// finalize moves the execution to a terminal status exactly once, records the
// terminal event, and releases waiters.
func (ex *Execution) finalize(ctx context.Context, status asl.ExecutionStatus, output any, failure *asl.StatesError) {
	ex.mu.Lock()
	if ex.status.Terminal() || !CanTransition(ex.status, status) {
		ex.mu.Unlock()
		return
	}
	ex.status = status
	ex.output = output
	ex.failure = failure
	if ex.wake != nil {
		ex.wake()
		ex.wake = nil
	}
	ex.mu.Unlock()

	evType := statusEvent(status)
	if failure != nil && failure.Name == asl.ErrorTimeout {
		evType = asl.EventExecutionTimedOut
	}
	ex.env.record(ctx, &asl.HistoryEvent{
		Type:   evType,
		Output: jsonpath.Clone(output),
		Error:  failure,
	})
	ex.cancel()
	close(ex.done)
}

// StartExecution begins an asynchronous execution of prog with the given
// input document. The returned Execution is immediately queryable; use Wait
// to block for completion. Extra history sinks receive every event alongside
// the in-memory recorder.
func (itp *Interpreter) StartExecution(ctx context.Context, prog *program.Program, input any, extra ...HistorySink) (*Execution, error) {
	id := uuid.NewString()

	sinks := append([]HistorySink{NewRecorder()}, extra...)
	recorder := sinks[0].(*Recorder)
	sink := Tee(sinks...)

	var execCtx context.Context
	var cancel context.CancelFunc
	if prog.Timeout() > 0 {
		execCtx, cancel = context.WithTimeout(ctx, prog.Timeout())
	} else {
		execCtx, cancel = context.WithCancel(ctx)
	}
	execCtx = logging.WithExecutionID(execCtx, id)

	ex := &Execution{
		ID:       id,
		program:  prog,
		env:      NewEnvironment(id, itp.cfg.Clock(), input, sink),
		recorder: recorder,
		cancel:   cancel,
		done:     make(chan struct{}),
		status:   asl.StatusRunning,
		current:  prog.StartAt(),
	}

	ex.env.record(execCtx, &asl.HistoryEvent{
		Type:  asl.EventExecutionStarted,
		Input: jsonpath.Clone(input),
	})
	itp.logger.InfoContext(execCtx, "execution started", "start_at", prog.StartAt())

	itp.mu.Lock()
	itp.executions[id] = ex
	itp.mu.Unlock()

	rp := resumePoint{state: prog.StartAt(), phase: phaseEnter}
	if err := itp.pool.Submit(execCtx, func(ctx context.Context) { itp.drive(ctx, ex, rp) }); err != nil {
		itp.mu.Lock()
		delete(itp.executions, id)
		itp.mu.Unlock()
		cancel()
		return nil, err
	}
	return ex, nil
}

// Run executes prog synchronously and returns the final output. A FAILED
// execution returns its *asl.StatesError; an ABORTED one returns ctx's error.
func (itp *Interpreter) Run(ctx context.Context, prog *program.Program, input any, extra ...HistorySink) (any, *Execution, error) {
	ex, err := itp.StartExecution(ctx, prog, input, extra...)
	if err != nil {
		return nil, nil, err
	}
	if err := ex.Wait(ctx); err != nil {
		ex.Abort()
		return nil, ex, err
	}
	status, output, failure := ex.Outcome()
	switch status {
	case asl.StatusSucceeded:
		return output, ex, nil
	case asl.StatusFailed:
		return nil, ex, failure
	default:
		return nil, ex, errors.New("execution aborted")
	}
}

// Start launches an execution and returns only its id. It adapts
// StartExecution for callers that schedule starts without tracking the
// Execution handle.
func (itp *Interpreter) Start(ctx context.Context, prog *program.Program, input any) (string, error) {
	ex, err := itp.StartExecution(ctx, prog, input)
	if err != nil {
		return "", err
	}
	return ex.ID, nil
}

// Execution looks up a live or finished execution by id.
func (itp *Interpreter) Execution(id string) (*Execution, bool) {
	itp.mu.Lock()
	defer itp.mu.Unlock()
	ex, ok := itp.executions[id]
	return ex, ok
}

// Shutdown waits for in-flight steps to drain. Suspended executions are left
// suspended; their timers belong to the timer service.
func (itp *Interpreter) Shutdown() {
	itp.pool.Shutdown()
}

// resumePhase names where within a state's pipeline a continuation re-enters.
type resumePhase int

const (
	// phaseEnter runs the full pipeline from InputPath.
	phaseEnter resumePhase = iota
	// phaseCore re-runs the state's core behavior against the saved
	// effective input. Retries re-enter here: InputPath and Parameters are
	// not re-evaluated.
	phaseCore
	// phaseFinish resumes after a completed Wait; the result is known and
	// only ResultPath/OutputPath remain.
	phaseFinish
)

// resumePoint is the serializable position a suspended execution resumes at.
type resumePoint struct {
	state     string
	phase     resumePhase
	rawInput  any
	effective any
	result    any
}

type outcomeKind int

const (
	outcomeAdvance outcomeKind = iota
	outcomeSuspend
	outcomeSucceed
	outcomeFail
	outcomeAbort
)

// stepOutcome is the result of evaluating one state (or one phase of one).
type stepOutcome struct {
	kind    outcomeKind
	resume  resumePoint
	delay   time.Duration
	output  any
	failure *asl.StatesError
}

func advanceTo(next string) stepOutcome {
	return stepOutcome{kind: outcomeAdvance, resume: resumePoint{state: next, phase: phaseEnter}}
}

func suspendFor(delay time.Duration, rp resumePoint) stepOutcome {
	return stepOutcome{kind: outcomeSuspend, delay: delay, resume: rp}
}

func succeedWith(output any) stepOutcome {
	return stepOutcome{kind: outcomeSucceed, output: output}
}

func failWith(serr *asl.StatesError) stepOutcome {
	return stepOutcome{kind: outcomeFail, failure: serr}
}

// drive advances a top-level execution until it terminates or suspends.
// It runs on a pool worker; suspension hands off to a timer and returns.
func (itp *Interpreter) drive(ctx context.Context, ex *Execution, rp resumePoint) {
	for {
		o := itp.evalState(ctx, ex.program, ex.env, rp)
		switch o.kind {
		case outcomeAdvance:
			rp = o.resume
			ex.mu.Lock()
			ex.current = rp.state
			ex.mu.Unlock()

		case outcomeSuspend:
			itp.suspend(ctx, ex, o)
			return

		case outcomeSucceed:
			itp.logger.InfoContext(ctx, "execution succeeded")
			ex.finalize(ctx, asl.StatusSucceeded, o.output, nil)
			return

		case outcomeFail:
			itp.logger.WarnContext(ctx, "execution failed", "error", o.failure.Error())
			ex.finalize(ctx, asl.StatusFailed, nil, o.failure)
			return

		case outcomeAbort:
			itp.logger.InfoContext(ctx, "execution aborted")
			ex.finalize(ctx, asl.StatusAborted, nil, nil)
			return
		}
	}
}

// suspend parks the execution and schedules its continuation. A suspension
// that outlives the execution deadline wakes at the deadline and fails with
// States.Timeout instead of resuming the state.
func (itp *Interpreter) suspend(ctx context.Context, ex *Execution, o stepOutcome) {
	delay := o.delay
	clipped := false
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < delay {
			delay = remaining
			clipped = true
		}
	}

	ex.mu.Lock()
	if ex.status.Terminal() {
		ex.mu.Unlock()
		return
	}
	if ex.env.Aborted() {
		// Abort landed between the state producing this outcome and the timer
		// being armed. Parking the execution now would leave it suspended for
		// the full delay with nothing left to cancel the wake.
		ex.mu.Unlock()
		ex.finalize(ctx, asl.StatusAborted, nil, nil)
		return
	}
	ex.status = asl.StatusSuspended
	rp := o.resume
	wake := func() { itp.resume(ctx, ex, rp) }
	if clipped {
		// The execution deadline lands inside this suspension. Waking into
		// the state's remaining phases would let it finish under the wire, so
		// the wake fails the execution instead of resuming it.
		wake = func() { itp.expireSuspended(ctx, ex) }
	}
	ex.wake = itp.timers.AfterFunc(delay, wake)
	ex.mu.Unlock()

	itp.logger.DebugContext(ctx, "execution suspended", "state", rp.state, "delay", delay.String())
}

// expireSuspended fails a still-suspended execution whose deadline elapsed
// mid-suspension. Runs on the timer goroutine.
func (itp *Interpreter) expireSuspended(ctx context.Context, ex *Execution) {
	ex.mu.Lock()
	if ex.status != asl.StatusSuspended {
		ex.mu.Unlock()
		return
	}
	ex.wake = nil
	ex.mu.Unlock()

	ex.finalize(ctx, asl.StatusFailed, nil, asl.NewStatesError(asl.ErrorTimeout, "execution timed out"))
}

// resume transitions a suspended execution back to RUNNING and re-submits its
// continuation. Runs on the timer goroutine.
func (itp *Interpreter) resume(ctx context.Context, ex *Execution, rp resumePoint) {
	ex.mu.Lock()
	if ex.status != asl.StatusSuspended {
		ex.mu.Unlock()
		return
	}
	ex.status = asl.StatusRunning
	ex.wake = nil
	ex.mu.Unlock()

	if err := itp.pool.Submit(ctx, func(ctx context.Context) { itp.drive(ctx, ex, rp) }); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			ex.finalize(ctx, asl.StatusFailed, nil, asl.NewStatesError(asl.ErrorTimeout, "execution timed out"))
			return
		}
		ex.finalize(ctx, asl.StatusAborted, nil, nil)
	}
}

// runSync drives a branch program to completion on the caller's goroutine.
// Branch waits block via the timer service instead of suspending: the branch
// already occupies a bounded slot of its parent state.
func (itp *Interpreter) runSync(ctx context.Context, prog *program.Program, env *Environment) (any, *asl.StatesError) {
	rp := resumePoint{state: prog.StartAt(), phase: phaseEnter}
	for {
		o := itp.evalState(ctx, prog, env, rp)
		switch o.kind {
		case outcomeAdvance:
			rp = o.resume

		case outcomeSuspend:
			if err := itp.timers.Sleep(ctx, o.delay); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return nil, asl.NewStatesError(asl.ErrorTimeout, "execution timed out")
				}
				return nil, errAborted
			}
			rp = o.resume

		case outcomeSucceed:
			return o.output, nil

		case outcomeFail:
			return nil, o.failure

		case outcomeAbort:
			return nil, errAborted
		}
	}
}

// boundary checks cancellation and deadline at state boundaries. A nil return
// means proceed.
func (itp *Interpreter) boundary(ctx context.Context, env *Environment) *stepOutcome {
	if env.Aborted() {
		o := stepOutcome{kind: outcomeAbort}
		return &o
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			o := failWith(asl.NewStatesError(asl.ErrorTimeout, "execution timed out"))
			return &o
		}
		o := stepOutcome{kind: outcomeAbort}
		return &o
	}
	return nil
}

// evalState evaluates one state starting at the given resume phase and
// returns how the execution proceeds. It performs at most one suspension's
// worth of work: a Wait with remaining delay returns a suspend outcome rather
// than blocking.
func (itp *Interpreter) evalState(ctx context.Context, prog *program.Program, env *Environment, rp resumePoint) stepOutcome {
	if o := itp.boundary(ctx, env); o != nil {
		return *o
	}

	node, ok := prog.Node(rp.state)
	if !ok {
		return failWith(asl.NewStatesErrorf(asl.ErrorRuntime, "state %q does not exist", rp.state).WithState(rp.state))
	}
	st := node.State
	env.Scope.StateName = rp.state
	ctx = logging.WithStateName(ctx, rp.state)

	raw := rp.rawInput
	effective := rp.effective

	if rp.phase == phaseEnter {
		raw = env.Doc
		env.record(ctx, &asl.HistoryEvent{Type: asl.EventStateEntered, State: rp.state, Input: jsonpath.Clone(raw)})

		in, err := effectiveInput(ctx, itp.paths, st, raw, env.Scope)
		if err != nil {
			return itp.stateError(ctx, env, node, raw, nil, phaseEnter, asl.AsStatesError(err, asl.ErrorRuntime))
		}
		effective = in
	}

	var result any
	if rp.phase == phaseFinish {
		env.record(ctx, &asl.HistoryEvent{Type: asl.EventWaitCompleted, State: rp.state})
		result = rp.result
	} else {
		var serr *asl.StatesError
		switch st.Type {
		case asl.StateTypeTask:
			result, serr = itp.invokeTask(ctx, node, env, effective)

		case asl.StateTypePass:
			if len(st.Result) > 0 {
				var v any
				if err := json.Unmarshal(st.Result, &v); err != nil {
					serr = asl.NewStatesErrorf(asl.ErrorRuntime, "Result is not valid JSON: %s", err.Error()).WithWrapped(err)
				} else {
					result = v
				}
			} else {
				result = effective
			}

		case asl.StateTypeWait:
			delay, err := resolveWait(ctx, itp.paths, st, effective, itp.cfg.Clock())
			switch {
			case err != nil:
				serr = asl.AsStatesError(err, asl.ErrorRuntime)
			case delay > 0:
				env.record(ctx, &asl.HistoryEvent{Type: asl.EventWaitScheduled, State: rp.state})
				return suspendFor(delay, resumePoint{
					state:    rp.state,
					phase:    phaseFinish,
					rawInput: raw,
					result:   effective,
				})
			default:
				result = effective
			}

		case asl.StateTypeChoice:
			next, err := evaluateChoices(ctx, itp.paths, st, effective)
			if err != nil {
				serr = asl.AsStatesError(err, asl.ErrorRuntime)
			} else {
				out, aerr := assembleOutput(ctx, itp.paths, st, raw, effective)
				if aerr != nil {
					serr = asl.AsStatesError(aerr, asl.ErrorRuntime)
				} else {
					env.Doc = out
					env.record(ctx, &asl.HistoryEvent{Type: asl.EventStateExited, State: rp.state, Output: jsonpath.Clone(out)})
					return advanceTo(next)
				}
			}

		case asl.StateTypeSucceed:
			result = effective

		case asl.StateTypeFail:
			name := st.Error
			if name == "" {
				name = asl.ErrorRuntime
			}
			serr = asl.NewStatesError(name, st.Cause)

		case asl.StateTypeParallel:
			result, serr = itp.runParallel(ctx, env, node, effective)

		case asl.StateTypeMap:
			result, serr = itp.runMap(ctx, env, node, effective)
		}

		if serr != nil {
			if serr == errAborted {
				return stepOutcome{kind: outcomeAbort}
			}
			return itp.stateError(ctx, env, node, raw, effective, phaseCore, serr)
		}
	}

	out, err := assembleOutput(ctx, itp.paths, st, raw, result)
	if err != nil {
		return itp.stateError(ctx, env, node, raw, effective, phaseCore, asl.AsStatesError(err, asl.ErrorRuntime))
	}

	env.Doc = out
	env.ResetAttempts(rp.state)
	env.record(ctx, &asl.HistoryEvent{Type: asl.EventStateExited, State: rp.state, Output: jsonpath.Clone(out)})

	if st.Terminal() {
		return succeedWith(out)
	}
	return advanceTo(st.Next)
}

// stateError routes a state failure through Retry then Catch. A matching
// retrier with attempts left suspends the execution for the backoff delay and
// re-enters at the given phase; a matching catcher writes the error object at
// its ResultPath and advances; otherwise the failure terminates the execution.
// Fail states never reach retriers or catchers: validation forbids them.
func (itp *Interpreter) stateError(ctx context.Context, env *Environment, node *program.Node, raw, effective any, retryPhase resumePhase, serr *asl.StatesError) stepOutcome {
	if serr.State == "" {
		serr.WithState(node.Name)
	}
	env.record(ctx, &asl.HistoryEvent{Type: asl.EventStateFailed, State: node.Name, Error: serr})

	// Cancellation and deadline short-circuit Retry/Catch.
	if o := itp.boundary(ctx, env); o != nil {
		return *o
	}

	st := node.State
	if r := findRetrier(st.Retry, serr.Name); r != nil {
		if env.Attempts(node.Name) < r.Attempts() {
			attempt := env.RecordAttempt(node.Name)
			delay := backoffDelay(r, attempt)
			env.record(ctx, &asl.HistoryEvent{Type: asl.EventStateRetried, State: node.Name, Error: serr})
			itp.logger.DebugContext(ctx, "retry scheduled",
				"error", serr.Name, "attempt", attempt, "delay", delay.String())
			return suspendFor(delay, resumePoint{
				state:     node.Name,
				phase:     retryPhase,
				rawInput:  raw,
				effective: effective,
			})
		}
	}

	if c := findCatcher(st.Catch, serr.Name); c != nil {
		refPath := "$"
		if c.ResultPath != nil {
			refPath = *c.ResultPath
		}
		merged, err := jsonpath.SetRef(raw, refPath, serr.Object())
		if err != nil {
			return failWith(asl.AsStatesError(err, asl.ErrorRuntime).WithState(node.Name))
		}
		env.Doc = merged
		env.ResetAttempts(node.Name)
		env.Failure = nil
		env.record(ctx, &asl.HistoryEvent{Type: asl.EventStateCaught, State: node.Name, Error: serr, Output: jsonpath.Clone(merged)})
		return advanceTo(c.Next)
	}

	env.Failure = serr
	return failWith(serr)
}

// invokeTask resolves and invokes a Task's resource with the effective input,
// enforcing TimeoutSeconds and HeartbeatSeconds. A missed heartbeat classifies
// as States.HeartbeatTimeout, an elapsed task timeout as States.Timeout; other
// invoker errors keep their StatesError classification or default to
// States.TaskFailed.
func (itp *Interpreter) invokeTask(ctx context.Context, node *program.Node, env *Environment, input any) (any, *asl.StatesError) {
	st := node.State

	inv, err := itp.registry.Resolve(st.Resource)
	if err != nil {
		return nil, asl.AsStatesError(err, asl.ErrorTaskFailed)
	}

	env.record(ctx, &asl.HistoryEvent{Type: asl.EventTaskScheduled, State: node.Name, Input: jsonpath.Clone(input)})

	taskCtx := ctx
	if st.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, time.Duration(st.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	beat := Heartbeat(func() {})
	heartbeatExpired := make(chan struct{})
	if st.HeartbeatSeconds > 0 {
		interval := time.Duration(st.HeartbeatSeconds) * time.Second
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithCancel(taskCtx)
		defer cancel()

		var once sync.Once
		hb := time.AfterFunc(interval, func() {
			once.Do(func() { close(heartbeatExpired) })
			cancel()
		})
		defer hb.Stop()
		beat = func() { hb.Reset(interval) }
	}

	result, invErr := inv.Invoke(taskCtx, input, beat)
	if invErr == nil {
		env.record(ctx, &asl.HistoryEvent{Type: asl.EventTaskSucceeded, State: node.Name, Output: jsonpath.Clone(result)})
		return result, nil
	}

	var serr *asl.StatesError
	expired := false
	select {
	case <-heartbeatExpired:
		expired = true
	default:
	}
	switch {
	case expired:
		serr = asl.NewStatesErrorf(asl.ErrorHeartbeatTimeout,
			"no heartbeat within %ds", st.HeartbeatSeconds)
	case errors.Is(invErr, context.DeadlineExceeded) && ctx.Err() == nil:
		serr = asl.NewStatesErrorf(asl.ErrorTimeout,
			"task did not complete within %ds", st.TimeoutSeconds)
	default:
		serr = asl.AsStatesError(invErr, asl.ErrorTaskFailed)
	}
	env.record(ctx, &asl.HistoryEvent{Type: asl.EventTaskFailed, State: node.Name, Error: serr})
	return nil, serr
}
