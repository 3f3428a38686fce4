package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probo/internal/common"
)

// StageResult records the outcome of one stage (the Runner or one Differ)
type StageResult struct {
	Name   string
	State  Result
	Output string
}

// Options tune TestCase behavior
type Options struct {
	Controllers      []Controller
	ProgressInterval time.Duration
	IgnorePatterns   []string
}

// TestCase drives one Runner and its Differs through the progress state
// machine and classifies the outcome. Progress moves monotonically
// WAITING -> RUNNING -> FINISHED -> CLOSED; the result is set exactly once,
// by the worker that drives the case from RUNNING to FINISHED.
type TestCase struct {
	id          string
	runner      Runner
	controllers []Controller
	interval    time.Duration
	ignore      []string
	log         arbor.ILogger

	mu         sync.Mutex
	progress   Progress
	result     Result
	stages     []StageResult
	startTime  time.Time
	endTime    time.Time
	lastReport time.Time
}

// NewTestCase wraps a Runner (with its Differs already bound) in a fresh
// WAITING test case.
func NewTestCase(runner Runner, opts Options) *TestCase {
	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	controllers := opts.Controllers
	if controllers == nil {
		controllers = []Controller{NewPlatformController()}
	}
	return &TestCase{
		id:          common.NewCaseID(),
		runner:      runner,
		controllers: controllers,
		interval:    interval,
		ignore:      opts.IgnorePatterns,
		log:         common.GetLogger(),
		progress:    Waiting,
	}
}

// ID returns the unique id stamped at creation
func (tc *TestCase) ID() string {
	return tc.id
}

// Name returns the wrapped Runner's name
func (tc *TestCase) Name() string {
	return tc.runner.Name()
}

// Runner returns the wrapped Runner
func (tc *TestCase) Runner() Runner {
	return tc.runner
}

// Progress returns the current lifecycle state
func (tc *TestCase) Progress() Progress {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.progress
}

// Result returns the classified outcome (NoResult until FINISHED)
func (tc *TestCase) Result() Result {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.result
}

// Stages returns the per-stage results recorded by Execute
func (tc *TestCase) Stages() []StageResult {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]StageResult, len(tc.stages))
	copy(out, tc.stages)
	return out
}

// Elapsed returns the running (or final) wall-clock duration
func (tc *TestCase) Elapsed() time.Duration {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.elapsedLocked()
}

func (tc *TestCase) elapsedLocked() time.Duration {
	if tc.startTime.IsZero() {
		return 0
	}
	if tc.endTime.IsZero() {
		return time.Since(tc.startTime)
	}
	return tc.endTime.Sub(tc.startTime)
}

// SetResult records the final result and moves the case to FINISHED. The
// scheduler uses this directly for cases it never dispatches (skips, queue
// bookkeeping, aborts).
func (tc *TestCase) SetResult(result Result, stages []StageResult) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.progress >= Finished {
		return
	}
	tc.result = result
	tc.stages = stages
	tc.progress = Finished
	if tc.endTime.IsZero() {
		tc.endTime = time.Now()
	}
}

// OverrideResult replaces the recorded result regardless of progress. The
// scheduler uses this for timeout classification, batch aborts and results
// recovered from an external queue run.
func (tc *TestCase) OverrideResult(result Result) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.result = result
	if tc.progress < Finished {
		tc.progress = Finished
	}
	if tc.endTime.IsZero() {
		tc.endTime = time.Now()
	}
}

// SetElapsed overrides the recorded duration (used when results are
// recovered from an external queue run)
func (tc *TestCase) SetElapsed(d time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.endTime = time.Now()
	tc.startTime = tc.endTime.Add(-d)
}

// Execute drives the Runner and its Differs and records the aggregate
// result. A SKIP or failing Runner stops Differ execution; the final result
// is the worst of the executed stages.
func (tc *TestCase) Execute(ctx context.Context) Result {
	tc.mu.Lock()
	// Progress is monotonic; a case that already holds a result is never
	// re-run.
	if tc.progress >= Finished {
		result := tc.result
		tc.mu.Unlock()
		return result
	}
	tc.progress = Running
	tc.startTime = time.Now()
	tc.mu.Unlock()

	tc.log.Debug().Str("case", tc.Name()).Str("id", tc.id).Msg("Executing test case")

	var stages []StageResult

	state, out, rc := tc.executeRunner(ctx)
	stages = append(stages, StageResult{Name: tc.runner.Name(), State: state, Output: out})

	if state != Skip && state.ExitCode() == 0 {
		for _, differ := range tc.runner.Differs() {
			dState, dOut := tc.executeDiffer(ctx, differ, rc, out)
			stages = append(stages, StageResult{Name: differ.Name(), State: dState, Output: dOut})
			if dState != Skip {
				state = Worst(state, dState)
			}
		}
	}

	tc.SetResult(state, stages)
	return state
}

// runControllers performs the pre-execution controller check for one object.
// The returned result is NoResult when the object may run.
func (tc *TestCase) runControllers(obj Object) (Result, string) {
	out := NewCapture()

	obj.Reset()
	for _, ctrl := range tc.controllers {
		ctrl.Reset()
		ctrl.AttachSink(out)
	}
	obj.AttachSink(out)

	panicked, msg := safeCall(func() {
		for _, ctrl := range tc.controllers {
			if err := ctrl.Execute(obj); err != nil {
				if e, ok := ctrl.(interface{ Errorf(string, ...any) }); ok {
					e.Errorf("%v", err)
				}
			}
		}
	})
	if panicked {
		return Fatal, fmt.Sprintf("An unexpected panic occurred during execution of a controller with the '%s' object: %s\n%s", obj.Name(), msg, out.String())
	}

	for _, ctrl := range tc.controllers {
		if ctrl.Status() > 0 {
			return Fatal, fmt.Sprintf("An unexpected error was logged on the controller '%s' during execution with the supplied '%s' object.\n%s", ctrl.Name(), obj.Name(), out.String())
		}
	}
	if obj.Status() > 0 {
		return Fatal, fmt.Sprintf("An unexpected error was logged on the supplied object '%s' during execution of the controller check.\n%s", obj.Name(), out.String())
	}
	for _, ctrl := range tc.controllers {
		if !ctrl.IsRunnable() {
			return Skip, out.String()
		}
	}

	return NoResult, out.String()
}

// executeRunner runs the controller check, the expected-file bracketing and
// the Runner itself inside a capture scope.
func (tc *TestCase) executeRunner(ctx context.Context) (Result, string, int) {
	if state, out := tc.runControllers(tc.runner); state != NoResult {
		return state, out, 0
	}

	out := NewCapture()
	tc.runner.Reset()
	tc.runner.AttachSink(out)

	rb, hasFiles := tc.runner.(interface {
		PreExecute()
		PostExecute(ignorePatterns []string)
	})

	rc := 0
	var execErr error
	panicked, msg := safeCall(func() {
		if hasFiles {
			rb.PreExecute()
		}
		if tc.runner.Status() == 0 {
			rc, execErr = tc.runner.Execute(ctx)
		}
		if hasFiles {
			rb.PostExecute(tc.ignore)
		}
	})
	if panicked {
		return Exception, fmt.Sprintf("A panic occurred during execution of the '%s' object: %s\n%s", tc.runner.Name(), msg, out.String()), 0
	}
	if execErr != nil {
		return Error, fmt.Sprintf("An error occurred during execution of the '%s' object: %v\n%s", tc.runner.Name(), execErr, out.String()), rc
	}
	if tc.runner.Status() > 0 {
		return Error, fmt.Sprintf("An error was logged on the '%s' object during execution.\n%s", tc.runner.Name(), out.String()), rc
	}

	return Pass, out.String(), rc
}

// executeDiffer runs one Differ against the Runner's exit status and output
func (tc *TestCase) executeDiffer(ctx context.Context, differ Differ, rc int, runnerOut string) (Result, string) {
	if state, out := tc.runControllers(differ); state != NoResult {
		return state, out
	}

	out := NewCapture()
	differ.Reset()
	differ.AttachSink(out)

	var execErr error
	panicked, msg := safeCall(func() {
		execErr = differ.Execute(ctx, rc, runnerOut)
	})
	if panicked {
		return Exception, fmt.Sprintf("A panic occurred during execution of the '%s' object: %s\n%s", differ.Name(), msg, out.String())
	}
	if execErr != nil {
		return Error, fmt.Sprintf("An error occurred during execution of the '%s' object: %v\n%s", differ.Name(), execErr, out.String())
	}
	if differ.Status() > 0 {
		return Error, fmt.Sprintf("An error was logged on the '%s' object during execution.\n%s", differ.Name(), out.String())
	}

	return Pass, out.String()
}

// safeCall invokes fn, converting a panic into (true, message)
func safeCall(fn func()) (panicked bool, msg string) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			msg = fmt.Sprintf("%v", r)
		}
	}()
	fn()
	return false, ""
}
