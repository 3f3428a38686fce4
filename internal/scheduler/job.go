package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/probo/internal/harness"
)

// Job wraps a TestCase with scheduling metadata: prerequisites, slot
// demand, the skip flag, human-readable caveats and scheduler-private
// metadata such as queue-submission artifacts.
type Job struct {
	Case    *harness.TestCase
	TestDir string
	Prereqs []string
	Slots   int
	Timeout time.Duration

	mu         sync.Mutex
	skip       bool
	skipReason string
	caveats    []string
	meta       map[string]any
	override   func(ctx context.Context) error
	cancel     context.CancelFunc
	dispatched bool
}

// NewJob derives the scheduling metadata from the runner's parameters
func NewJob(tc *harness.TestCase, source string, defaultTimeout time.Duration) *Job {
	p := tc.Runner().Parameters()

	slots := p.GetInt("slots")
	if slots < 1 {
		slots = 1
	}

	timeout := defaultTimeout
	if maxTime := p.GetFloat("max_time"); maxTime > 0 {
		timeout = time.Duration(maxTime * float64(time.Second))
	}

	return &Job{
		Case:    tc,
		TestDir: filepath.Dir(source),
		Prereqs: p.GetStrings("prereq"),
		Slots:   slots,
		Timeout: timeout,
		meta:    make(map[string]any),
	}
}

// Name returns the wrapped case's name
func (j *Job) Name() string {
	return j.Case.Name()
}

// SetSkip marks the job to be skipped with the given reason
func (j *Job) SetSkip(reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.skip = true
	j.skipReason = reason
}

// IsSkip reports whether the job is marked to be skipped
func (j *Job) IsSkip() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.skip
}

// SkipReason returns the reason recorded by SetSkip
func (j *Job) SkipReason() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.skipReason
}

// AddCaveat appends a human-readable modifier to the job
func (j *Job) AddCaveat(caveat string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.caveats = append(j.caveats, caveat)
}

// Caveats returns the recorded modifiers
func (j *Job) Caveats() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.caveats))
	copy(out, j.caveats)
	return out
}

// ClearCaveats removes every recorded modifier
func (j *Job) ClearCaveats() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.caveats = nil
}

// SetMeta stores a scheduler-private metadata value
func (j *Job) SetMeta(key string, value any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.meta[key] = value
}

// Meta returns a scheduler-private metadata value
func (j *Job) Meta(key string) any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.meta[key]
}

// SetOverride replaces the case's normal execution with fn (queue-mode
// executors submit to the external system instead of running the test)
func (j *Job) SetOverride(fn func(ctx context.Context) error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.override = fn
}

// markDispatched takes the job out of the dispatcher's hands; the
// dispatcher will never pass it to a worker.
func (j *Job) markDispatched() {
	j.mu.Lock()
	j.dispatched = true
	j.mu.Unlock()
}

// finish records an out-of-band result (queue bookkeeping, cleanup) and
// marks the job dispatched so the dispatcher never hands it to a worker.
func (j *Job) finish(result harness.Result) {
	j.markDispatched()
	j.Case.SetResult(result, nil)
}

// Finished reports whether the case reached FINISHED or CLOSED
func (j *Job) Finished() bool {
	return j.Case.Progress() >= harness.Finished
}

// Failing reports whether the case finished with a failing result
func (j *Job) Failing() bool {
	return j.Finished() && j.Case.Result().ExitCode() != 0
}

func (j *Job) setCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// Cancel requests a cooperative stop of the running case
func (j *Job) Cancel() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
