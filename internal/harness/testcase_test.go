package harness

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	RunnerBase
	execute func(r *fakeRunner, ctx context.Context) (int, error)
	calls   int
}

func (r *fakeRunner) Execute(ctx context.Context) (int, error) {
	r.calls++
	return r.execute(r, ctx)
}

func newFakeRunner(t *testing.T, name string, execute func(r *fakeRunner, ctx context.Context) (int, error)) *fakeRunner {
	t.Helper()
	set := RunnerParams()
	require.NoError(t, set.Set("name", name))
	return &fakeRunner{RunnerBase: NewRunnerBase(set), execute: execute}
}

type fakeDiffer struct {
	DifferBase
	execute func(d *fakeDiffer, exitCode int, output string) error
	calls   int
}

func (d *fakeDiffer) Execute(ctx context.Context, exitCode int, output string) error {
	d.calls++
	if d.execute == nil {
		return nil
	}
	return d.execute(d, exitCode, output)
}

func newFakeDiffer(t *testing.T, name string, execute func(d *fakeDiffer, exitCode int, output string) error) *fakeDiffer {
	t.Helper()
	set := DifferParams()
	require.NoError(t, set.Set("name", name))
	return &fakeDiffer{DifferBase: NewDifferBase(set), execute: execute}
}

func TestExecutePass(t *testing.T) {
	runner := newFakeRunner(t, "a", func(r *fakeRunner, ctx context.Context) (int, error) {
		fmt.Fprintln(r.Sink(), "hello")
		return 0, nil
	})

	tc := NewTestCase(runner, Options{})
	assert.Equal(t, Waiting, tc.Progress())
	assert.Equal(t, NoResult, tc.Result())

	result := tc.Execute(context.Background())
	assert.Equal(t, Pass, result)
	assert.Equal(t, Finished, tc.Progress())
	assert.Equal(t, Pass, tc.Result())

	stages := tc.Stages()
	require.Len(t, stages, 1)
	assert.Equal(t, "a", stages[0].Name)
	assert.Equal(t, "hello\n", stages[0].Output)
}

func TestExecuteError(t *testing.T) {
	runner := newFakeRunner(t, "a", func(r *fakeRunner, ctx context.Context) (int, error) {
		r.Errorf("something went wrong")
		return 1, nil
	})

	tc := NewTestCase(runner, Options{})
	assert.Equal(t, Error, tc.Execute(context.Background()))

	stages := tc.Stages()
	require.Len(t, stages, 1)
	assert.Contains(t, stages[0].Output, "something went wrong")
}

func TestExecuteReturnedError(t *testing.T) {
	runner := newFakeRunner(t, "a", func(r *fakeRunner, ctx context.Context) (int, error) {
		return 1, errors.New("boom")
	})

	tc := NewTestCase(runner, Options{})
	assert.Equal(t, Error, tc.Execute(context.Background()))
}

func TestExecuteException(t *testing.T) {
	runner := newFakeRunner(t, "a", func(r *fakeRunner, ctx context.Context) (int, error) {
		panic("kaboom")
	})

	tc := NewTestCase(runner, Options{})
	assert.Equal(t, Exception, tc.Execute(context.Background()))

	stages := tc.Stages()
	require.Len(t, stages, 1)
	assert.Contains(t, stages[0].Output, "kaboom")
}

func TestExecuteSkip(t *testing.T) {
	runner := newFakeRunner(t, "a", func(r *fakeRunner, ctx context.Context) (int, error) {
		return 0, nil
	})
	differ := newFakeDiffer(t, "d", nil)
	runner.BindDiffers([]Differ{differ})

	ctrl := NewPlatformController()
	tc := NewTestCase(runner, Options{Controllers: []Controller{&alwaysSkip{ctrl}}})

	assert.Equal(t, Skip, tc.Execute(context.Background()))
	assert.Zero(t, runner.calls, "a skipped runner never executes")
	assert.Zero(t, differ.calls, "differs do not run after a runner skip")
}

// alwaysSkip wraps the platform controller and refuses every object
type alwaysSkip struct {
	*PlatformController
}

func (c *alwaysSkip) Execute(obj Object) error {
	c.Skip("not on this host")
	return nil
}

func TestDifferAggregation(t *testing.T) {
	runner := newFakeRunner(t, "a", func(r *fakeRunner, ctx context.Context) (int, error) {
		fmt.Fprintln(r.Sink(), "output")
		return 3, nil
	})

	var gotCode int
	var gotOut string
	good := newFakeDiffer(t, "good", func(d *fakeDiffer, exitCode int, output string) error {
		gotCode, gotOut = exitCode, output
		return nil
	})
	bad := newFakeDiffer(t, "bad", func(d *fakeDiffer, exitCode int, output string) error {
		d.Errorf("mismatch")
		return nil
	})
	runner.BindDiffers([]Differ{good, bad})

	tc := NewTestCase(runner, Options{})
	assert.Equal(t, Error, tc.Execute(context.Background()))

	// Differs observe the runner's complete output and final exit status
	assert.Equal(t, 3, gotCode)
	assert.Equal(t, "output\n", gotOut)

	stages := tc.Stages()
	require.Len(t, stages, 3)
	assert.Equal(t, Pass, stages[0].State)
	assert.Equal(t, Pass, stages[1].State)
	assert.Equal(t, Error, stages[2].State)
}

func TestDiffersSkippedAfterRunnerFailure(t *testing.T) {
	runner := newFakeRunner(t, "a", func(r *fakeRunner, ctx context.Context) (int, error) {
		r.Errorf("failed")
		return 1, nil
	})
	differ := newFakeDiffer(t, "d", nil)
	runner.BindDiffers([]Differ{differ})

	tc := NewTestCase(runner, Options{})
	assert.Equal(t, Error, tc.Execute(context.Background()))
	assert.Zero(t, differ.calls)
}

func TestExecuteNotReentrant(t *testing.T) {
	runner := newFakeRunner(t, "a", func(r *fakeRunner, ctx context.Context) (int, error) {
		return 0, nil
	})
	tc := NewTestCase(runner, Options{})
	tc.SetResult(Skip, nil)

	// A case that already holds a result is never re-run
	assert.Equal(t, Skip, tc.Execute(context.Background()))
	assert.Zero(t, runner.calls)
	assert.Equal(t, Finished, tc.Progress())
}

func TestResultSetOnce(t *testing.T) {
	runner := newFakeRunner(t, "a", func(r *fakeRunner, ctx context.Context) (int, error) {
		return 0, nil
	})
	tc := NewTestCase(runner, Options{})
	tc.Execute(context.Background())

	tc.SetResult(Fatal, nil)
	assert.Equal(t, Pass, tc.Result(), "SetResult after FINISHED is ignored")
}

func TestOverrideResult(t *testing.T) {
	runner := newFakeRunner(t, "a", func(r *fakeRunner, ctx context.Context) (int, error) {
		return 0, nil
	})
	tc := NewTestCase(runner, Options{})
	tc.Execute(context.Background())

	tc.OverrideResult(Error)
	assert.Equal(t, Error, tc.Result())
}

func TestSetElapsed(t *testing.T) {
	runner := newFakeRunner(t, "a", func(r *fakeRunner, ctx context.Context) (int, error) {
		return 0, nil
	})
	tc := NewTestCase(runner, Options{})
	tc.SetResult(Pass, nil)
	tc.SetElapsed(90 * time.Second)
	assert.InDelta(t, 90, tc.Elapsed().Seconds(), 1)
}
