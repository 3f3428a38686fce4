package scheduler

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/probo/internal/factory"
	"github.com/ternarybob/probo/internal/harness"
)

type fakeRunner struct {
	harness.RunnerBase
	execute func(r *fakeRunner, ctx context.Context) (int, error)
	calls   atomic.Int32
}

func (r *fakeRunner) Execute(ctx context.Context) (int, error) {
	r.calls.Add(1)
	if r.execute == nil {
		return 0, nil
	}
	return r.execute(r, ctx)
}

type runnerOption func(t *testing.T, r *fakeRunner)

func withPrereq(names ...string) runnerOption {
	return func(t *testing.T, r *fakeRunner) {
		require.NoError(t, r.Parameters().Set("prereq", names))
	}
}

func withMaxTime(seconds float64) runnerOption {
	return func(t *testing.T, r *fakeRunner) {
		require.NoError(t, r.Parameters().Set("max_time", seconds))
	}
}

func entry(t *testing.T, name, source string, execute func(r *fakeRunner, ctx context.Context) (int, error), opts ...runnerOption) factory.Entry {
	t.Helper()
	set := harness.RunnerParams()
	require.NoError(t, set.Set("name", name))
	r := &fakeRunner{RunnerBase: harness.NewRunnerBase(set), execute: execute}
	for _, opt := range opts {
		opt(t, r)
	}
	return factory.Entry{Runner: r, Source: source}
}

func testOptions() Options {
	return Options{
		Slots:          2,
		Workers:        2,
		DefaultTimeout: 30 * time.Second,
		Reporter:       harness.NewReporter(io.Discard),
	}
}

func TestRunAllHappyPath(t *testing.T) {
	s := New(testOptions())
	require.NoError(t, s.Schedule([]factory.Entry{
		entry(t, "a", "/specs/tests", nil),
		entry(t, "b", "/specs/tests", nil),
	}))

	summary, err := s.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Counts[harness.Pass])
	assert.Zero(t, summary.ExitCode)

	for _, job := range s.Jobs() {
		assert.Equal(t, harness.Closed, job.Case.Progress())
	}
}

func TestRunAllFailureExitCode(t *testing.T) {
	s := New(testOptions())
	require.NoError(t, s.Schedule([]factory.Entry{
		entry(t, "bad", "/specs/tests", func(r *fakeRunner, ctx context.Context) (int, error) {
			r.Errorf("broken")
			return 1, nil
		}),
	}))

	summary, err := s.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts[harness.Error])
	assert.Equal(t, 1, summary.ExitCode)
}

func TestPrereqOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) func(r *fakeRunner, ctx context.Context) (int, error) {
		return func(r *fakeRunner, ctx context.Context) (int, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return 0, nil
		}
	}

	s := New(testOptions())
	require.NoError(t, s.Schedule([]factory.Entry{
		entry(t, "b", "/specs/tests", record("b"), withPrereq("a")),
		entry(t, "a", "/specs/tests", record("a")),
	}))

	_, err := s.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestPrereqFailureSkipsDependents(t *testing.T) {
	var b *fakeRunner

	s := New(testOptions())
	eb := entry(t, "b", "/specs/tests", nil, withPrereq("a"))
	b = eb.Runner.(*fakeRunner)

	require.NoError(t, s.Schedule([]factory.Entry{
		entry(t, "a", "/specs/tests", func(r *fakeRunner, ctx context.Context) (int, error) {
			r.Errorf("broken")
			return 1, nil
		}),
		eb,
	}))

	summary, err := s.RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Counts[harness.Error])
	assert.Equal(t, 1, summary.Counts[harness.Skip])
	assert.Zero(t, b.calls.Load(), "no worker ever invokes a skipped dependent")

	var skipped *Job
	for _, job := range s.Jobs() {
		if job.Name() == "b" {
			skipped = job
		}
	}
	require.NotNil(t, skipped)
	assert.Contains(t, skipped.Caveats(), "skipped (prereq failed)")
}

func TestSlotBudget(t *testing.T) {
	var running, peak atomic.Int32
	work := func(r *fakeRunner, ctx context.Context) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
		return 0, nil
	}

	opts := testOptions()
	opts.Slots = 2
	opts.Workers = 3
	s := New(opts)
	require.NoError(t, s.Schedule([]factory.Entry{
		entry(t, "a", "/specs/tests", work),
		entry(t, "b", "/specs/tests", work),
		entry(t, "c", "/specs/tests", work),
	}))

	summary, err := s.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Counts[harness.Pass])
	assert.LessOrEqual(t, peak.Load(), int32(2), "concurrent slot demand never exceeds the budget")
}

func TestOversizedJobSkipped(t *testing.T) {
	s := New(testOptions())
	e := entry(t, "big", "/specs/tests", nil)
	require.NoError(t, e.Runner.Parameters().Set("slots", 5))

	require.NoError(t, s.Schedule([]factory.Entry{e}))
	summary, err := s.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts[harness.Skip])
}

func TestTimeout(t *testing.T) {
	s := New(testOptions())
	require.NoError(t, s.Schedule([]factory.Entry{
		entry(t, "slow", "/specs/tests", func(r *fakeRunner, ctx context.Context) (int, error) {
			<-ctx.Done()
			return 1, ctx.Err()
		}, withMaxTime(0.2)),
	}))

	start := time.Now()
	summary, err := s.RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Counts[harness.Error])
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	job := s.Jobs()[0]
	assert.Contains(t, job.Caveats(), "TIMEOUT")
	assert.Equal(t, harness.Error, job.Case.Result())
}

func TestPrereqCycleFailsBatch(t *testing.T) {
	s := New(testOptions())
	err := s.Schedule([]factory.Entry{
		entry(t, "a", "/specs/tests", nil, withPrereq("b")),
		entry(t, "b", "/specs/tests", nil, withPrereq("a")),
	})
	assert.ErrorIs(t, err, ErrPrereqCycle)
}

func TestUnknownPrereqFailsBatch(t *testing.T) {
	s := New(testOptions())
	err := s.Schedule([]factory.Entry{
		entry(t, "a", "/specs/tests", nil, withPrereq("ghost")),
	})
	assert.ErrorIs(t, err, ErrUnknownPrereq)
}

func TestBatchAbortOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	opts := testOptions()
	opts.Slots = 1
	opts.Workers = 1
	s := New(opts)
	require.NoError(t, s.Schedule([]factory.Entry{
		entry(t, "running", "/specs/tests", func(r *fakeRunner, ctx context.Context) (int, error) {
			cancel()
			<-ctx.Done()
			return 1, ctx.Err()
		}),
		entry(t, "waiting", "/specs/tests", nil),
	}))

	summary, err := s.RunAll(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, summary.ExitCode)

	for _, job := range s.Jobs() {
		assert.GreaterOrEqual(t, job.Case.Progress(), harness.Finished)
	}
}

func TestJobMetadataFromParams(t *testing.T) {
	e := entry(t, "a", "/specs/sub/tests", nil, withPrereq("x"), withMaxTime(12))
	require.NoError(t, e.Runner.Parameters().Set("slots", 3))

	tc := harness.NewTestCase(e.Runner, harness.Options{})
	job := NewJob(tc, e.Source, time.Minute)

	assert.Equal(t, filepath.Join("/specs", "sub"), job.TestDir)
	assert.Equal(t, []string{"x"}, job.Prereqs)
	assert.Equal(t, 3, job.Slots)
	assert.Equal(t, 12*time.Second, job.Timeout)
}
