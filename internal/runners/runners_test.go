package runners

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/probo/internal/harness"
)

func TestEchoExecute(t *testing.T) {
	set := EchoParams()
	require.NoError(t, set.Set("name", "a"))
	require.NoError(t, set.Set("input", "hello"))

	obj, err := NewEcho(set)
	require.NoError(t, err)
	runner := obj.(harness.Runner)

	out := harness.NewCapture()
	runner.AttachSink(out)

	rc, err := runner.Execute(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rc)
	assert.Equal(t, "hello\n", out.String())
}

func TestEchoExitCode(t *testing.T) {
	set := EchoParams()
	require.NoError(t, set.Set("name", "a"))
	require.NoError(t, set.Set("input", "x"))
	require.NoError(t, set.Set("exit_code", 3))

	obj, err := NewEcho(set)
	require.NoError(t, err)

	rc, err := obj.(harness.Runner).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, rc)
}

func TestRunCommandCapturesOutput(t *testing.T) {
	set := RunCommandParams()
	require.NoError(t, set.Set("name", "cmd"))
	require.NoError(t, set.Set("command", []string{"sh", "-c", "echo stdout; echo stderr 1>&2"}))

	obj, err := NewRunCommand(set)
	require.NoError(t, err)
	runner := obj.(harness.Runner)

	out := harness.NewCapture()
	runner.AttachSink(out)

	rc, err := runner.Execute(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rc)
	assert.Contains(t, out.String(), "stdout")
	assert.Contains(t, out.String(), "stderr")
}

func TestRunCommandNonZeroExit(t *testing.T) {
	set := RunCommandParams()
	require.NoError(t, set.Set("name", "cmd"))
	require.NoError(t, set.Set("command", []string{"sh", "-c", "exit 7"}))

	obj, err := NewRunCommand(set)
	require.NoError(t, err)

	// A non-zero status is data for the differs, not an execution failure
	rc, err := obj.(harness.Runner).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, rc)
}

func TestRunCommandCancellation(t *testing.T) {
	set := RunCommandParams()
	require.NoError(t, set.Set("name", "cmd"))
	require.NoError(t, set.Set("command", []string{"sleep", "30"}))
	require.NoError(t, set.Set("grace_period", 0.5))

	obj, err := NewRunCommand(set)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = obj.(harness.Runner).Execute(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRegister(t *testing.T) {
	f := newTestFactory(t)
	assert.ElementsMatch(t, []string{"RunCommand", "Echo"}, f.Types())
}
