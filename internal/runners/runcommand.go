package runners

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/ternarybob/probo/internal/harness"
	"github.com/ternarybob/probo/internal/params"
)

// RunCommand executes an external command and reports its exit status. The
// command's stdout and stderr flow into the attached capture sink.
type RunCommand struct {
	harness.RunnerBase
}

// RunCommandParams returns the RunCommand parameter template
func RunCommandParams() *params.Set {
	set := harness.RunnerParams()
	set.Add("command", params.Decl{Kind: params.StringSlice, Required: true,
		Doc: "The command (and arguments) to execute."})
	set.Add("working_dir", params.Decl{Kind: params.String,
		Doc: "Directory the command is executed in (defaults to the harness working directory)."})
	set.Add("grace_period", params.Decl{Kind: params.Float, Default: float64(5),
		Doc: "Seconds between the termination signal and the kill signal on cancellation."})
	return set
}

// NewRunCommand constructs a RunCommand from a populated parameter set
func NewRunCommand(set *params.Set) (harness.Object, error) {
	return &RunCommand{RunnerBase: harness.NewRunnerBase(set)}, nil
}

// Execute runs the configured command. Cancellation sends the termination
// signal first and kills after the configured grace period.
func (r *RunCommand) Execute(ctx context.Context) (int, error) {
	argv := r.Parameters().GetStrings("command")
	if len(argv) == 0 {
		return 1, errors.New("the 'command' parameter is empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Parameters().GetString("working_dir")
	cmd.Stdout = r.Sink()
	cmd.Stderr = r.Sink()
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = time.Duration(r.Parameters().GetFloat("grace_period") * float64(time.Second))

	r.Infof("Running command: %v", argv)

	err := cmd.Run()
	if ctx.Err() != nil {
		return 1, fmt.Errorf("command cancelled: %w", ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// A non-zero exit status is a result, not an execution failure;
			// differs decide what it means.
			return exitErr.ExitCode(), nil
		}
		return 1, err
	}
	return 0, nil
}
