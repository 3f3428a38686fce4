package runners

import (
	"context"
	"fmt"

	"github.com/ternarybob/probo/internal/harness"
	"github.com/ternarybob/probo/internal/params"
)

// Echo writes its input to the capture sink and reports the configured
// exit status (zero by default). Useful for
// smoke tests and for exercising differs without external commands.
type Echo struct {
	harness.RunnerBase
}

// EchoParams returns the Echo parameter template
func EchoParams() *params.Set {
	set := harness.RunnerParams()
	set.Add("input", params.Decl{Kind: params.String, Required: true,
		Doc: "The text written to the captured output."})
	set.Add("exit_code", params.Decl{Kind: params.Int, Default: 0,
		Doc: "The exit status to report."})
	return set
}

// NewEcho constructs an Echo runner from a populated parameter set
func NewEcho(set *params.Set) (harness.Object, error) {
	return &Echo{RunnerBase: harness.NewRunnerBase(set)}, nil
}

func (r *Echo) Execute(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 1, err
	}
	fmt.Fprintf(r.Sink(), "%s\n", r.Parameters().GetString("input"))
	return r.Parameters().GetInt("exit_code"), nil
}
