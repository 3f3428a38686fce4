package differs

import (
	"context"
	"regexp"

	"github.com/ternarybob/probo/internal/harness"
	"github.com/ternarybob/probo/internal/params"
)

// ExpectOut inspects the Runner's exit status and captured output: the
// status must match and the output must contain the expression.
type ExpectOut struct {
	harness.DifferBase
}

// ExpectOutParams returns the ExpectOut parameter template
func ExpectOutParams() *params.Set {
	set := harness.DifferParams()
	set.Add("expect_out", params.Decl{Kind: params.String,
		Doc: "A regular expression that must occur in the captured output."})
	set.Add("expect_exit_code", params.Decl{Kind: params.Int, Default: 0,
		Doc: "The exit status the runner must report."})
	return set
}

// NewExpectOut constructs an ExpectOut differ from a populated parameter set
func NewExpectOut(set *params.Set) (harness.Object, error) {
	if pattern := set.GetString("expect_out"); pattern != "" {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, err
		}
	}
	return &ExpectOut{DifferBase: harness.NewDifferBase(set)}, nil
}

func (d *ExpectOut) Execute(ctx context.Context, exitCode int, output string) error {
	if want := d.Parameters().GetInt("expect_exit_code"); exitCode != want {
		d.Errorf("The runner exited with status %d, expected %d.", exitCode, want)
	}

	pattern := d.Parameters().GetString("expect_out")
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	if !re.MatchString(output) {
		d.Errorf("The expression %q was not located in the captured output.", pattern)
	}
	return nil
}
