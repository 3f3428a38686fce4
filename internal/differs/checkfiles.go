package differs

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ternarybob/probo/internal/harness"
	"github.com/ternarybob/probo/internal/params"
)

// CheckFiles verifies the filesystem side-effects of a Runner: files that
// must exist, files that must not, and an expression every checked file
// must contain.
type CheckFiles struct {
	harness.DifferBase
}

// CheckFilesParams returns the CheckFiles parameter template
func CheckFilesParams() *params.Set {
	set := harness.DifferParams()
	set.Add("check_files", params.Decl{Kind: params.StringSlice,
		Doc: "File(s) that must exist after execution, resolved against 'file/base'."})
	set.Add("check_not_exists", params.Decl{Kind: params.StringSlice,
		Doc: "File(s) that must not exist after execution, resolved against 'file/base'."})
	set.Add("expect_out", params.Decl{Kind: params.String,
		Doc: "A regular expression that must occur in every checked file."})
	return set
}

// NewCheckFiles constructs a CheckFiles differ from a populated parameter set
func NewCheckFiles(set *params.Set) (harness.Object, error) {
	if pattern := set.GetString("expect_out"); pattern != "" {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, err
		}
	}
	return &CheckFiles{DifferBase: harness.NewDifferBase(set)}, nil
}

func (d *CheckFiles) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if base := d.Parameters().Sub("file").GetString("base"); base != "" {
		return filepath.Join(base, name)
	}
	return name
}

// Execute inspects the filesystem after the Runner has finished
func (d *CheckFiles) Execute(ctx context.Context, exitCode int, output string) error {
	for _, name := range d.Parameters().GetStrings("check_files") {
		if !isFile(d.resolve(name)) {
			d.Errorf("The file %q must exist, but it was not found.", d.resolve(name))
		}
	}

	for _, name := range d.Parameters().GetStrings("check_not_exists") {
		if isFile(d.resolve(name)) {
			d.Errorf("The file %q must not exist, but it was found.", d.resolve(name))
		}
	}

	if d.Status() > 0 {
		return nil
	}

	pattern := d.Parameters().GetString("expect_out")
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	for _, name := range d.Parameters().GetStrings("check_files") {
		content, err := os.ReadFile(d.resolve(name))
		if err != nil {
			d.Errorf("Unable to read the file %q: %v", d.resolve(name), err)
			continue
		}
		if !re.Match(content) {
			d.Errorf("The expression %q was not located in the file %q.", pattern, d.resolve(name))
		}
	}
	return nil
}

func isFile(name string) bool {
	info, err := os.Stat(name)
	return err == nil && info.Mode().IsRegular()
}
