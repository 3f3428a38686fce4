package harness

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ternarybob/probo/internal/params"
)

// FileParams returns the file-expectations group grafted onto every Runner
// and Differ schema under the "file" prefix.
func FileParams() *params.Set {
	f := params.NewSet()
	f.Add("base", params.Decl{Kind: params.String,
		Verify:    verifyBaseDirectory,
		VerifyMsg: "The supplied directory must exist and be an absolute path.",
		Doc:       "The base directory for relative paths of the supplied names in the 'names' parameter."})
	f.Add("names", params.Decl{Kind: params.StringSlice,
		Doc: "File name(s) expected to be created during execution. Joined with the names from each differ for error checking."})
	f.Add("check_created", params.Decl{Kind: params.Bool, Immutable: true,
		Doc: "Check that all created files are accounted for in the 'names' parameters. Performed by default when 'base' is set."})
	f.Add("clean", params.Decl{Kind: params.Bool, Default: true,
		Doc: "Delete pre-existing files listed in the 'names' parameters before calling 'Execute'."})
	return f
}

func verifyBaseDirectory(value any) bool {
	dir, ok := value.(string)
	if !ok {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir() && filepath.IsAbs(dir)
}

// RunnerParams returns the parameter template shared by all Runner types
func RunnerParams() *params.Set {
	set := BaseParams()
	set.Add("differs", params.Decl{Kind: params.StringSlice,
		Doc: "Name(s) of the differ blocks to execute after execution of this object."})
	set.Add("prereq", params.Decl{Kind: params.StringSlice,
		Doc: "Name(s) of tests in the same file that must finish successfully before this one starts."})
	set.Add("slots", params.Decl{Kind: params.Int, Default: 1,
		Doc: "Number of scheduler slots consumed while running."})
	set.Add("max_time", params.Decl{Kind: params.Float,
		Doc: "Wall-clock time limit in seconds (the harness default timeout applies when unset)."})
	set.AddSub("file", FileParams())
	return set
}

// DifferParams returns the parameter template shared by all Differ types
func DifferParams() *params.Set {
	set := BaseParams()
	set.AddSub("file", FileParams())
	return set
}

// ExpectedFiles gathers the 'file/names' entries of an object, resolving
// relative names against 'file/base' when it is set.
func ExpectedFiles(obj Object) []string {
	sub := obj.Parameters().Sub("file")
	if sub == nil {
		return nil
	}
	base := sub.GetString("base")
	var out []string
	for _, name := range sub.GetStrings("names") {
		if base != "" && !filepath.IsAbs(name) {
			name = filepath.Join(base, name)
		}
		out = append(out, name)
	}
	return out
}

// RunnerBase provides the common Runner implementation for embedding:
// differ binding plus the expected-file checks performed around Execute.
type RunnerBase struct {
	Base
	differs  []Differ
	expected []string
	preFiles map[string]struct{}
}

// NewRunnerBase wraps a populated parameter set
func NewRunnerBase(set *params.Set) RunnerBase {
	return RunnerBase{Base: NewBase(set)}
}

// Differs returns the bound differ objects
func (r *RunnerBase) Differs() []Differ {
	return r.differs
}

// BindDiffers attaches the differ objects resolved from the 'differs' names
func (r *RunnerBase) BindDiffers(differs []Differ) {
	r.differs = differs
}

// expectedFiles returns the union of this runner's expected files and those
// of its differs
func (r *RunnerBase) expectedFiles() []string {
	expected := ExpectedFiles(r)
	for _, d := range r.differs {
		expected = append(expected, ExpectedFiles(d)...)
	}
	return expected
}

// ExpectedFiles exposes the combined expectation set (used by scheduling
// metadata and tests)
func (r *RunnerBase) ExpectedFiles() []string {
	return r.expectedFiles()
}

// PreExecute performs the file-expectation checks before Execute. Problems
// are logged on the object, which classifies the stage as ERROR.
func (r *RunnerBase) PreExecute() {
	r.expected = r.expectedFiles()
	r.preFiles = nil

	var nonAbs []string
	for _, fname := range r.expected {
		if !filepath.IsAbs(fname) {
			nonAbs = append(nonAbs, fname)
		}
	}
	if len(nonAbs) > 0 {
		r.Errorf("The following file(s) were not defined as an absolute path or as a relative path to the 'file/base' parameter:\n  %s",
			strings.Join(nonAbs, "\n  "))
		return
	}

	sub := r.Parameters().Sub("file")
	if sub == nil {
		return
	}
	base := sub.GetString("base")

	// Files under version control can never be expected output
	if tracked := gitTrackedFiles(r.expected, base); len(tracked) > 0 {
		r.Errorf("The following file(s) are tracked with 'git', thus cannot be expected to be created by the execution of this object:\n  %s",
			strings.Join(tracked, "\n  "))
		return
	}

	if sub.GetBool("clean") {
		for _, fname := range r.expected {
			if isFile(fname) {
				r.Infof("Removing file: %s", fname)
				os.Remove(fname)
			}
		}
	}

	var exist []string
	for _, fname := range r.expected {
		if isFile(fname) {
			exist = append(exist, fname)
		}
	}
	if len(exist) > 0 {
		r.Errorf("The following file(s) are expected to be created, but they already exist:\n  %s",
			strings.Join(exist, "\n  "))
		return
	}

	checkParam := sub.Param("check_created")
	checkCreated := sub.GetBool("check_created")
	if checkCreated && base == "" {
		r.Errorf("When 'file/check_created' is enabled, the 'file/base' parameter must be defined to limit the check to the correct location.")
		return
	}
	if checkCreated || (!checkParam.IsSet() && base != "") {
		entries, err := os.ReadDir(base)
		if err != nil {
			r.Errorf("Unable to read the 'file/base' directory %s: %v", base, err)
			return
		}
		r.preFiles = make(map[string]struct{}, len(entries))
		for _, e := range entries {
			r.preFiles[filepath.Join(base, e.Name())] = struct{}{}
		}
	}
}

// PostExecute verifies the expected files after Execute. It is called even
// when Execute returned an error; a panic in Execute skips it.
func (r *RunnerBase) PostExecute(ignorePatterns []string) {
	var missing []string
	for _, fname := range r.expected {
		if !isFile(fname) {
			missing = append(missing, fname)
		}
	}
	if len(missing) > 0 {
		r.Errorf("The following file(s) were not created as expected:\n  %s", strings.Join(missing, "\n  "))
	}

	if r.preFiles == nil {
		return
	}

	base := r.Parameters().Sub("file").GetString("base")
	entries, err := os.ReadDir(base)
	if err != nil {
		r.Errorf("Unable to read the 'file/base' directory %s: %v", base, err)
		return
	}

	expected := make(map[string]struct{}, len(r.expected))
	for _, fname := range r.expected {
		expected[fname] = struct{}{}
	}

	var unexpected []string
	for _, e := range entries {
		full := filepath.Join(base, e.Name())
		if _, ok := r.preFiles[full]; ok {
			continue
		}
		if _, ok := expected[full]; ok {
			continue
		}
		if matchesAny(ignorePatterns, e.Name()) {
			continue
		}
		unexpected = append(unexpected, full)
	}
	if len(unexpected) > 0 {
		r.Errorf("The following file(s) were created but not expected:\n  %s", strings.Join(unexpected, "\n  "))
	}
}

// DifferBase provides the common Differ implementation for embedding
type DifferBase struct {
	Base
}

// NewDifferBase wraps a populated parameter set
func NewDifferBase(set *params.Set) DifferBase {
	return DifferBase{Base: NewBase(set)}
}

func isFile(name string) bool {
	info, err := os.Stat(name)
	return err == nil && info.Mode().IsRegular()
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// gitTrackedFiles returns the expected files that git reports as tracked.
// Outside a repository the check is a no-op.
func gitTrackedFiles(expected []string, base string) []string {
	dir := base
	if dir == "" && len(expected) > 0 {
		dir = filepath.Dir(expected[0])
	}
	if dir == "" {
		return nil
	}

	out, err := exec.Command("git", "-C", dir, "ls-files", "-z").Output()
	if err != nil {
		return nil
	}

	tracked := make(map[string]struct{})
	for _, rel := range strings.Split(string(out), "\x00") {
		if rel == "" {
			continue
		}
		tracked[filepath.Join(dir, rel)] = struct{}{}
	}

	var hits []string
	for _, fname := range expected {
		if _, ok := tracked[fname]; ok {
			hits = append(hits, fname)
		}
	}
	return hits
}
