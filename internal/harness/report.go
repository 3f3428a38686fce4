package harness

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const stateLineWidth = 100

// Reporter renders progress lines and final results to a single writer.
// Only the main goroutine writes here; workers write to capture buffers.
type Reporter struct {
	out io.Writer
}

// NewReporter creates a reporter writing to out
func NewReporter(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

// Report renders the case's current state. While RUNNING it emits a
// progress line when the configured interval has elapsed since the last
// one; once FINISHED it renders the result and moves the case to CLOSED.
func (r *Reporter) Report(tc *TestCase) {
	tc.mu.Lock()
	progress := tc.progress
	tc.mu.Unlock()

	switch progress {
	case Finished:
		r.printResult(tc)
	case Running:
		r.printProgress(tc)
	}
}

func (r *Reporter) printProgress(tc *TestCase) {
	tc.mu.Lock()
	if tc.lastReport.IsZero() {
		tc.lastReport = tc.startTime
	}
	due := time.Since(tc.lastReport) > tc.interval
	if due {
		tc.lastReport = time.Now()
	}
	elapsed := tc.elapsedLocked()
	tc.mu.Unlock()

	if due {
		r.printState(tc.Name(), Running.String(), Running.Color().SprintFunc(), elapsed, true)
	}
}

func (r *Reporter) printResult(tc *TestCase) {
	tc.mu.Lock()
	stages := make([]StageResult, len(tc.stages))
	copy(stages, tc.stages)
	result := tc.result
	elapsed := tc.elapsedLocked()
	tc.progress = Closed
	tc.mu.Unlock()

	r.printState(tc.Name(), result.Display(), result.Color().SprintFunc(), elapsed, true)

	for i, stage := range stages {
		if i > 0 {
			r.printState(stage.Name, stage.State.Display(), stage.State.Color().SprintFunc(), 0, false)
		}
		if out := strings.Trim(stage.Output, "\n"); out != "" {
			prefix := stage.State.Color().Sprint(stage.Name) + " "
			for _, line := range strings.Split(out, "\n") {
				fmt.Fprintf(r.out, "%s%s\n", prefix, line)
			}
		}
	}
}

// printState renders "name....[1.2s] STATE" padded to a fixed width
func (r *Reporter) printState(name, display string, colorize func(a ...any) string, elapsed time.Duration, showTime bool) {
	state := fmt.Sprintf("%-9s", display)
	tinfo := ""
	if showTime {
		tinfo = fmt.Sprintf("[%.1fs] ", elapsed.Seconds())
	}
	width := stateLineWidth - len(name) - len(state) - len(tinfo)
	if width < 0 {
		width = 0
	}
	fmt.Fprintf(r.out, "%s%s%s%s\n", colorize(name), strings.Repeat(".", width), tinfo, colorize(state))
}

// Summary holds the aggregate counts printed on batch completion
type Summary struct {
	Counts   map[Result]int
	Elapsed  time.Duration
	ExitCode int
}

// PrintSummary renders the aggregate counts on batch completion
func (r *Reporter) PrintSummary(s Summary) {
	var parts []string
	for _, res := range []Result{Pass, Skip, Error, Exception, Fatal} {
		if n := s.Counts[res]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", res.Color().Sprint(res.Display()), n))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no tests executed")
	}
	fmt.Fprintf(r.out, "%s [%.1fs]\n", strings.Join(parts, " | "), s.Elapsed.Seconds())
}
