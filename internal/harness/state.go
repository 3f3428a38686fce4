package harness

import (
	"github.com/fatih/color"
)

// Progress is the lifecycle state of a TestCase. Transitions are monotonic:
// WAITING -> RUNNING -> FINISHED -> CLOSED.
type Progress int

const (
	Waiting Progress = iota + 1
	Running
	Finished
	Closed
)

// String returns the display form of the progress state
func (p Progress) String() string {
	switch p {
	case Waiting:
		return "WAITING"
	case Running:
		return "RUNNING"
	case Finished:
		return "FINISHED"
	case Closed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Color returns the terminal color used when rendering the progress state
func (p Progress) Color() *color.Color {
	switch p {
	case Waiting:
		return color.New(color.FgHiBlack)
	case Running:
		return color.New(color.FgBlue)
	}
	return color.New(color.FgWhite)
}

// Result classifies the outcome of a TestCase or one of its stages
type Result int

const (
	// NoResult marks a stage or case that has not produced a result yet
	NoResult Result = iota
	Skip
	Pass
	Error
	Exception
	Fatal
)

// ExitCode returns the aggregate exit-code bit contributed by the result
func (r Result) ExitCode() int {
	switch r {
	case Error, Exception, Fatal:
		return 1
	}
	return 0
}

// Display returns the rendered state string
func (r Result) Display() string {
	switch r {
	case Skip:
		return "SKIP"
	case Pass:
		return "OK"
	case Error:
		return "ERROR"
	case Exception:
		return "EXCEPTION"
	case Fatal:
		return "FATAL"
	}
	return "NO STATUS"
}

// Color returns the terminal color for the result display string
func (r Result) Color() *color.Color {
	switch r {
	case Skip:
		return color.New(color.FgCyan)
	case Pass:
		return color.New(color.FgGreen)
	case Error:
		return color.New(color.FgRed)
	case Exception:
		return color.New(color.FgMagenta)
	case Fatal:
		return color.New(color.FgWhite, color.BgRed)
	}
	return color.New(color.FgWhite)
}

// severity orders results for aggregation: PASS < SKIP < ERROR = EXCEPTION < FATAL
func (r Result) severity() int {
	switch r {
	case Pass:
		return 0
	case Skip:
		return 1
	case Error, Exception:
		return 2
	case Fatal:
		return 3
	}
	return -1
}

// Worst returns the more severe of two results
func Worst(a, b Result) Result {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// ResultFromDisplay maps a rendered state string back to a Result. Unknown
// strings map to Error so imported statuses never disappear silently.
func ResultFromDisplay(s string) Result {
	switch s {
	case "SKIP":
		return Skip
	case "OK", "PASS":
		return Pass
	case "ERROR":
		return Error
	case "EXCEPTION":
		return Exception
	case "FATAL":
		return Fatal
	}
	return Error
}
