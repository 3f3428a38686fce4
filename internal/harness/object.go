package harness

import (
	"context"
	"fmt"
	"io"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probo/internal/common"
	"github.com/ternarybob/probo/internal/params"
)

// Object is the capability shared by every constructed test object. The
// error counter feeds result classification: a stage whose object reports
// Status() > 0 after execution is classified ERROR.
type Object interface {
	Name() string
	Parameters() *params.Set
	Status() int
	Reset()
	AttachSink(w io.Writer)
}

// Runner executes a task and reports an integer exit status. Output must go
// through the attached sink, never the ambient streams.
type Runner interface {
	Object
	Execute(ctx context.Context) (int, error)
	Differs() []Differ
	BindDiffers(differs []Differ)
}

// Differ inspects a Runner's exit status and captured output
type Differ interface {
	Object
	Execute(ctx context.Context, exitCode int, output string) error
}

// BaseParams returns the parameter template shared by all objects
func BaseParams() *params.Set {
	set := params.NewSet()
	set.Add("name", params.Decl{Kind: params.String, Required: true, Doc: "The name of the object."})
	return set
}

// Base provides the common Object implementation for embedding
type Base struct {
	params *params.Set
	log    arbor.ILogger
	sink   io.Writer
	errors int
}

// NewBase wraps a populated parameter set
func NewBase(set *params.Set) Base {
	return Base{params: set, log: common.GetLogger(), sink: io.Discard}
}

func (b *Base) Name() string {
	return b.params.GetString("name")
}

func (b *Base) Parameters() *params.Set {
	return b.params
}

// Status returns the number of errors logged since the last Reset
func (b *Base) Status() int {
	return b.errors
}

// Reset clears the logged-error count
func (b *Base) Reset() {
	b.errors = 0
}

// AttachSink redirects the object's output to the given writer
func (b *Base) AttachSink(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	b.sink = w
}

// Sink returns the current output destination
func (b *Base) Sink() io.Writer {
	return b.sink
}

// Errorf records an error against the object and writes it to the sink
func (b *Base) Errorf(format string, args ...any) {
	b.errors++
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(b.sink, "ERROR: %s\n", msg)
	b.log.Error().Str("object", b.Name()).Msg(msg)
}

// Infof writes an informational message to the sink
func (b *Base) Infof(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(b.sink, "%s\n", msg)
	b.log.Debug().Str("object", b.Name()).Msg(msg)
}
