package harness

import (
	"bytes"
	"sync"
)

// Capture is the per-worker output sink handed to Runners and Differs for
// the duration of one stage. Objects are forbidden from writing to the
// ambient streams; everything flows through here, so concurrent workers
// never interleave at the buffer level.
type Capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewCapture creates an empty capture buffer
func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// String returns everything written so far
func (c *Capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Len returns the number of captured bytes
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}
