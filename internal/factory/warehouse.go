package factory

import (
	"sync"

	"github.com/ternarybob/probo/internal/harness"
)

// Entry is one constructed test: a Runner with its Differs already bound,
// plus the spec file it was declared in.
type Entry struct {
	Runner harness.Runner
	Source string
}

// Warehouse is the append-only ordered collection of parsed test objects.
// It is not mutated after parsing returns.
type Warehouse struct {
	mu      sync.Mutex
	entries []Entry
}

// NewWarehouse creates an empty warehouse
func NewWarehouse() *Warehouse {
	return &Warehouse{}
}

// Append adds a constructed Runner declared in the given source file
func (w *Warehouse) Append(runner harness.Runner, source string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, Entry{Runner: runner, Source: source})
}

// Entries returns the appended entries in declaration order
func (w *Warehouse) Entries() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Len returns the number of stored entries
func (w *Warehouse) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
