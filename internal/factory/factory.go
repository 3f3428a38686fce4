package factory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probo/internal/common"
	"github.com/ternarybob/probo/internal/harness"
	"github.com/ternarybob/probo/internal/params"
)

var (
	// ErrUnknownType is returned when a type name was never registered
	ErrUnknownType = errors.New("unknown type")

	// ErrInvalidParams is returned when required parameters are missing at
	// construction time
	ErrInvalidParams = errors.New("invalid parameters")
)

// Schema produces a fresh parameter template for a registered type
type Schema func() *params.Set

// Constructor builds an object from a populated parameter set. Construction
// must not perform I/O beyond logging.
type Constructor func(set *params.Set) (harness.Object, error)

type registration struct {
	schema Schema
	ctor   Constructor
}

// Factory is the registry of object constructors keyed by type name. It is
// populated at program startup (plugin registration is a named side-effect
// of linking the plugin package) and read-only during dispatch.
type Factory struct {
	mu          sync.RWMutex
	types       map[string]registration
	controllers []harness.Controller
	log         arbor.ILogger
}

// New creates a factory. Controller object-parameters are grafted onto
// every template handed out by Params, under each controller's prefix.
func New(controllers ...harness.Controller) *Factory {
	return &Factory{
		types:       make(map[string]registration),
		controllers: controllers,
		log:         common.GetLogger(),
	}
}

// Controllers returns the controllers bound at creation
func (f *Factory) Controllers() []harness.Controller {
	return f.controllers
}

// Register adds a type to the registry. Re-registering a name is an error.
func (f *Factory) Register(typeName string, schema Schema, ctor Constructor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.types[typeName]; ok {
		return fmt.Errorf("type %q already registered", typeName)
	}
	f.types[typeName] = registration{schema: schema, ctor: ctor}
	f.log.Debug().Str("type", typeName).Msg("Type registered")
	return nil
}

// Types returns the registered type names
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.types))
	for name := range f.types {
		names = append(names, name)
	}
	return names
}

// Params returns a fresh parameter template for the type, with controller
// parameters grafted under each controller's prefix.
func (f *Factory) Params(typeName string) (*params.Set, error) {
	f.mu.RLock()
	reg, ok := f.types[typeName]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}

	set := reg.schema().Clone()
	for _, ctrl := range f.controllers {
		if !set.Has(ctrl.Prefix()) {
			set.AddSub(ctrl.Prefix(), ctrl.ObjectParams())
		}
	}
	return set, nil
}

// Create validates the populated set and constructs the object
func (f *Factory) Create(typeName string, set *params.Set) (harness.Object, error) {
	f.mu.RLock()
	reg, ok := f.types[typeName]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}

	if missing := set.Validate(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: type %q is missing required parameter(s): %v", ErrInvalidParams, typeName, missing)
	}

	obj, err := reg.ctor(set)
	if err != nil {
		return nil, fmt.Errorf("failed to construct %q: %w", typeName, err)
	}
	return obj, nil
}
