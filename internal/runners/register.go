package runners

import (
	"github.com/ternarybob/probo/internal/factory"
)

// Register adds the built-in runner types to the factory. Registration is
// the linking side-effect that replaces filesystem plugin discovery.
func Register(f *factory.Factory) error {
	if err := f.Register("RunCommand", RunCommandParams, NewRunCommand); err != nil {
		return err
	}
	if err := f.Register("Echo", EchoParams, NewEcho); err != nil {
		return err
	}
	return nil
}
