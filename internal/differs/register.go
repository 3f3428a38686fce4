package differs

import (
	"github.com/ternarybob/probo/internal/factory"
)

// Register adds the built-in differ types to the factory. Registration is
// the linking side-effect that replaces filesystem plugin discovery.
func Register(f *factory.Factory) error {
	if err := f.Register("CheckFiles", CheckFilesParams, NewCheckFiles); err != nil {
		return err
	}
	if err := f.Register("CSVDiff", CSVDiffParams, NewCSVDiff); err != nil {
		return err
	}
	if err := f.Register("ExpectOut", ExpectOutParams, NewExpectOut); err != nil {
		return err
	}
	return nil
}
