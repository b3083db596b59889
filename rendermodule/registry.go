package rendermodule

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/gpucontext"
)

// ErrUnknownModule is returned by Create for names without a factory.
var ErrUnknownModule = errors.New("rendermodule: unknown render module")

var factories = gpucontext.NewRegistry[RenderModule]()

// Register adds a module factory. A later registration under the same name
// replaces the earlier one.
func Register(name string, factory func() RenderModule) {
	factories.Register(name, factory)
}

// Create constructs the module registered under name.
func Create(name string) (RenderModule, error) {
	if !factories.Has(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
	m := factories.Get(name)
	if m == nil {
		return nil, fmt.Errorf("%w: %q factory returned nil", ErrUnknownModule, name)
	}
	return m, nil
}

// Available returns the registered module names, sorted.
func Available() []string {
	names := factories.Available()
	slices.Sort(names)
	return names
}
