package cauldron

import (
	"log/slog"

	"github.com/gogpu/cauldron/content"
	"github.com/gogpu/cauldron/ecs"
	"github.com/gogpu/cauldron/rendermodule"
	"github.com/gogpu/cauldron/shader"
)

// Option configures a Framework during creation.
//
// Example:
//
//	fw := cauldron.New(dev,
//	    cauldron.WithResolution(1920, 1080),
//	    cauldron.WithLogger(slog.Default()),
//	)
type Option func(*options)

type options struct {
	registry *ecs.Registry
	content  *content.Manager
	compiler *shader.Compiler
	res      rendermodule.ResolutionInfo
	logger   *slog.Logger
}

func defaultOptions() options {
	return options{res: rendermodule.Full(1280, 720)}
}

// WithRegistry sets the component manager registry. By default the
// framework creates one.
func WithRegistry(r *ecs.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithContentManager sets the content manager. By default the framework
// creates one over a new entity store.
func WithContentManager(m *content.Manager) Option {
	return func(o *options) { o.content = m }
}

// WithCompiler sets the shader compiler handed to modules. It defaults to
// the device's compiler.
func WithCompiler(c *shader.Compiler) Option {
	return func(o *options) { o.compiler = c }
}

// WithResolution sets the initial render and display size.
func WithResolution(width, height uint32) Option {
	return func(o *options) { o.res = rendermodule.Full(width, height) }
}

// WithLogger calls SetLogger with l when the framework is created.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
