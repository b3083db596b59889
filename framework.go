package cauldron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/content"
	"github.com/gogpu/cauldron/ecs"
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/rendermodule"
	"github.com/gogpu/cauldron/rendermodules/gbuffer"
	"github.com/gogpu/cauldron/rendermodules/translucency"

	// Built-in module factories.
	_ "github.com/gogpu/cauldron/rendermodules/rastershadow"
	_ "github.com/gogpu/cauldron/rendermodules/sortbench"
)

var (
	// ErrShutdown is returned by calls made after Shutdown.
	ErrShutdown = errors.New("cauldron: framework shut down")

	// ErrDuplicateModule is returned when a module name is registered
	// twice.
	ErrDuplicateModule = errors.New("cauldron: render module registered twice")
)

// defaultTargets are created by Init so modules can share them regardless
// of which ones are configured.
var defaultTargets = []rendermodule.TargetDesc{
	{Name: translucency.TargetColor, Format: gputypes.TextureFormatRGBA16Float},
	{Name: gbuffer.TargetDepth, Format: gputypes.TextureFormatDepth32Float},
}

// Framework runs render modules over a device.
//
// Frame, Resize and Shutdown must not be called concurrently with each
// other; content may be loaded from any goroutine.
type Framework struct {
	dev *gpu.Device
	svc *rendermodule.Services
	cfg *Config

	// ownsContent is set when New created the content manager.
	ownsContent bool

	mu        sync.Mutex
	modules   []rendermodule.RenderModule
	listeners []content.Listener
	frame     uint64
	closed    bool
}

// New creates a framework on dev.
func New(dev *gpu.Device, opts ...Option) *Framework {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}
	if o.registry == nil {
		o.registry = ecs.NewRegistry()
	}
	ownsContent := o.content == nil
	if ownsContent {
		o.content = content.NewManager(ecs.NewStore())
	}
	if o.compiler == nil {
		o.compiler = dev.Compiler()
	}
	return &Framework{
		dev:         dev,
		ownsContent: ownsContent,
		svc: &rendermodule.Services{
			Device:     dev,
			Compiler:   o.compiler,
			Registry:   o.registry,
			Content:    o.content,
			Targets:    rendermodule.NewTargetSet(dev, o.res),
			Resolution: o.res,
		},
	}
}

// Services returns the services handed to modules.
func (f *Framework) Services() *rendermodule.Services { return f.svc }

// Content returns the content manager.
func (f *Framework) Content() *content.Manager { return f.svc.Content }

// FrameIndex returns the number of frames submitted.
func (f *Framework) FrameIndex() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

// Modules returns the registered modules in execution order.
func (f *Framework) Modules() []rendermodule.RenderModule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.modules)
}

// Module returns the registered module called name.
func (f *Framework) Module(name string) (rendermodule.RenderModule, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := slices.IndexFunc(f.modules, func(m rendermodule.RenderModule) bool { return m.Name() == name })
	if i < 0 {
		return nil, false
	}
	return f.modules[i], true
}

// Init sizes the shared render targets, provides the built-in component
// managers and creates every module cfg names, in order. A failed module
// stops Init; modules created before it stay registered until Shutdown.
func (f *Framework) Init(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{Width: DefaultWidth, Height: DefaultHeight}
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrShutdown
	}
	f.cfg = cfg
	res := rendermodule.Full(cfg.Width, cfg.Height)
	f.svc.Resolution = res
	err := f.svc.Targets.Resize(res)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	for _, t := range defaultTargets {
		if _, err := f.svc.Targets.Define(t); err != nil {
			return err
		}
	}
	if _, ok := ecs.Lookup[*ecs.MeshComponentMgr](f.svc.Registry); !ok {
		if err := ecs.ProvideBuiltins(f.svc.Registry); err != nil {
			return fmt.Errorf("cauldron: %w", err)
		}
	}

	for _, name := range cfg.RenderModules {
		m, err := rendermodule.Create(name)
		if err != nil {
			return fmt.Errorf("cauldron: %w", err)
		}
		if err := f.RegisterModule(m, cfg.ModuleConfig(name)); err != nil {
			return err
		}
	}
	slogger().Info("cauldron: initialized",
		"width", cfg.Width,
		"height", cfg.Height,
		"modules", len(cfg.RenderModules))
	return nil
}

// RegisterModule initializes m with raw and appends it to the frame. A
// module that implements content.Listener is subscribed to the content
// manager.
func (f *Framework) RegisterModule(m rendermodule.RenderModule, raw json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrShutdown
	}
	if slices.ContainsFunc(f.modules, func(o rendermodule.RenderModule) bool { return o.Name() == m.Name() }) {
		return fmt.Errorf("%w: %q", ErrDuplicateModule, m.Name())
	}
	if err := m.Init(f.svc, raw); err != nil {
		m.Shutdown()
		return fmt.Errorf("cauldron: init %s: %w", m.Name(), err)
	}
	f.modules = append(f.modules, m)
	if l, ok := m.(content.Listener); ok {
		f.svc.Content.AddListener(l)
		f.listeners = append(f.listeners, l)
	}
	slogger().Info("cauldron: module registered", "module", m.Name(), "listener", len(f.listeners))
	return nil
}

// LoadContent loads the content blocks of the configuration passed to
// Init, concurrently.
func (f *Framework) LoadContent(ctx context.Context) error {
	f.mu.Lock()
	cfg := f.cfg
	f.mu.Unlock()
	if cfg == nil || len(cfg.Content) == 0 {
		return nil
	}
	textures := content.NewTextureLoader(f.dev)
	loaders := make(map[string]content.Loader, len(cfg.Content))
	for _, cc := range cfg.Content {
		loaders[cc.Name] = content.LoaderFunc(func(ctx context.Context, _ *ecs.Store) (*content.Block, error) {
			b := &content.Block{Name: cc.Name}
			for _, path := range cc.Textures {
				tex, err := textures.LoadFile(ctx, path)
				if err != nil {
					for _, t := range b.Textures {
						t.Destroy()
					}
					return nil, err
				}
				b.Textures = append(b.Textures, tex)
			}
			return b, nil
		})
	}
	return f.svc.Content.LoadAll(ctx, loaders)
}

// Frame records every enabled and ready module into one command list and
// submits it. The first module error discards the frame.
func (f *Framework) Frame(ctx context.Context, dt time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrShutdown
	}

	cl, err := f.dev.NewCommandList(fmt.Sprintf("frame_%d", f.frame))
	if err != nil {
		return fmt.Errorf("cauldron: %w", err)
	}
	ec := rendermodule.ExecuteContext{
		DeltaTime:   dt,
		FrameIndex:  f.frame,
		CommandList: cl,
		Resolution:  f.svc.Resolution,
	}
	for _, m := range f.modules {
		if !m.ModuleEnabled() || !m.ModuleReady() {
			continue
		}
		if err := m.Execute(ec); err != nil {
			cl.Discard()
			slogger().Error("cauldron: module failed", "module", m.Name(), "frame", f.frame, "err", err)
			return fmt.Errorf("cauldron: %s: %w", m.Name(), err)
		}
	}
	if _, err := f.dev.Submit(cl); err != nil {
		return fmt.Errorf("cauldron: submit frame %d: %w", f.frame, err)
	}
	f.frame++
	return nil
}

// Resize waits for the GPU, recreates the render targets at width x height
// and notifies every module in order.
func (f *Framework) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidConfig, width, height)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrShutdown
	}
	if err := f.dev.FlushAllCommandQueues(); err != nil {
		return fmt.Errorf("cauldron: %w", err)
	}
	res := rendermodule.Full(width, height)
	f.svc.Resolution = res
	if err := f.svc.Targets.Resize(res); err != nil {
		return err
	}
	for _, m := range f.modules {
		if err := m.OnResize(res); err != nil {
			return fmt.Errorf("cauldron: %s: resize: %w", m.Name(), err)
		}
	}
	slogger().Debug("cauldron: resized", "width", width, "height", height)
	return nil
}

// AttachEvents resizes the framework whenever es reports a new window
// size. Empty sizes, such as a minimized window, are ignored.
func (f *Framework) AttachEvents(es gpucontext.EventSource) {
	es.OnResize(func(width, height int) {
		if width <= 0 || height <= 0 {
			return
		}
		//nolint:gosec // window sizes fit in uint32
		if err := f.Resize(uint32(width), uint32(height)); err != nil {
			slogger().Error("cauldron: resize failed", "width", width, "height", height, "err", err)
		}
	})
}

// Shutdown waits for the GPU, unsubscribes the listener modules, shuts
// the modules down in reverse order, then unloads content the framework
// owns and releases the component managers and render targets. Further
// calls do nothing.
func (f *Framework) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true

	if err := f.dev.FlushAllCommandQueues(); err != nil {
		slogger().Warn("cauldron: flush on shutdown", "err", err)
	}
	f.svc.Content.Wait()
	for _, l := range f.listeners {
		f.svc.Content.RemoveListener(l)
	}
	f.listeners = nil
	for _, m := range slices.Backward(f.modules) {
		m.Shutdown()
	}
	f.modules = nil
	if f.ownsContent {
		if err := f.svc.Content.Shutdown(); err != nil {
			slogger().Warn("cauldron: content shutdown", "err", err)
		}
	}
	f.svc.Registry.Shutdown()
	f.svc.Targets.Destroy()
	slogger().Info("cauldron: shut down", "frames", f.frame)
}
