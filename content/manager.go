package content

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/cauldron/ecs"
)

var (
	// ErrAlreadyLoaded is returned when loading a name that is loaded or
	// loading.
	ErrAlreadyLoaded = errors.New("content: block already loaded")

	// ErrNotLoaded is returned when unloading an unknown block.
	ErrNotLoaded = errors.New("content: block not loaded")

	// ErrNilBlock is returned when a loader succeeds without a block.
	ErrNilBlock = errors.New("content: loader returned no block")
)

// Loader produces a block, creating its entities in store.
type Loader interface {
	Load(ctx context.Context, store *ecs.Store) (*Block, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, store *ecs.Store) (*Block, error)

func (f LoaderFunc) Load(ctx context.Context, store *ecs.Store) (*Block, error) { return f(ctx, store) }

// Option configures a Manager.
type Option func(*options)

type options struct {
	loadLimit int
}

// WithLoadLimit bounds how many loads LoadAll runs at once.
func WithLoadLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.loadLimit = n
		}
	}
}

// Manager loads blocks and notifies listeners.
//
// Manager is safe for concurrent use.
type Manager struct {
	store *ecs.Store
	opts  options

	mu        sync.Mutex
	listeners []Listener
	blocks    map[string]*Block
	loading   map[string]bool
	order     []string

	inflight sync.WaitGroup
}

// NewManager creates a manager whose loaders create entities in store.
func NewManager(store *ecs.Store, opts ...Option) *Manager {
	o := options{loadLimit: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		store:   store,
		opts:    o,
		blocks:  make(map[string]*Block),
		loading: make(map[string]bool),
	}
}

// Store returns the entity store loaders create entities in.
func (m *Manager) Store() *ecs.Store { return m.store }

// AddListener subscribes l. Blocks already loaded are not replayed.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// RemoveListener unsubscribes l.
func (m *Manager) RemoveListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = slices.DeleteFunc(m.listeners, func(o Listener) bool { return o == l })
}

func (m *Manager) snapshot() []Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.listeners)
}

// Load runs loader on the calling goroutine and notifies listeners.
//
// Listeners are notified in subscription order. When one fails, it and
// every listener notified before it are told the block is unloaded again,
// since a failing listener may have kept part of the block. Then the
// block's entities are destroyed and the joined errors are returned.
func (m *Manager) Load(ctx context.Context, name string, loader Loader) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("content: load %q: %w", name, err)
	}
	m.mu.Lock()
	if m.loading[name] || m.blocks[name] != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAlreadyLoaded, name)
	}
	m.loading[name] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.loading, name)
		m.mu.Unlock()
	}()

	b, err := loader.Load(ctx, m.store)
	if err != nil {
		return fmt.Errorf("content: load %q: %w", name, err)
	}
	if b == nil {
		return fmt.Errorf("%w: %q", ErrNilBlock, name)
	}
	if b.Name == "" {
		b.Name = name
	}

	listeners := m.snapshot()
	for i, l := range listeners {
		lerr := l.OnNewContentLoaded(b)
		if lerr == nil {
			continue
		}
		errs := []error{fmt.Errorf("content: listener %d rejected %q: %w", i, name, lerr)}
		for _, done := range slices.Backward(listeners[:i+1]) {
			if uerr := done.OnContentUnloaded(b); uerr != nil {
				errs = append(errs, fmt.Errorf("content: rollback of %q: %w", name, uerr))
			}
		}
		m.destroy(b)
		err := errors.Join(errs...)
		slogger().Error("content: load failed", "block", name, "err", err)
		return err
	}

	m.mu.Lock()
	m.blocks[name] = b
	m.order = append(m.order, name)
	m.mu.Unlock()
	slogger().Info("content: block loaded",
		"block", name, "entities", len(b.EntityDataBlocks), "textures", len(b.Textures), "listeners", len(listeners))
	return nil
}

// Pending is an in-flight LoadAsync.
type Pending struct {
	name string
	g    errgroup.Group
}

// Name returns the block name being loaded.
func (p *Pending) Name() string { return p.name }

// Wait blocks until the load finishes and returns its error.
func (p *Pending) Wait() error { return p.g.Wait() }

// LoadAsync runs Load on a new goroutine.
func (m *Manager) LoadAsync(ctx context.Context, name string, loader Loader) *Pending {
	p := &Pending{name: name}
	m.inflight.Add(1)
	p.g.Go(func() error {
		defer m.inflight.Done()
		return m.Load(ctx, name, loader)
	})
	return p
}

// LoadAll loads every entry of loaders, at most the load limit at a time.
// The first failure cancels loads that have not started.
func (m *Manager) LoadAll(ctx context.Context, loaders map[string]Loader) error {
	names := maps.Keys(loaders)
	slices.Sort(names)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.loadLimit)
	for _, name := range names {
		g.Go(func() error { return m.Load(gctx, name, loaders[name]) })
	}
	return g.Wait()
}

// Wait blocks until every LoadAsync has finished.
func (m *Manager) Wait() { m.inflight.Wait() }

// Block returns the loaded block called name.
func (m *Manager) Block(name string) (*Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[name]
	return b, ok
}

// Names returns the loaded block names in load order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order)
}

// Unload notifies every listener, then destroys the block's entities and
// textures. Listener errors do not stop the unload; they are joined and
// returned.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	b, ok := m.blocks[name]
	if ok {
		delete(m.blocks, name)
		m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotLoaded, name)
	}

	var errs []error
	for i, l := range m.snapshot() {
		if err := l.OnContentUnloaded(b); err != nil {
			errs = append(errs, fmt.Errorf("content: listener %d on unload of %q: %w", i, name, err))
		}
	}
	m.destroy(b)
	err := errors.Join(errs...)
	if err != nil {
		slogger().Error("content: unload reported errors", "block", name, "err", err)
	} else {
		slogger().Info("content: block unloaded", "block", name)
	}
	return err
}

func (m *Manager) destroy(b *Block) {
	for _, edb := range b.EntityDataBlocks {
		m.store.DestroyEntity(edb.Entity)
	}
	for _, t := range b.Textures {
		t.Destroy()
	}
}

// Shutdown waits for in-flight loads, then unloads every block in reverse
// load order.
func (m *Manager) Shutdown() error {
	m.Wait()
	var errs []error
	for _, name := range slices.Backward(m.Names()) {
		if err := m.Unload(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
