package ecs

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	// ErrComponentExists is returned when an entity already has a component
	// of the spawned type.
	ErrComponentExists = errors.New("ecs: entity already has a component of this type")

	// ErrWrongComponentType is returned when a manager is handed data of
	// another component type.
	ErrWrongComponentType = errors.New("ecs: component data does not match manager")

	// ErrEntityDestroyed is returned when spawning onto a destroyed entity.
	ErrEntityDestroyed = errors.New("ecs: entity destroyed")

	// ErrAlreadyRegistered is returned by Provide for a type that is
	// already registered.
	ErrAlreadyRegistered = errors.New("ecs: already registered")
)

// ComponentType tags component data with its kind.
type ComponentType string

// ComponentData is the plain-data state of a component.
type ComponentData interface {
	ComponentType() ComponentType
}

// Component attaches data to an entity through a manager.
type Component struct {
	entity *Entity
	mgr    ComponentMgr
	data   ComponentData
}

// Entity returns the owning entity.
func (c *Component) Entity() *Entity { return c.entity }

// Manager returns the manager that spawned the component.
func (c *Component) Manager() ComponentMgr { return c.mgr }

// Data returns the component data.
func (c *Component) Data() ComponentData { return c.data }

// Type returns the component type.
func (c *Component) Type() ComponentType { return c.data.ComponentType() }

// As returns the component data as T.
func As[T ComponentData](c *Component) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	v, ok := c.data.(T)
	return v, ok
}

// ComponentMgr spawns and destroys the components of one type.
type ComponentMgr interface {
	Type() ComponentType
	Name() string
	SpawnComponent(e *Entity, data ComponentData) (*Component, error)
	DestroyComponent(c *Component)
	Shutdown()
}

// Manager is the ComponentMgr for data of type D. The built-in managers are
// instantiations of it.
//
// Manager is safe for concurrent use.
type Manager[D ComponentData] struct {
	typ  ComponentType
	name string

	mu   sync.Mutex
	live []*Component
}

// NewManager creates a manager for components of type typ.
func NewManager[D ComponentData](typ ComponentType, name string) *Manager[D] {
	return &Manager[D]{typ: typ, name: name}
}

func (m *Manager[D]) Type() ComponentType { return m.typ }
func (m *Manager[D]) Name() string        { return m.name }

// SpawnComponent attaches data to e.
func (m *Manager[D]) SpawnComponent(e *Entity, data ComponentData) (*Component, error) {
	if _, ok := data.(D); !ok || data.ComponentType() != m.typ {
		return nil, fmt.Errorf("%w: %s given %T", ErrWrongComponentType, m.name, data)
	}
	c := &Component{entity: e, mgr: m, data: data}
	if err := e.attach(c); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.live = append(m.live, c)
	m.mu.Unlock()
	return c, nil
}

// Spawn is the typed form of SpawnComponent.
func (m *Manager[D]) Spawn(e *Entity, data D) (*Component, error) {
	return m.SpawnComponent(e, data)
}

// DestroyComponent detaches c from its entity. Unknown components are
// ignored.
func (m *Manager[D]) DestroyComponent(c *Component) {
	m.mu.Lock()
	i := slices.Index(m.live, c)
	if i >= 0 {
		m.live = slices.Delete(m.live, i, i+1)
	}
	m.mu.Unlock()
	if i >= 0 {
		c.entity.detach(c)
	}
}

// Components returns a snapshot of the live components in spawn order.
func (m *Manager[D]) Components() []*Component {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.live)
}

// Len returns the number of live components.
func (m *Manager[D]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Shutdown destroys every live component.
func (m *Manager[D]) Shutdown() {
	for _, c := range m.Components() {
		m.DestroyComponent(c)
	}
}
