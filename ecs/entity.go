package ecs

import (
	"fmt"
	"sync"
)

// EntityID identifies an entity slot and the generation occupying it.
type EntityID struct {
	Index      uint32
	Generation uint32
}

func (id EntityID) String() string { return fmt.Sprintf("%d:%d", id.Index, id.Generation) }

// Transform holds the current and previous frame world matrices.
type Transform struct {
	Current  Mat4
	Previous Mat4
}

// Entity owns a transform and at most one component per type.
type Entity struct {
	id    EntityID
	name  string
	store *Store

	mu         sync.RWMutex
	transform  Transform
	components map[ComponentType]*Component
	order      []ComponentType
	active     bool
}

// ID returns the entity's identity.
func (e *Entity) ID() EntityID { return e.id }

// Name returns the entity's name.
func (e *Entity) Name() string { return e.name }

// Active reports whether the entity has not been destroyed.
func (e *Entity) Active() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// Transform returns the current and previous transforms.
func (e *Entity) Transform() Transform {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.transform
}

// SetTransform moves the current transform to previous and stores m.
func (e *Entity) SetTransform(m Mat4) {
	e.mu.Lock()
	e.transform.Previous = e.transform.Current
	e.transform.Current = m
	e.mu.Unlock()
}

// Component returns the component of type t, or nil.
func (e *Entity) Component(t ComponentType) *Component {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.components[t]
}

// Components returns the attached components in attach order.
func (e *Entity) Components() []*Component {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Component, 0, len(e.order))
	for _, t := range e.order {
		out = append(out, e.components[t])
	}
	return out
}

func (e *Entity) attach(c *Component) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return fmt.Errorf("%w: %s", ErrEntityDestroyed, e.id)
	}
	t := c.data.ComponentType()
	if _, ok := e.components[t]; ok {
		return fmt.Errorf("%w: %s on entity %q", ErrComponentExists, t, e.name)
	}
	e.components[t] = c
	e.order = append(e.order, t)
	return nil
}

func (e *Entity) detach(c *Component) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := c.data.ComponentType()
	if e.components[t] != c {
		return
	}
	delete(e.components, t)
	for i, o := range e.order {
		if o == t {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Store creates, recycles and looks up entities.
//
// Store is safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	slots       []*Entity
	generations []uint32
	free        []uint32
	live        int
}

// NewStore creates an empty store.
func NewStore() *Store { return &Store{} }

// CreateEntity allocates an entity, reusing a freed slot when one exists.
func (s *Store) CreateEntity(name string) *Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = uint32(len(s.slots)) //nolint:gosec // entity counts stay far below 2^32
		s.slots = append(s.slots, nil)
		s.generations = append(s.generations, 0)
	}
	e := &Entity{
		id:         EntityID{Index: idx, Generation: s.generations[idx]},
		name:       name,
		store:      s,
		components: make(map[ComponentType]*Component),
		active:     true,
	}
	e.transform.Current = Identity()
	e.transform.Previous = Identity()
	s.slots[idx] = e
	s.live++
	return e
}

// DestroyEntity destroys every component of e through its manager and
// frees the slot. Destroying an already destroyed entity is a no-op.
func (s *Store) DestroyEntity(e *Entity) {
	if e == nil || e.store != s {
		return
	}
	e.mu.Lock()
	wasActive := e.active
	e.active = false
	e.mu.Unlock()
	if !wasActive {
		return
	}
	for _, c := range e.Components() {
		c.mgr.DestroyComponent(c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := e.id.Index
	if s.slots[idx] == e {
		s.slots[idx] = nil
		s.generations[idx]++
		s.free = append(s.free, idx)
		s.live--
	}
}

// Lookup returns the live entity with id. Stale IDs report false.
func (s *Store) Lookup(id EntityID) (*Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id.Index) >= len(s.slots) {
		return nil, false
	}
	e := s.slots[id.Index]
	if e == nil || s.generations[id.Index] != id.Generation {
		return nil, false
	}
	return e, true
}

// Len returns the number of live entities.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Entities returns a snapshot of the live entities in slot order.
func (s *Store) Entities() []*Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entity, 0, s.live)
	for _, e := range s.slots {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
