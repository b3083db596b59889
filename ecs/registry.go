package ecs

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// Registry is a type-keyed container holding one value per type. It
// replaces process-wide singletons: whoever needs a manager looks it up in
// the registry it was handed.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
	order  []any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{values: make(map[reflect.Type]any)}
}

// Provide registers v under its static type T.
func Provide[T any](r *Registry, v T) error {
	t := reflect.TypeFor[T]()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.values[t]; ok {
		return fmt.Errorf("%w: %v", ErrAlreadyRegistered, t)
	}
	r.values[t] = v
	r.order = append(r.order, v)
	return nil
}

// Lookup returns the value registered under T.
func Lookup[T any](r *Registry) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[reflect.TypeFor[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// MustLookup is Lookup that panics when T is not registered.
func MustLookup[T any](r *Registry) T {
	v, ok := Lookup[T](r)
	if !ok {
		panic(fmt.Sprintf("ecs: %v not registered", reflect.TypeFor[T]()))
	}
	return v
}

// Managers returns the registered component managers in registration order.
func (r *Registry) Managers() []ComponentMgr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ComponentMgr
	for _, v := range r.order {
		if m, ok := v.(ComponentMgr); ok {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of registered values.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Shutdown calls Shutdown on every registered value that has one, in
// reverse registration order, and empties the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	order := r.order
	r.order = nil
	r.values = make(map[reflect.Type]any)
	r.mu.Unlock()

	for _, v := range slices.Backward(order) {
		if s, ok := v.(interface{ Shutdown() }); ok {
			s.Shutdown()
		}
	}
}
