package permutation

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/cauldron/ecs"
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/mesh"
)

// ErrBuild wraps failures of a cache's pipeline builder.
var ErrBuild = errors.New("permutation: pipeline build failed")

// Entry is one surface rendered with a group's pipeline.
type Entry[T any] struct {
	Entity  *ecs.Entity
	Surface *mesh.Surface
	Data    T
}

// Group is every surface that shares one permutation.
type Group[T any] struct {
	Hash     uint64
	Key      Key
	Pipeline *gpu.PipelineObject
	Surfaces []Entry[T]
}

// BuildFunc compiles the pipeline of a permutation.
type BuildFunc func(Key) (*gpu.PipelineObject, error)

// Stats counts cache activity.
type Stats struct {
	Hits     uint64
	Misses   uint64
	Groups   int
	Surfaces int
}

// Cache groups surfaces by permutation hash. Groups are never removed, so
// a module builds at most one pipeline per distinct hash.
//
// Cache is not safe for concurrent use.
type Cache[T any] struct {
	groups   []*Group[T]
	hits     uint64
	misses   uint64
	surfaces int
}

// find returns the group with hash h by linear scan.
func (c *Cache[T]) find(h uint64) *Group[T] {
	for _, g := range c.groups {
		if g.Hash == h {
			return g
		}
	}
	return nil
}

// AddSurface files s under key, calling build when the hash is new. On a
// build error no group is added.
func (c *Cache[T]) AddSurface(e *ecs.Entity, s *mesh.Surface, key Key, data T, build BuildFunc) (*Group[T], error) {
	g := c.find(key.Hash)
	if g == nil {
		p, err := build(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %016x: %w", ErrBuild, key.Hash, err)
		}
		g = &Group[T]{Hash: key.Hash, Key: key, Pipeline: p}
		c.groups = append(c.groups, g)
		c.misses++
	} else {
		c.hits++
	}
	g.Surfaces = append(g.Surfaces, Entry[T]{Entity: e, Surface: s, Data: data})
	c.surfaces++
	return g, nil
}

// RemoveSurface removes the entry for the (e, s) pair and returns its data.
// The group and its pipeline stay even when empty.
func (c *Cache[T]) RemoveSurface(e *ecs.Entity, s *mesh.Surface) (T, bool) {
	for _, g := range c.groups {
		i := slices.IndexFunc(g.Surfaces, func(en Entry[T]) bool { return en.Entity == e && en.Surface == s })
		if i < 0 {
			continue
		}
		data := g.Surfaces[i].Data
		g.Surfaces = slices.Delete(g.Surfaces, i, i+1)
		c.surfaces--
		return data, true
	}
	var zero T
	return zero, false
}

// Groups returns the groups in creation order. The slice is shared; do not
// modify it.
func (c *Cache[T]) Groups() []*Group[T] { return c.groups }

// Len returns the number of groups.
func (c *Cache[T]) Len() int { return len(c.groups) }

// Stats returns hit, miss and size counters.
func (c *Cache[T]) Stats() Stats {
	return Stats{Hits: c.hits, Misses: c.misses, Groups: len(c.groups), Surfaces: c.surfaces}
}

// Destroy releases every group pipeline and empties the cache.
func (c *Cache[T]) Destroy() {
	for _, g := range c.groups {
		if g.Pipeline != nil {
			g.Pipeline.Destroy()
		}
	}
	c.groups = nil
	c.surfaces = 0
}
