// Package ecs implements the entity/component model: entities with a
// motion-vector transform, typed plain-data components spawned through
// per-type managers, and a type-keyed Registry that hands managers and other
// shared services to render modules.
//
// Entity IDs are recycled through a free list. Each reuse bumps the slot's
// generation, so stale IDs are rejected by Store.Lookup.
//
// Managers are not global. A framework creates one of each and provides it
// to the Registry:
//
//	reg := ecs.NewRegistry()
//	_ = ecs.Provide(reg, ecs.NewMeshComponentMgr())
//	meshes := ecs.MustLookup[*ecs.MeshComponentMgr](reg)
package ecs
