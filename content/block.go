package content

import (
	"github.com/gogpu/cauldron/ecs"
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/mesh"
)

// EntityDataBlock is one entity of a block with the components loaded for
// it. Each component carries its manager.
type EntityDataBlock struct {
	Entity     *ecs.Entity
	Components []*ecs.Component
}

// Block is the unit of content notified to listeners. The block owns the
// component data of its entities.
type Block struct {
	Name             string
	EntityDataBlocks []*EntityDataBlock
	Materials        []*mesh.Material
	Meshes           []*mesh.Mesh
	Textures         []*gpu.Texture
}

// ComponentsOf returns every component of type t in entity order.
func (b *Block) ComponentsOf(t ecs.ComponentType) []*ecs.Component {
	var out []*ecs.Component
	for _, edb := range b.EntityDataBlocks {
		for _, c := range edb.Components {
			if c.Type() == t {
				out = append(out, c)
			}
		}
	}
	return out
}

// Surfaces calls fn for every surface of every mesh component in the
// block.
func (b *Block) Surfaces(fn func(e *ecs.Entity, s *mesh.Surface)) {
	for _, c := range b.ComponentsOf(ecs.ComponentTypeMesh) {
		md, ok := ecs.As[*ecs.MeshComponentData](c)
		if !ok || md.Mesh == nil {
			continue
		}
		for _, s := range md.Mesh.Surfaces {
			fn(c.Entity(), s)
		}
	}
}

// Listener is notified when blocks are loaded and unloaded.
type Listener interface {
	OnNewContentLoaded(b *Block) error
	OnContentUnloaded(b *Block) error
}
