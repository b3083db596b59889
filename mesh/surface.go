package mesh

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/gpu"
)

// ErrMissingStream is returned when a surface declares an attribute without
// a vertex buffer for it.
var ErrMissingStream = errors.New("mesh: attribute has no vertex buffer")

var nextSurfaceID atomic.Uint32

// SurfaceDesc describes a surface to create.
type SurfaceDesc struct {
	Attributes VertexAttribute

	// Streams holds one vertex buffer per attribute. A nil map describes a
	// surface without GPU data.
	Streams     map[VertexAttribute]*gpu.Buffer
	Indices     *gpu.Buffer
	IndexCount  uint32
	IndexFormat gputypes.IndexFormat
	VertexCount uint32
	Material    *Material

	// Center is the bounding-box center in object space, used for depth
	// sorting.
	Center [3]float32
}

// Surface is a drawable chunk of a mesh with one material.
type Surface struct {
	id          uint32
	attributes  VertexAttribute
	streams     map[VertexAttribute]*gpu.Buffer
	indices     *gpu.Buffer
	indexCount  uint32
	indexFormat gputypes.IndexFormat
	vertexCount uint32
	material    *Material
	center      [3]float32
}

// NewSurface validates desc and creates a surface.
func NewSurface(desc SurfaceDesc) (*Surface, error) {
	var missing VertexAttribute
	desc.Attributes.Each(func(a VertexAttribute) {
		if desc.Streams[a] == nil {
			missing |= a
		}
	})
	if missing != 0 && desc.Streams != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingStream, missing)
	}
	streams := make(map[VertexAttribute]*gpu.Buffer, len(desc.Streams))
	for a, b := range desc.Streams {
		streams[a] = b
	}
	return &Surface{
		id:          nextSurfaceID.Add(1) - 1,
		attributes:  desc.Attributes,
		streams:     streams,
		indices:     desc.Indices,
		indexCount:  desc.IndexCount,
		indexFormat: desc.IndexFormat,
		vertexCount: desc.VertexCount,
		material:    desc.Material,
		center:      desc.Center,
	}, nil
}

// ID returns the process-wide unique surface index.
func (s *Surface) ID() uint32 { return s.id }

// Attributes returns the vertex streams the surface provides.
func (s *Surface) Attributes() VertexAttribute { return s.attributes }

// Stream returns the vertex buffer of a single attribute, or nil.
func (s *Surface) Stream(a VertexAttribute) *gpu.Buffer { return s.streams[a] }

// Indices returns the index buffer, or nil for non-indexed surfaces.
func (s *Surface) Indices() *gpu.Buffer { return s.indices }

func (s *Surface) IndexCount() uint32                { return s.indexCount }
func (s *Surface) IndexFormat() gputypes.IndexFormat { return s.indexFormat }
func (s *Surface) VertexCount() uint32               { return s.vertexCount }
func (s *Surface) Material() *Material               { return s.material }
func (s *Surface) Center() [3]float32                { return s.center }

// HasTranslucency reports whether the surface is alpha blended.
func (s *Surface) HasTranslucency() bool {
	return s.material != nil && s.material.Blend == BlendBlend
}

// Mesh is a named list of surfaces.
type Mesh struct {
	Name     string
	Surfaces []*Surface
}

// NewMesh creates a mesh from surfaces.
func NewMesh(name string, surfaces ...*Surface) *Mesh {
	return &Mesh{Name: name, Surfaces: surfaces}
}
