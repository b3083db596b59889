package rendermodule

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/ecs"
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/mesh"
)

// Constant block sizes. Both are padded to the uniform offset alignment.
const (
	FrameConstantsSize    = 256
	InstanceConstantsSize = 256
)

// FrameConstants is the per-frame block at binding 0 of every raster
// module. Matrices are uploaded row-major; shaders multiply row vectors.
type FrameConstants struct {
	View               ecs.Mat4
	ViewProjection     ecs.Mat4
	PrevViewProjection ecs.Mat4
	RenderSize         [2]float32
}

// NewFrameConstants builds the frame block from cam, which may be nil.
// prev is the previous frame's view-projection; the current one is used
// when prev is nil.
func NewFrameConstants(cam *ecs.CameraComponentData, prev *ecs.Mat4, res ResolutionInfo) FrameConstants {
	f := FrameConstants{
		View:           ecs.Identity(),
		ViewProjection: ecs.Identity(),
		RenderSize:     [2]float32{float32(res.RenderWidth), float32(res.RenderHeight)},
	}
	if cam != nil {
		f.View = cam.View
		f.ViewProjection = cam.ViewProjection()
	}
	f.PrevViewProjection = f.ViewProjection
	if prev != nil {
		f.PrevViewProjection = *prev
	}
	return f
}

// Bytes returns the block in its uniform layout.
func (f *FrameConstants) Bytes() []byte {
	b := make([]byte, 0, FrameConstantsSize)
	b = appendMat4(b, f.View)
	b = appendMat4(b, f.ViewProjection)
	b = appendMat4(b, f.PrevViewProjection)
	b = appendFloats(b, f.RenderSize[0], f.RenderSize[1], 0, 0)
	return b[:FrameConstantsSize:FrameConstantsSize]
}

// InstanceConstants is the per-surface block at binding 1.
type InstanceConstants struct {
	World     ecs.Mat4
	PrevWorld ecs.Mat4

	BaseColor   [4]float32
	Emissive    [3]float32
	AlphaCutoff float32
	Metallic    float32
	Roughness   float32

	// TextureIndices and SamplerIndices locate each texture class in the
	// bindless table; -1 means unbound.
	TextureIndices [mesh.TextureClassCount]int32
	SamplerIndices [mesh.TextureClassCount]int32
}

// NewInstanceConstants fills the transform of e and the factors of m,
// which may be nil. Texture and sampler indices are all -1.
func NewInstanceConstants(e *ecs.Entity, m *mesh.Material) InstanceConstants {
	c := InstanceConstants{World: ecs.Identity(), PrevWorld: ecs.Identity(), BaseColor: [4]float32{1, 1, 1, 1}, Roughness: 1}
	if e != nil {
		tr := e.Transform()
		c.World, c.PrevWorld = tr.Current, tr.Previous
	}
	if m != nil {
		c.BaseColor = m.BaseColor
		c.Emissive = m.Emissive
		c.AlphaCutoff = m.AlphaCutoff
		c.Metallic = m.Metallic
		c.Roughness = m.Roughness
	}
	for i := range c.TextureIndices {
		c.TextureIndices[i] = -1
		c.SamplerIndices[i] = -1
	}
	return c
}

// Bytes returns the block in its uniform layout.
func (c *InstanceConstants) Bytes() []byte {
	b := make([]byte, 0, InstanceConstantsSize)
	b = appendMat4(b, c.World)
	b = appendMat4(b, c.PrevWorld)
	b = appendFloats(b, c.BaseColor[:]...)
	b = appendFloats(b, c.Emissive[0], c.Emissive[1], c.Emissive[2], c.AlphaCutoff)
	b = appendFloats(b, c.Metallic, c.Roughness, 0, 0)
	b = appendIndices(b, c.TextureIndices[:])
	b = appendIndices(b, c.SamplerIndices[:])
	return b[:InstanceConstantsSize:InstanceConstantsSize]
}

func appendMat4(b []byte, m ecs.Mat4) []byte { return appendFloats(b, m[:]...) }

func appendFloats(b []byte, fs ...float32) []byte {
	for _, f := range fs {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

// appendIndices writes idx padded to a whole number of vec4<i32>.
func appendIndices(b []byte, idx []int32) []byte {
	n := (len(idx) + 3) &^ 3
	for i := range n {
		v := int32(-1)
		if i < len(idx) {
			v = idx[i]
		}
		b = binary.LittleEndian.AppendUint32(b, uint32(v)) //nolint:gosec // two's complement is the shader's i32
	}
	return b
}

// ConstantBuffer creates a uniform buffer of size bytes resting in
// ConstantBuffer state.
func ConstantBuffer(dev *gpu.Device, label string, size uint64) (*gpu.Buffer, error) {
	return dev.CreateBuffer(gpu.BufferDesc{
		Label:        label,
		Size:         size,
		Usage:        gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		InitialState: gpu.StateConstantBuffer,
	})
}

// ActiveCamera returns the first live camera of the registry's camera
// manager, or nil.
func ActiveCamera(r *ecs.Registry) *ecs.CameraComponentData {
	if r == nil {
		return nil
	}
	cams, ok := ecs.Lookup[*ecs.CameraComponentMgr](r)
	if !ok {
		return nil
	}
	for _, c := range cams.Components() {
		if cam, ok := ecs.As[*ecs.CameraComponentData](c); ok && c.Entity().Active() {
			return cam
		}
	}
	return nil
}

// skinnedAttributes are the streams an animation component may replace,
// in the order of its per-surface buffer list.
var skinnedAttributes = [...]mesh.VertexAttribute{mesh.AttrPosition, mesh.AttrNormal, mesh.AttrTangent}

// streams returns the vertex buffers of used in bit order, with skinned
// output of e's animation component replacing the surface's own position,
// normal and tangent streams. It reports false when a stream is missing.
func streams(e *ecs.Entity, s *mesh.Surface, used mesh.VertexAttribute) ([]*gpu.Buffer, bool) {
	var skinned []*gpu.Buffer
	if e != nil {
		if anim, ok := ecs.As[*ecs.AnimationComponentData](e.Component(ecs.ComponentTypeAnimation)); ok {
			skinned = anim.SkinnedStreams(s.ID())
		}
	}
	var out []*gpu.Buffer
	ok := true
	used.Each(func(a mesh.VertexAttribute) {
		b := s.Stream(a)
		for i, sa := range skinnedAttributes {
			if sa == a && i < len(skinned) && skinned[i] != nil {
				b = skinned[i]
			}
		}
		if b == nil {
			ok = false
		}
		out = append(out, b)
	})
	return out, ok
}

// DrawSurface binds the vertex streams of used and draws s once. Surfaces
// without GPU data are skipped and report false.
func DrawSurface(cl *gpu.CommandList, e *ecs.Entity, s *mesh.Surface, used mesh.VertexAttribute) (bool, error) {
	bufs, ok := streams(e, s, used)
	if !ok {
		return false, nil
	}
	for slot, b := range bufs {
		if err := cl.SetVertexBuffer(uint32(slot), b, 0); err != nil { //nolint:gosec // at most one slot per attribute
			return false, err
		}
	}
	if idx := s.Indices(); idx != nil {
		if err := cl.SetIndexBuffer(idx, s.IndexFormat(), 0); err != nil {
			return false, err
		}
		if err := cl.DrawIndexed(s.IndexCount(), 1, 0, 0, 0); err != nil {
			return false, fmt.Errorf("surface %d: %w", s.ID(), err)
		}
		return true, nil
	}
	if err := cl.Draw(s.VertexCount(), 1, 0, 0); err != nil {
		return false, fmt.Errorf("surface %d: %w", s.ID(), err)
	}
	return true, nil
}
