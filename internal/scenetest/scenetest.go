// Package scenetest builds small scenes on the noop backend for render
// module tests.
package scenetest

import (
	"fmt"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/cauldron/content"
	"github.com/gogpu/cauldron/ecs"
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/mesh"
	"github.com/gogpu/cauldron/rendermodule"
)

// Device opens a noop device that is destroyed with the test.
func Device(tb testing.TB) *gpu.Device {
	tb.Helper()
	d, err := gpu.Open(noop.API{})
	if err != nil {
		tb.Fatalf("Open(noop) failed: %v", err)
	}
	tb.Cleanup(d.Destroy)
	return d
}

// Services returns a service bundle on d with the built-in component
// managers and an empty target set of width x height.
func Services(tb testing.TB, d *gpu.Device, width, height uint32) *rendermodule.Services {
	tb.Helper()
	reg := ecs.NewRegistry()
	if err := ecs.ProvideBuiltins(reg); err != nil {
		tb.Fatal(err)
	}
	res := rendermodule.Full(width, height)
	targets := rendermodule.NewTargetSet(d, res)
	tb.Cleanup(targets.Destroy)
	return &rendermodule.Services{
		Device:     d,
		Compiler:   d.Compiler(),
		Registry:   reg,
		Content:    content.NewManager(ecs.NewStore()),
		Targets:    targets,
		Resolution: res,
	}
}

// Texture creates a sampled 4x4 RGBA8 texture.
func Texture(tb testing.TB, d *gpu.Device, label string) *gpu.Texture {
	tb.Helper()
	tex, err := d.CreateTexture(gpu.TextureDesc{
		Label:        label,
		Width:        4,
		Height:       4,
		Format:       gputypes.TextureFormatRGBA8Unorm,
		Usage:        gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		InitialState: gpu.StateShaderResource,
	})
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(tex.Destroy)
	return tex
}

// Textured returns a material with tex bound to class c.
func Textured(name string, tex *gpu.Texture, c mesh.TextureClass) *mesh.Material {
	m := &mesh.Material{Name: name, BaseColor: [4]float32{1, 1, 1, 1}, Roughness: 1}
	m.Textures[c] = &mesh.TextureInfo{Texture: tex, Sampler: gpu.DefaultSamplerDesc()}
	return m
}

// Surface creates a one-triangle indexed surface with a vertex buffer per
// attribute in attrs.
func Surface(tb testing.TB, d *gpu.Device, mat *mesh.Material, attrs mesh.VertexAttribute, center [3]float32) *mesh.Surface {
	tb.Helper()
	streams := make(map[mesh.VertexAttribute]*gpu.Buffer)
	var err error
	attrs.Each(func(a mesh.VertexAttribute) {
		if err != nil {
			return
		}
		streams[a], err = d.CreateBuffer(gpu.BufferDesc{
			Label:        a.String(),
			Size:         3 * a.Stride(),
			Usage:        gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
			InitialState: gpu.StateVertexBuffer,
		})
	})
	if err != nil {
		tb.Fatal(err)
	}
	idx, err := d.CreateBuffer(gpu.BufferDesc{
		Label:        "indices",
		Size:         8,
		Usage:        gputypes.BufferUsageIndex | gputypes.BufferUsageCopyDst,
		InitialState: gpu.StateIndexBuffer,
	})
	if err != nil {
		tb.Fatal(err)
	}
	s, err := mesh.NewSurface(mesh.SurfaceDesc{
		Attributes:  attrs,
		Streams:     streams,
		Indices:     idx,
		IndexCount:  3,
		IndexFormat: gputypes.IndexFormatUint16,
		VertexCount: 3,
		Material:    mat,
		Center:      center,
	})
	if err != nil {
		tb.Fatal(err)
	}
	return s
}

// Block creates one entity per surface, each with a mesh component, in a
// block named name.
func Block(tb testing.TB, svc *rendermodule.Services, name string, surfaces ...*mesh.Surface) *content.Block {
	tb.Helper()
	meshes := ecs.MustLookup[*ecs.MeshComponentMgr](svc.Registry)
	b := &content.Block{Name: name}
	for i, s := range surfaces {
		e := svc.Content.Store().CreateEntity(fmt.Sprintf("%s_%d", name, i))
		c, err := meshes.Spawn(e, &ecs.MeshComponentData{Mesh: mesh.NewMesh(e.Name(), s)})
		if err != nil {
			tb.Fatal(err)
		}
		b.EntityDataBlocks = append(b.EntityDataBlocks, &content.EntityDataBlock{Entity: e, Components: []*ecs.Component{c}})
	}
	return b
}

// Light adds an entity with a light component to b.
func Light(tb testing.TB, svc *rendermodule.Services, b *content.Block, data *ecs.LightComponentData) *ecs.Entity {
	tb.Helper()
	lights := ecs.MustLookup[*ecs.LightComponentMgr](svc.Registry)
	e := svc.Content.Store().CreateEntity(fmt.Sprintf("%s_light_%d", b.Name, len(b.EntityDataBlocks)))
	c, err := lights.Spawn(e, data)
	if err != nil {
		tb.Fatal(err)
	}
	b.EntityDataBlocks = append(b.EntityDataBlocks, &content.EntityDataBlock{Entity: e, Components: []*ecs.Component{c}})
	return e
}

// CommandList opens a command list that is discarded with the test unless
// submitted.
func CommandList(tb testing.TB, d *gpu.Device, label string) *gpu.CommandList {
	tb.Helper()
	cl, err := d.NewCommandList(label)
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(cl.Discard)
	return cl
}
