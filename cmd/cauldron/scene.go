package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/content"
	"github.com/gogpu/cauldron/ecs"
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/mesh"
)

const quadAttrs = mesh.AttrPosition | mesh.AttrNormal | mesh.AttrTexcoord0

// perspective is a right-handed projection with depth in [0, 1].
func perspective(fovY, aspect, near, far float32) ecs.Mat4 {
	f := float32(1 / math.Tan(float64(fovY)/2))
	return ecs.Mat4{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, far / (near - far), near * far / (near - far),
		0, 0, -1, 0,
	}
}

// topDownShadow looks straight down from height h over a square of
// half-size extent, with depth in [0, 1] up to depth far.
func topDownShadow(h, extent, far float32) ecs.Mat4 {
	view := ecs.Mat4{
		1, 0, 0, 0,
		0, 0, -1, 0,
		0, 1, 0, -h,
		0, 0, 0, 1,
	}
	ortho := ecs.Mat4{
		1 / extent, 0, 0, 0,
		0, 1 / extent, 0, 0,
		0, 0, -1 / far, 0,
		0, 0, 0, 1,
	}
	return ortho.Mul(view)
}

func floats(v ...float32) []byte {
	out := make([]byte, 0, 4*len(v))
	for _, f := range v {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}

func upload(dev *gpu.Device, label string, usage gputypes.BufferUsage, state gpu.ResourceState, data []byte) (*gpu.Buffer, error) {
	b, err := dev.CreateBuffer(gpu.BufferDesc{
		Label:        label,
		Size:         uint64(len(data)),
		Usage:        usage | gputypes.BufferUsageCopyDst,
		InitialState: state,
	})
	if err != nil {
		return nil, err
	}
	if err := b.Write(0, data); err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

// quad builds a unit quad in the plane spanned by u and v around c, facing
// normal n.
func quad(dev *gpu.Device, label string, c, u, v, n [3]float32, mat *mesh.Material) (*mesh.Surface, error) {
	var pos []float32
	for _, s := range [][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}} {
		for i := range 3 {
			pos = append(pos, c[i]+s[0]*u[i]+s[1]*v[i])
		}
	}
	normals := floats(n[0], n[1], n[2], n[0], n[1], n[2], n[0], n[1], n[2], n[0], n[1], n[2])
	uvs := floats(0, 1, 1, 1, 1, 0, 0, 0)

	vertex := gputypes.BufferUsageVertex
	streams := make(map[mesh.VertexAttribute]*gpu.Buffer, 3)
	var err error
	if streams[mesh.AttrPosition], err = upload(dev, label+"_pos", vertex, gpu.StateVertexBuffer, floats(pos...)); err != nil {
		return nil, err
	}
	if streams[mesh.AttrNormal], err = upload(dev, label+"_nrm", vertex, gpu.StateVertexBuffer, normals); err != nil {
		return nil, err
	}
	if streams[mesh.AttrTexcoord0], err = upload(dev, label+"_uv", vertex, gpu.StateVertexBuffer, uvs); err != nil {
		return nil, err
	}
	var idx []byte
	for _, i := range []uint16{0, 1, 2, 0, 2, 3} {
		idx = binary.LittleEndian.AppendUint16(idx, i)
	}
	indices, err := upload(dev, label+"_idx", gputypes.BufferUsageIndex, gpu.StateIndexBuffer, idx)
	if err != nil {
		return nil, err
	}
	return mesh.NewSurface(mesh.SurfaceDesc{
		Attributes:  quadAttrs,
		Streams:     streams,
		Indices:     indices,
		IndexCount:  6,
		IndexFormat: gputypes.IndexFormatUint16,
		VertexCount: 4,
		Material:    mat,
		Center:      c,
	})
}

// demoScene returns a loader for a floor, two upright panels, a glass
// pane, a shadow casting light and a camera.
func demoScene(dev *gpu.Device, reg *ecs.Registry, width, height uint32) content.Loader {
	return content.LoaderFunc(func(_ context.Context, store *ecs.Store) (*content.Block, error) {
		b := &content.Block{Name: "demo"}
		meshes := ecs.MustLookup[*ecs.MeshComponentMgr](reg)

		materials := []*mesh.Material{
			{Name: "floor", BaseColor: [4]float32{0.6, 0.6, 0.6, 1}, Roughness: 0.9},
			{Name: "red", BaseColor: [4]float32{0.8, 0.1, 0.1, 1}, Roughness: 0.4, Metallic: 0.2},
			{Name: "cutout", BaseColor: [4]float32{0.1, 0.6, 0.2, 1}, Roughness: 0.5, Blend: mesh.BlendMask, AlphaCutoff: 0.5, DoubleSided: true},
			{Name: "glass", BaseColor: [4]float32{0.3, 0.5, 0.9, 0.35}, Roughness: 0.1, Blend: mesh.BlendBlend, DoubleSided: true},
		}
		b.Materials = materials
		up, right, fwd := [3]float32{0, 1, 0}, [3]float32{1, 0, 0}, [3]float32{0, 0, 1}
		shapes := []struct {
			c, u, v, n [3]float32
		}{
			{[3]float32{0, 0, 0}, [3]float32{8, 0, 0}, [3]float32{0, 0, 8}, up},
			{[3]float32{-2, 1, -1}, right, up, fwd},
			{[3]float32{2, 1, -2}, right, up, fwd},
			{[3]float32{0, 1, 2}, [3]float32{1.5, 0, 0}, up, fwd},
		}
		for i, s := range shapes {
			mat := materials[i]
			surf, err := quad(dev, mat.Name, s.c, s.u, s.v, s.n, mat)
			if err != nil {
				return nil, fmt.Errorf("demo: %s: %w", mat.Name, err)
			}
			m := mesh.NewMesh(mat.Name, surf)
			b.Meshes = append(b.Meshes, m)
			e := store.CreateEntity(mat.Name)
			c, err := meshes.Spawn(e, &ecs.MeshComponentData{Mesh: m})
			if err != nil {
				return nil, err
			}
			b.EntityDataBlocks = append(b.EntityDataBlocks, &content.EntityDataBlock{Entity: e, Components: []*ecs.Component{c}})
		}

		sun := store.CreateEntity("sun")
		sun.SetTransform(topDownShadow(10, 8, 20))
		lc, err := ecs.MustLookup[*ecs.LightComponentMgr](reg).Spawn(sun, &ecs.LightComponentData{
			Type:        ecs.LightDirectional,
			Color:       [3]float32{1, 0.95, 0.9},
			Intensity:   3,
			CastShadows: true,
		})
		if err != nil {
			return nil, err
		}
		b.EntityDataBlocks = append(b.EntityDataBlocks, &content.EntityDataBlock{Entity: sun, Components: []*ecs.Component{lc}})

		cam := store.CreateEntity("camera")
		cc, err := ecs.MustLookup[*ecs.CameraComponentMgr](reg).Spawn(cam, &ecs.CameraComponentData{
			View:       ecs.Translation(0, -1.5, -8),
			Projection: perspective(math.Pi/3, float32(width)/float32(max(height, 1)), 0.1, 100),
			Near:       0.1,
			Far:        100,
		})
		if err != nil {
			return nil, err
		}
		b.EntityDataBlocks = append(b.EntityDataBlocks, &content.EntityDataBlock{Entity: cam, Components: []*ecs.Component{cc}})
		return b, nil
	})
}
