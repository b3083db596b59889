package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/cauldron/ecs"
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/mesh"
)

type recordingListener struct {
	mu       sync.Mutex
	loaded   []string
	unloaded []string
	failLoad error
}

func (l *recordingListener) OnNewContentLoaded(b *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failLoad != nil {
		return l.failLoad
	}
	l.loaded = append(l.loaded, b.Name)
	return nil
}

func (l *recordingListener) OnContentUnloaded(b *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unloaded = append(l.unloaded, b.Name)
	return nil
}

// meshLoader returns a loader creating n entities, each with a mesh
// component spawned through meshes.
func meshLoader(meshes *ecs.MeshComponentMgr, n int) Loader {
	return LoaderFunc(func(_ context.Context, store *ecs.Store) (*Block, error) {
		b := &Block{}
		for i := range n {
			e := store.CreateEntity(fmt.Sprintf("e%d", i))
			c, err := meshes.Spawn(e, &ecs.MeshComponentData{Mesh: mesh.NewMesh("m")})
			if err != nil {
				return nil, err
			}
			b.EntityDataBlocks = append(b.EntityDataBlocks, &EntityDataBlock{Entity: e, Components: []*ecs.Component{c}})
		}
		return b, nil
	})
}

func TestLoadAndUnload(t *testing.T) {
	store := ecs.NewStore()
	meshes := ecs.NewMeshComponentMgr()
	m := NewManager(store)
	l := &recordingListener{}
	m.AddListener(l)

	if err := m.Load(context.Background(), "scene", meshLoader(meshes, 3)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	b, ok := m.Block("scene")
	if !ok || b.Name != "scene" {
		t.Fatal("block not registered under its name")
	}
	if got := len(b.ComponentsOf(ecs.ComponentTypeMesh)); got != 3 {
		t.Errorf("ComponentsOf(mesh) = %d, want 3", got)
	}
	if err := m.Load(context.Background(), "scene", meshLoader(meshes, 1)); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("second load: expected ErrAlreadyLoaded, got %v", err)
	}

	if err := m.Unload("scene"); err != nil {
		t.Fatalf("Unload failed: %v", err)
	}
	if store.Len() != 0 || meshes.Len() != 0 {
		t.Errorf("after unload: %d entities, %d mesh components", store.Len(), meshes.Len())
	}
	if len(l.loaded) != 1 || len(l.unloaded) != 1 {
		t.Errorf("listener saw loads %v unloads %v", l.loaded, l.unloaded)
	}
	if err := m.Unload("scene"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("second unload: expected ErrNotLoaded, got %v", err)
	}
}

func TestListenerFailureRollsBack(t *testing.T) {
	store := ecs.NewStore()
	meshes := ecs.NewMeshComponentMgr()
	m := NewManager(store)

	errReject := errors.New("reject")
	first := &recordingListener{}
	failing := &recordingListener{failLoad: errReject}
	never := &recordingListener{}
	m.AddListener(first)
	m.AddListener(failing)
	m.AddListener(never)

	err := m.Load(context.Background(), "bad", meshLoader(meshes, 2))
	if !errors.Is(err, errReject) {
		t.Fatalf("expected listener error, got %v", err)
	}
	if len(first.unloaded) != 1 {
		t.Errorf("first listener was not rolled back: %v", first.unloaded)
	}
	if len(failing.unloaded) != 1 {
		t.Errorf("failing listener was not rolled back: %v", failing.unloaded)
	}
	if len(never.loaded) != 0 {
		t.Error("listener after the failing one was notified")
	}
	if _, ok := m.Block("bad"); ok {
		t.Error("failed block is registered")
	}
	if store.Len() != 0 {
		t.Errorf("failed block left %d entities", store.Len())
	}

	m.RemoveListener(failing)
	if err := m.Load(context.Background(), "bad", meshLoader(meshes, 1)); err != nil {
		t.Errorf("reload after removing listener failed: %v", err)
	}
}

// partialListener keeps the first entity of a block and then fails, the
// way a module that registers surfaces one by one would.
type partialListener struct {
	held    map[ecs.EntityID]*ecs.Entity
	unloads int
}

func (l *partialListener) OnNewContentLoaded(b *Block) error {
	for i, edb := range b.EntityDataBlocks {
		if i > 0 {
			return fmt.Errorf("surface %d failed", i)
		}
		l.held[edb.Entity.ID()] = edb.Entity
	}
	return nil
}

func (l *partialListener) OnContentUnloaded(b *Block) error {
	l.unloads++
	for _, edb := range b.EntityDataBlocks {
		delete(l.held, edb.Entity.ID())
	}
	return nil
}

func TestFailingListenerIsRolledBack(t *testing.T) {
	store := ecs.NewStore()
	meshes := ecs.NewMeshComponentMgr()
	m := NewManager(store)
	l := &partialListener{held: make(map[ecs.EntityID]*ecs.Entity)}
	m.AddListener(l)

	if err := m.Load(context.Background(), "scene", meshLoader(meshes, 2)); err == nil {
		t.Fatal("expected listener error")
	}
	if l.unloads != 1 {
		t.Errorf("failing listener unloads = %d, want 1", l.unloads)
	}
	if len(l.held) != 0 {
		t.Errorf("failing listener still holds %d entities", len(l.held))
	}
	if store.Len() != 0 {
		t.Errorf("failed block left %d entities", store.Len())
	}
}

func TestLoaderErrors(t *testing.T) {
	m := NewManager(ecs.NewStore())
	errBoom := errors.New("boom")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name   string
		ctx    context.Context
		loader Loader
		want   error
	}{
		{"loader error", context.Background(), LoaderFunc(func(context.Context, *ecs.Store) (*Block, error) { return nil, errBoom }), errBoom},
		{"nil block", context.Background(), LoaderFunc(func(context.Context, *ecs.Store) (*Block, error) { return nil, nil }), ErrNilBlock},
		{"canceled", ctx, LoaderFunc(func(context.Context, *ecs.Store) (*Block, error) { return &Block{}, nil }), context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Load(tt.ctx, tt.name, tt.loader); !errors.Is(err, tt.want) {
				t.Errorf("Load = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadAsyncAndLoadAll(t *testing.T) {
	store := ecs.NewStore()
	meshes := ecs.NewMeshComponentMgr()
	m := NewManager(store, WithLoadLimit(2))
	l := &recordingListener{}
	m.AddListener(l)

	var running, peak atomic.Int32
	slow := func(n int) Loader {
		inner := meshLoader(meshes, n)
		return LoaderFunc(func(ctx context.Context, s *ecs.Store) (*Block, error) {
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			defer running.Add(-1)
			return inner.Load(ctx, s)
		})
	}

	p := m.LoadAsync(context.Background(), "async", meshLoader(meshes, 1))
	if err := p.Wait(); err != nil {
		t.Fatalf("LoadAsync failed: %v", err)
	}
	if p.Name() != "async" {
		t.Errorf("Name = %q", p.Name())
	}

	err := m.LoadAll(context.Background(), map[string]Loader{
		"a": slow(1), "b": slow(2), "c": slow(1), "d": slow(3), "e": slow(1),
	})
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("%d loads ran at once, limit 2", peak.Load())
	}
	if got := len(m.Names()); got != 6 {
		t.Errorf("Names = %d, want 6", got)
	}
	if store.Len() != 9 {
		t.Errorf("store has %d entities, want 9", store.Len())
	}

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if store.Len() != 0 || len(l.unloaded) != 6 {
		t.Errorf("after Shutdown: %d entities, %d unloads", store.Len(), len(l.unloaded))
	}
}

func TestBlockSurfaces(t *testing.T) {
	store := ecs.NewStore()
	meshes := ecs.NewMeshComponentMgr()
	s1, _ := mesh.NewSurface(mesh.SurfaceDesc{Attributes: mesh.AttrPosition})
	s2, _ := mesh.NewSurface(mesh.SurfaceDesc{Attributes: mesh.AttrPosition | mesh.AttrNormal})
	e := store.CreateEntity("e")
	c, err := meshes.Spawn(e, &ecs.MeshComponentData{Mesh: mesh.NewMesh("m", s1, s2)})
	if err != nil {
		t.Fatal(err)
	}
	b := &Block{EntityDataBlocks: []*EntityDataBlock{{Entity: e, Components: []*ecs.Component{c}}}}

	var got []*mesh.Surface
	b.Surfaces(func(owner *ecs.Entity, s *mesh.Surface) {
		if owner != e {
			t.Errorf("surface reported for entity %v", owner.ID())
		}
		got = append(got, s)
	})
	if len(got) != 2 || got[0] != s1 || got[1] != s2 {
		t.Errorf("Surfaces visited %d surfaces", len(got))
	}
}

func TestMipChain(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 3))
	chain := MipChain(img)
	want := []image.Point{{8, 3}, {4, 1}, {2, 1}, {1, 1}}
	if len(chain) != len(want) {
		t.Fatalf("mip chain has %d levels, want %d", len(chain), len(want))
	}
	for i, w := range want {
		if got := chain[i].Rect.Size(); got != w {
			t.Errorf("level %d size = %v, want %v", i, got, w)
		}
	}
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeConvertsToRGBA(t *testing.T) {
	rgba, format, err := Decode(bytes.NewReader(encodePNG(t, 4, 2)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if format != "png" {
		t.Errorf("format = %q, want png", format)
	}
	if rgba.Rect.Dx() != 4 || rgba.Rect.Dy() != 2 {
		t.Errorf("size = %v", rgba.Rect)
	}
	if c := rgba.RGBAAt(3, 1); c.R != 48 || c.G != 16 || c.B != 200 || c.A != 255 {
		t.Errorf("pixel (3,1) = %v", c)
	}
	if _, _, err := Decode(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Error("Decode accepted garbage")
	}
}

func TestTextureLoaderUploads(t *testing.T) {
	d, err := gpu.Open(noop.API{})
	if err != nil {
		t.Fatalf("Open(noop) failed: %v", err)
	}
	defer d.Destroy()

	l := NewTextureLoader(d, WithUploadConcurrency(2))
	tex, err := l.Load(context.Background(), "albedo", bytes.NewReader(encodePNG(t, 16, 4)))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer tex.Destroy()
	if tex.Width() != 16 || tex.Height() != 4 || tex.MipLevels() != 5 {
		t.Errorf("texture %dx%d with %d mips", tex.Width(), tex.Height(), tex.MipLevels())
	}
	if tex.State() != gpu.StateShaderResource {
		t.Errorf("State = %v, want ShaderResource", tex.State())
	}

	flat, err := NewTextureLoader(d, WithMips(false)).Load(context.Background(), "flat", bytes.NewReader(encodePNG(t, 16, 4)))
	if err != nil {
		t.Fatal(err)
	}
	defer flat.Destroy()
	if flat.MipLevels() != 1 {
		t.Errorf("MipLevels = %d without mips", flat.MipLevels())
	}
}
