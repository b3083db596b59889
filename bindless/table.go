// Package bindless keeps a refcounted table of the textures and samplers a
// render module samples, so shaders can index them by slot.
package bindless

import (
	"container/heap"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/mesh"
)

// Default capacities.
const (
	MaxTextures = 1000
	MaxSamplers = 20
)

var (
	// ErrTextureCapacity is the panic value, wrapped, when a table runs out
	// of texture slots.
	ErrTextureCapacity = errors.New("bindless: texture table full")

	// ErrSamplerCapacity is the panic value, wrapped, when a table runs out
	// of sampler slots.
	ErrSamplerCapacity = errors.New("bindless: sampler table full")
)

// BoundTexture is one texture slot. A free slot has a nil Texture and a
// zero Count.
type BoundTexture struct {
	Texture *gpu.Texture
	Count   int
}

// freeList is a min-heap of free slot indices.
type freeList []int

func (f freeList) Len() int           { return len(f) }
func (f freeList) Less(i, j int) bool { return f[i] < f[j] }
func (f freeList) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }
func (f *freeList) Push(x any)        { *f = append(*f, x.(int)) }
func (f *freeList) Pop() any {
	old := *f
	n := len(old)
	x := old[n-1]
	*f = old[:n-1]
	return x
}

// Option configures a Table.
type Option func(*Table)

// WithMaxTextures lowers the texture capacity.
func WithMaxTextures(n int) Option {
	return func(t *Table) {
		if n > 0 && n < MaxTextures {
			t.maxTextures = n
		}
	}
}

// WithMaxSamplers lowers the sampler capacity.
func WithMaxSamplers(n int) Option {
	return func(t *Table) {
		if n > 0 && n < MaxSamplers {
			t.maxSamplers = n
		}
	}
}

// Table maps textures and sampler descriptors to stable slots.
//
// Table is not safe for concurrent use; modules guard it with the lock that
// guards their surfaces.
type Table struct {
	dev         *gpu.Device
	maxTextures int
	maxSamplers int

	textures []BoundTexture
	index    map[*gpu.Texture]int
	free     freeList

	samplerDescs []gpu.SamplerDesc
	samplers     []*gpu.Sampler

	fallback        *gpu.Texture
	fallbackSampler *gpu.Sampler
}

// New creates an empty table. Samplers and the fallback texture are
// created on dev when the table is first bound.
func New(dev *gpu.Device, opts ...Option) *Table {
	t := &Table{
		dev:         dev,
		maxTextures: MaxTextures,
		maxSamplers: MaxSamplers,
		index:       make(map[*gpu.Texture]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Capacity returns the texture and sampler capacities.
func (t *Table) Capacity() (textures, samplers int) { return t.maxTextures, t.maxSamplers }

// AddTexture takes a reference on the texture of class c in m and returns
// its texture and sampler slots, or (-1, -1) when m has no such texture.
// It panics when either table is full.
func (t *Table) AddTexture(m *mesh.Material, c mesh.TextureClass) (texIndex, samplerIndex int) {
	if m == nil || !m.HasTexture(c) {
		return -1, -1
	}
	info := m.Textures[c]
	samplerIndex = t.addSampler(info.Sampler)
	texIndex = t.addTexture(info.Texture)
	return texIndex, samplerIndex
}

func (t *Table) addSampler(desc gpu.SamplerDesc) int {
	for i, d := range t.samplerDescs {
		if d == desc {
			return i
		}
	}
	if len(t.samplerDescs) >= t.maxSamplers {
		panic(fmt.Errorf("%w: %d samplers", ErrSamplerCapacity, t.maxSamplers))
	}
	t.samplerDescs = append(t.samplerDescs, desc)
	return len(t.samplerDescs) - 1
}

func (t *Table) addTexture(tex *gpu.Texture) int {
	if i, ok := t.index[tex]; ok {
		t.textures[i].Count++
		return i
	}
	var i int
	switch {
	case t.free.Len() > 0:
		i = heap.Pop(&t.free).(int)
	case len(t.textures) < t.maxTextures:
		i = len(t.textures)
		t.textures = append(t.textures, BoundTexture{})
	default:
		panic(fmt.Errorf("%w: %d textures", ErrTextureCapacity, t.maxTextures))
	}
	t.textures[i] = BoundTexture{Texture: tex, Count: 1}
	t.index[tex] = i
	return i
}

// RemoveTexture drops one reference on slot index. The slot is freed when
// the count reaches zero. Out-of-range and free slots are ignored.
func (t *Table) RemoveTexture(index int) {
	if index < 0 || index >= len(t.textures) || t.textures[index].Count == 0 {
		return
	}
	b := &t.textures[index]
	b.Count--
	if b.Count > 0 {
		return
	}
	delete(t.index, b.Texture)
	b.Texture = nil
	heap.Push(&t.free, index)
}

// Textures returns a copy of the texture slots.
func (t *Table) Textures() []BoundTexture { return append([]BoundTexture(nil), t.textures...) }

// LiveCount returns the number of occupied texture slots.
func (t *Table) LiveCount() int { return len(t.index) }

// Samplers returns the sampler descriptors in slot order.
func (t *Table) Samplers() []gpu.SamplerDesc { return append([]gpu.SamplerDesc(nil), t.samplerDescs...) }

func (t *Table) ensureResources() error {
	if t.fallback == nil {
		tex, err := t.dev.CreateTexture(gpu.TextureDesc{
			Label:        "bindless_fallback",
			Width:        1,
			Height:       1,
			Format:       gputypes.TextureFormatRGBA8Unorm,
			Usage:        gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
			InitialState: gpu.StateShaderResource,
		})
		if err != nil {
			return fmt.Errorf("bindless: fallback texture: %w", err)
		}
		if err := tex.WriteMip(0, 1, 1, 4, []byte{255, 255, 255, 255}); err != nil {
			tex.Destroy()
			return fmt.Errorf("bindless: fallback texture: %w", err)
		}
		t.fallback = tex
	}
	if t.fallbackSampler == nil {
		s, err := t.dev.CreateSampler(gpu.DefaultSamplerDesc())
		if err != nil {
			return fmt.Errorf("bindless: fallback sampler: %w", err)
		}
		t.fallbackSampler = s
	}
	for i := len(t.samplers); i < len(t.samplerDescs); i++ {
		s, err := t.dev.CreateSampler(t.samplerDescs[i])
		if err != nil {
			return fmt.Errorf("bindless: sampler %d: %w", i, err)
		}
		t.samplers = append(t.samplers, s)
	}
	return nil
}

// setLength counts the consecutive bindings of kind starting at first.
func setLength(rs *gpu.RootSignature, first uint32, kind gpu.BindingKind) int {
	kinds := make(map[uint32]gpu.BindingKind)
	for _, s := range rs.Slots() {
		kinds[s.Binding] = s.Kind
	}
	n := uint32(0)
	for {
		k, ok := kinds[first+n]
		if !ok || k != kind {
			return int(n)
		}
		n++
	}
}

// Bind writes the table into the texture set at textureBinding and the
// sampler set at samplerBinding of ps. Free and unused slots get a 1x1
// white fallback texture and a default sampler.
func (t *Table) Bind(ps *gpu.ParameterSet, textureBinding, samplerBinding uint32) error {
	if err := t.ensureResources(); err != nil {
		return err
	}
	rs := ps.RootSignature()

	nTex := setLength(rs, textureBinding, gpu.BindingTextureSRV)
	if len(t.textures) > nTex {
		return fmt.Errorf("%w: %d texture slots used, set at %d holds %d",
			gpu.ErrInvalidDescriptor, len(t.textures), textureBinding, nTex)
	}
	for i := range nTex {
		tex := t.fallback
		if i < len(t.textures) && t.textures[i].Texture != nil {
			tex = t.textures[i].Texture
		}
		if err := ps.SetTextureSRV(textureBinding+uint32(i), tex); err != nil { //nolint:gosec // i < nTex
			return err
		}
	}

	nSmp := setLength(rs, samplerBinding, gpu.BindingSampler)
	if len(t.samplers) > nSmp {
		return fmt.Errorf("%w: %d samplers used, set at %d holds %d",
			gpu.ErrInvalidDescriptor, len(t.samplers), samplerBinding, nSmp)
	}
	for i := range nSmp {
		s := t.fallbackSampler
		if i < len(t.samplers) {
			s = t.samplers[i]
		}
		if err := ps.SetSampler(samplerBinding+uint32(i), s); err != nil { //nolint:gosec // i < nSmp
			return err
		}
	}
	return nil
}

// Destroy releases the samplers and fallback texture the table created.
// Slot textures belong to their content and are not destroyed.
func (t *Table) Destroy() {
	for _, s := range t.samplers {
		s.Destroy()
	}
	t.samplers = nil
	if t.fallbackSampler != nil {
		t.fallbackSampler.Destroy()
		t.fallbackSampler = nil
	}
	if t.fallback != nil {
		t.fallback.Destroy()
		t.fallback = nil
	}
}
