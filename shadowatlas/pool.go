// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shadowatlas

import (
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/gpu"
)

// DefaultMaxAtlases is the default atlas limit of a Pool.
const DefaultMaxAtlases = 8

// ShadowMap locates an allocated cell.
type ShadowMap struct {
	AtlasIndex int
	CellIndex  int
	Rect       image.Rectangle
}

// Resolution returns the edge length of the shadow map.
func (m ShadowMap) Resolution() Resolution { return Resolution(m.Rect.Dx()) }

// UVTransform returns the scale and offset mapping [0,1] shadow map UVs into
// the atlas: {scaleX, scaleY, offsetX, offsetY}.
func (m ShadowMap) UVTransform() [4]float32 {
	const inv = 1.0 / AtlasSize
	return [4]float32{
		float32(m.Rect.Dx()) * inv,
		float32(m.Rect.Dy()) * inv,
		float32(m.Rect.Min.X) * inv,
		float32(m.Rect.Min.Y) * inv,
	}
}

// Atlas is one depth texture and the quad-tree of cells carved from it.
type Atlas struct {
	index int
	tex   *gpu.Texture
	mu    *sync.Mutex // the owning pool's
	tree  *tree
}

// Index returns the atlas position in its pool.
func (a *Atlas) Index() int { return a.index }

// Texture returns the depth texture. It is nil for pools without a device.
func (a *Atlas) Texture() *gpu.Texture { return a.tex }

// Cells returns a copy of the cell list.
func (a *Atlas) Cells() []Cell {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Cell(nil), a.tree.cells...)
}

// ShadowMaps returns the allocated cells in cell order.
func (a *Atlas) ShadowMaps() []ShadowMap {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []ShadowMap
	for i, c := range a.tree.cells {
		if c.Status == CellAllocated {
			out = append(out, ShadowMap{AtlasIndex: a.index, CellIndex: i, Rect: c.Rect})
		}
	}
	return out
}

// Utilization returns the allocated fraction of the atlas area.
func (a *Atlas) Utilization() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return float64(a.tree.allocatedArea()) / float64(AtlasSize*AtlasSize)
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	maxAtlases int
	label      string
}

// WithMaxAtlases sets the atlas limit.
func WithMaxAtlases(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAtlases = n
		}
	}
}

// WithLabel sets the label prefix of atlas textures.
func WithLabel(label string) Option {
	return func(o *options) { o.label = label }
}

// Pool hands out shadow map cells across a growing set of atlases.
//
// Pool is safe for concurrent use.
type Pool struct {
	dev  *gpu.Device
	opts options

	mu      sync.Mutex
	atlases []*Atlas
}

// NewPool creates an empty pool. Atlas textures are created on dev; a nil
// dev tracks cells only.
func NewPool(dev *gpu.Device, opts ...Option) *Pool {
	o := options{maxAtlases: DefaultMaxAtlases, label: "shadow_atlas"}
	for _, opt := range opts {
		opt(&o)
	}
	return &Pool{dev: dev, opts: o}
}

// GetNewShadowMap allocates a cell of res from the first atlas with room,
// creating a new atlas when none has.
func (p *Pool) GetNewShadowMap(res Resolution) (ShadowMap, error) {
	if !res.Valid() {
		return ShadowMap{}, fmt.Errorf("%w: %d", ErrInvalidResolution, uint32(res))
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, a := range p.atlases {
		if i := a.tree.allocate(res); i >= 0 {
			return ShadowMap{AtlasIndex: a.index, CellIndex: i, Rect: a.tree.cells[i].Rect}, nil
		}
	}
	if len(p.atlases) >= p.opts.maxAtlases {
		return ShadowMap{}, fmt.Errorf("%w: %d atlases, requested %v", ErrAtlasLimit, len(p.atlases), res)
	}
	a, err := p.newAtlas()
	if err != nil {
		return ShadowMap{}, err
	}
	i := a.tree.allocate(res)
	return ShadowMap{AtlasIndex: a.index, CellIndex: i, Rect: a.tree.cells[i].Rect}, nil
}

func (p *Pool) newAtlas() (*Atlas, error) {
	a := &Atlas{index: len(p.atlases), mu: &p.mu, tree: newTree()}
	if p.dev != nil {
		tex, err := p.dev.CreateTexture(gpu.TextureDesc{
			Label:  fmt.Sprintf("%s_%d", p.opts.label, a.index),
			Width:  AtlasSize,
			Height: AtlasSize,
			Format: gputypes.TextureFormatDepth32Float,
			Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
		})
		if err != nil {
			return nil, fmt.Errorf("shadowatlas: create atlas %d: %w", a.index, err)
		}
		a.tex = tex
	}
	p.atlases = append(p.atlases, a)
	slogger().Info("shadowatlas: atlas created", "index", a.index, "size", AtlasSize)
	return a, nil
}

// ReleaseShadowMap returns a cell to its atlas. The cell is not merged
// with its siblings.
func (p *Pool) ReleaseShadowMap(atlasIndex, cellIndex int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if atlasIndex < 0 || atlasIndex >= len(p.atlases) {
		return fmt.Errorf("%w: atlas %d", ErrInvalidCell, atlasIndex)
	}
	return p.atlases[atlasIndex].tree.release(cellIndex)
}

// Atlas returns the atlas at index, or nil.
func (p *Pool) Atlas(index int) *Atlas {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.atlases) {
		return nil
	}
	return p.atlases[index]
}

// Atlases returns a snapshot of the atlas list.
func (p *Pool) Atlases() []*Atlas {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Atlas(nil), p.atlases...)
}

// Len returns the number of atlases.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.atlases)
}

// Destroy releases every atlas texture and empties the pool.
func (p *Pool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.atlases {
		if a.tex != nil {
			a.tex.Destroy()
		}
	}
	p.atlases = nil
}
