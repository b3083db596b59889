// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shadowatlas

import (
	"errors"
	"image"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/cauldron/gpu"
)

func createNoopDevice(t *testing.T) *gpu.Device {
	t.Helper()
	d, err := gpu.Open(noop.API{})
	if err != nil {
		t.Fatalf("Open(noop) failed: %v", err)
	}
	t.Cleanup(d.Destroy)
	return d
}

// checkTree verifies a cell is subdivided iff it has four children and no
// allocation, and that children tile their parent.
func checkTree(t *testing.T, tr *tree) {
	t.Helper()
	for i, c := range tr.cells {
		hasChildren := c.Children[0] >= 0
		for _, ch := range c.Children {
			if (ch >= 0) != hasChildren {
				t.Fatalf("cell %d has a partial child set %v", i, c.Children)
			}
		}
		if (c.Status == CellSubdivided) != hasChildren {
			t.Fatalf("cell %d status %v with children %v", i, c.Status, c.Children)
		}
		if !hasChildren {
			continue
		}
		area := 0
		for _, ch := range c.Children {
			cc := tr.cells[ch]
			if cc.Parent != i || !cc.Rect.In(c.Rect) {
				t.Fatalf("child %d not inside parent %d", ch, i)
			}
			area += cc.Rect.Dx() * cc.Rect.Dy()
		}
		if area != c.Rect.Dx()*c.Rect.Dy() {
			t.Fatalf("children of %d cover %d texels, parent %d", i, area, c.Rect.Dx()*c.Rect.Dy())
		}
	}
}

func TestFindBestCell(t *testing.T) {
	tr := newTree()

	steps := []struct {
		res  Resolution
		want image.Rectangle
	}{
		{ResolutionHalf, image.Rect(0, 0, 2048, 2048)},
		{ResolutionHalf, image.Rect(2048, 0, 4096, 2048)},
		{ResolutionQuarter, image.Rect(0, 2048, 1024, 3072)},
		{ResolutionQuarter, image.Rect(1024, 2048, 2048, 3072)},
		// Smallest fitting cell wins over the larger empty half.
		{ResolutionSixteenth, image.Rect(0, 3072, 256, 3328)},
		{ResolutionHalf, image.Rect(2048, 2048, 4096, 4096)},
	}
	for i, s := range steps {
		idx := tr.allocate(s.res)
		if idx < 0 {
			t.Fatalf("step %d: allocate(%v) failed", i, s.res)
		}
		if got := tr.cells[idx].Rect; got != s.want {
			t.Errorf("step %d: allocate(%v) = %v, want %v", i, s.res, got, s.want)
		}
		checkTree(t, tr)
	}
	if idx := tr.findBestCell(ResolutionHalf); idx != -1 {
		t.Errorf("findBestCell(half) on a packed tree = %d, want -1", idx)
	}
	if idx := tr.findBestCell(ResolutionSixteenth); idx < 0 {
		t.Error("findBestCell(sixteenth) should find a leftover cell")
	}
}

func TestFullFullUsesTwoAtlases(t *testing.T) {
	d := createNoopDevice(t)
	p := NewPool(d)
	defer p.Destroy()

	a, err := p.GetNewShadowMap(ResolutionFull)
	if err != nil {
		t.Fatalf("first Full failed: %v", err)
	}
	b, err := p.GetNewShadowMap(ResolutionFull)
	if err != nil {
		t.Fatalf("second Full failed: %v", err)
	}
	if a.AtlasIndex == b.AtlasIndex {
		t.Fatalf("two Full maps share atlas %d", a.AtlasIndex)
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}
	for _, at := range p.Atlases() {
		tex := at.Texture()
		if tex == nil || tex.Format() != gputypes.TextureFormatDepth32Float || tex.Width() != AtlasSize {
			t.Errorf("atlas %d texture not a %d D32F target", at.Index(), AtlasSize)
		}
		if at.Utilization() != 1 {
			t.Errorf("atlas %d utilization = %v, want 1", at.Index(), at.Utilization())
		}
	}
}

func TestReleaseReusesCell(t *testing.T) {
	p := NewPool(nil)

	maps := make([]ShadowMap, 0, 4)
	for range 4 {
		m, err := p.GetNewShadowMap(ResolutionHalf)
		if err != nil {
			t.Fatal(err)
		}
		maps = append(maps, m)
	}
	if p.Len() != 1 {
		t.Fatalf("four halves used %d atlases, want 1", p.Len())
	}
	if err := p.ReleaseShadowMap(maps[2].AtlasIndex, maps[2].CellIndex); err != nil {
		t.Fatalf("ReleaseShadowMap failed: %v", err)
	}
	m, err := p.GetNewShadowMap(ResolutionHalf)
	if err != nil {
		t.Fatal(err)
	}
	if m.CellIndex != maps[2].CellIndex || m.Rect != maps[2].Rect {
		t.Errorf("re-request got cell %d %v, want %d %v", m.CellIndex, m.Rect, maps[2].CellIndex, maps[2].Rect)
	}
	if p.Len() != 1 {
		t.Errorf("re-request grew the pool to %d atlases", p.Len())
	}
}

func TestNoCoalescing(t *testing.T) {
	p := NewPool(nil, WithMaxAtlases(1))
	var maps []ShadowMap
	for range 4 {
		m, err := p.GetNewShadowMap(ResolutionHalf)
		if err != nil {
			t.Fatal(err)
		}
		maps = append(maps, m)
	}
	for _, m := range maps {
		if err := p.ReleaseShadowMap(m.AtlasIndex, m.CellIndex); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := p.GetNewShadowMap(ResolutionFull); !errors.Is(err, ErrAtlasLimit) {
		t.Errorf("Full after releasing halves: expected ErrAtlasLimit, got %v", err)
	}
	if _, err := p.GetNewShadowMap(ResolutionHalf); err != nil {
		t.Errorf("Half after release failed: %v", err)
	}
}

func TestPoolErrors(t *testing.T) {
	p := NewPool(nil, WithMaxAtlases(1))
	m, err := p.GetNewShadowMap(ResolutionQuarter)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"bad resolution", func() error { _, err := p.GetNewShadowMap(1000); return err }(), ErrInvalidResolution},
		{"bad atlas", p.ReleaseShadowMap(3, 0), ErrInvalidCell},
		{"bad cell", p.ReleaseShadowMap(0, 999), ErrInvalidCell},
		{"subdivided cell", p.ReleaseShadowMap(0, 0), ErrInvalidCell},
		{"release", p.ReleaseShadowMap(m.AtlasIndex, m.CellIndex), nil},
		{"double release", p.ReleaseShadowMap(m.AtlasIndex, m.CellIndex), ErrInvalidCell},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.want == nil {
				if tt.err != nil {
					t.Fatalf("unexpected error %v", tt.err)
				}
				return
			}
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("got %v, want %v", tt.err, tt.want)
			}
		})
	}
}

func TestMixedAllocationsDoNotOverlap(t *testing.T) {
	p := NewPool(nil)
	order := []Resolution{
		ResolutionQuarter, ResolutionSixteenth, ResolutionHalf, ResolutionEighth,
		ResolutionQuarter, ResolutionFull, ResolutionSixteenth, ResolutionHalf,
		ResolutionEighth, ResolutionHalf, ResolutionQuarter, ResolutionSixteenth,
	}
	byAtlas := map[int][]image.Rectangle{}
	total := 0
	for _, r := range order {
		m, err := p.GetNewShadowMap(r)
		if err != nil {
			t.Fatalf("GetNewShadowMap(%v) failed: %v", r, err)
		}
		if m.Resolution() != r {
			t.Errorf("got %v map for %v request", m.Resolution(), r)
		}
		if !m.Rect.In(image.Rect(0, 0, AtlasSize, AtlasSize)) {
			t.Fatalf("rect %v outside the atlas", m.Rect)
		}
		for _, other := range byAtlas[m.AtlasIndex] {
			if m.Rect.Overlaps(other) {
				t.Fatalf("rect %v overlaps %v in atlas %d", m.Rect, other, m.AtlasIndex)
			}
		}
		byAtlas[m.AtlasIndex] = append(byAtlas[m.AtlasIndex], m.Rect)
		total += int(r) * int(r)
	}
	if total > p.Len()*AtlasSize*AtlasSize {
		t.Errorf("%d texels allocated in %d atlases", total, p.Len())
	}
	for _, a := range p.Atlases() {
		checkTree(t, a.tree)
		if got := len(a.ShadowMaps()); got != len(byAtlas[a.Index()]) {
			t.Errorf("atlas %d reports %d maps, want %d", a.Index(), got, len(byAtlas[a.Index()]))
		}
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in   string
		want Resolution
		ok   bool
	}{
		{"full", ResolutionFull, true},
		{" Quarter ", ResolutionQuarter, true},
		{"256", ResolutionSixteenth, true},
		{"2048", ResolutionHalf, true},
		{"tiny", 0, false},
		{"300", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseResolution(tt.in)
			if (err == nil) != tt.ok {
				t.Fatalf("ParseResolution(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseResolution(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestUVTransform(t *testing.T) {
	m := ShadowMap{Rect: image.Rect(2048, 1024, 3072, 2048)}
	want := [4]float32{0.25, 0.25, 0.5, 0.25}
	if got := m.UVTransform(); got != want {
		t.Errorf("UVTransform = %v, want %v", got, want)
	}
}
