// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shadowatlas

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

// AtlasSize is the edge length in texels of every atlas.
const AtlasSize = 4096

var (
	// ErrInvalidResolution is returned for sizes that are not one of the
	// Resolution constants.
	ErrInvalidResolution = errors.New("shadowatlas: invalid resolution")

	// ErrInvalidCell is returned when releasing a cell that does not exist
	// or is not allocated.
	ErrInvalidCell = errors.New("shadowatlas: invalid cell")

	// ErrAtlasLimit is returned when a request needs more atlases than the
	// pool allows.
	ErrAtlasLimit = errors.New("shadowatlas: atlas limit reached")
)

// Resolution is the edge length of a square shadow map.
type Resolution uint32

const (
	ResolutionFull      Resolution = AtlasSize
	ResolutionHalf      Resolution = AtlasSize / 2
	ResolutionQuarter   Resolution = AtlasSize / 4
	ResolutionEighth    Resolution = AtlasSize / 8
	ResolutionSixteenth Resolution = AtlasSize / 16
)

var resolutionNames = map[Resolution]string{
	ResolutionFull:      "full",
	ResolutionHalf:      "half",
	ResolutionQuarter:   "quarter",
	ResolutionEighth:    "eighth",
	ResolutionSixteenth: "sixteenth",
}

// Valid reports whether r is one of the Resolution constants.
func (r Resolution) Valid() bool {
	_, ok := resolutionNames[r]
	return ok
}

func (r Resolution) String() string {
	if n, ok := resolutionNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Resolution(%d)", uint32(r))
}

// ParseResolution accepts a resolution name ("full" through "sixteenth") or
// its size in texels.
func ParseResolution(s string) (Resolution, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r, n := range resolutionNames {
		if n == s || fmt.Sprint(uint32(r)) == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidResolution, s)
}

// CellStatus is the allocation state of a cell.
type CellStatus uint8

const (
	CellEmpty CellStatus = iota
	CellAllocated
	CellSubdivided
)

func (s CellStatus) String() string {
	switch s {
	case CellEmpty:
		return "empty"
	case CellAllocated:
		return "allocated"
	case CellSubdivided:
		return "subdivided"
	}
	return fmt.Sprintf("CellStatus(%d)", uint8(s))
}

// Cell is a node of an atlas quad-tree. Parent and Children index the
// atlas cell list; -1 means none.
type Cell struct {
	Size     Resolution
	Rect     image.Rectangle
	Status   CellStatus
	Parent   int
	Children [4]int
}

func newCell(size Resolution, origin image.Point, parent int) Cell {
	s := int(size)
	return Cell{
		Size:     size,
		Rect:     image.Rectangle{Min: origin, Max: origin.Add(image.Pt(s, s))},
		Parent:   parent,
		Children: [4]int{-1, -1, -1, -1},
	}
}

// tree is the quad-tree allocator of one atlas. Cells are only ever
// appended, so indices stay valid for the atlas lifetime.
type tree struct {
	cells []Cell
}

func newTree() *tree {
	return &tree{cells: []Cell{newCell(ResolutionFull, image.Point{}, -1)}}
}

// findBestCell returns the smallest empty cell of at least res, ties going
// to the first in preorder. It returns -1 when nothing fits.
func (t *tree) findBestCell(res Resolution) int {
	best := -1
	var walk func(i int)
	walk = func(i int) {
		c := &t.cells[i]
		if c.Size < res {
			return
		}
		switch c.Status {
		case CellEmpty:
			if best < 0 || c.Size < t.cells[best].Size {
				best = i
			}
		case CellSubdivided:
			for _, ch := range c.Children {
				walk(ch)
			}
		}
	}
	walk(0)
	return best
}

// subdivide splits empty cell i into four children ordered top-left,
// top-right, bottom-left, bottom-right.
func (t *tree) subdivide(i int) {
	half := t.cells[i].Size / 2
	h := int(half)
	origin := t.cells[i].Rect.Min
	offsets := [4]image.Point{{0, 0}, {h, 0}, {0, h}, {h, h}}
	for k, off := range offsets {
		t.cells = append(t.cells, newCell(half, origin.Add(off), i))
		t.cells[i].Children[k] = len(t.cells) - 1
	}
	t.cells[i].Status = CellSubdivided
}

// allocate reserves a cell of exactly res and returns its index, or -1.
func (t *tree) allocate(res Resolution) int {
	i := t.findBestCell(res)
	if i < 0 {
		return -1
	}
	for t.cells[i].Size > res {
		t.subdivide(i)
		i = t.cells[i].Children[0]
	}
	t.cells[i].Status = CellAllocated
	return i
}

func (t *tree) release(i int) error {
	if i < 0 || i >= len(t.cells) || t.cells[i].Status != CellAllocated {
		return fmt.Errorf("%w: %d", ErrInvalidCell, i)
	}
	t.cells[i].Status = CellEmpty
	return nil
}

// allocatedArea returns the texel area of allocated cells.
func (t *tree) allocatedArea() int {
	area := 0
	for _, c := range t.cells {
		if c.Status == CellAllocated {
			area += int(c.Size) * int(c.Size)
		}
	}
	return area
}
