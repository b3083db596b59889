package mesh

import (
	"errors"
	"testing"

	"github.com/gogpu/cauldron/gpu"
)

func TestVertexAttributeString(t *testing.T) {
	tests := []struct {
		attr VertexAttribute
		want string
	}{
		{AttrPosition, "POSITION"},
		{AttrTexcoord0, "TEXCOORD0"},
		{AttrPreviousPosition, "PREV_POSITION"},
		{AttrPosition | AttrNormal, "POSITION|NORMAL"},
		{0, "NONE"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.attr.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVertexLayoutLocations(t *testing.T) {
	layout := VertexLayout(AttrPosition | AttrTexcoord0 | AttrNormal)
	if len(layout) != 3 {
		t.Fatalf("got %d buffers, want 3", len(layout))
	}
	wantStrides := []uint64{12, 12, 8}
	for i, l := range layout {
		if l.Attributes[0].ShaderLocation != uint32(i) {
			t.Errorf("buffer %d location = %d", i, l.Attributes[0].ShaderLocation)
		}
		if l.ArrayStride != wantStrides[i] {
			t.Errorf("buffer %d stride = %d, want %d", i, l.ArrayStride, wantStrides[i])
		}
	}
	if AttrAll.Count() != 11 {
		t.Errorf("AttrAll.Count() = %d, want 11", AttrAll.Count())
	}
}

func TestSurfaceIDsUnique(t *testing.T) {
	a, err := NewSurface(SurfaceDesc{Attributes: AttrPosition})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSurface(SurfaceDesc{Attributes: AttrPosition})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() == b.ID() {
		t.Errorf("surfaces share id %d", a.ID())
	}
}

func TestSurfaceMissingStream(t *testing.T) {
	_, err := NewSurface(SurfaceDesc{
		Attributes: AttrPosition | AttrNormal,
		Streams:    map[VertexAttribute]*gpu.Buffer{AttrPosition: {}},
	})
	if !errors.Is(err, ErrMissingStream) {
		t.Fatalf("expected ErrMissingStream, got %v", err)
	}
}

func TestMaterialTextureMask(t *testing.T) {
	m := &Material{}
	m.Textures[TextureAlbedo] = &TextureInfo{Texture: &gpu.Texture{}}
	m.Textures[TextureNormal] = &TextureInfo{}

	if !m.HasTexture(TextureAlbedo) {
		t.Error("albedo should be present")
	}
	if m.HasTexture(TextureNormal) {
		t.Error("texture info without a texture should not count")
	}
	if got := m.TextureMask(); got != 1 {
		t.Errorf("TextureMask = %b, want 1", got)
	}
	if m.Texture(TextureEmissive) != nil {
		t.Error("Texture(emissive) should be nil")
	}
}
