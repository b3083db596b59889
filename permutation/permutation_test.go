package permutation

import (
	"errors"
	"testing"

	"github.com/gogpu/cauldron/ecs"
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/mesh"
	"github.com/gogpu/cauldron/shader"
)

var allClasses = []mesh.TextureClass{
	mesh.TextureAlbedo, mesh.TextureMetalRough, mesh.TextureNormal, mesh.TextureEmissive, mesh.TextureOcclusion,
}

func gbufferProfile() *Profile {
	return &Profile{
		Name:                 "gbuffer",
		ConsumableAttributes: mesh.AttrAll,
		Textures:             allClasses,
		AlphaMask:            true,
		DoubleSided:          true,
	}
}

func newSurface(t *testing.T, attrs mesh.VertexAttribute, m *mesh.Material) *mesh.Surface {
	t.Helper()
	s, err := mesh.NewSurface(mesh.SurfaceDesc{Attributes: attrs, Material: m})
	if err != nil {
		t.Fatalf("NewSurface failed: %v", err)
	}
	return s
}

func materialWith(mask uint32, model mesh.PBRModel) *mesh.Material {
	m := &mesh.Material{Name: "m", Model: model}
	for c := range mesh.TextureClass(mesh.TextureClassCount) {
		if mask&(1<<c) != 0 {
			m.Textures[c] = &mesh.TextureInfo{Texture: &gpu.Texture{}}
		}
	}
	return m
}

func TestIdenticalSurfacesShareHash(t *testing.T) {
	p := gbufferProfile()
	attrs := mesh.AttrPosition | mesh.AttrNormal | mesh.AttrTexcoord0
	a := Build(newSurface(t, attrs, materialWith(1, mesh.MetalRough)), p)
	b := Build(newSurface(t, attrs, materialWith(1, mesh.MetalRough)), p)
	if a.Hash != b.Hash {
		t.Fatalf("identical surfaces hash %016x and %016x", a.Hash, b.Hash)
	}

	other := *p
	other.Name = "translucency"
	if Build(newSurface(t, attrs, materialWith(1, mesh.MetalRough)), &other).Hash == a.Hash {
		t.Error("hash does not depend on the module name")
	}
}

func TestTexturePowerSetHashesUnique(t *testing.T) {
	p := gbufferProfile()
	attrs := mesh.AttrPosition | mesh.AttrNormal | mesh.AttrTexcoord0
	seen := make(map[uint64]string)
	for _, model := range []mesh.PBRModel{mesh.MetalRough, mesh.SpecGloss} {
		for mask := range uint32(1 << mesh.TextureClassCount) {
			k := Build(newSurface(t, attrs, materialWith(mask, model)), p)
			name := model.String() + "/" + k.Defines.String()
			if prev, ok := seen[k.Hash]; ok {
				t.Fatalf("hash collision between %q and %q", prev, name)
			}
			seen[k.Hash] = name
			if k.TextureMask != mask {
				t.Errorf("TextureMask = %b, want %b", k.TextureMask, mask)
			}
		}
	}
	if len(seen) != 64 {
		t.Errorf("%d distinct hashes, want 64", len(seen))
	}
}

func TestHashIgnoresUnconsumedState(t *testing.T) {
	depthOnly := &Profile{
		Name:                 "depth",
		ConsumableAttributes: mesh.AttrPosition | mesh.AttrTexcoord0,
		Textures:             []mesh.TextureClass{mesh.TextureAlbedo},
	}
	attrs := mesh.AttrPosition | mesh.AttrNormal | mesh.AttrTexcoord0
	base := Build(newSurface(t, attrs, materialWith(1, mesh.MetalRough)), depthOnly)

	normalMapped := materialWith(1|1<<mesh.TextureNormal, mesh.MetalRough)
	masked := materialWith(1, mesh.MetalRough)
	masked.Blend = mesh.BlendMask
	twoSided := materialWith(1, mesh.MetalRough)
	twoSided.DoubleSided = true

	tests := []struct {
		name string
		m    *mesh.Material
	}{
		{"unsampled normal map", normalMapped},
		{"mask without alpha test", masked},
		{"double sided without culling control", twoSided},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := Build(newSurface(t, attrs, tt.m), depthOnly)
			if k.Hash != base.Hash {
				t.Errorf("hash %016x differs from %016x for identical defines %q", k.Hash, base.Hash, k.Defines.String())
			}
			if k.TextureMask != 1 || k.Blend != mesh.BlendOpaque || k.DoubleSided {
				t.Errorf("key = mask %b blend %v double-sided %v, want the consumed state only", k.TextureMask, k.Blend, k.DoubleSided)
			}
		})
	}

	blended := materialWith(1, mesh.MetalRough)
	blended.Blend = mesh.BlendBlend
	if Build(newSurface(t, attrs, blended), depthOnly).Hash == base.Hash {
		t.Error("blended material shares the opaque hash")
	}
}

func TestBuildDefines(t *testing.T) {
	m := &mesh.Material{Model: mesh.MetalRough, Blend: mesh.BlendMask, DoubleSided: true}
	m.Textures[mesh.TextureAlbedo] = &mesh.TextureInfo{Texture: &gpu.Texture{}, TexCoord: 1}
	m.Textures[mesh.TextureNormal] = &mesh.TextureInfo{Texture: &gpu.Texture{}}
	s := newSurface(t, mesh.AttrPosition|mesh.AttrNormal|mesh.AttrTexcoord0|mesh.AttrTexcoord1, m)

	shadow := &Profile{
		Name:                 "rastershadow",
		ConsumableAttributes: mesh.AttrPosition,
		Textures:             []mesh.TextureClass{mesh.TextureAlbedo},
		AlphaMask:            true,
		ExtraDefines:         shader.NewDefineList("SHADOW_PASS", "1"),
	}
	k := Build(s, shadow)

	if want := mesh.AttrPosition | mesh.AttrTexcoord1; k.UsedAttributes != want {
		t.Errorf("UsedAttributes = %v, want %v", k.UsedAttributes, want)
	}
	want := map[string]string{
		"HAS_POSITION":               "1",
		"LOC_POSITION":               "0",
		"HAS_TEXCOORD1":              "1",
		"LOC_TEXCOORD1":              "1",
		"HAS_ALBEDO_TEXTURE":         "1",
		"ALBEDO_TEXCOORD":            "1",
		"MATERIAL_METALLICROUGHNESS": "1",
		"DEF_ALPHA_TEST":             "1",
		"SHADOW_PASS":                "1",
	}
	if k.Defines.Len() != len(want) {
		t.Errorf("defines = %q, want %d entries", k.Defines.String(), len(want))
	}
	for name, v := range want {
		if got, ok := k.Defines.Get(name); !ok || got != v {
			t.Errorf("%s = %q (present %v), want %q", name, got, ok, v)
		}
	}
	for _, absent := range []string{"HAS_NORMAL", "HAS_NORMAL_TEXTURE", "ID_DOUBLESIDED", "DEF_ALPHA_BLEND"} {
		if k.Defines.Has(absent) {
			t.Errorf("unexpected define %s", absent)
		}
	}
	if got := len(k.VertexLayout()); got != 2 {
		t.Errorf("VertexLayout has %d buffers, want 2", got)
	}
	bd := k.Shader("shadow_vs", "src", "vs_main")
	bd.Defines.Set("MUTATED", "1")
	if k.Defines.Has("MUTATED") {
		t.Error("Shader shares the key's define list")
	}
}

func TestBlendAndSidedness(t *testing.T) {
	p := gbufferProfile()
	attrs := mesh.AttrPosition
	tests := []struct {
		name string
		mat  mesh.Material
		want string
	}{
		{"blend", mesh.Material{Blend: mesh.BlendBlend}, "DEF_ALPHA_BLEND"},
		{"mask", mesh.Material{Blend: mesh.BlendMask}, "DEF_ALPHA_TEST"},
		{"double sided", mesh.Material{DoubleSided: true}, "ID_DOUBLESIDED"},
		{"spec gloss", mesh.Material{Model: mesh.SpecGloss}, "MATERIAL_SPECULARGLOSSINESS"},
	}
	base := Build(newSurface(t, attrs, &mesh.Material{}), p)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.mat
			k := Build(newSurface(t, attrs, &m), p)
			if !k.Defines.Has(tt.want) {
				t.Errorf("missing %s in %q", tt.want, k.Defines.String())
			}
			if k.Hash == base.Hash {
				t.Error("hash equals the opaque single-sided permutation")
			}
		})
	}

	if k := Build(newSurface(t, attrs, nil), p); k.Hash != base.Hash {
		t.Error("surface without material differs from a default material")
	}
}

func TestHashSeparatesDefineBoundaries(t *testing.T) {
	a := Hash("m", shader.NewDefineList("AB", ""), 0, 0)
	b := Hash("m", shader.NewDefineList("A", "B"), 0, 0)
	if a == b {
		t.Error("NAME=\"\" and N=AME produced the same hash")
	}
	c := Hash("m", shader.NewDefineList("X", "1", "Y", "2"), 0, 0)
	d := Hash("m", shader.NewDefineList("Y", "2", "X", "1"), 0, 0)
	if c != d {
		t.Error("define order changed the hash")
	}
}

func TestCacheGroupsSurfaces(t *testing.T) {
	p := gbufferProfile()
	store := ecs.NewStore()
	e := store.CreateEntity("e")
	attrs := mesh.AttrPosition | mesh.AttrNormal
	s1 := newSurface(t, attrs, materialWith(1, mesh.MetalRough))
	s2 := newSurface(t, attrs, materialWith(1, mesh.MetalRough))
	s3 := newSurface(t, attrs, materialWith(3, mesh.MetalRough))

	builds := 0
	build := func(Key) (*gpu.PipelineObject, error) {
		builds++
		return nil, nil
	}

	var c Cache[int]
	for i, s := range []*mesh.Surface{s1, s2, s3} {
		if _, err := c.AddSurface(e, s, Build(s, p), i, build); err != nil {
			t.Fatalf("AddSurface failed: %v", err)
		}
	}
	if c.Len() != 2 || builds != 2 {
		t.Fatalf("groups %d builds %d, want 2 and 2", c.Len(), builds)
	}
	if got := len(c.Groups()[0].Surfaces); got != 2 {
		t.Errorf("first group holds %d surfaces, want 2", got)
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 2 || st.Surfaces != 3 {
		t.Errorf("Stats = %+v", st)
	}

	if d, ok := c.RemoveSurface(e, s2); !ok || d != 1 {
		t.Errorf("RemoveSurface = %d, %v", d, ok)
	}
	if _, ok := c.RemoveSurface(e, s2); ok {
		t.Error("second RemoveSurface found the entry")
	}
	if _, err := c.AddSurface(e, s2, Build(s2, p), 9, build); err != nil {
		t.Fatal(err)
	}
	if builds != 2 {
		t.Error("re-adding a surface rebuilt its pipeline")
	}

	if _, ok := c.RemoveSurface(e, s3); !ok {
		t.Fatal("RemoveSurface(s3) failed")
	}
	if c.Len() != 2 || len(c.Groups()[1].Surfaces) != 0 {
		t.Error("emptied group was dropped")
	}
}

func TestCacheBuildError(t *testing.T) {
	p := gbufferProfile()
	s := newSurface(t, mesh.AttrPosition, nil)
	errCompile := errors.New("compile")

	var c Cache[struct{}]
	_, err := c.AddSurface(nil, s, Build(s, p), struct{}{}, func(Key) (*gpu.PipelineObject, error) {
		return nil, errCompile
	})
	if !errors.Is(err, ErrBuild) || !errors.Is(err, errCompile) {
		t.Fatalf("expected ErrBuild wrapping the build error, got %v", err)
	}
	if c.Len() != 0 || c.Stats().Surfaces != 0 {
		t.Error("failed build added a group")
	}
}
