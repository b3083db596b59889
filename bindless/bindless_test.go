package bindless

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/mesh"
)

func material(tex *gpu.Texture, s gpu.SamplerDesc) *mesh.Material {
	m := &mesh.Material{Name: "m"}
	m.Textures[mesh.TextureAlbedo] = &mesh.TextureInfo{Texture: tex, Sampler: s}
	return m
}

func TestAddTextureRefcounts(t *testing.T) {
	tbl := New(nil)
	shared := &gpu.Texture{}
	other := &gpu.Texture{}
	clamp := gpu.ShadowSamplerDesc()
	clamp.Compare = 0

	a, sa := tbl.AddTexture(material(shared, gpu.DefaultSamplerDesc()), mesh.TextureAlbedo)
	b, sb := tbl.AddTexture(material(shared, gpu.DefaultSamplerDesc()), mesh.TextureAlbedo)
	c, sc := tbl.AddTexture(material(other, clamp), mesh.TextureAlbedo)

	if a != 0 || b != 0 || c != 1 {
		t.Errorf("texture slots = %d %d %d, want 0 0 1", a, b, c)
	}
	if sa != 0 || sb != 0 || sc != 1 {
		t.Errorf("sampler slots = %d %d %d, want 0 0 1", sa, sb, sc)
	}
	if got := tbl.Textures()[0].Count; got != 2 {
		t.Errorf("shared refcount = %d, want 2", got)
	}
	if tbl.LiveCount() != 2 || len(tbl.Samplers()) != 2 {
		t.Errorf("LiveCount = %d samplers = %d", tbl.LiveCount(), len(tbl.Samplers()))
	}

	tbl.RemoveTexture(0)
	if tbl.Textures()[0].Texture != shared {
		t.Fatal("slot freed while still referenced")
	}
	tbl.RemoveTexture(0)
	if tbl.Textures()[0].Texture != nil || tbl.LiveCount() != 1 {
		t.Errorf("slot 0 not freed: %+v live=%d", tbl.Textures()[0], tbl.LiveCount())
	}
}

func TestMissingTexture(t *testing.T) {
	tbl := New(nil)
	m := material(&gpu.Texture{}, gpu.DefaultSamplerDesc())
	tests := []struct {
		name string
		m    *mesh.Material
		c    mesh.TextureClass
	}{
		{"nil material", nil, mesh.TextureAlbedo},
		{"unbound class", m, mesh.TextureNormal},
		{"out of range", m, mesh.TextureClass(mesh.TextureClassCount)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ti, si := tbl.AddTexture(tt.m, tt.c)
			if ti != -1 || si != -1 {
				t.Errorf("AddTexture = (%d, %d), want (-1, -1)", ti, si)
			}
		})
	}
	if tbl.LiveCount() != 0 || len(tbl.Samplers()) != 0 {
		t.Error("missing textures must not occupy slots")
	}
}

func TestLowestFreeSlotReused(t *testing.T) {
	tbl := New(nil)
	texs := make([]*gpu.Texture, 6)
	for i := range texs {
		texs[i] = &gpu.Texture{}
	}
	s := gpu.DefaultSamplerDesc()
	for i := range 3 {
		if got, _ := tbl.AddTexture(material(texs[i], s), mesh.TextureAlbedo); got != i {
			t.Fatalf("slot = %d, want %d", got, i)
		}
	}
	tbl.RemoveTexture(2)
	tbl.RemoveTexture(0)

	for i, want := range []int{0, 2, 3} {
		got, _ := tbl.AddTexture(material(texs[3+i], s), mesh.TextureAlbedo)
		if got != want {
			t.Errorf("add %d: slot = %d, want %d", i, got, want)
		}
	}
	if len(tbl.Textures()) != 4 {
		t.Errorf("table length = %d, want 4", len(tbl.Textures()))
	}
}

func TestRemoveInvalidIsNoop(t *testing.T) {
	tbl := New(nil)
	tbl.AddTexture(material(&gpu.Texture{}, gpu.DefaultSamplerDesc()), mesh.TextureAlbedo)
	for _, i := range []int{-1, 1, 99} {
		tbl.RemoveTexture(i)
	}
	tbl.RemoveTexture(0)
	tbl.RemoveTexture(0)
	if tbl.LiveCount() != 0 {
		t.Errorf("LiveCount = %d", tbl.LiveCount())
	}
	if got, _ := tbl.AddTexture(material(&gpu.Texture{}, gpu.DefaultSamplerDesc()), mesh.TextureAlbedo); got != 0 {
		t.Errorf("double free pushed slot twice: next slot %d", got)
	}
	if got, _ := tbl.AddTexture(material(&gpu.Texture{}, gpu.DefaultSamplerDesc()), mesh.TextureAlbedo); got != 1 {
		t.Errorf("next slot = %d, want 1", got)
	}
}

func TestCapacityPanics(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		add  func(tbl *Table, i int)
		want error
	}{
		{
			name: "textures",
			opt:  WithMaxTextures(2),
			add: func(tbl *Table, i int) {
				tbl.AddTexture(material(&gpu.Texture{}, gpu.DefaultSamplerDesc()), mesh.TextureAlbedo)
			},
			want: ErrTextureCapacity,
		},
		{
			name: "samplers",
			opt:  WithMaxSamplers(2),
			add: func(tbl *Table, i int) {
				s := gpu.DefaultSamplerDesc()
				s.MaxAnisotropy = uint16(i + 1) //nolint:gosec // small
				tbl.AddTexture(material(&gpu.Texture{}, s), mesh.TextureAlbedo)
			},
			want: ErrSamplerCapacity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := New(nil, tt.opt)
			tt.add(tbl, 0)
			tt.add(tbl, 1)
			defer func() {
				r := recover()
				err, ok := r.(error)
				if !ok || !errors.Is(err, tt.want) {
					t.Fatalf("recovered %v, want %v", r, tt.want)
				}
			}()
			tt.add(tbl, 2)
		})
	}
}

func TestBind(t *testing.T) {
	d, err := gpu.Open(noop.API{})
	if err != nil {
		t.Fatalf("Open(noop) failed: %v", err)
	}
	defer d.Destroy()

	rs, err := d.CreateRootSignature(gpu.NewRootSignatureDesc("bindless").
		AddTextureSRVSet(0, gputypes.ShaderStageFragment, 2).
		AddSamplerSet(2, gputypes.ShaderStageFragment, 2))
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Destroy()

	newTex := func(label string) *gpu.Texture {
		tex, err := d.CreateTexture(gpu.TextureDesc{
			Label:  label,
			Width:  4,
			Height: 4,
			Format: gputypes.TextureFormatRGBA8Unorm,
			Usage:  gputypes.TextureUsageTextureBinding,
		})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(tex.Destroy)
		return tex
	}

	tbl := New(d)
	defer tbl.Destroy()
	ps := gpu.NewParameterSet(rs, "bindless")
	defer ps.Destroy()

	tbl.AddTexture(material(newTex("a"), gpu.DefaultSamplerDesc()), mesh.TextureAlbedo)
	if err := tbl.Bind(ps, 0, 2); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	tbl.AddTexture(material(newTex("b"), gpu.DefaultSamplerDesc()), mesh.TextureAlbedo)
	tbl.AddTexture(material(newTex("c"), gpu.DefaultSamplerDesc()), mesh.TextureAlbedo)
	if err := tbl.Bind(ps, 0, 2); !errors.Is(err, gpu.ErrInvalidDescriptor) {
		t.Errorf("overfull set: expected ErrInvalidDescriptor, got %v", err)
	}
}

var declRe = regexp.MustCompile(`@group\(0\) @binding\((\d+)\) var (\w+): ([\w<>]+);`)

func TestLayoutMatchesShaderSource(t *testing.T) {
	tbl := New(nil, WithMaxTextures(3), WithMaxSamplers(2))
	desc := tbl.Layout(gpu.NewRootSignatureDesc("material").
		AddConstantBufferView(0, gputypes.ShaderStageFragment, 1),
		gputypes.ShaderStageFragment, 8, 4)

	kinds := make(map[uint32]gpu.BindingKind)
	for _, s := range desc.Slots() {
		kinds[s.Binding] = s.Kind
	}
	if len(kinds) != 1+3+2 {
		t.Fatalf("layout has %d bindings, want 6", len(kinds))
	}

	src := tbl.ShaderSource(0, 8, 4)
	if strings.Contains(src, "binding_array") {
		t.Error("source declares a binding array")
	}
	decls := declRe.FindAllStringSubmatch(src, -1)
	if len(decls) != 3+2 {
		t.Fatalf("source declares %d bindings, want 5:\n%s", len(decls), src)
	}
	for _, d := range decls {
		binding, _ := strconv.Atoi(d[1])
		want := gpu.BindingTextureSRV
		if d[3] == "sampler" {
			want = gpu.BindingSampler
		}
		if got, ok := kinds[uint32(binding)]; !ok || got != want {
			t.Errorf("%s at binding %d: layout kind %v (present %v), want %v", d[2], binding, got, ok, want)
		}
	}
	for _, want := range []string{"case 2u:", "bindless_texture_2", "bindless_sampler_1", "fn bindless_sample("} {
		if !strings.Contains(src, want) {
			t.Errorf("source missing %q", want)
		}
	}
}
