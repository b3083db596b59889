package permutation

import (
	"slices"
	"strconv"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/internal/fnvhash"
	"github.com/gogpu/cauldron/mesh"
	"github.com/gogpu/cauldron/shader"
)

// Profile is what a render module can consume from a surface.
type Profile struct {
	// Name scopes hashes to the module.
	Name string

	// ConsumableAttributes are the vertex streams the module's shaders
	// can read.
	ConsumableAttributes mesh.VertexAttribute

	// Textures are the texture classes the module samples.
	Textures []mesh.TextureClass

	// AlphaMask enables DEF_ALPHA_TEST for masked materials.
	AlphaMask bool

	// DoubleSided enables ID_DOUBLESIDED for double-sided materials.
	DoubleSided bool

	// ExtraDefines are added to every permutation.
	ExtraDefines *shader.DefineList
}

// Samples reports whether the profile samples texture class c.
func (p *Profile) Samples(c mesh.TextureClass) bool {
	return slices.Contains(p.Textures, c)
}

// Key identifies a shader permutation.
type Key struct {
	Hash uint64

	Defines        *shader.DefineList
	UsedAttributes mesh.VertexAttribute

	// The material state the profile consumes. Blend is BlendOpaque for
	// masked materials under a profile without AlphaMask, DoubleSided is
	// false under a profile without DoubleSided, and TextureMask has one
	// bit per bound texture class the profile samples.
	Model       mesh.PBRModel
	Blend       mesh.BlendMode
	DoubleSided bool
	TextureMask uint32
}

// defaultMaterial stands in for surfaces without a material.
var defaultMaterial = mesh.Material{Name: "default", BaseColor: [4]float32{1, 1, 1, 1}, Roughness: 1}

// texcoordAttr maps a texture's texcoord set to its vertex stream.
func texcoordAttr(set uint32) mesh.VertexAttribute {
	if set == 1 {
		return mesh.AttrTexcoord1
	}
	return mesh.AttrTexcoord0
}

// Build derives the permutation of s under profile p.
func Build(s *mesh.Surface, p *Profile) Key {
	m := s.Material()
	if m == nil {
		m = &defaultMaterial
	}

	used := p.ConsumableAttributes & s.Attributes()
	var (
		sampled []mesh.TextureClass
		mask    uint32
	)
	for c := range mesh.TextureClass(mesh.TextureClassCount) {
		if p.Samples(c) && m.HasTexture(c) {
			sampled = append(sampled, c)
			mask |= 1 << c
			used |= texcoordAttr(m.Textures[c].TexCoord) & s.Attributes()
		}
	}
	blend := m.Blend
	if blend == mesh.BlendMask && !p.AlphaMask {
		blend = mesh.BlendOpaque
	}
	doubleSided := p.DoubleSided && m.DoubleSided

	defines := &shader.DefineList{}
	var loc int
	used.Each(func(a mesh.VertexAttribute) {
		defines.Set("HAS_"+a.String(), "1")
		defines.Set("LOC_"+a.String(), strconv.Itoa(loc))
		loc++
	})
	for _, c := range sampled {
		defines.Set("HAS_"+c.String()+"_TEXTURE", "1")
		defines.Set(c.String()+"_TEXCOORD", strconv.FormatUint(uint64(m.Textures[c].TexCoord), 10))
	}
	if m.Model == mesh.SpecGloss {
		defines.Set("MATERIAL_SPECULARGLOSSINESS", "1")
	} else {
		defines.Set("MATERIAL_METALLICROUGHNESS", "1")
	}
	if doubleSided {
		defines.Set("ID_DOUBLESIDED", "1")
	}
	switch blend {
	case mesh.BlendMask:
		defines.Set("DEF_ALPHA_TEST", "1")
	case mesh.BlendBlend:
		defines.Set("DEF_ALPHA_BLEND", "1")
	}
	if p.ExtraDefines != nil {
		defines.Merge(p.ExtraDefines)
	}

	k := Key{
		Defines:        defines,
		UsedAttributes: used,
		Model:          m.Model,
		Blend:          blend,
		DoubleSided:    doubleSided,
		TextureMask:    mask,
	}
	k.Hash = Hash(p.Name, defines, used, k.discriminator())
	return k
}

// discriminator packs the material flags into one word: PBR model in bit
// 0, blend mode in bits 1-2, double-sided in bit 3 and texture presence
// from bit 8.
func (k Key) discriminator() uint32 {
	d := uint32(k.Model)&1 | (uint32(k.Blend)&3)<<1 | k.TextureMask<<8
	if k.DoubleSided {
		d |= 1 << 3
	}
	return d
}

// Hash returns the FNV-1a hash of a permutation: the module name, the
// key-sorted defines, the used attributes and the discriminator, with
// every string length-prefixed.
func Hash(module string, defines *shader.DefineList, used mesh.VertexAttribute, discriminator uint32) uint64 {
	h := fnvhash.New()
	fnvhash.WriteString(h, module)
	canon := defines.Canonical()
	fnvhash.WriteUint32(h, uint32(canon.Len())) //nolint:gosec // define count is small
	for k, v := range canon.All() {
		fnvhash.WriteString(h, k)
		fnvhash.WriteString(h, v)
	}
	fnvhash.WriteUint32(h, uint32(used))
	fnvhash.WriteUint32(h, discriminator)
	return h.Sum64()
}

// VertexLayout returns the vertex buffer layouts of the used attributes.
// Buffer slot i carries the i-th used attribute in bit order.
func (k Key) VertexLayout() []gputypes.VertexBufferLayout {
	return mesh.VertexLayout(k.UsedAttributes)
}

// Shader returns a build description of entry in src with the key's
// defines.
func (k Key) Shader(label, src, entry string) shader.BuildDesc {
	return shader.BuildDesc{
		Label:      label,
		Source:     src,
		EntryPoint: entry,
		Defines:    k.Defines.Clone(),
	}
}
