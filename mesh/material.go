package mesh

import (
	"fmt"

	"github.com/gogpu/cauldron/gpu"
)

// PBRModel is the material's reflectance parameterization.
type PBRModel uint8

const (
	MetalRough PBRModel = iota
	SpecGloss
)

func (m PBRModel) String() string {
	if m == SpecGloss {
		return "SpecGloss"
	}
	return "MetalRough"
}

// BlendMode selects how a material's alpha is used.
type BlendMode uint8

const (
	BlendOpaque BlendMode = iota
	BlendMask
	BlendBlend
)

func (b BlendMode) String() string {
	switch b {
	case BlendOpaque:
		return "Opaque"
	case BlendMask:
		return "Mask"
	case BlendBlend:
		return "Blend"
	default:
		return fmt.Sprintf("BlendMode(%d)", b)
	}
}

// TextureClass is the role a texture plays in a material.
type TextureClass uint8

const (
	TextureAlbedo TextureClass = iota
	// TextureMetalRough holds specular-glossiness data for SpecGloss
	// materials.
	TextureMetalRough
	TextureNormal
	TextureEmissive
	TextureOcclusion

	TextureClassCount = iota
)

var textureClassNames = [TextureClassCount]string{"ALBEDO", "METALROUGH", "NORMAL", "EMISSIVE", "OCCLUSION"}

// String returns the upper-case name used in shader defines.
func (c TextureClass) String() string {
	if int(c) < TextureClassCount {
		return textureClassNames[c]
	}
	return fmt.Sprintf("TextureClass(%d)", c)
}

// TextureInfo binds a texture to a material slot.
type TextureInfo struct {
	Texture  *gpu.Texture
	TexCoord uint32
	Sampler  gpu.SamplerDesc
}

// Material describes how a surface is shaded.
type Material struct {
	Name        string
	Model       PBRModel
	Blend       BlendMode
	AlphaCutoff float32
	DoubleSided bool

	BaseColor [4]float32
	Emissive  [3]float32
	Metallic  float32
	Roughness float32

	Textures [TextureClassCount]*TextureInfo
}

// HasTexture reports whether the class has a bound texture.
func (m *Material) HasTexture(c TextureClass) bool {
	return int(c) < TextureClassCount && m.Textures[c] != nil && m.Textures[c].Texture != nil
}

// TextureMask returns one bit per bound texture class.
func (m *Material) TextureMask() uint32 {
	var mask uint32
	for c := range TextureClass(TextureClassCount) {
		if m.HasTexture(c) {
			mask |= 1 << c
		}
	}
	return mask
}

// Texture returns the binding of class c, or nil.
func (m *Material) Texture(c TextureClass) *TextureInfo {
	if !m.HasTexture(c) {
		return nil
	}
	return m.Textures[c]
}
