package mesh

import (
	"math/bits"
	"strings"

	"github.com/gogpu/gputypes"
)

// VertexAttribute is a bit set of vertex streams.
type VertexAttribute uint32

const (
	AttrPosition VertexAttribute = 1 << iota
	AttrNormal
	AttrTangent
	AttrTexcoord0
	AttrTexcoord1
	AttrColor0
	AttrWeights0
	AttrWeights1
	AttrJoints0
	AttrJoints1
	AttrPreviousPosition

	attrCount = iota
)

// AttrAll is every known attribute.
const AttrAll VertexAttribute = 1<<attrCount - 1

var attrNames = [attrCount]string{
	"POSITION", "NORMAL", "TANGENT", "TEXCOORD0", "TEXCOORD1", "COLOR0",
	"WEIGHTS0", "WEIGHTS1", "JOINTS0", "JOINTS1", "PREV_POSITION",
}

// vertexFormats is the stream format of each attribute, in bit order.
var vertexFormats = [attrCount]gputypes.VertexFormat{
	gputypes.VertexFormatFloat32x3,
	gputypes.VertexFormatFloat32x3,
	gputypes.VertexFormatFloat32x4,
	gputypes.VertexFormatFloat32x2,
	gputypes.VertexFormatFloat32x2,
	gputypes.VertexFormatFloat32x4,
	gputypes.VertexFormatFloat32x4,
	gputypes.VertexFormatFloat32x4,
	gputypes.VertexFormatUint16x4,
	gputypes.VertexFormatUint16x4,
	gputypes.VertexFormatFloat32x3,
}

var vertexStrides = [attrCount]uint64{12, 12, 16, 8, 8, 16, 16, 16, 8, 8, 12}

// Has reports whether every attribute in o is set.
func (a VertexAttribute) Has(o VertexAttribute) bool { return a&o == o }

// Count returns the number of attributes set.
func (a VertexAttribute) Count() int { return bits.OnesCount32(uint32(a & AttrAll)) }

// Each calls fn for every single attribute set, in bit order.
func (a VertexAttribute) Each(fn func(VertexAttribute)) {
	for i := range attrCount {
		if bit := VertexAttribute(1) << i; a&bit != 0 {
			fn(bit)
		}
	}
}

// String returns the shader-facing name of a single attribute, or the
// names of a set joined by '|'.
func (a VertexAttribute) String() string {
	if a == 0 {
		return "NONE"
	}
	var names []string
	a.Each(func(bit VertexAttribute) {
		names = append(names, attrNames[bits.TrailingZeros32(uint32(bit))])
	})
	return strings.Join(names, "|")
}

// Format returns the vertex format of a single attribute.
func (a VertexAttribute) Format() gputypes.VertexFormat {
	return vertexFormats[bits.TrailingZeros32(uint32(a))%attrCount]
}

// Stride returns the byte stride of a single attribute's stream.
func (a VertexAttribute) Stride() uint64 {
	return vertexStrides[bits.TrailingZeros32(uint32(a))%attrCount]
}

// VertexLayout returns one non-interleaved vertex buffer per attribute in
// a, with shader locations assigned in bit order.
func VertexLayout(a VertexAttribute) []gputypes.VertexBufferLayout {
	var out []gputypes.VertexBufferLayout
	var loc uint32
	a.Each(func(bit VertexAttribute) {
		out = append(out, gputypes.VertexBufferLayout{
			ArrayStride: bit.Stride(),
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes: []gputypes.VertexAttribute{{
				Format:         bit.Format(),
				ShaderLocation: loc,
			}},
		})
		loc++
	})
	return out
}
