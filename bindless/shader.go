package bindless

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/gpu"
)

// Layout adds the table's texture and sampler sets to desc. Each slot is
// its own binding, textures at [textureBinding, textureBinding+capacity)
// and samplers likewise, matching the declarations of ShaderSource.
func (t *Table) Layout(desc *gpu.RootSignatureDesc, stages gputypes.ShaderStages, textureBinding, samplerBinding uint32) *gpu.RootSignatureDesc {
	return desc.
		AddSamplerSet(samplerBinding, stages, uint32(t.maxSamplers)).   //nolint:gosec // capped by MaxSamplers
		AddTextureSRVSet(textureBinding, stages, uint32(t.maxTextures)) //nolint:gosec // capped by MaxTextures
}

// ShaderSource returns the WGSL declarations of the table's bindings in
// group and a sampling function over them:
//
//	fn bindless_sample(tex: i32, smp: i32, uv: vec2<f32>) -> vec4<f32>
//
// Out of range slots sample slot 0. Derivatives are taken before the slot
// switch, so the function may be called wherever textureSample may.
func (t *Table) ShaderSource(group, textureBinding, samplerBinding uint32) string {
	var b strings.Builder
	for i := range t.maxSamplers {
		fmt.Fprintf(&b, "@group(%d) @binding(%d) var bindless_sampler_%d: sampler;\n", group, samplerBinding+uint32(i), i) //nolint:gosec // i < maxSamplers
	}
	for i := range t.maxTextures {
		fmt.Fprintf(&b, "@group(%d) @binding(%d) var bindless_texture_%d: texture_2d<f32>;\n", group, textureBinding+uint32(i), i) //nolint:gosec // i < maxTextures
	}

	b.WriteString("\nfn bindless_sample_texture(t: u32, s: sampler, uv: vec2<f32>, ddx: vec2<f32>, ddy: vec2<f32>) -> vec4<f32> {\n")
	b.WriteString("    var c: vec4<f32>;\n")
	b.WriteString("    switch t {\n")
	for i := 1; i < t.maxTextures; i++ {
		fmt.Fprintf(&b, "        case %du: { c = textureSampleGrad(bindless_texture_%d, s, uv, ddx, ddy); }\n", i, i)
	}
	b.WriteString("        default: { c = textureSampleGrad(bindless_texture_0, s, uv, ddx, ddy); }\n")
	b.WriteString("    }\n    return c;\n}\n")

	b.WriteString("\nfn bindless_sample(tex: i32, smp: i32, uv: vec2<f32>) -> vec4<f32> {\n")
	b.WriteString("    let ddx = dpdx(uv);\n")
	b.WriteString("    let ddy = dpdy(uv);\n")
	b.WriteString("    let t = u32(max(tex, 0));\n")
	b.WriteString("    var c: vec4<f32>;\n")
	b.WriteString("    switch u32(max(smp, 0)) {\n")
	for i := 1; i < t.maxSamplers; i++ {
		fmt.Fprintf(&b, "        case %du: { c = bindless_sample_texture(t, bindless_sampler_%d, uv, ddx, ddy); }\n", i, i)
	}
	b.WriteString("        default: { c = bindless_sample_texture(t, bindless_sampler_0, uv, ddx, ddy); }\n")
	b.WriteString("    }\n    return c;\n}\n\n")
	return b.String()
}
