// Package gbuffer implements the deferred geometry pass.
//
// The module draws every opaque and alpha-tested surface of loaded content
// into the albedo, normal, ao/roughness/metalness, optional motion vector
// and depth targets. Surfaces are grouped by shader permutation; each
// group owns one pipeline and textures are addressed through a bindless
// table. The package registers itself as "GBufferRenderModule".
package gbuffer
