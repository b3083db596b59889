// Package shader is the shader build system shared by every render module.
//
// A render module describes what it wants with a [BuildDesc]: WGSL source,
// an entry point, a stage, a shader model and a [DefineList]. The [Compiler]
// preprocesses the source with those defines, translates it to the target
// language through naga, and caches the resulting [Blob] by content hash.
//
// Targets:
//
//   - [TargetWGSL]: preprocessed WGSL, handed to the HAL as-is
//   - [TargetSPIRV]: SPIR-V words (Vulkan)
//   - [TargetHLSL], [TargetDXIL]: DirectX 12 source and bytecode
//   - [TargetMSL]: Metal Shading Language
//   - [TargetGLSL]: OpenGL / GLES
//
// Compile failures wrap [ErrCompile]. A failed blob is never cached.
package shader
