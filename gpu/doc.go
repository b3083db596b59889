// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpu is the backend-agnostic resource layer every render module
// records through.
//
// It wraps the gogpu/wgpu HAL, so the same code runs on Vulkan, DirectX 12,
// Metal, GLES, the software rasterizer and the noop backend used by tests.
//
// # Resources
//
// [Buffer], [Texture] and [Sampler] own their HAL handles and carry a
// process-unique ID. HAL handles are never used for identity: on some
// backends distinct resources share a handle value.
//
// Every buffer and texture tracks its current [ResourceState]. A
// [CommandList] transition names the state it expects to leave; a mismatch
// is reported as [ErrStateMismatch] instead of silently corrupting a frame.
//
// # Binding model
//
// A [RootSignature] is built from a [RootSignatureDesc] and becomes one bind
// group layout plus pipeline layout. A [ParameterSet] holds the resources
// bound against a root signature and lazily rebuilds its bind group when a
// binding changes. [PipelineObject] pairs a root signature with a compiled
// render or compute pipeline.
package gpu
