// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ResourceState is the usage a resource is currently prepared for.
type ResourceState uint32

const (
	StateCommon ResourceState = iota
	StateCopySource
	StateCopyDest
	StateVertexBuffer
	StateIndexBuffer
	StateConstantBuffer
	StateShaderResource
	StateUnorderedAccess
	StateRenderTarget
	StateDepthWrite
	StateDepthRead
	StateIndirectArgument
)

var stateNames = [...]string{
	"Common", "CopySource", "CopyDest", "VertexBuffer", "IndexBuffer",
	"ConstantBuffer", "ShaderResource", "UnorderedAccess", "RenderTarget",
	"DepthWrite", "DepthRead", "IndirectArgument",
}

func (s ResourceState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("ResourceState(%d)", s)
}

// BufferUsage maps the state to the HAL buffer usage used in transitions.
func (s ResourceState) BufferUsage() gputypes.BufferUsage {
	switch s {
	case StateCopySource:
		return gputypes.BufferUsageCopySrc
	case StateCopyDest:
		return gputypes.BufferUsageCopyDst
	case StateVertexBuffer:
		return gputypes.BufferUsageVertex
	case StateIndexBuffer:
		return gputypes.BufferUsageIndex
	case StateConstantBuffer:
		return gputypes.BufferUsageUniform
	case StateShaderResource, StateUnorderedAccess:
		return gputypes.BufferUsageStorage
	case StateIndirectArgument:
		return gputypes.BufferUsageIndirect
	default:
		return 0
	}
}

// TextureUsage maps the state to the HAL texture usage used in transitions.
func (s ResourceState) TextureUsage() gputypes.TextureUsage {
	switch s {
	case StateCopySource:
		return gputypes.TextureUsageCopySrc
	case StateCopyDest:
		return gputypes.TextureUsageCopyDst
	case StateShaderResource, StateDepthRead:
		return gputypes.TextureUsageTextureBinding
	case StateUnorderedAccess:
		return gputypes.TextureUsageStorageBinding
	case StateRenderTarget, StateDepthWrite:
		return gputypes.TextureUsageRenderAttachment
	default:
		return 0
	}
}

// Resource is a buffer or texture whose state is tracked for barriers.
type Resource interface {
	ID() uint64
	Label() string
	State() ResourceState
	setState(ResourceState)
}

// nextResourceID hands out resource identities. HAL handles are not unique
// on every backend, so wrappers carry their own.
var nextResourceID atomic.Uint64

func newResourceID() uint64 { return nextResourceID.Add(1) }

// BufferDesc describes a buffer.
type BufferDesc struct {
	Label        string
	Size         uint64
	Usage        gputypes.BufferUsage
	InitialState ResourceState
}

// Buffer is a GPU buffer.
type Buffer struct {
	dev   *Device
	raw   hal.Buffer
	id    uint64
	label string
	size  uint64
	usage gputypes.BufferUsage
	state atomic.Uint32
	freed atomic.Bool
}

func (b *Buffer) ID() uint64                  { return b.id }
func (b *Buffer) Label() string               { return b.label }
func (b *Buffer) Size() uint64                { return b.size }
func (b *Buffer) Usage() gputypes.BufferUsage { return b.usage }
func (b *Buffer) Raw() hal.Buffer             { return b.raw }
func (b *Buffer) State() ResourceState        { return ResourceState(b.state.Load()) }
func (b *Buffer) setState(s ResourceState)    { b.state.Store(uint32(s)) }
func (b *Buffer) binding() gputypes.BufferBinding {
	return gputypes.BufferBinding{Buffer: b.raw.NativeHandle(), Offset: 0, Size: b.size}
}

// Write uploads data at offset through the queue.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if b.freed.Load() {
		return fmt.Errorf("buffer %q: %w", b.label, ErrDeviceLost)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("%w: write of %d bytes at %d overflows buffer %q (%d bytes)",
			ErrInvalidDescriptor, len(data), offset, b.label, b.size)
	}
	if err := b.dev.queue.WriteBuffer(b.raw, offset, data); err != nil {
		return fmt.Errorf("buffer %q: write: %w", b.label, err)
	}
	return nil
}

// Read copies size bytes at offset back to the host. Buffers created with
// MapRead usage are mapped directly; any other buffer is copied into a
// staging buffer first. Read waits for all submitted work.
func (b *Buffer) Read(offset, size uint64) ([]byte, error) {
	if b.freed.Load() {
		return nil, fmt.Errorf("buffer %q: %w", b.label, ErrDeviceLost)
	}
	if offset+size > b.size {
		return nil, fmt.Errorf("%w: read of %d bytes at %d overflows buffer %q (%d bytes)",
			ErrInvalidDescriptor, size, offset, b.label, b.size)
	}
	if size == 0 {
		return nil, nil
	}
	d := b.dev
	if err := d.FlushAllCommandQueues(); err != nil {
		return nil, err
	}

	src, srcOff := b.raw, offset
	if b.usage&gputypes.BufferUsageMapRead == 0 {
		staging, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
			Label: b.label + "_readback",
			Size:  size,
			Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, fmt.Errorf("buffer %q: create staging: %w", b.label, err)
		}
		defer d.dev.DestroyBuffer(staging)

		if err := d.copyNow(b.raw, staging, offset, size); err != nil {
			return nil, fmt.Errorf("buffer %q: readback copy: %w", b.label, err)
		}
		src, srcOff = staging, 0
	}

	m, err := d.dev.MapBuffer(src, srcOff, size)
	if err != nil {
		return nil, fmt.Errorf("buffer %q: map: %w", b.label, err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(m.Ptr), size))
	if err := d.dev.UnmapBuffer(src); err != nil {
		return nil, fmt.Errorf("buffer %q: unmap: %w", b.label, err)
	}
	return out, nil
}

// Destroy releases the buffer. Destroy is safe to call more than once.
func (b *Buffer) Destroy() {
	if b.freed.CompareAndSwap(false, true) {
		b.dev.dev.DestroyBuffer(b.raw)
	}
}

// TextureDesc describes a 2D texture or texture array.
type TextureDesc struct {
	Label        string
	Width        uint32
	Height       uint32
	ArrayLayers  uint32 // 0 means 1
	MipLevels    uint32 // 0 means 1
	Format       gputypes.TextureFormat
	Usage        gputypes.TextureUsage
	InitialState ResourceState
}

// Texture is a GPU texture with a default view over all mips and layers.
type Texture struct {
	dev   *Device
	raw   hal.Texture
	view  hal.TextureView
	id    uint64
	desc  TextureDesc
	state atomic.Uint32
	freed atomic.Bool
}

func (t *Texture) ID() uint64                     { return t.id }
func (t *Texture) Label() string                  { return t.desc.Label }
func (t *Texture) Width() uint32                  { return t.desc.Width }
func (t *Texture) Height() uint32                 { return t.desc.Height }
func (t *Texture) ArrayLayers() uint32            { return t.desc.ArrayLayers }
func (t *Texture) MipLevels() uint32              { return t.desc.MipLevels }
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }
func (t *Texture) Raw() hal.Texture               { return t.raw }
func (t *Texture) View() hal.TextureView          { return t.view }
func (t *Texture) State() ResourceState           { return ResourceState(t.state.Load()) }
func (t *Texture) setState(s ResourceState)       { t.state.Store(uint32(s)) }
func (t *Texture) IsDepth() bool                  { return IsDepthFormat(t.desc.Format) }

// WriteMip uploads tightly packed texel rows into one mip level of layer 0.
func (t *Texture) WriteMip(mip, width, height, bytesPerRow uint32, data []byte) error {
	if t.freed.Load() {
		return fmt.Errorf("texture %q: %w", t.desc.Label, ErrDeviceLost)
	}
	if mip >= t.desc.MipLevels {
		return fmt.Errorf("%w: mip %d of texture %q with %d levels", ErrInvalidDescriptor, mip, t.desc.Label, t.desc.MipLevels)
	}
	err := t.dev.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: t.raw, MipLevel: mip, Aspect: gputypes.TextureAspectAll},
		data,
		&hal.ImageDataLayout{BytesPerRow: bytesPerRow, RowsPerImage: height},
		&hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
	)
	if err != nil {
		return fmt.Errorf("texture %q: write mip %d: %w", t.desc.Label, mip, err)
	}
	return nil
}

// Destroy releases the view and the texture. Safe to call more than once.
func (t *Texture) Destroy() {
	if t.freed.CompareAndSwap(false, true) {
		t.dev.dev.DestroyTextureView(t.view)
		t.dev.dev.DestroyTexture(t.raw)
	}
}

// IsDepthFormat reports whether f is a depth or depth-stencil format.
func IsDepthFormat(f gputypes.TextureFormat) bool {
	switch f {
	case gputypes.TextureFormatDepth16Unorm,
		gputypes.TextureFormatDepth24Plus,
		gputypes.TextureFormatDepth24PlusStencil8,
		gputypes.TextureFormatDepth32Float,
		gputypes.TextureFormatDepth32FloatStencil8:
		return true
	}
	return false
}

// SamplerDesc describes a sampler. It is comparable, so equal descriptors
// can share one sampler.
type SamplerDesc struct {
	AddressU, AddressV, AddressW gputypes.AddressMode
	MagFilter, MinFilter         gputypes.FilterMode
	MipFilter                    gputypes.FilterMode
	Compare                      gputypes.CompareFunction
	MaxAnisotropy                uint16
}

// DefaultSamplerDesc is trilinear filtering with repeat addressing.
func DefaultSamplerDesc() SamplerDesc {
	return SamplerDesc{
		AddressU:      gputypes.AddressModeRepeat,
		AddressV:      gputypes.AddressModeRepeat,
		AddressW:      gputypes.AddressModeRepeat,
		MagFilter:     gputypes.FilterModeLinear,
		MinFilter:     gputypes.FilterModeLinear,
		MipFilter:     gputypes.FilterModeLinear,
		MaxAnisotropy: 1,
	}
}

// ShadowSamplerDesc is a clamped comparison sampler for depth maps.
func ShadowSamplerDesc() SamplerDesc {
	return SamplerDesc{
		AddressU:      gputypes.AddressModeClampToEdge,
		AddressV:      gputypes.AddressModeClampToEdge,
		AddressW:      gputypes.AddressModeClampToEdge,
		MagFilter:     gputypes.FilterModeLinear,
		MinFilter:     gputypes.FilterModeLinear,
		MipFilter:     gputypes.FilterModeNearest,
		Compare:       gputypes.CompareFunctionLessEqual,
		MaxAnisotropy: 1,
	}
}

// Sampler is a GPU sampler.
type Sampler struct {
	dev   *Device
	raw   hal.Sampler
	id    uint64
	desc  SamplerDesc
	freed atomic.Bool
}

func (s *Sampler) ID() uint64        { return s.id }
func (s *Sampler) Desc() SamplerDesc { return s.desc }
func (s *Sampler) Raw() hal.Sampler  { return s.raw }

// Destroy releases the sampler. Safe to call more than once.
func (s *Sampler) Destroy() {
	if s.freed.CompareAndSwap(false, true) {
		s.dev.dev.DestroySampler(s.raw)
	}
}
