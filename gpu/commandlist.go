// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Barrier moves a resource from one state to another.
type Barrier struct {
	Resource Resource
	Before   ResourceState
	After    ResourceState
}

// ColorAttachment is one render target of a raster pass.
type ColorAttachment struct {
	Texture *Texture
	Clear   gputypes.Color
	// Load keeps the existing contents instead of clearing.
	Load bool
}

// DepthAttachment is the depth target of a raster pass.
type DepthAttachment struct {
	Texture    *Texture
	ClearDepth float32
	Load       bool
	ReadOnly   bool
}

// RasterDesc describes a raster pass.
type RasterDesc struct {
	Label  string
	Colors []ColorAttachment
	Depth  *DepthAttachment
}

// Stats counts what a command list recorded.
type Stats struct {
	Barriers   int
	Passes     int
	Dispatches int
	Draws      int
	Copies     int
}

// CommandList records GPU work for one submission.
//
// A CommandList is not safe for concurrent use.
type CommandList struct {
	dev   *Device
	enc   hal.CommandEncoder
	label string

	render  hal.RenderPassEncoder
	compute hal.ComputePassEncoder
	bound   *PipelineObject

	transients []hal.BindGroup
	closed     bool
	stats      Stats
}

// Label returns the list's debug label.
func (cl *CommandList) Label() string { return cl.label }

// Device returns the device the list records for.
func (cl *CommandList) Device() *Device { return cl.dev }

// Stats returns recording counters.
func (cl *CommandList) Stats() Stats { return cl.stats }

// InRasterPass reports whether a raster pass is open.
func (cl *CommandList) InRasterPass() bool { return cl.render != nil }

func (cl *CommandList) check() error {
	if cl.closed {
		return fmt.Errorf("%w: %q", ErrListClosed, cl.label)
	}
	return nil
}

func (cl *CommandList) endCompute() {
	if cl.compute != nil {
		cl.compute.End()
		cl.compute = nil
		cl.bound = nil
	}
}

// ResourceBarrier transitions resources. Every barrier's Before must equal
// the resource's tracked state; on mismatch nothing is recorded. A barrier
// with Before == After is a UAV barrier and still orders the accesses.
func (cl *CommandList) ResourceBarrier(barriers ...Barrier) error {
	if err := cl.check(); err != nil {
		return err
	}
	if cl.render != nil {
		return fmt.Errorf("%w: barrier", ErrInsideRasterPass)
	}
	for _, b := range barriers {
		if got := b.Resource.State(); got != b.Before {
			return fmt.Errorf("%w: %q is %v, barrier expects %v",
				ErrStateMismatch, b.Resource.Label(), got, b.Before)
		}
	}
	if len(barriers) == 0 {
		return nil
	}

	cl.endCompute()

	var (
		bufs []hal.BufferBarrier
		texs []hal.TextureBarrier
	)
	for _, b := range barriers {
		switch r := b.Resource.(type) {
		case *Buffer:
			bufs = append(bufs, hal.BufferBarrier{
				Buffer: r.raw,
				Usage: hal.BufferUsageTransition{
					OldUsage: b.Before.BufferUsage(),
					NewUsage: b.After.BufferUsage(),
				},
			})
		case *Texture:
			aspect := gputypes.TextureAspectAll
			if r.IsDepth() {
				aspect = gputypes.TextureAspectDepthOnly
			}
			texs = append(texs, hal.TextureBarrier{
				Texture: r.raw,
				Range: hal.TextureRange{
					Aspect:          aspect,
					MipLevelCount:   r.desc.MipLevels,
					ArrayLayerCount: r.desc.ArrayLayers,
				},
				Usage: hal.TextureUsageTransition{
					OldUsage: b.Before.TextureUsage(),
					NewUsage: b.After.TextureUsage(),
				},
			})
		}
		b.Resource.setState(b.After)
	}
	if len(bufs) > 0 {
		cl.enc.TransitionBuffers(bufs)
	}
	if len(texs) > 0 {
		cl.enc.TransitionTextures(texs)
	}
	cl.stats.Barriers += len(barriers)
	return nil
}

// Transition moves r to after from its tracked state. Transitioning to the
// current state is a no-op, except for UnorderedAccess which records a UAV
// barrier.
func (cl *CommandList) Transition(r Resource, after ResourceState) error {
	before := r.State()
	if before == after && after != StateUnorderedAccess {
		return cl.check()
	}
	return cl.ResourceBarrier(Barrier{Resource: r, Before: before, After: after})
}

// BeginRaster opens a raster pass. Color targets must be in RenderTarget
// state and the depth target in DepthWrite (DepthRead when read-only).
func (cl *CommandList) BeginRaster(desc RasterDesc) error {
	if err := cl.check(); err != nil {
		return err
	}
	if cl.render != nil {
		return fmt.Errorf("%w: nested raster pass %q", ErrInsideRasterPass, desc.Label)
	}
	if len(desc.Colors) == 0 && desc.Depth == nil {
		return fmt.Errorf("%w: raster pass %q has no attachments", ErrInvalidDescriptor, desc.Label)
	}

	rp := &hal.RenderPassDescriptor{Label: desc.Label}
	var w, h uint32
	for _, c := range desc.Colors {
		if c.Texture.State() != StateRenderTarget {
			return fmt.Errorf("%w: color target %q is %v", ErrStateMismatch, c.Texture.Label(), c.Texture.State())
		}
		load := gputypes.LoadOpClear
		if c.Load {
			load = gputypes.LoadOpLoad
		}
		rp.ColorAttachments = append(rp.ColorAttachments, hal.RenderPassColorAttachment{
			View:       c.Texture.view,
			LoadOp:     load,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: c.Clear,
		})
		w, h = c.Texture.Width(), c.Texture.Height()
	}
	if d := desc.Depth; d != nil {
		want := StateDepthWrite
		if d.ReadOnly {
			want = StateDepthRead
		}
		if d.Texture.State() != want {
			return fmt.Errorf("%w: depth target %q is %v, want %v", ErrStateMismatch, d.Texture.Label(), d.Texture.State(), want)
		}
		load := gputypes.LoadOpClear
		if d.Load || d.ReadOnly {
			load = gputypes.LoadOpLoad
		}
		rp.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:            d.Texture.view,
			DepthLoadOp:     load,
			DepthStoreOp:    gputypes.StoreOpStore,
			DepthClearValue: d.ClearDepth,
			DepthReadOnly:   d.ReadOnly,
		}
		if w == 0 {
			w, h = d.Texture.Width(), d.Texture.Height()
		}
	}

	cl.endCompute()
	cl.render = cl.enc.BeginRenderPass(rp)
	cl.render.SetViewport(0, 0, float32(w), float32(h), 0, 1)
	cl.render.SetScissorRect(0, 0, w, h)
	cl.bound = nil
	cl.stats.Passes++
	return nil
}

// EndRaster closes the open raster pass.
func (cl *CommandList) EndRaster() error {
	if cl.render == nil {
		return fmt.Errorf("%w: EndRaster", ErrNoActivePass)
	}
	cl.render.End()
	cl.render = nil
	cl.bound = nil
	return nil
}

// SetViewport sets the viewport of the open raster pass.
func (cl *CommandList) SetViewport(x, y, width, height, minDepth, maxDepth float32) error {
	if cl.render == nil {
		return fmt.Errorf("%w: SetViewport", ErrNoActivePass)
	}
	cl.render.SetViewport(x, y, width, height, minDepth, maxDepth)
	return nil
}

// SetScissor sets the scissor rectangle of the open raster pass.
//
//nolint:gosec // rectangles come from atlas cells and render targets, never negative
func (cl *CommandList) SetScissor(r image.Rectangle) error {
	if cl.render == nil {
		return fmt.Errorf("%w: SetScissor", ErrNoActivePass)
	}
	cl.render.SetScissorRect(uint32(r.Min.X), uint32(r.Min.Y), uint32(r.Dx()), uint32(r.Dy()))
	return nil
}

// SetPipeline binds p. Graphics pipelines need an open raster pass. Compute
// pipelines open a compute pass when none is active.
func (cl *CommandList) SetPipeline(p *PipelineObject) error {
	if err := cl.check(); err != nil {
		return err
	}
	switch p.kind {
	case PipelineGraphics:
		if cl.render == nil {
			return fmt.Errorf("%w: graphics pipeline %q", ErrNoActivePass, p.label)
		}
		cl.render.SetPipeline(p.render)
	case PipelineCompute:
		if cl.render != nil {
			return fmt.Errorf("%w: compute pipeline %q inside raster pass", ErrPipelineKind, p.label)
		}
		if cl.compute == nil {
			cl.compute = cl.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: p.label})
			cl.stats.Passes++
		}
		cl.compute.SetPipeline(p.compute)
	}
	cl.bound = p
	return nil
}

// setBindGroup binds bg at index on the open pass.
func (cl *CommandList) setBindGroup(index uint32, bg hal.BindGroup) error {
	switch {
	case cl.render != nil:
		cl.render.SetBindGroup(index, bg, nil)
	case cl.compute != nil:
		cl.compute.SetBindGroup(index, bg, nil)
	default:
		return fmt.Errorf("%w: bind parameters", ErrNoActivePass)
	}
	return nil
}

// retain keeps bg alive until the list's submission completes.
func (cl *CommandList) retain(bg hal.BindGroup) {
	cl.transients = append(cl.transients, bg)
}

func (cl *CommandList) computeReady(what string) error {
	if err := cl.check(); err != nil {
		return err
	}
	if cl.compute == nil || cl.bound == nil {
		return fmt.Errorf("%w: %s without a compute pipeline", ErrNoActivePass, what)
	}
	return nil
}

// Dispatch runs the bound compute pipeline.
func (cl *CommandList) Dispatch(x, y, z uint32) error {
	if err := cl.computeReady("Dispatch"); err != nil {
		return err
	}
	cl.compute.Dispatch(x, y, z)
	cl.stats.Dispatches++
	return nil
}

// DispatchIndirect runs the bound compute pipeline with workgroup counts
// read from args, which must be in IndirectArgument state.
func (cl *CommandList) DispatchIndirect(args *Buffer, offset uint64) error {
	if err := cl.computeReady("DispatchIndirect"); err != nil {
		return err
	}
	if args.State() != StateIndirectArgument {
		return fmt.Errorf("%w: indirect args %q are %v", ErrStateMismatch, args.Label(), args.State())
	}
	cl.compute.DispatchIndirect(args.raw, offset)
	cl.stats.Dispatches++
	return nil
}

// SetVertexBuffer binds b to slot of the open raster pass.
func (cl *CommandList) SetVertexBuffer(slot uint32, b *Buffer, offset uint64) error {
	if cl.render == nil {
		return fmt.Errorf("%w: SetVertexBuffer", ErrNoActivePass)
	}
	cl.render.SetVertexBuffer(slot, b.raw, offset)
	return nil
}

// SetIndexBuffer binds b as the index buffer of the open raster pass.
func (cl *CommandList) SetIndexBuffer(b *Buffer, format gputypes.IndexFormat, offset uint64) error {
	if cl.render == nil {
		return fmt.Errorf("%w: SetIndexBuffer", ErrNoActivePass)
	}
	cl.render.SetIndexBuffer(b.raw, format, offset)
	return nil
}

// Draw records a non-indexed draw.
func (cl *CommandList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	if cl.render == nil || cl.bound == nil {
		return fmt.Errorf("%w: Draw without a graphics pipeline", ErrNoActivePass)
	}
	cl.render.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	cl.stats.Draws++
	return nil
}

// DrawIndexed records an indexed draw.
func (cl *CommandList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) error {
	if cl.render == nil || cl.bound == nil {
		return fmt.Errorf("%w: DrawIndexed without a graphics pipeline", ErrNoActivePass)
	}
	cl.render.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	cl.stats.Draws++
	return nil
}

// CopyBuffer copies size bytes from src to dst. src must be in CopySource
// and dst in CopyDest state.
func (cl *CommandList) CopyBuffer(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset, size uint64) error {
	if err := cl.check(); err != nil {
		return err
	}
	if cl.render != nil {
		return fmt.Errorf("%w: CopyBuffer", ErrInsideRasterPass)
	}
	if src.State() != StateCopySource {
		return fmt.Errorf("%w: copy source %q is %v", ErrStateMismatch, src.Label(), src.State())
	}
	if dst.State() != StateCopyDest {
		return fmt.Errorf("%w: copy destination %q is %v", ErrStateMismatch, dst.Label(), dst.State())
	}
	cl.endCompute()
	cl.enc.CopyBufferToBuffer(src.raw, dst.raw, []hal.BufferCopy{{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}})
	cl.stats.Copies++
	return nil
}

// finish closes open passes and ends encoding.
func (cl *CommandList) finish() (hal.CommandBuffer, error) {
	if err := cl.check(); err != nil {
		return nil, err
	}
	if cl.render != nil {
		cl.render.End()
		cl.render = nil
	}
	cl.endCompute()
	cl.closed = true
	cmdBuf, err := cl.enc.EndEncoding()
	if err != nil {
		cl.releaseTransients()
		return nil, fmt.Errorf("gpu: end encoding %q: %w", cl.label, err)
	}
	return cmdBuf, nil
}

// Discard drops everything recorded so far.
func (cl *CommandList) Discard() {
	if cl.closed {
		return
	}
	cl.closed = true
	if cl.render != nil {
		cl.render.End()
		cl.render = nil
	}
	cl.endCompute()
	cl.enc.DiscardEncoding()
	cl.releaseTransients()
}

func (cl *CommandList) releaseTransients() {
	for _, bg := range cl.transients {
		cl.dev.dev.DestroyBindGroup(bg)
	}
	cl.transients = nil
}
