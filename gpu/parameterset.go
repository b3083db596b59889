// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ParameterSet holds the resources bound to each slot of a root signature.
// The HAL bind group is rebuilt lazily on Bind after any slot changes.
//
// A ParameterSet is not safe for concurrent use.
type ParameterSet struct {
	root  *RootSignature
	label string

	resources map[uint32]boundResource
	cbuffers  map[uint32]cbufferRange

	bg      hal.BindGroup
	dirty   bool
	rebuilt int
}

// boundResource pairs the HAL binding with the wrapper ID, since native
// handles may repeat across resources.
type boundResource struct {
	res gputypes.BindingResource
	id  uint64
}

type cbufferRange struct {
	buf    *Buffer
	offset uint64
	size   uint64
}

// NewParameterSet creates an empty parameter set for rs.
func NewParameterSet(rs *RootSignature, label string) *ParameterSet {
	ps := &ParameterSet{
		root:      rs,
		label:     label,
		resources: make(map[uint32]boundResource),
		cbuffers:  make(map[uint32]cbufferRange),
		dirty:     true,
	}
	for binding, smp := range rs.statics {
		ps.resources[binding] = boundResource{gputypes.SamplerBinding{Sampler: smp.raw.NativeHandle()}, smp.id}
	}
	return ps
}

// RootSignature returns the layout the set binds against.
func (ps *ParameterSet) RootSignature() *RootSignature { return ps.root }

// Rebuilt returns how many HAL bind groups the set has created.
func (ps *ParameterSet) Rebuilt() int { return ps.rebuilt }

func (ps *ParameterSet) expect(binding uint32, kinds ...BindingKind) error {
	s, ok := ps.root.slot(binding)
	if !ok {
		return fmt.Errorf("%w: %q has no binding %d", ErrInvalidDescriptor, ps.root.label, binding)
	}
	if !slices.Contains(kinds, s.Kind) {
		return fmt.Errorf("%w: binding %d of %q is %v", ErrInvalidDescriptor, binding, ps.root.label, s.Kind)
	}
	return nil
}

func (ps *ParameterSet) set(binding uint32, id uint64, r gputypes.BindingResource) {
	b := boundResource{res: r, id: id}
	if old, ok := ps.resources[binding]; ok && old == b {
		return
	}
	ps.resources[binding] = b
	ps.dirty = true
}

// SetRootConstantBufferResource binds size bytes of buf at offset as the
// uniform buffer of binding. A zero size binds the rest of the buffer.
func (ps *ParameterSet) SetRootConstantBufferResource(binding uint32, buf *Buffer, offset, size uint64) error {
	if err := ps.expect(binding, BindingConstantBuffer); err != nil {
		return err
	}
	if size == 0 {
		size = buf.size - offset
	}
	if offset+size > buf.size {
		return fmt.Errorf("%w: constant buffer range %d+%d exceeds %q", ErrInvalidDescriptor, offset, size, buf.label)
	}
	ps.cbuffers[binding] = cbufferRange{buf: buf, offset: offset, size: size}
	ps.set(binding, buf.id, gputypes.BufferBinding{Buffer: buf.raw.NativeHandle(), Offset: offset, Size: size})
	return nil
}

// UpdateRootConstantBuffer writes data into the constant buffer bound at
// binding. The bind group is unaffected.
func (ps *ParameterSet) UpdateRootConstantBuffer(binding uint32, data []byte) error {
	cb, ok := ps.cbuffers[binding]
	if !ok {
		return fmt.Errorf("%w: no constant buffer bound at %d of %q", ErrInvalidDescriptor, binding, ps.label)
	}
	if uint64(len(data)) > cb.size {
		return fmt.Errorf("%w: %d bytes exceed constant buffer range of %d", ErrInvalidDescriptor, len(data), cb.size)
	}
	return cb.buf.Write(cb.offset, data)
}

// SetTextureSRV binds the default view of t for sampling.
func (ps *ParameterSet) SetTextureSRV(binding uint32, t *Texture) error {
	if err := ps.expect(binding, BindingTextureSRV, BindingDepthTextureSRV); err != nil {
		return err
	}
	ps.set(binding, t.id, gputypes.TextureViewBinding{TextureView: t.view.NativeHandle()})
	return nil
}

// SetTextureUAV binds the default view of t as a storage texture.
func (ps *ParameterSet) SetTextureUAV(binding uint32, t *Texture) error {
	if err := ps.expect(binding, BindingTextureUAV); err != nil {
		return err
	}
	ps.set(binding, t.id, gputypes.TextureViewBinding{TextureView: t.view.NativeHandle()})
	return nil
}

// SetBufferSRV binds buf read-only.
func (ps *ParameterSet) SetBufferSRV(binding uint32, buf *Buffer) error {
	if err := ps.expect(binding, BindingBufferSRV); err != nil {
		return err
	}
	ps.set(binding, buf.id, buf.binding())
	return nil
}

// SetBufferUAV binds buf read-write.
func (ps *ParameterSet) SetBufferUAV(binding uint32, buf *Buffer) error {
	if err := ps.expect(binding, BindingBufferUAV); err != nil {
		return err
	}
	ps.set(binding, buf.id, buf.binding())
	return nil
}

// SetSampler binds s. Static sampler slots cannot be rebound.
func (ps *ParameterSet) SetSampler(binding uint32, s *Sampler) error {
	if err := ps.expect(binding, BindingSampler, BindingComparisonSampler); err != nil {
		return err
	}
	ps.set(binding, s.id, gputypes.SamplerBinding{Sampler: s.raw.NativeHandle()})
	return nil
}

// Bind sets the parameters as bind group 0 of the pass open in cl. The bind
// group is recreated only when a slot changed since the last Bind; the one it
// replaces is kept alive until cl's submission completes.
func (ps *ParameterSet) Bind(cl *CommandList) error {
	if err := cl.check(); err != nil {
		return err
	}
	if ps.dirty || ps.bg == nil {
		if err := ps.rebuild(cl); err != nil {
			return err
		}
	}
	return cl.setBindGroup(0, ps.bg)
}

func (ps *ParameterSet) rebuild(cl *CommandList) error {
	entries := make([]gputypes.BindGroupEntry, 0, len(ps.root.slots))
	for _, s := range ps.root.slots {
		r, ok := ps.resources[s.Binding]
		if !ok {
			return fmt.Errorf("%w: binding %d (%v) of %q is unset", ErrInvalidDescriptor, s.Binding, s.Kind, ps.label)
		}
		entries = append(entries, gputypes.BindGroupEntry{Binding: s.Binding, Resource: r.res})
	}
	bg, err := ps.root.dev.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   ps.label,
		Layout:  ps.root.bgl,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("gpu: bind group %q: %w", ps.label, err)
	}
	if ps.bg != nil {
		cl.retain(ps.bg)
	}
	ps.bg = bg
	ps.dirty = false
	ps.rebuilt++
	return nil
}

// Destroy releases the current bind group once submitted work completes.
func (ps *ParameterSet) Destroy() {
	if ps.bg == nil {
		return
	}
	bg := ps.bg
	ps.bg = nil
	ps.dirty = true
	d := ps.root.dev
	d.deferRelease(func() { d.dev.DestroyBindGroup(bg) })
}
