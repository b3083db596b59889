// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// BindingKind is the resource type a binding slot accepts.
type BindingKind uint8

const (
	BindingConstantBuffer BindingKind = iota
	BindingTextureSRV
	BindingDepthTextureSRV
	BindingBufferSRV
	BindingBufferUAV
	BindingTextureUAV
	BindingSampler
	BindingComparisonSampler
	BindingStaticSampler
)

func (k BindingKind) String() string {
	switch k {
	case BindingConstantBuffer:
		return "CBV"
	case BindingTextureSRV:
		return "TextureSRV"
	case BindingDepthTextureSRV:
		return "DepthTextureSRV"
	case BindingBufferSRV:
		return "BufferSRV"
	case BindingBufferUAV:
		return "BufferUAV"
	case BindingTextureUAV:
		return "TextureUAV"
	case BindingSampler:
		return "Sampler"
	case BindingComparisonSampler:
		return "ComparisonSampler"
	case BindingStaticSampler:
		return "StaticSampler"
	default:
		return fmt.Sprintf("BindingKind(%d)", k)
	}
}

// BindingSlot is one binding of a root signature.
type BindingSlot struct {
	Binding uint32
	Kind    BindingKind
	Stages  gputypes.ShaderStages

	// StorageFormat is the texel format of a TextureUAV slot.
	StorageFormat gputypes.TextureFormat

	// Static is the sampler baked into a StaticSampler slot.
	Static SamplerDesc
}

// RootSignatureDesc collects binding slots. A set of count slots starting at
// binding occupies bindings [binding, binding+count).
type RootSignatureDesc struct {
	Label string
	slots []BindingSlot
	err   error
}

// NewRootSignatureDesc starts an empty description.
func NewRootSignatureDesc(label string) *RootSignatureDesc {
	return &RootSignatureDesc{Label: label}
}

func (d *RootSignatureDesc) addSet(binding uint32, stages gputypes.ShaderStages, count uint32, s BindingSlot) *RootSignatureDesc {
	if count == 0 {
		count = 1
	}
	for i := range count {
		slot := s
		slot.Binding = binding + i
		slot.Stages = stages
		if d.has(slot.Binding) {
			d.err = fmt.Errorf("%w: root signature %q binds %d twice", ErrInvalidDescriptor, d.Label, slot.Binding)
			return d
		}
		d.slots = append(d.slots, slot)
	}
	return d
}

func (d *RootSignatureDesc) has(binding uint32) bool {
	return slices.ContainsFunc(d.slots, func(s BindingSlot) bool { return s.Binding == binding })
}

// AddConstantBufferView adds count uniform buffer bindings.
func (d *RootSignatureDesc) AddConstantBufferView(binding uint32, stages gputypes.ShaderStages, count uint32) *RootSignatureDesc {
	return d.addSet(binding, stages, count, BindingSlot{Kind: BindingConstantBuffer})
}

// AddTextureSRVSet adds count sampled float texture bindings.
func (d *RootSignatureDesc) AddTextureSRVSet(binding uint32, stages gputypes.ShaderStages, count uint32) *RootSignatureDesc {
	return d.addSet(binding, stages, count, BindingSlot{Kind: BindingTextureSRV})
}

// AddDepthTextureSRVSet adds count sampled depth texture bindings.
func (d *RootSignatureDesc) AddDepthTextureSRVSet(binding uint32, stages gputypes.ShaderStages, count uint32) *RootSignatureDesc {
	return d.addSet(binding, stages, count, BindingSlot{Kind: BindingDepthTextureSRV})
}

// AddBufferSRVSet adds count read-only storage buffer bindings.
func (d *RootSignatureDesc) AddBufferSRVSet(binding uint32, stages gputypes.ShaderStages, count uint32) *RootSignatureDesc {
	return d.addSet(binding, stages, count, BindingSlot{Kind: BindingBufferSRV})
}

// AddBufferUAVSet adds count read-write storage buffer bindings.
func (d *RootSignatureDesc) AddBufferUAVSet(binding uint32, stages gputypes.ShaderStages, count uint32) *RootSignatureDesc {
	return d.addSet(binding, stages, count, BindingSlot{Kind: BindingBufferUAV})
}

// AddTextureUAVSet adds count write-only storage texture bindings of format.
func (d *RootSignatureDesc) AddTextureUAVSet(binding uint32, stages gputypes.ShaderStages, count uint32, format gputypes.TextureFormat) *RootSignatureDesc {
	return d.addSet(binding, stages, count, BindingSlot{Kind: BindingTextureUAV, StorageFormat: format})
}

// AddSamplerSet adds count filtering sampler bindings.
func (d *RootSignatureDesc) AddSamplerSet(binding uint32, stages gputypes.ShaderStages, count uint32) *RootSignatureDesc {
	return d.addSet(binding, stages, count, BindingSlot{Kind: BindingSampler})
}

// AddComparisonSamplerSet adds count comparison sampler bindings.
func (d *RootSignatureDesc) AddComparisonSamplerSet(binding uint32, stages gputypes.ShaderStages, count uint32) *RootSignatureDesc {
	return d.addSet(binding, stages, count, BindingSlot{Kind: BindingComparisonSampler})
}

// AddStaticSampler adds a sampler binding whose sampler is created with the
// root signature and never rebound.
func (d *RootSignatureDesc) AddStaticSampler(binding uint32, stages gputypes.ShaderStages, desc SamplerDesc) *RootSignatureDesc {
	return d.addSet(binding, stages, 1, BindingSlot{Kind: BindingStaticSampler, Static: desc})
}

// Slots returns the binding slots sorted by binding.
func (d *RootSignatureDesc) Slots() []BindingSlot {
	out := slices.Clone(d.slots)
	slices.SortFunc(out, func(a, b BindingSlot) int { return int(a.Binding) - int(b.Binding) })
	return out
}

func (s BindingSlot) layoutEntry() gputypes.BindGroupLayoutEntry {
	e := gputypes.BindGroupLayoutEntry{Binding: s.Binding, Visibility: s.Stages}
	switch s.Kind {
	case BindingConstantBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case BindingBufferSRV:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
	case BindingBufferUAV:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
	case BindingTextureSRV:
		e.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case BindingDepthTextureSRV:
		e.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeDepth,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case BindingTextureUAV:
		e.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        gputypes.StorageTextureAccessWriteOnly,
			Format:        s.StorageFormat,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case BindingSampler:
		e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	case BindingComparisonSampler:
		e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeComparison}
	case BindingStaticSampler:
		typ := gputypes.SamplerBindingTypeFiltering
		if s.Static.Compare != gputypes.CompareFunctionUndefined {
			typ = gputypes.SamplerBindingTypeComparison
		}
		e.Sampler = &gputypes.SamplerBindingLayout{Type: typ}
	}
	return e
}

// RootSignature is a created binding layout: one bind group layout at group
// 0 and the pipeline layout built from it.
type RootSignature struct {
	dev      *Device
	label    string
	slots    []BindingSlot
	bgl      hal.BindGroupLayout
	layout   hal.PipelineLayout
	statics  map[uint32]*Sampler
	released bool
}

// CreateRootSignature builds the HAL layouts for desc.
func (d *Device) CreateRootSignature(desc *RootSignatureDesc) (*RootSignature, error) {
	if desc.err != nil {
		return nil, desc.err
	}
	if d.destroyed.Load() {
		return nil, ErrDeviceLost
	}
	slots := desc.Slots()
	entries := make([]gputypes.BindGroupLayoutEntry, len(slots))
	for i, s := range slots {
		entries[i] = s.layoutEntry()
	}

	bgl, err := d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_bgl",
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: root signature %q: bind group layout: %w", desc.Label, err)
	}
	layout, err := d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bgl},
	})
	if err != nil {
		d.dev.DestroyBindGroupLayout(bgl)
		return nil, fmt.Errorf("gpu: root signature %q: pipeline layout: %w", desc.Label, err)
	}

	rs := &RootSignature{
		dev:     d,
		label:   desc.Label,
		slots:   slots,
		bgl:     bgl,
		layout:  layout,
		statics: make(map[uint32]*Sampler),
	}
	for _, s := range slots {
		if s.Kind != BindingStaticSampler {
			continue
		}
		smp, err := d.CreateSampler(s.Static)
		if err != nil {
			rs.Destroy()
			return nil, fmt.Errorf("gpu: root signature %q: static sampler %d: %w", desc.Label, s.Binding, err)
		}
		rs.statics[s.Binding] = smp
	}
	slogger().Debug("gpu: root signature created", "label", desc.Label, "bindings", len(slots))
	return rs, nil
}

// Label returns the debug label.
func (rs *RootSignature) Label() string { return rs.label }

// Slots returns the binding slots sorted by binding.
func (rs *RootSignature) Slots() []BindingSlot { return slices.Clone(rs.slots) }

func (rs *RootSignature) slot(binding uint32) (BindingSlot, bool) {
	i := slices.IndexFunc(rs.slots, func(s BindingSlot) bool { return s.Binding == binding })
	if i < 0 {
		return BindingSlot{}, false
	}
	return rs.slots[i], true
}

// Destroy releases the layouts and static samplers.
func (rs *RootSignature) Destroy() {
	if rs.released {
		return
	}
	rs.released = true
	for _, s := range rs.statics {
		s.Destroy()
	}
	rs.dev.dev.DestroyPipelineLayout(rs.layout)
	rs.dev.dev.DestroyBindGroupLayout(rs.bgl)
}
