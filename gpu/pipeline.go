// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/cauldron/shader"
)

// PipelineKind distinguishes graphics from compute pipelines.
type PipelineKind uint8

const (
	PipelineGraphics PipelineKind = iota
	PipelineCompute
)

func (k PipelineKind) String() string {
	if k == PipelineCompute {
		return "compute"
	}
	return "graphics"
}

// DepthDesc is the depth state of a graphics pipeline.
type DepthDesc struct {
	Format  gputypes.TextureFormat
	Write   bool
	Compare gputypes.CompareFunction

	Bias           int32
	BiasSlopeScale float32
	BiasClamp      float32
}

// PipelineDesc describes a graphics or compute pipeline.
type PipelineDesc struct {
	Label string
	Kind  PipelineKind
	Root  *RootSignature

	// VS and PS are the graphics stages. A PS without source builds a
	// depth-only pipeline.
	VS shader.BuildDesc
	PS shader.BuildDesc

	// CS is the compute stage.
	CS shader.BuildDesc

	// Constants override pipeline-overridable constants of CS.
	Constants map[string]float64

	VertexBuffers []gputypes.VertexBufferLayout
	Topology      gputypes.PrimitiveTopology
	CullMode      gputypes.CullMode
	FrontFace     gputypes.FrontFace
	Depth         *DepthDesc

	ColorFormats []gputypes.TextureFormat

	// Blend applies to every color target. Nil disables blending.
	Blend *gputypes.BlendState
}

// PipelineObject is a created graphics or compute pipeline.
type PipelineObject struct {
	dev   *Device
	kind  PipelineKind
	label string
	root  *RootSignature

	render  hal.RenderPipeline
	compute hal.ComputePipeline
	modules []hal.ShaderModule

	id    uint64
	freed atomic.Bool
}

// CreatePipelineObject compiles the stages of desc with the device compiler
// and creates the HAL pipeline.
func (d *Device) CreatePipelineObject(desc *PipelineDesc) (*PipelineObject, error) {
	if d.destroyed.Load() {
		return nil, ErrDeviceLost
	}
	if desc.Root == nil {
		return nil, fmt.Errorf("%w: pipeline %q has no root signature", ErrInvalidDescriptor, desc.Label)
	}
	p := &PipelineObject{dev: d, kind: desc.Kind, label: desc.Label, root: desc.Root, id: newResourceID()}

	var err error
	switch desc.Kind {
	case PipelineGraphics:
		err = d.createGraphics(p, desc)
	case PipelineCompute:
		err = d.createCompute(p, desc)
	default:
		err = fmt.Errorf("%w: pipeline %q kind %d", ErrInvalidDescriptor, desc.Label, desc.Kind)
	}
	if err != nil {
		p.Destroy()
		return nil, err
	}
	slogger().Debug("gpu: pipeline created", "label", desc.Label, "kind", desc.Kind, "id", p.id)
	return p, nil
}

// module compiles bd for stage and creates its HAL shader module.
func (d *Device) module(p *PipelineObject, bd shader.BuildDesc, stage shader.Stage) (hal.ShaderModule, string, error) {
	bd.Stage = stage
	if bd.Label == "" {
		bd.Label = p.label + "_" + stage.String()
	}
	blob, err := d.compiler.Compile(bd)
	if err != nil {
		return nil, "", fmt.Errorf("gpu: pipeline %q: %w", p.label, err)
	}
	m, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  bd.Label,
		Source: blob.HALSource(),
	})
	if err != nil {
		return nil, "", fmt.Errorf("gpu: pipeline %q: %s module: %w", p.label, stage, err)
	}
	p.modules = append(p.modules, m)
	return m, blob.EntryPoint, nil
}

func (d *Device) createGraphics(p *PipelineObject, desc *PipelineDesc) error {
	vs, vsEntry, err := d.module(p, desc.VS, shader.StageVertex)
	if err != nil {
		return err
	}

	rp := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: desc.Root.layout,
		Vertex: hal.VertexState{Module: vs, EntryPoint: vsEntry, Buffers: desc.VertexBuffers},
		Primitive: gputypes.PrimitiveState{
			Topology:  desc.Topology,
			FrontFace: desc.FrontFace,
			CullMode:  desc.CullMode,
		},
		Multisample: gputypes.DefaultMultisampleState(),
	}

	if dd := desc.Depth; dd != nil {
		stencil := hal.StencilFaceState{Compare: gputypes.CompareFunctionAlways}
		rp.DepthStencil = &hal.DepthStencilState{
			Format:              dd.Format,
			DepthWriteEnabled:   dd.Write,
			DepthCompare:        dd.Compare,
			StencilFront:        stencil,
			StencilBack:         stencil,
			DepthBias:           dd.Bias,
			DepthBiasSlopeScale: dd.BiasSlopeScale,
			DepthBiasClamp:      dd.BiasClamp,
		}
	}

	if desc.PS.Source != "" {
		ps, psEntry, err := d.module(p, desc.PS, shader.StagePixel)
		if err != nil {
			return err
		}
		targets := make([]gputypes.ColorTargetState, len(desc.ColorFormats))
		for i, f := range desc.ColorFormats {
			targets[i] = gputypes.ColorTargetState{Format: f, Blend: desc.Blend, WriteMask: gputypes.ColorWriteMaskAll}
		}
		rp.Fragment = &hal.FragmentState{Module: ps, EntryPoint: psEntry, Targets: targets}
	} else if rp.DepthStencil == nil {
		return fmt.Errorf("%w: pipeline %q has neither pixel shader nor depth", ErrInvalidDescriptor, desc.Label)
	}

	p.render, err = d.dev.CreateRenderPipeline(rp)
	if err != nil {
		return fmt.Errorf("gpu: create render pipeline %q: %w", desc.Label, err)
	}
	return nil
}

func (d *Device) createCompute(p *PipelineObject, desc *PipelineDesc) error {
	cs, entry, err := d.module(p, desc.CS, shader.StageCompute)
	if err != nil {
		return err
	}
	p.compute, err = d.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: desc.Root.layout,
		Compute: hal.ComputeState{
			Module:     cs,
			EntryPoint: entry,
			Constants:  desc.Constants,
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: create compute pipeline %q: %w", desc.Label, err)
	}
	return nil
}

// ID returns the pipeline's unique identity.
func (p *PipelineObject) ID() uint64 { return p.id }

// Kind reports whether p is a graphics or compute pipeline.
func (p *PipelineObject) Kind() PipelineKind { return p.kind }

// Label returns the debug label.
func (p *PipelineObject) Label() string { return p.label }

// RootSignature returns the layout the pipeline was created with.
func (p *PipelineObject) RootSignature() *RootSignature { return p.root }

// Destroy releases the pipeline and its shader modules. Safe to call more
// than once.
func (p *PipelineObject) Destroy() {
	if !p.freed.CompareAndSwap(false, true) {
		return
	}
	if p.render != nil {
		p.dev.dev.DestroyRenderPipeline(p.render)
	}
	if p.compute != nil {
		p.dev.dev.DestroyComputePipeline(p.compute)
	}
	for _, m := range p.modules {
		p.dev.dev.DestroyShaderModule(m)
	}
	p.modules = nil
}
