// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/cauldron/shader"
)

// DeviceHandle is the external device provider a host application hands
// to the framework.
type DeviceHandle = gpucontext.DeviceProvider

// vendorAMD is the PCI vendor ID of AMD adapters.
const vendorAMD = 0x1002

// Capabilities describes what the opened device supports.
type Capabilities struct {
	AdapterName string
	VendorID    uint32
	Backend     gputypes.Backend
	DeviceType  gputypes.DeviceType
	Features    gputypes.Features

	// Wave64 reports 64-wide subgroups (AMD GCN/RDNA in wave64 mode).
	Wave64 bool

	// FP16 reports native half-precision shader arithmetic.
	FP16 bool

	// Target is the shader target pipelines are built for. Only Vulkan
	// consumes precompiled SPIR-V; every other HAL backend translates WGSL.
	Target shader.Target
}

func deriveCapabilities(info gputypes.AdapterInfo, features gputypes.Features) Capabilities {
	c := Capabilities{
		AdapterName: info.Name,
		VendorID:    info.VendorID,
		Backend:     info.Backend,
		DeviceType:  info.DeviceType,
		Features:    features,
		FP16:        features.Contains(gputypes.FeatureShaderF16),
		Wave64:      info.VendorID == vendorAMD && features.Contains(gputypes.FeatureSubgroupOperations),
		Target:      shader.TargetWGSL,
	}
	if info.Backend == gputypes.BackendVulkan {
		c.Target = shader.TargetSPIRV
	}
	return c
}

// DeviceOption configures a Device.
type DeviceOption func(*deviceOptions)

type deviceOptions struct {
	features    gputypes.Features
	info        gputypes.AdapterInfo
	compiler    *shader.Compiler
	hasCompiler bool
}

// WithFeatures declares the features the HAL device was opened with.
func WithFeatures(f gputypes.Features) DeviceOption {
	return func(o *deviceOptions) { o.features = f }
}

// WithAdapterInfo declares the adapter the HAL device belongs to.
func WithAdapterInfo(info gputypes.AdapterInfo) DeviceOption {
	return func(o *deviceOptions) { o.info = info }
}

// WithShaderCompiler shares a compiler (and its blob cache) with the device.
// By default the device creates one targeting its preferred language.
func WithShaderCompiler(c *shader.Compiler) DeviceOption {
	return func(o *deviceOptions) { o.compiler, o.hasCompiler = c, c != nil }
}

// pendingRelease is a HAL object released once its submission completes.
type pendingRelease struct {
	submission uint64
	release    func()
}

// Device is a HAL device plus its queue.
//
// Resource creation is safe for concurrent use. Submit must be called from
// the thread that records frames.
type Device struct {
	dev   hal.Device
	queue hal.Queue
	caps  Capabilities

	compiler *shader.Compiler

	// Set when the device was opened by this package and must be destroyed
	// with it.
	instance hal.Instance
	owned    bool

	mu      sync.Mutex
	pending []pendingRelease

	submissions atomic.Uint64
	lastSubmit  atomic.Uint64
	destroyed   atomic.Bool
}

// NewDevice wraps the device and queue of an external provider. The
// provider must expose HAL handles.
func NewDevice(provider DeviceHandle, opts ...DeviceOption) (*Device, error) {
	if provider == nil {
		return nil, ErrUnsupportedProvider
	}
	dev, ok := provider.Device().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("%w: device is %T", ErrUnsupportedProvider, provider.Device())
	}
	queue, ok := provider.Queue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("%w: queue is %T", ErrUnsupportedProvider, provider.Queue())
	}
	info := provider.AdapterInfo()
	opts = append([]DeviceOption{WithAdapterInfo(gputypes.AdapterInfo{Name: info.Name})}, opts...)
	return WrapDevice(dev, queue, opts...), nil
}

// WrapDevice wraps HAL handles owned by the caller.
func WrapDevice(dev hal.Device, queue hal.Queue, opts ...DeviceOption) *Device {
	var o deviceOptions
	for _, opt := range opts {
		opt(&o)
	}
	d := &Device{
		dev:   dev,
		queue: queue,
		caps:  deriveCapabilities(o.info, o.features),
	}
	d.compiler = o.compiler
	if !o.hasCompiler {
		d.compiler = shader.NewCompiler(shader.WithTarget(d.caps.Target))
	}
	return d
}

// Open opens the first adapter of backend, preferring discrete and
// integrated GPUs. The returned device owns its instance.
func Open(backend hal.Backend, opts ...DeviceOption) (*Device, error) {
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("gpu: create %v instance: %w", backend.Variant(), err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: backend %v", ErrNoAdapter, backend.Variant())
	}

	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	// Request only the optional features this package makes use of.
	want := gputypes.Features(gputypes.FeatureShaderF16) | gputypes.Features(gputypes.FeatureSubgroupOperations)
	features := selected.Features.Intersect(want)

	open, err := selected.Adapter.Open(features, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("gpu: open %q: %w", selected.Info.Name, err)
	}

	info := selected.Info
	info.Backend = backend.Variant()
	opts = append([]DeviceOption{WithAdapterInfo(info), WithFeatures(features)}, opts...)
	d := WrapDevice(open.Device, open.Queue, opts...)
	d.instance, d.owned = instance, true

	slogger().Info("gpu: device opened",
		"adapter", info.Name,
		"backend", backend.Variant().String(),
		"wave64", d.caps.Wave64,
		"fp16", d.caps.FP16,
		"target", d.caps.Target)
	return d, nil
}

// OpenHeadless opens a device on a registered HAL backend.
func OpenHeadless(variant gputypes.Backend, opts ...DeviceOption) (*Device, error) {
	b, ok := hal.GetBackend(variant)
	if !ok {
		var err error
		if b, err = hal.CreateBackend(variant); err != nil {
			return nil, fmt.Errorf("gpu: backend %v: %w", variant, err)
		}
	}
	return Open(b, opts...)
}

// OpenBest opens a device on the most capable registered backend.
func OpenBest(opts ...DeviceOption) (*Device, error) {
	b, err := hal.SelectBestBackend()
	if err != nil {
		return nil, fmt.Errorf("gpu: select backend: %w", err)
	}
	return Open(b, opts...)
}

// HAL returns the underlying HAL device.
func (d *Device) HAL() hal.Device { return d.dev }

// Queue returns the underlying HAL queue.
func (d *Device) Queue() hal.Queue { return d.queue }

// Capabilities returns what the device supports.
func (d *Device) Capabilities() Capabilities { return d.caps }

// Compiler returns the shader compiler pipelines are built with.
func (d *Device) Compiler() *shader.Compiler { return d.compiler }

// CreateBuffer creates a buffer.
func (d *Device) CreateBuffer(desc BufferDesc) (*Buffer, error) {
	if d.destroyed.Load() {
		return nil, ErrDeviceLost
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", ErrInvalidDescriptor, desc.Label)
	}
	raw, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer %q: %w", desc.Label, err)
	}
	b := &Buffer{
		dev:   d,
		raw:   raw,
		id:    newResourceID(),
		label: desc.Label,
		size:  desc.Size,
		usage: desc.Usage,
	}
	b.setState(desc.InitialState)
	slogger().Debug("gpu: buffer created", "label", desc.Label, "size", desc.Size, "id", b.id)
	return b, nil
}

// CreateTexture creates a 2D texture and its default view.
func (d *Device) CreateTexture(desc TextureDesc) (*Texture, error) {
	if d.destroyed.Load() {
		return nil, ErrDeviceLost
	}
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("%w: texture %q is %dx%d", ErrInvalidDescriptor, desc.Label, desc.Width, desc.Height)
	}
	desc.ArrayLayers = max(desc.ArrayLayers, 1)
	desc.MipLevels = max(desc.MipLevels, 1)

	raw, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: desc.ArrayLayers},
		MipLevelCount: desc.MipLevels,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create texture %q: %w", desc.Label, err)
	}

	viewDim := gputypes.TextureViewDimension2D
	if desc.ArrayLayers > 1 {
		viewDim = gputypes.TextureViewDimension2DArray
	}
	aspect := gputypes.TextureAspectAll
	if IsDepthFormat(desc.Format) {
		aspect = gputypes.TextureAspectDepthOnly
	}
	view, err := d.dev.CreateTextureView(raw, &hal.TextureViewDescriptor{
		Label:           desc.Label + "_view",
		Format:          desc.Format,
		Dimension:       viewDim,
		Aspect:          aspect,
		MipLevelCount:   desc.MipLevels,
		ArrayLayerCount: desc.ArrayLayers,
	})
	if err != nil {
		d.dev.DestroyTexture(raw)
		return nil, fmt.Errorf("gpu: create view of %q: %w", desc.Label, err)
	}

	t := &Texture{dev: d, raw: raw, view: view, id: newResourceID(), desc: desc}
	t.setState(desc.InitialState)
	slogger().Debug("gpu: texture created",
		"label", desc.Label, "width", desc.Width, "height", desc.Height, "format", desc.Format, "id", t.id)
	return t, nil
}

// CreateSampler creates a sampler.
func (d *Device) CreateSampler(desc SamplerDesc) (*Sampler, error) {
	if d.destroyed.Load() {
		return nil, ErrDeviceLost
	}
	raw, err := d.dev.CreateSampler(&hal.SamplerDescriptor{
		Label:        "sampler",
		AddressModeU: desc.AddressU,
		AddressModeV: desc.AddressV,
		AddressModeW: desc.AddressW,
		MagFilter:    desc.MagFilter,
		MinFilter:    desc.MinFilter,
		MipmapFilter: desc.MipFilter,
		LodMaxClamp:  32,
		Compare:      desc.Compare,
		Anisotropy:   max(desc.MaxAnisotropy, 1),
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create sampler: %w", err)
	}
	return &Sampler{dev: d, raw: raw, id: newResourceID(), desc: desc}, nil
}

// NewCommandList starts recording a command list.
func (d *Device) NewCommandList(label string) (*CommandList, error) {
	if d.destroyed.Load() {
		return nil, ErrDeviceLost
	}
	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("gpu: create command encoder %q: %w", label, err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("gpu: begin encoding %q: %w", label, err)
	}
	return &CommandList{dev: d, enc: enc, label: label}, nil
}

// Submit closes cl and submits it. Bind groups created while recording are
// released once the GPU reports the submission complete.
func (d *Device) Submit(cl *CommandList) (uint64, error) {
	if d.destroyed.Load() {
		cl.Discard()
		return 0, ErrDeviceLost
	}
	cmdBuf, err := cl.finish()
	if err != nil {
		return 0, err
	}

	idx, err := d.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		d.dev.FreeCommandBuffer(cmdBuf)
		cl.releaseTransients()
		return 0, fmt.Errorf("gpu: submit %q: %w", cl.label, err)
	}
	d.submissions.Add(1)
	d.lastSubmit.Store(idx)

	d.mu.Lock()
	d.pending = append(d.pending, pendingRelease{idx, func() { d.dev.FreeCommandBuffer(cmdBuf) }})
	for _, bg := range cl.transients {
		d.pending = append(d.pending, pendingRelease{idx, func() { d.dev.DestroyBindGroup(bg) }})
	}
	cl.transients = nil
	d.mu.Unlock()

	d.reclaim(d.queue.PollCompleted())

	st := cl.Stats()
	slogger().Debug("gpu: submitted",
		"list", cl.label, "submission", idx,
		"passes", st.Passes, "dispatches", st.Dispatches, "draws", st.Draws, "barriers", st.Barriers)
	return idx, nil
}

// reclaim releases every pending object whose submission has completed.
func (d *Device) reclaim(completed uint64) {
	d.mu.Lock()
	keep := d.pending[:0]
	var done []func()
	for _, p := range d.pending {
		if p.submission <= completed {
			done = append(done, p.release)
		} else {
			keep = append(keep, p)
		}
	}
	d.pending = keep
	d.mu.Unlock()

	for _, release := range done {
		release()
	}
}

// deferRelease runs release once every submission made so far completes.
func (d *Device) deferRelease(release func()) {
	d.mu.Lock()
	d.pending = append(d.pending, pendingRelease{d.lastSubmit.Load(), release})
	d.mu.Unlock()
	d.reclaim(d.queue.PollCompleted())
}

// PendingReleases returns the number of objects awaiting GPU completion.
func (d *Device) PendingReleases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Submissions returns the number of successful submits.
func (d *Device) Submissions() uint64 { return d.submissions.Load() }

// FlushAllCommandQueues blocks until the GPU has finished all submitted
// work, then releases deferred objects.
func (d *Device) FlushAllCommandQueues() error {
	if d.destroyed.Load() {
		return ErrDeviceLost
	}
	if err := d.dev.WaitIdle(); err != nil {
		return fmt.Errorf("gpu: wait idle: %w", err)
	}
	d.reclaim(^uint64(0))
	return nil
}

// copyNow records and submits a single buffer copy and waits for it.
func (d *Device) copyNow(src, dst hal.Buffer, srcOffset, size uint64) error {
	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "readback"})
	if err != nil {
		return err
	}
	if err := enc.BeginEncoding("readback"); err != nil {
		return err
	}
	enc.CopyBufferToBuffer(src, dst, []hal.BufferCopy{{SrcOffset: srcOffset, DstOffset: 0, Size: size}})
	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		return err
	}
	defer d.dev.FreeCommandBuffer(cmdBuf)
	if _, err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}); err != nil {
		return err
	}
	return d.dev.WaitIdle()
}

// Destroy waits for the GPU, releases deferred objects and, for devices
// opened by this package, destroys the HAL device and instance.
func (d *Device) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	if err := d.dev.WaitIdle(); err != nil {
		slogger().Warn("gpu: wait idle on destroy", "err", err)
	}
	d.reclaim(^uint64(0))
	if d.owned {
		d.dev.Destroy()
		d.instance.Destroy()
	}
}
