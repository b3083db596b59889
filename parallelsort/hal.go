package parallelsort

import (
	_ "embed"
	"fmt"
	"strconv"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/shader"
)

//go:embed shaders/sort.wgsl
var sortShader string

//go:embed shaders/setup_indirect.wgsl
var setupShader string

type halResource struct {
	buf   *gpu.Buffer
	owned bool
}

func (r *halResource) Label() string { return r.buf.Label() }
func (r *halResource) Size() uint64  { return r.buf.Size() }

type halPipeline struct {
	desc PipelineDescription
	obj  *gpu.PipelineObject
	ps   *gpu.ParameterSet
}

func (p *halPipeline) Label() string { return p.desc.Label }

type halBackend struct {
	dev *gpu.Device

	mu        sync.Mutex
	sortRoot  *gpu.RootSignature
	setupRoot *gpu.RootSignature
	dummies   [2]*gpu.Buffer // payload placeholders: source, destination
	live      int
	queue     map[*gpu.CommandList][]Job
}

// NewHALInterface returns a backend that records the kernels into
// *gpu.CommandList values. Resources passed to Dispatch must be
// *gpu.Buffer with storage usage; key count buffers of an indirect sort
// are read as storage too.
func NewHALInterface(dev *gpu.Device) *Interface {
	h := &halBackend{dev: dev, queue: make(map[*gpu.CommandList][]Job)}
	return &Interface{
		GetDeviceCapabilities: func() DeviceCapabilities {
			caps := dev.Capabilities()
			return DeviceCapabilities{Wave64: caps.Wave64, FP16: caps.FP16}
		},
		CreateResource:   h.createResource,
		RegisterResource: h.registerResource,
		DestroyResource:  h.destroyResource,
		CreatePipeline:   h.createPipeline,
		DestroyPipeline:  h.destroyPipeline,
		ScheduleJob:      h.scheduleJob,
		ExecuteJobs:      h.executeJobs,
	}
}

func (h *halBackend) createResource(desc ResourceDescription) (Resource, error) {
	usage := gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	state := gpu.StateCommon
	if desc.Usage&UsageConstant != 0 {
		usage |= gputypes.BufferUsageUniform
		state = gpu.StateConstantBuffer
	}
	if desc.Usage&UsageIndirect != 0 {
		usage |= gputypes.BufferUsageIndirect
	}
	if desc.Usage&UsageStorage != 0 {
		usage |= gputypes.BufferUsageStorage
		state = gpu.StateUnorderedAccess
	}
	buf, err := h.dev.CreateBuffer(gpu.BufferDesc{
		Label:        desc.Label,
		Size:         max(desc.Size, 16),
		Usage:        usage,
		InitialState: state,
	})
	if err != nil {
		return nil, err
	}
	return &halResource{buf: buf, owned: true}, nil
}

func (h *halBackend) registerResource(external any, label string) (Resource, error) {
	buf, ok := external.(*gpu.Buffer)
	if !ok || buf == nil {
		return nil, fmt.Errorf("%w: %s is %T, want *gpu.Buffer", ErrInvalidArgument, label, external)
	}
	if buf.Usage()&gputypes.BufferUsageStorage == 0 {
		return nil, fmt.Errorf("%w: %s buffer %q lacks storage usage", ErrInvalidArgument, label, buf.Label())
	}
	return &halResource{buf: buf}, nil
}

func (h *halBackend) destroyResource(r Resource) {
	if hr, ok := r.(*halResource); ok && hr.owned {
		hr.buf.Destroy()
	}
}

// ensureShared creates the root signatures and payload placeholders on
// first use. Callers hold h.mu.
func (h *halBackend) ensureShared() error {
	if h.sortRoot != nil {
		return nil
	}
	const cs = gputypes.ShaderStageCompute
	sortRoot, err := h.dev.CreateRootSignature(gpu.NewRootSignatureDesc("parallelsort").
		AddConstantBufferView(0, cs, 1).
		AddBufferSRVSet(1, cs, 1).
		AddBufferUAVSet(2, cs, 1).
		AddBufferSRVSet(3, cs, 1).
		AddBufferUAVSet(4, cs, 1).
		AddBufferUAVSet(5, cs, 2))
	if err != nil {
		return err
	}
	setupRoot, err := h.dev.CreateRootSignature(gpu.NewRootSignatureDesc("parallelsort_setup").
		AddBufferUAVSet(0, cs, 1).
		AddBufferSRVSet(1, cs, 1).
		AddBufferUAVSet(2, cs, 2))
	if err != nil {
		sortRoot.Destroy()
		return err
	}

	states := [2]gpu.ResourceState{gpu.StateShaderResource, gpu.StateUnorderedAccess}
	for i, label := range [2]string{"parallelsort_payload_src_dummy", "parallelsort_payload_dst_dummy"} {
		h.dummies[i], err = h.dev.CreateBuffer(gpu.BufferDesc{
			Label:        label,
			Size:         16,
			Usage:        gputypes.BufferUsageStorage,
			InitialState: states[i],
		})
		if err != nil {
			sortRoot.Destroy()
			setupRoot.Destroy()
			if h.dummies[0] != nil {
				h.dummies[0].Destroy()
			}
			return err
		}
	}
	h.sortRoot, h.setupRoot = sortRoot, setupRoot
	return nil
}

func (h *halBackend) releaseShared() {
	h.sortRoot.Destroy()
	h.setupRoot.Destroy()
	for i, b := range h.dummies {
		b.Destroy()
		h.dummies[i] = nil
	}
	h.sortRoot, h.setupRoot = nil, nil
}

func permutationDefines(desc PipelineDescription) *shader.DefineList {
	defs := shader.NewDefineList("SORT_SHIFT", strconv.FormatUint(uint64(desc.Shift()), 10))
	if desc.Payload {
		defs.Set("SORT_PAYLOAD", "1")
	}
	if desc.Permutation.Wave64 {
		defs.Set("SORT_WAVE64", "1")
	}
	if desc.Permutation.FP16 {
		defs.Set("SORT_FP16", "1")
	}
	if desc.Kernel == KernelSetupIndirect {
		defs.Set("SORT_MAX_ENTRIES", strconv.FormatUint(uint64(desc.MaxEntries), 10))
	}
	return defs
}

func (h *halBackend) createPipeline(desc PipelineDescription) (Pipeline, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if desc.Kernel >= kernelCount {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, desc.Kernel)
	}
	if err := h.ensureShared(); err != nil {
		return nil, err
	}

	root, src := h.sortRoot, sortShader
	if desc.Kernel == KernelSetupIndirect {
		root, src = h.setupRoot, setupShader
	}
	obj, err := h.dev.CreatePipelineObject(&gpu.PipelineDesc{
		Label: desc.Label,
		Kind:  gpu.PipelineCompute,
		Root:  root,
		CS: shader.BuildDesc{
			Label:      desc.Label,
			Source:     src,
			EntryPoint: desc.Kernel.String(),
			Stage:      shader.StageCompute,
			Defines:    permutationDefines(desc),
		},
	})
	if err != nil {
		if h.live == 0 {
			h.releaseShared()
		}
		return nil, err
	}
	h.live++
	return &halPipeline{desc: desc, obj: obj, ps: gpu.NewParameterSet(root, desc.Label)}, nil
}

func (h *halBackend) destroyPipeline(p Pipeline) {
	hp, ok := p.(*halPipeline)
	if !ok {
		return
	}
	hp.ps.Destroy()
	hp.obj.Destroy()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.live--
	if h.live == 0 && h.sortRoot != nil {
		h.releaseShared()
	}
}

func (h *halBackend) scheduleJob(cmd any, job Job) error {
	cl, ok := cmd.(*gpu.CommandList)
	if !ok || cl == nil {
		return fmt.Errorf("%w: command list is %T, want *gpu.CommandList", ErrInvalidArgument, cmd)
	}
	if job.Type == JobCompute {
		if _, ok := job.Pipeline.(*halPipeline); !ok {
			return fmt.Errorf("%w: job %q has pipeline %T", ErrInvalidArgument, job.Label, job.Pipeline)
		}
	}
	h.mu.Lock()
	h.queue[cl] = append(h.queue[cl], job)
	h.mu.Unlock()
	return nil
}

func (h *halBackend) executeJobs(cmd any) error {
	cl, ok := cmd.(*gpu.CommandList)
	if !ok || cl == nil {
		return fmt.Errorf("%w: command list is %T, want *gpu.CommandList", ErrInvalidArgument, cmd)
	}
	h.mu.Lock()
	jobs := h.queue[cl]
	delete(h.queue, cl)
	h.mu.Unlock()

	for _, job := range jobs {
		if err := h.record(cl, job); err != nil {
			return fmt.Errorf("parallelsort: job %q: %w", job.Label, err)
		}
	}
	return nil
}

func buffer(r Resource) *gpu.Buffer {
	if hr, ok := r.(*halResource); ok && hr != nil {
		return hr.buf
	}
	return nil
}

func (h *halBackend) record(cl *gpu.CommandList, job Job) error {
	if job.Type == JobUpload {
		return buffer(job.Target).Write(0, job.Data)
	}

	p := job.Pipeline.(*halPipeline)
	b := job.Bindings
	ps := p.ps

	type use struct {
		binding uint32
		buf     *gpu.Buffer
		state   gpu.ResourceState
	}
	var uses []use
	if p.desc.Kernel == KernelSetupIndirect {
		uses = []use{
			{0, buffer(b.Constants), gpu.StateUnorderedAccess},
			{1, buffer(b.NumKeys), gpu.StateShaderResource},
			{2, buffer(b.CountArgs), gpu.StateUnorderedAccess},
			{3, buffer(b.ReduceArgs), gpu.StateUnorderedAccess},
		}
	} else {
		srcPayload, dstPayload := buffer(b.SrcPayload), buffer(b.DstPayload)
		if srcPayload == nil || dstPayload == nil {
			h.mu.Lock()
			srcPayload, dstPayload = h.dummies[0], h.dummies[1]
			h.mu.Unlock()
		}
		uses = []use{
			{1, buffer(b.SrcKeys), gpu.StateShaderResource},
			{2, buffer(b.DstKeys), gpu.StateUnorderedAccess},
			{3, srcPayload, gpu.StateShaderResource},
			{4, dstPayload, gpu.StateUnorderedAccess},
			{5, buffer(b.SumTable), gpu.StateUnorderedAccess},
			{6, buffer(b.Reduced), gpu.StateUnorderedAccess},
		}
		cb := buffer(b.Constants)
		if err := cl.Transition(cb, gpu.StateConstantBuffer); err != nil {
			return err
		}
		if err := ps.SetRootConstantBufferResource(0, cb, 0, constantsSize); err != nil {
			return err
		}
	}

	for _, u := range uses {
		if err := cl.Transition(u.buf, u.state); err != nil {
			return err
		}
		var err error
		if u.state == gpu.StateShaderResource {
			err = ps.SetBufferSRV(u.binding, u.buf)
		} else {
			err = ps.SetBufferUAV(u.binding, u.buf)
		}
		if err != nil {
			return err
		}
	}

	var args *gpu.Buffer
	if job.Indirect != nil {
		args = buffer(job.Indirect)
		if err := cl.Transition(args, gpu.StateIndirectArgument); err != nil {
			return err
		}
	}

	if err := cl.SetPipeline(p.obj); err != nil {
		return err
	}
	if err := ps.Bind(cl); err != nil {
		return err
	}
	if args != nil {
		return cl.DispatchIndirect(args, 0)
	}
	return cl.Dispatch(job.Groups, 1, 1)
}
