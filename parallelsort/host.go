package parallelsort

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gogpu/cauldron/internal/workpool"
)

// HostBuffer is a buffer of 32-bit words for the host backend.
type HostBuffer struct {
	label string
	Data  []uint32
}

// NewHostBuffer wraps data. The sort reads and writes data in place.
func NewHostBuffer(label string, data []uint32) *HostBuffer {
	return &HostBuffer{label: label, Data: data}
}

func (b *HostBuffer) Label() string { return b.label }
func (b *HostBuffer) Size() uint64  { return 4 * uint64(len(b.Data)) }

type hostPipeline struct {
	desc PipelineDescription
}

func (p *hostPipeline) Label() string { return p.desc.Label }

// sharedPool runs host kernels for every host backend.
var sharedPool = sync.OnceValue(func() *workpool.Pool { return workpool.New(0) })

// HostOption configures a host backend.
type HostOption func(*hostBackend)

// WithCapabilities sets the capabilities the host backend reports, which
// decide the default permutation.
func WithCapabilities(caps DeviceCapabilities) HostOption {
	return func(h *hostBackend) { h.caps = caps }
}

type hostBackend struct {
	caps  DeviceCapabilities
	pool  *workpool.Pool
	mu    sync.Mutex
	owned map[*HostBuffer]struct{}
	queue map[any][]Job
}

// NewHostInterface returns a backend that runs the kernels in host memory.
// Resources passed to Dispatch must be *HostBuffer. The cmd argument of
// ScheduleJob and ExecuteJobs only separates job queues and may be nil.
func NewHostInterface(opts ...HostOption) *Interface {
	h := &hostBackend{
		pool:  sharedPool(),
		owned: make(map[*HostBuffer]struct{}),
		queue: make(map[any][]Job),
	}
	for _, opt := range opts {
		opt(h)
	}
	return &Interface{
		GetDeviceCapabilities: func() DeviceCapabilities { return h.caps },
		CreateResource:        h.createResource,
		RegisterResource:      h.registerResource,
		DestroyResource:       h.destroyResource,
		CreatePipeline:        h.createPipeline,
		DestroyPipeline:       func(Pipeline) {},
		ScheduleJob:           h.scheduleJob,
		ExecuteJobs:           h.executeJobs,
	}
}

func (h *hostBackend) createResource(desc ResourceDescription) (Resource, error) {
	b := &HostBuffer{label: desc.Label, Data: make([]uint32, ceilDiv(desc.Size, 4))}
	h.mu.Lock()
	h.owned[b] = struct{}{}
	h.mu.Unlock()
	return b, nil
}

func (h *hostBackend) registerResource(external any, label string) (Resource, error) {
	b, ok := external.(*HostBuffer)
	if !ok || b == nil {
		return nil, fmt.Errorf("%w: %s is %T, want *HostBuffer", ErrInvalidArgument, label, external)
	}
	return b, nil
}

func (h *hostBackend) destroyResource(r Resource) {
	b, ok := r.(*HostBuffer)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, owned := h.owned[b]; owned {
		delete(h.owned, b)
		b.Data = nil
	}
}

func (h *hostBackend) createPipeline(desc PipelineDescription) (Pipeline, error) {
	if desc.Kernel >= kernelCount {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, desc.Kernel)
	}
	return &hostPipeline{desc: desc}, nil
}

func (h *hostBackend) scheduleJob(cmd any, job Job) error {
	if job.Type == JobCompute {
		if _, ok := job.Pipeline.(*hostPipeline); !ok {
			return fmt.Errorf("%w: job %q has pipeline %T", ErrInvalidArgument, job.Label, job.Pipeline)
		}
	}
	h.mu.Lock()
	h.queue[cmd] = append(h.queue[cmd], job)
	h.mu.Unlock()
	return nil
}

func (h *hostBackend) executeJobs(cmd any) error {
	h.mu.Lock()
	jobs := h.queue[cmd]
	delete(h.queue, cmd)
	h.mu.Unlock()

	for _, job := range jobs {
		if err := h.run(job); err != nil {
			return fmt.Errorf("parallelsort: job %q: %w", job.Label, err)
		}
	}
	return nil
}

func words(r Resource) []uint32 {
	if b, ok := r.(*HostBuffer); ok && b != nil {
		return b.Data
	}
	return nil
}

func (h *hostBackend) run(job Job) error {
	if job.Type == JobUpload {
		dst := words(job.Target)
		if len(job.Data) > 4*len(dst) {
			return fmt.Errorf("%w: upload of %d bytes into %q", ErrInvalidArgument, len(job.Data), job.Target.Label())
		}
		for i := 0; i+4 <= len(job.Data); i += 4 {
			dst[i/4] = binary.LittleEndian.Uint32(job.Data[i:])
		}
		return nil
	}

	p := job.Pipeline.(*hostPipeline)
	b := job.Bindings

	if p.desc.Kernel == KernelSetupIndirect {
		info, countArgs, reduceArgs, err := setupIndirectKernel(words(b.NumKeys)[0], p.desc.MaxEntries)
		if err != nil {
			return err
		}
		copy(words(b.Constants), bytesToWords(info.bytes()))
		copy(words(b.CountArgs), countArgs[:])
		copy(words(b.ReduceArgs), reduceArgs[:])
		return nil
	}

	groups := job.Groups
	if job.Indirect != nil {
		groups = words(job.Indirect)[0]
	}
	a := &kernelArgs{
		info:       dispatchInfoFrom(words(b.Constants)),
		shift:      p.desc.Shift(),
		perm:       p.desc.Permutation,
		payload:    p.desc.Payload,
		srcKeys:    words(b.SrcKeys),
		dstKeys:    words(b.DstKeys),
		srcPayload: words(b.SrcPayload),
		dstPayload: words(b.DstPayload),
		sumTable:   words(b.SumTable),
		reduced:    words(b.Reduced),
	}

	switch p.desc.Kernel {
	case KernelCount:
		h.pool.Dispatch(groups, func(g uint32) { countKernel(a, g) })
	case KernelReduce:
		h.pool.Dispatch(groups, func(g uint32) { reduceKernel(a, g) })
	case KernelScan:
		scanKernel(a)
	case KernelScanAdd:
		h.pool.Dispatch(groups, func(g uint32) { scanAddKernel(a, g) })
	case KernelScatter:
		h.pool.Dispatch(groups, func(g uint32) { scatterKernel(a, g) })
	}
	return nil
}

func bytesToWords(b []byte) []uint32 {
	w := make([]uint32, len(b)/4)
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return w
}
