package parallelsort

import (
	"fmt"
	"sync"
)

// Flags select optional sort features.
type Flags uint8

const (
	// FlagPayload sorts a payload buffer along with the keys.
	FlagPayload Flags = 1 << iota

	// FlagIndirect reads the key count from a buffer at execution time.
	FlagIndirect
)

// ContextDescription configures Create.
type ContextDescription struct {
	Interface  *Interface
	MaxEntries uint32
	Flags      Flags

	// Permutation overrides the variant chosen from the backend
	// capabilities.
	Permutation *Permutation
}

// DispatchDescription describes one sort. Buffer fields hold backend
// resources: *gpu.Buffer for the HAL backend, *HostBuffer for the host one.
type DispatchDescription struct {
	CommandList   any
	KeyBuffer     any
	PayloadBuffer any

	// NumKeys is the key count of a direct sort. An indirect sort reads
	// the first word of NumKeysBuffer instead.
	NumKeys       uint32
	NumKeysBuffer any
}

// Context owns the scratch resources and pipelines of one sort
// configuration.
//
// Dispatch records every pass against the same per-pass constant buffers,
// so a context supports one Dispatch per submission.
type Context struct {
	mu    sync.Mutex
	iface *Interface
	desc  ContextDescription
	perm  Permutation

	scratchKeys    Resource
	scratchPayload Resource
	sumTable       Resource
	reduced        Resource
	constants      [Iterations]Resource

	indirectConstants Resource
	countArgs         Resource
	reduceArgs        Resource

	pipelines [Iterations][KernelSetupIndirect]Pipeline
	setup     Pipeline

	// final is the ping-pong slot that held the result of the last
	// Dispatch: 0 for the caller's buffers, 1 for scratch.
	final int

	owned     []Resource
	pipes     []Pipeline
	destroyed bool
}

// Create validates desc and allocates the sort resources.
func Create(desc ContextDescription) (*Context, error) {
	if err := desc.Interface.validate(); err != nil {
		return nil, err
	}
	if desc.MaxEntries == 0 {
		return nil, fmt.Errorf("%w: MaxEntries is zero", ErrInvalidArgument)
	}

	c := &Context{iface: desc.Interface, desc: desc}
	if desc.Permutation != nil {
		c.perm = *desc.Permutation
	} else {
		caps := desc.Interface.GetDeviceCapabilities()
		c.perm = Permutation{Wave64: caps.Wave64, FP16: caps.FP16}
	}

	if err := c.create(); err != nil {
		c.Destroy()
		return nil, err
	}
	slogger().Debug("parallelsort: context created",
		"max_entries", desc.MaxEntries,
		"permutation", c.perm.String(),
		"payload", c.payload(),
		"indirect", c.indirect())
	return c, nil
}

// ResultInScratch reports whether the last Dispatch left its result in the
// scratch buffers. It is false for every complete sort.
func (c *Context) ResultInScratch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.final == 1
}

// Permutation returns the shader variant in use.
func (c *Context) Permutation() Permutation { return c.perm }

func (c *Context) payload() bool  { return c.desc.Flags&FlagPayload != 0 }
func (c *Context) indirect() bool { return c.desc.Flags&FlagIndirect != 0 }

func (c *Context) resource(label string, size uint64, usage ResourceUsage) (Resource, error) {
	r, err := c.iface.CreateResource(ResourceDescription{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("parallelsort: create %s: %w", label, err)
	}
	c.owned = append(c.owned, r)
	return r, nil
}

func (c *Context) pipeline(desc PipelineDescription) (Pipeline, error) {
	desc.Payload = c.payload()
	desc.Permutation = c.perm
	desc.MaxEntries = c.desc.MaxEntries
	p, err := c.iface.CreatePipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("parallelsort: create pipeline %s: %w", desc.Label, err)
	}
	c.pipes = append(c.pipes, p)
	return p, nil
}

func (c *Context) create() error {
	var err error
	keyBytes := 4 * uint64(c.desc.MaxEntries)
	if c.scratchKeys, err = c.resource("parallelsort_scratch_keys", keyBytes, UsageStorage); err != nil {
		return err
	}
	if c.payload() {
		if c.scratchPayload, err = c.resource("parallelsort_scratch_payload", keyBytes, UsageStorage); err != nil {
			return err
		}
	}

	sum, reduced := scratchSizes(c.desc.MaxEntries)
	if c.sumTable, err = c.resource("parallelsort_sum_table", sum, UsageStorage); err != nil {
		return err
	}
	if c.reduced, err = c.resource("parallelsort_reduced", reduced, UsageStorage); err != nil {
		return err
	}
	for p := range c.constants {
		if c.constants[p], err = c.resource(fmt.Sprintf("parallelsort_constants_%d", p), constantsSize, UsageConstant); err != nil {
			return err
		}
	}

	if c.indirect() {
		if c.indirectConstants, err = c.resource("parallelsort_indirect_constants", constantsSize, UsageConstant|UsageStorage); err != nil {
			return err
		}
		if c.countArgs, err = c.resource("parallelsort_count_args", 12, UsageIndirect|UsageStorage); err != nil {
			return err
		}
		if c.reduceArgs, err = c.resource("parallelsort_reduce_args", 12, UsageIndirect|UsageStorage); err != nil {
			return err
		}
		if c.setup, err = c.pipeline(PipelineDescription{Label: "parallelsort_setup_indirect", Kernel: KernelSetupIndirect}); err != nil {
			return err
		}
	}

	for p := range Iterations {
		for k := range KernelSetupIndirect {
			desc := PipelineDescription{Label: fmt.Sprintf("parallelsort_%s_%d", k, p), Kernel: k, Pass: p}
			if c.pipelines[p][k], err = c.pipeline(desc); err != nil {
				return err
			}
		}
	}
	return nil
}

// Dispatch schedules a full sort and executes the scheduled jobs. The
// sorted keys, and payloads, end in the caller's buffers.
func (c *Context) Dispatch(d DispatchDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return fmt.Errorf("%w: context destroyed", ErrInvalidArgument)
	}
	if d.KeyBuffer == nil {
		return fmt.Errorf("%w: nil key buffer", ErrInvalidArgument)
	}
	if c.payload() && d.PayloadBuffer == nil {
		return fmt.Errorf("%w: payload sort without a payload buffer", ErrInvalidArgument)
	}
	if c.indirect() {
		if d.NumKeysBuffer == nil {
			return fmt.Errorf("%w: indirect sort without a key count buffer", ErrInvalidArgument)
		}
	} else {
		if d.NumKeys > c.desc.MaxEntries {
			return fmt.Errorf("%w: %d keys, capacity %d", ErrScratchTooSmall, d.NumKeys, c.desc.MaxEntries)
		}
		if d.NumKeys == 0 {
			return nil
		}
	}

	var registered []Resource
	defer func() {
		for _, r := range registered {
			c.iface.DestroyResource(r)
		}
	}()
	register := func(external any, label string) (Resource, error) {
		r, err := c.iface.RegisterResource(external, label)
		if err != nil {
			return nil, err
		}
		registered = append(registered, r)
		return r, nil
	}

	keys, err := register(d.KeyBuffer, "keys")
	if err != nil {
		return err
	}
	need := 4 * uint64(d.NumKeys)
	if c.indirect() {
		need = 4 * uint64(c.desc.MaxEntries)
	}
	if keys.Size() < need {
		return fmt.Errorf("%w: key buffer %q holds %d bytes, need %d", ErrInvalidArgument, keys.Label(), keys.Size(), need)
	}
	var payload Resource
	if c.payload() {
		if payload, err = register(d.PayloadBuffer, "payload"); err != nil {
			return err
		}
	}

	jobs, err := c.jobs(d, keys, payload, register)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := c.iface.ScheduleJob(d.CommandList, job); err != nil {
			return fmt.Errorf("parallelsort: schedule %s: %w", job.Label, err)
		}
	}
	return c.iface.ExecuteJobs(d.CommandList)
}

func (c *Context) jobs(d DispatchDescription, keys, payload Resource, register func(any, string) (Resource, error)) ([]Job, error) {
	var (
		jobs []Job
		info dispatchInfo
	)
	if c.indirect() {
		numKeys, err := register(d.NumKeysBuffer, "num_keys")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, Job{
			Type:     JobCompute,
			Label:    "setup_indirect",
			Pipeline: c.setup,
			Groups:   1,
			Bindings: Bindings{
				Constants:  c.indirectConstants,
				NumKeys:    numKeys,
				CountArgs:  c.countArgs,
				ReduceArgs: c.reduceArgs,
			},
		})
	} else {
		info = newDispatchInfo(d.NumKeys)
		for p := range Iterations {
			info.Shift = uint32(p) * SortBitsPerPass
			jobs = append(jobs, Job{
				Type:   JobUpload,
				Label:  fmt.Sprintf("constants_%d", p),
				Target: c.constants[p],
				Data:   info.bytes(),
			})
		}
	}

	ping := [2]Resource{keys, c.scratchKeys}
	pong := [2]Resource{payload, c.scratchPayload}
	for p := range Iterations {
		src, dst := p%2, (p+1)%2
		b := Bindings{
			Constants:  c.constants[p],
			SrcKeys:    ping[src],
			DstKeys:    ping[dst],
			SrcPayload: pong[src],
			DstPayload: pong[dst],
			SumTable:   c.sumTable,
			Reduced:    c.reduced,
		}
		if c.indirect() {
			b.Constants = c.indirectConstants
		}
		for k := range KernelSetupIndirect {
			job := Job{
				Type:     JobCompute,
				Label:    fmt.Sprintf("%s_%d", k, p),
				Pipeline: c.pipelines[p][k],
				Bindings: b,
			}
			switch {
			case k == KernelScan:
				job.Groups = 1
			case c.indirect() && (k == KernelCount || k == KernelScatter):
				job.Indirect = c.countArgs
			case c.indirect():
				job.Indirect = c.reduceArgs
			case k == KernelCount || k == KernelScatter:
				job.Groups = info.NumGroups
			default:
				job.Groups = info.reduceGroups()
			}
			jobs = append(jobs, job)
		}
		c.final = dst
	}
	return jobs, nil
}

// Destroy releases the context's resources and pipelines. A second call
// is a no-op.
func (c *Context) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	for _, p := range c.pipes {
		c.iface.DestroyPipeline(p)
	}
	for _, r := range c.owned {
		c.iface.DestroyResource(r)
	}
	c.pipes, c.owned = nil, nil
}
