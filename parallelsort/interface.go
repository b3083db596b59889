package parallelsort

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompleteInterface is returned by Create when a function of the
	// backend Interface is nil.
	ErrIncompleteInterface = errors.New("parallelsort: incomplete backend interface")

	// ErrScratchTooSmall is returned by Dispatch when more keys are passed
	// than the context was created for.
	ErrScratchTooSmall = errors.New("parallelsort: key count exceeds scratch capacity")

	// ErrInvalidArgument is returned for missing or mistyped buffers and
	// for use of a destroyed context.
	ErrInvalidArgument = errors.New("parallelsort: invalid argument")
)

// Kernel identifies one compute kernel of the sort.
type Kernel uint8

const (
	KernelCount Kernel = iota
	KernelReduce
	KernelScan
	KernelScanAdd
	KernelScatter
	KernelSetupIndirect

	kernelCount
)

var kernelNames = [kernelCount]string{"count", "reduce", "scan", "scan_add", "scatter", "setup_indirect"}

// String returns the kernel's entry point name.
func (k Kernel) String() string {
	if k < kernelCount {
		return kernelNames[k]
	}
	return fmt.Sprintf("Kernel(%d)", k)
}

// ResourceUsage is a bit set of the ways the sort uses a buffer.
type ResourceUsage uint8

const (
	UsageStorage ResourceUsage = 1 << iota
	UsageConstant
	UsageIndirect
)

// ResourceDescription describes a buffer the context needs.
type ResourceDescription struct {
	Label string
	Size  uint64
	Usage ResourceUsage
}

// Resource is a backend buffer.
type Resource interface {
	Label() string
	Size() uint64
}

// PipelineDescription describes one kernel variant. Pass selects the key
// digit the kernel works on and is zero for the scan and setup kernels.
type PipelineDescription struct {
	Label       string
	Kernel      Kernel
	Pass        int
	Payload     bool
	Permutation Permutation

	// MaxEntries bounds the GPU-resident key count of the setup kernel.
	// The host kernel fails past it; the GPU kernel clamps to it.
	MaxEntries uint32
}

// Shift returns the key shift of the pass.
func (d PipelineDescription) Shift() uint32 { return uint32(d.Pass) * SortBitsPerPass } //nolint:gosec // pass < Iterations

// Pipeline is a backend kernel.
type Pipeline interface {
	Label() string
}

// JobType is the kind of a scheduled job.
type JobType uint8

const (
	// JobUpload copies host data into a resource before the compute work
	// of the same ExecuteJobs call.
	JobUpload JobType = iota

	// JobCompute dispatches a kernel.
	JobCompute
)

// Bindings are the resources of a compute job. The sort kernels read
// Constants as a uniform buffer. The setup kernel writes it.
type Bindings struct {
	Constants  Resource
	SrcKeys    Resource
	DstKeys    Resource
	SrcPayload Resource
	DstPayload Resource
	SumTable   Resource
	Reduced    Resource

	// Setup kernel only.
	NumKeys    Resource
	CountArgs  Resource
	ReduceArgs Resource
}

// Job is one unit of scheduled work.
type Job struct {
	Type  JobType
	Label string

	// Upload.
	Target Resource
	Data   []byte

	// Compute. A non-nil Indirect takes the workgroup count from that
	// resource instead of Groups.
	Pipeline Pipeline
	Bindings Bindings
	Groups   uint32
	Indirect Resource
}

// DeviceCapabilities are the backend properties used to pick a variant.
type DeviceCapabilities struct {
	Wave64 bool
	FP16   bool
}

// Interface is the backend function table of a sort Context.
//
// ScheduleJob queues work against a command list. ExecuteJobs runs or
// records every queued job, in order, with the barriers the kernels need
// between them. The cmd argument is backend specific and may be nil when
// the backend has no command lists.
type Interface struct {
	GetDeviceCapabilities func() DeviceCapabilities
	CreateResource        func(desc ResourceDescription) (Resource, error)
	RegisterResource      func(external any, label string) (Resource, error)
	DestroyResource       func(r Resource)
	CreatePipeline        func(desc PipelineDescription) (Pipeline, error)
	DestroyPipeline       func(p Pipeline)
	ScheduleJob           func(cmd any, job Job) error
	ExecuteJobs           func(cmd any) error
}

func (i *Interface) validate() error {
	if i == nil {
		return fmt.Errorf("%w: nil", ErrIncompleteInterface)
	}
	missing := func(name string) error { return fmt.Errorf("%w: %s is nil", ErrIncompleteInterface, name) }
	switch {
	case i.GetDeviceCapabilities == nil:
		return missing("GetDeviceCapabilities")
	case i.CreateResource == nil:
		return missing("CreateResource")
	case i.RegisterResource == nil:
		return missing("RegisterResource")
	case i.DestroyResource == nil:
		return missing("DestroyResource")
	case i.CreatePipeline == nil:
		return missing("CreatePipeline")
	case i.DestroyPipeline == nil:
		return missing("DestroyPipeline")
	case i.ScheduleJob == nil:
		return missing("ScheduleJob")
	case i.ExecuteJobs == nil:
		return missing("ExecuteJobs")
	}
	return nil
}
