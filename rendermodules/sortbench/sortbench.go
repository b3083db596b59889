// Package sortbench is a render module that sorts a fixed buffer of random
// keys with parallelsort every frame.
//
// The unsorted keys are uploaded once into a source buffer. Each frame
// copies them into the sort buffer before dispatching, so every frame sorts
// the same unsorted input.
package sortbench

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/parallelsort"
	"github.com/gogpu/cauldron/rendermodule"
)

// Name is the registered module name.
const Name = "ParallelSortRenderModule"

// DefaultKeys is the key count used when the configuration omits one.
const DefaultKeys = 1 << 18

// seed makes every run sort the same keys.
const seed = 0x5eed

func init() {
	rendermodule.Register(Name, func() rendermodule.RenderModule { return New() })
}

// Config is the module's JSON configuration.
type Config struct {
	Keys     uint32 `json:"keys"`
	Payload  bool   `json:"payload"`
	Indirect bool   `json:"indirect"`
}

// Module is the sort benchmark module.
type Module struct {
	rendermodule.Base

	mu      sync.Mutex
	cfg     Config
	sorter  *parallelsort.Context
	buffers []*gpu.Buffer

	srcKeys, keys       *gpu.Buffer
	srcPayload, payload *gpu.Buffer
	numKeys             *gpu.Buffer
}

// New creates an uninitialized module.
func New() *Module {
	m := &Module{}
	m.InitBase(Name)
	return m
}

// Init creates the sort context and uploads the keys.
func (m *Module) Init(s *rendermodule.Services, raw json.RawMessage) error {
	cfg := Config{Keys: DefaultKeys}
	if err := rendermodule.DecodeConfig(raw, &cfg); err != nil {
		return err
	}
	if cfg.Keys == 0 {
		return fmt.Errorf("%w: sortbench: keys must be positive", rendermodule.ErrInvalidConfig)
	}
	m.cfg = cfg

	var flags parallelsort.Flags
	if cfg.Payload {
		flags |= parallelsort.FlagPayload
	}
	if cfg.Indirect {
		flags |= parallelsort.FlagIndirect
	}
	sorter, err := parallelsort.Create(parallelsort.ContextDescription{
		Interface:  parallelsort.NewHALInterface(s.Device),
		MaxEntries: cfg.Keys,
		Flags:      flags,
	})
	if err != nil {
		return fmt.Errorf("sortbench: %w", err)
	}
	m.sorter = sorter

	if err := m.createBuffers(s.Device); err != nil {
		m.destroy()
		return err
	}
	m.Logger().Info("initialized",
		"keys", cfg.Keys,
		"payload", cfg.Payload,
		"indirect", cfg.Indirect,
		"permutation", sorter.Permutation().String())
	m.SetModuleReady(true)
	return nil
}

func (m *Module) buffer(d *gpu.Device, label string, state gpu.ResourceState, data []byte) (*gpu.Buffer, error) {
	b, err := d.CreateBuffer(gpu.BufferDesc{
		Label:        label,
		Size:         uint64(len(data)),
		Usage:        gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
		InitialState: state,
	})
	if err != nil {
		return nil, fmt.Errorf("sortbench: %w", err)
	}
	m.buffers = append(m.buffers, b)
	if err := b.Write(0, data); err != nil {
		return nil, fmt.Errorf("sortbench: %w", err)
	}
	return b, nil
}

func (m *Module) createBuffers(d *gpu.Device) error {
	n := m.cfg.Keys
	var err error
	if m.srcKeys, err = m.buffer(d, "sortbench_src_keys", gpu.StateCopySource, RandomKeys(n, seed)); err != nil {
		return err
	}
	if m.keys, err = m.buffer(d, "sortbench_keys", gpu.StateUnorderedAccess, make([]byte, 4*n)); err != nil {
		return err
	}
	if m.cfg.Payload {
		if m.srcPayload, err = m.buffer(d, "sortbench_src_payload", gpu.StateCopySource, indices(n)); err != nil {
			return err
		}
		if m.payload, err = m.buffer(d, "sortbench_payload", gpu.StateUnorderedAccess, make([]byte, 4*n)); err != nil {
			return err
		}
	}
	if m.cfg.Indirect {
		if m.numKeys, err = m.buffer(d, "sortbench_num_keys", gpu.StateShaderResource, binary.LittleEndian.AppendUint32(nil, n)); err != nil {
			return err
		}
	}
	return nil
}

// RandomKeys returns n little-endian uint32 keys drawn from a PCG source
// seeded with s.
func RandomKeys(n uint32, s uint64) []byte {
	r := rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
	out := make([]byte, 0, 4*n)
	for range n {
		out = binary.LittleEndian.AppendUint32(out, r.Uint32())
	}
	return out
}

func indices(n uint32) []byte {
	out := make([]byte, 0, 4*n)
	for i := range n {
		out = binary.LittleEndian.AppendUint32(out, i)
	}
	return out
}

// restore copies src over dst.
func restore(cl *gpu.CommandList, src, dst *gpu.Buffer) error {
	if err := cl.Transition(dst, gpu.StateCopyDest); err != nil {
		return err
	}
	return cl.CopyBuffer(src, 0, dst, 0, src.Size())
}

// Execute restores the unsorted keys and sorts them.
func (m *Module) Execute(ec rendermodule.ExecuteContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cl := ec.CommandList
	if err := restore(cl, m.srcKeys, m.keys); err != nil {
		return err
	}
	desc := parallelsort.DispatchDescription{CommandList: cl, KeyBuffer: m.keys, NumKeys: m.cfg.Keys}
	if m.cfg.Payload {
		if err := restore(cl, m.srcPayload, m.payload); err != nil {
			return err
		}
		desc.PayloadBuffer = m.payload
	}
	if m.cfg.Indirect {
		desc.NumKeysBuffer = m.numKeys
	}
	if err := m.sorter.Dispatch(desc); err != nil {
		return fmt.Errorf("sortbench: %w", err)
	}
	return nil
}

// Keys returns the sorted key buffer.
func (m *Module) Keys() *gpu.Buffer { return m.keys }

func (m *Module) destroy() {
	if m.sorter != nil {
		m.sorter.Destroy()
		m.sorter = nil
	}
	for _, b := range m.buffers {
		b.Destroy()
	}
	m.buffers = nil
}

// Shutdown destroys the sort context and buffers.
func (m *Module) Shutdown() {
	m.SetModuleReady(false)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroy()
}
