// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/cauldron/shader"
)

func createNoopDevice(t *testing.T) *Device {
	t.Helper()
	d, err := Open(noop.API{})
	if err != nil {
		t.Fatalf("Open(noop) failed: %v", err)
	}
	t.Cleanup(d.Destroy)
	return d
}

func TestOpenNoop(t *testing.T) {
	d := createNoopDevice(t)

	caps := d.Capabilities()
	if caps.AdapterName != "Noop Adapter" {
		t.Errorf("AdapterName = %q", caps.AdapterName)
	}
	if caps.Wave64 || caps.FP16 {
		t.Errorf("noop adapter should expose no wave64/fp16, got %+v", caps)
	}
	if caps.Target != shader.TargetWGSL {
		t.Errorf("Target = %v, want wgsl", caps.Target)
	}
	if d.Compiler() == nil {
		t.Fatal("device has no compiler")
	}
}

func TestDeriveCapabilities(t *testing.T) {
	subgroups := gputypes.Features(gputypes.FeatureSubgroupOperations)
	f16 := gputypes.Features(gputypes.FeatureShaderF16)

	tests := []struct {
		name       string
		info       gputypes.AdapterInfo
		features   gputypes.Features
		wantWave64 bool
		wantFP16   bool
		wantTarget shader.Target
	}{
		{"amd vulkan", gputypes.AdapterInfo{VendorID: vendorAMD, Backend: gputypes.BackendVulkan}, subgroups | f16, true, true, shader.TargetSPIRV},
		{"amd without subgroups", gputypes.AdapterInfo{VendorID: vendorAMD, Backend: gputypes.BackendDX12}, f16, false, true, shader.TargetWGSL},
		{"other vendor", gputypes.AdapterInfo{VendorID: 0x10de, Backend: gputypes.BackendVulkan}, subgroups, false, false, shader.TargetSPIRV},
		{"metal", gputypes.AdapterInfo{Backend: gputypes.BackendMetal}, 0, false, false, shader.TargetWGSL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := deriveCapabilities(tt.info, tt.features)
			if c.Wave64 != tt.wantWave64 {
				t.Errorf("Wave64 = %v, want %v", c.Wave64, tt.wantWave64)
			}
			if c.FP16 != tt.wantFP16 {
				t.Errorf("FP16 = %v, want %v", c.FP16, tt.wantFP16)
			}
			if c.Target != tt.wantTarget {
				t.Errorf("Target = %v, want %v", c.Target, tt.wantTarget)
			}
		})
	}
}

type fakeProvider struct {
	dev   any
	queue any
}

func (p fakeProvider) Device() gpucontext.Device             { return p.dev }
func (p fakeProvider) Queue() gpucontext.Queue               { return p.queue }
func (p fakeProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatUndefined }
func (p fakeProvider) Adapter() gpucontext.Adapter           { return nil }
func (p fakeProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "fake"}
}

func TestNewDeviceProvider(t *testing.T) {
	host := createNoopDevice(t)

	d, err := NewDevice(fakeProvider{dev: host.HAL(), queue: host.Queue()})
	if err != nil {
		t.Fatalf("NewDevice failed: %v", err)
	}
	if d.Capabilities().AdapterName != "fake" {
		t.Errorf("AdapterName = %q, want fake", d.Capabilities().AdapterName)
	}

	if _, err := NewDevice(fakeProvider{dev: "not a device", queue: host.Queue()}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("expected ErrUnsupportedProvider, got %v", err)
	}
	if _, err := NewDevice(nil); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("nil provider: expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestBufferWriteRead(t *testing.T) {
	d := createNoopDevice(t)

	b, err := d.CreateBuffer(BufferDesc{
		Label: "rw",
		Size:  16,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer b.Destroy()

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := b.Write(4, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := b.Read(4, 8)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Read = %v, want %v", got, data)
	}

	if err := b.Write(12, data); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("overflowing write: expected ErrInvalidDescriptor, got %v", err)
	}
	if _, err := b.Read(10, 8); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("overflowing read: expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	d := createNoopDevice(t)

	if _, err := d.CreateBuffer(BufferDesc{Label: "empty"}); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("zero-size buffer: expected ErrInvalidDescriptor, got %v", err)
	}
	if _, err := d.CreateTexture(TextureDesc{Label: "empty", Format: gputypes.TextureFormatRGBA8Unorm}); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("zero-size texture: expected ErrInvalidDescriptor, got %v", err)
	}

	tex, err := d.CreateTexture(TextureDesc{
		Label:  "depth",
		Width:  64,
		Height: 32,
		Format: gputypes.TextureFormatDepth32Float,
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	if !tex.IsDepth() || tex.MipLevels() != 1 || tex.ArrayLayers() != 1 {
		t.Errorf("texture desc not normalized: depth=%v mips=%d layers=%d", tex.IsDepth(), tex.MipLevels(), tex.ArrayLayers())
	}
	tex.Destroy()
	tex.Destroy()
}

func TestResourceIDsUnique(t *testing.T) {
	d := createNoopDevice(t)

	seen := make(map[uint64]bool)
	for range 16 {
		b, err := d.CreateBuffer(BufferDesc{Label: "id", Size: 4})
		if err != nil {
			t.Fatalf("CreateBuffer failed: %v", err)
		}
		if seen[b.ID()] {
			t.Fatalf("duplicate resource id %d", b.ID())
		}
		seen[b.ID()] = true
	}
}

func TestDestroyedDevice(t *testing.T) {
	d, err := Open(noop.API{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	d.Destroy()
	d.Destroy()

	if _, err := d.CreateBuffer(BufferDesc{Size: 4}); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("expected ErrDeviceLost, got %v", err)
	}
	if _, err := d.NewCommandList("late"); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("expected ErrDeviceLost, got %v", err)
	}
	if err := d.FlushAllCommandQueues(); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("expected ErrDeviceLost, got %v", err)
	}
}

func TestOpenHeadlessNoop(t *testing.T) {
	if _, ok := hal.GetBackend(gputypes.BackendEmpty); !ok {
		t.Skip("no empty backend registered")
	}
	d, err := OpenHeadless(gputypes.BackendEmpty)
	if err != nil {
		t.Fatalf("OpenHeadless failed: %v", err)
	}
	defer d.Destroy()
	if d.HAL() == nil || d.Queue() == nil {
		t.Fatal("headless device has nil handles")
	}
}
