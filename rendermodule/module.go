package rendermodule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gogpu/cauldron/gpu"
)

// ErrInvalidConfig is returned for module configuration that does not
// decode.
var ErrInvalidConfig = errors.New("rendermodule: invalid module configuration")

// ResolutionInfo is the render and display size of a frame.
type ResolutionInfo struct {
	RenderWidth   uint32
	RenderHeight  uint32
	DisplayWidth  uint32
	DisplayHeight uint32
}

// Full returns a ResolutionInfo that renders at display size.
func Full(width, height uint32) ResolutionInfo {
	return ResolutionInfo{RenderWidth: width, RenderHeight: height, DisplayWidth: width, DisplayHeight: height}
}

// ExecuteContext is passed to every Execute call of a frame.
type ExecuteContext struct {
	DeltaTime   time.Duration
	FrameIndex  uint64
	CommandList *gpu.CommandList
	Resolution  ResolutionInfo
}

// RenderModule is a unit of frame work.
//
// Init receives the module's JSON configuration block, which may be empty.
// Execute is only called while ModuleEnabled and ModuleReady both hold.
// OnResize is called after the shared render targets were recreated.
type RenderModule interface {
	Name() string
	Init(s *Services, cfg json.RawMessage) error
	Execute(ec ExecuteContext) error
	OnResize(res ResolutionInfo) error

	ModuleEnabled() bool
	ModuleReady() bool
	SetModuleEnabled(enabled bool)

	Shutdown()
}

// Base implements the flag and naming parts of RenderModule. Embed it
// and call InitBase from the constructor.
type Base struct {
	name    string
	enabled atomic.Bool
	ready   atomic.Bool
}

// InitBase names the module and enables it.
func (b *Base) InitBase(name string) {
	b.name = name
	b.enabled.Store(true)
}

func (b *Base) Name() string                  { return b.name }
func (b *Base) ModuleEnabled() bool           { return b.enabled.Load() }
func (b *Base) ModuleReady() bool             { return b.ready.Load() }
func (b *Base) SetModuleEnabled(enabled bool) { b.enabled.Store(enabled) }
func (b *Base) SetModuleReady(ready bool)     { b.ready.Store(ready) }
func (b *Base) OnResize(ResolutionInfo) error { return nil }
func (b *Base) Logger() *slog.Logger          { return slogger().With("module", b.name) }

// DecodeConfig decodes raw into dst. Fields missing from raw keep the
// values already in dst, and unknown fields are an error. An empty raw
// leaves dst untouched.
func DecodeConfig[T any](raw json.RawMessage, dst *T) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
