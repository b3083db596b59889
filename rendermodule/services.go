package rendermodule

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/content"
	"github.com/gogpu/cauldron/ecs"
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/shader"
)

// ErrTargetConflict is returned when a render target name is defined twice
// with different formats.
var ErrTargetConflict = errors.New("rendermodule: render target redefined")

// Services is everything a module may use, handed to Init.
type Services struct {
	Device   *gpu.Device
	Compiler *shader.Compiler
	Registry *ecs.Registry
	Content  *content.Manager
	Targets  *TargetSet

	// Resolution is the current frame size. The framework updates it
	// before calling OnResize.
	Resolution ResolutionInfo
}

// TargetDesc describes a named render target. The texture is sized to the
// render resolution.
type TargetDesc struct {
	Name   string
	Format gputypes.TextureFormat

	// Usage defaults to RenderAttachment | TextureBinding.
	Usage gputypes.TextureUsage
}

// TargetSet owns the named render targets shared between modules. Every
// target rests in ShaderResource state between passes.
//
// Textures are recreated by Resize; a *gpu.Texture returned by Get is only
// valid until then.
type TargetSet struct {
	dev *gpu.Device

	mu       sync.RWMutex
	res      ResolutionInfo
	descs    []TargetDesc
	textures map[string]*gpu.Texture
}

// NewTargetSet creates an empty set sized to res.
func NewTargetSet(dev *gpu.Device, res ResolutionInfo) *TargetSet {
	return &TargetSet{dev: dev, res: res, textures: make(map[string]*gpu.Texture)}
}

// Define creates the target described by desc, or returns the existing
// target of that name when the formats agree.
func (s *TargetSet) Define(desc TargetDesc) (*gpu.Texture, error) {
	if desc.Usage == 0 {
		desc.Usage = gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := slices.IndexFunc(s.descs, func(d TargetDesc) bool { return d.Name == desc.Name }); i >= 0 {
		if s.descs[i].Format != desc.Format {
			return nil, fmt.Errorf("%w: %q is %v, requested %v", ErrTargetConflict, desc.Name, s.descs[i].Format, desc.Format)
		}
		return s.textures[desc.Name], nil
	}
	tex, err := s.create(desc)
	if err != nil {
		return nil, err
	}
	s.descs = append(s.descs, desc)
	s.textures[desc.Name] = tex
	return tex, nil
}

func (s *TargetSet) create(desc TargetDesc) (*gpu.Texture, error) {
	tex, err := s.dev.CreateTexture(gpu.TextureDesc{
		Label:        desc.Name,
		Width:        max(s.res.RenderWidth, 1),
		Height:       max(s.res.RenderHeight, 1),
		Format:       desc.Format,
		Usage:        desc.Usage,
		InitialState: gpu.StateShaderResource,
	})
	if err != nil {
		return nil, fmt.Errorf("rendermodule: render target %q: %w", desc.Name, err)
	}
	return tex, nil
}

// Get returns the current texture of the named target.
func (s *TargetSet) Get(name string) (*gpu.Texture, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tex, ok := s.textures[name]
	return tex, ok
}

// Names returns the target names in definition order.
func (s *TargetSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.descs))
	for i, d := range s.descs {
		names[i] = d.Name
	}
	return names
}

// Resolution returns the size the targets were created at.
func (s *TargetSet) Resolution() ResolutionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.res
}

// Resize recreates every target at res. The caller must have flushed all
// work that references the old textures.
func (s *TargetSet) Resize(res ResolutionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.res = res
	for _, d := range s.descs {
		if old := s.textures[d.Name]; old != nil {
			old.Destroy()
		}
		tex, err := s.create(d)
		if err != nil {
			delete(s.textures, d.Name)
			return err
		}
		s.textures[d.Name] = tex
	}
	slogger().Debug("render targets resized", "width", res.RenderWidth, "height", res.RenderHeight, "targets", len(s.descs))
	return nil
}

// Destroy releases every target.
func (s *TargetSet) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, tex := range s.textures {
		tex.Destroy()
		delete(s.textures, name)
	}
	s.descs = nil
}
