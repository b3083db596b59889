package gbuffer

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/bindless"
	"github.com/gogpu/cauldron/content"
	"github.com/gogpu/cauldron/ecs"
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/mesh"
	"github.com/gogpu/cauldron/permutation"
	"github.com/gogpu/cauldron/rendermodule"
	"github.com/gogpu/cauldron/shader"
)

//go:embed shaders/gbuffer.wgsl
var gbufferShader string

// Name is the registered module name.
const Name = "GBufferRenderModule"

// Render target names.
const (
	TargetAlbedo        = "GBufferAlbedo"
	TargetNormal        = "GBufferNormal"
	TargetAORoughMetal  = "GBufferAoRoughnessMetalness"
	TargetMotionVectors = "GBufferMotionVectors"
	TargetDepth         = "GBufferDepth"
)

const (
	bindingFrame    = 0
	bindingInstance = 1
	bindingSamplers = 2
	bindingTextures = 32
)

func init() {
	rendermodule.Register(Name, func() rendermodule.RenderModule { return New() })
}

// Config is the module's JSON configuration.
type Config struct {
	GenerateMotionVectors bool `json:"generateMotionVectors"`
	MaxTextures           int  `json:"maxTextures"`
	MaxSamplers           int  `json:"maxSamplers"`
}

type target struct {
	name   string
	format gputypes.TextureFormat
}

// surfaceData is what the module keeps per drawn surface.
type surfaceData struct {
	textures [mesh.TextureClassCount]int
	samplers [mesh.TextureClassCount]int
	instance *gpu.Buffer
	params   *gpu.ParameterSet
}

// Module is the GBuffer render module.
type Module struct {
	rendermodule.Base

	svc     *rendermodule.Services
	cfg     Config
	profile permutation.Profile
	colors  []target
	root    *gpu.RootSignature
	source  string
	frame   *gpu.Buffer

	// prevViewProj feeds motion vectors; nil before the first frame.
	prevViewProj *ecs.Mat4

	mu    sync.Mutex
	cache permutation.Cache[*surfaceData]
	table *bindless.Table
}

var _ content.Listener = (*Module)(nil)

// New creates an uninitialized module.
func New() *Module {
	m := &Module{}
	m.InitBase(Name)
	return m
}

// Init defines the GBuffer targets and creates the shared resources.
func (m *Module) Init(s *rendermodule.Services, raw json.RawMessage) error {
	cfg := Config{MaxTextures: bindless.MaxTextures, MaxSamplers: bindless.MaxSamplers}
	if err := rendermodule.DecodeConfig(raw, &cfg); err != nil {
		return err
	}
	m.svc, m.cfg = s, cfg

	m.colors = []target{
		{TargetAlbedo, gputypes.TextureFormatRGBA8Unorm},
		{TargetNormal, gputypes.TextureFormatRGB10A2Unorm},
		{TargetAORoughMetal, gputypes.TextureFormatRGBA8Unorm},
	}
	if cfg.GenerateMotionVectors {
		m.colors = append(m.colors, target{TargetMotionVectors, gputypes.TextureFormatRG16Float})
	}
	for _, t := range append(m.colors, target{TargetDepth, gputypes.TextureFormatDepth32Float}) {
		if _, err := s.Targets.Define(rendermodule.TargetDesc{Name: t.name, Format: t.format}); err != nil {
			return err
		}
	}

	m.table = bindless.New(s.Device, bindless.WithMaxTextures(cfg.MaxTextures), bindless.WithMaxSamplers(cfg.MaxSamplers))
	m.source = m.table.ShaderSource(0, bindingTextures, bindingSamplers) + gbufferShader

	const vsfs = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
	desc := gpu.NewRootSignatureDesc("gbuffer").
		AddConstantBufferView(bindingFrame, vsfs, 1).
		AddConstantBufferView(bindingInstance, vsfs, 1)
	root, err := s.Device.CreateRootSignature(m.table.Layout(desc, gputypes.ShaderStageFragment, bindingTextures, bindingSamplers))
	if err != nil {
		return fmt.Errorf("gbuffer: %w", err)
	}
	m.root = root

	m.frame, err = rendermodule.ConstantBuffer(s.Device, "gbuffer_frame", rendermodule.FrameConstantsSize)
	if err != nil {
		root.Destroy()
		return fmt.Errorf("gbuffer: %w", err)
	}

	extra := shader.NewDefineList()
	if cfg.GenerateMotionVectors {
		extra.Set("GENERATE_MOTION_VECTORS", "1")
	}
	m.profile = permutation.Profile{
		Name:                 Name,
		ConsumableAttributes: mesh.AttrAll,
		Textures: []mesh.TextureClass{
			mesh.TextureAlbedo, mesh.TextureMetalRough, mesh.TextureNormal,
			mesh.TextureEmissive, mesh.TextureOcclusion,
		},
		AlphaMask:    true,
		DoubleSided:  true,
		ExtraDefines: extra,
	}

	textures, samplers := m.table.Capacity()
	m.Logger().Debug("initialized", "motionVectors", cfg.GenerateMotionVectors, "textures", textures, "samplers", samplers)
	m.SetModuleReady(true)
	return nil
}

// buildPipeline compiles the pipeline of one permutation.
func (m *Module) buildPipeline(k permutation.Key) (*gpu.PipelineObject, error) {
	formats := make([]gputypes.TextureFormat, len(m.colors))
	for i, t := range m.colors {
		formats[i] = t.format
	}
	cull := gputypes.CullModeBack
	if k.DoubleSided {
		cull = gputypes.CullModeNone
	}
	return m.svc.Device.CreatePipelineObject(&gpu.PipelineDesc{
		Label:         fmt.Sprintf("gbuffer_%016x", k.Hash),
		Kind:          gpu.PipelineGraphics,
		Root:          m.root,
		VS:            k.Shader("", m.source, "vs_main"),
		PS:            k.Shader("", m.source, "ps_main"),
		VertexBuffers: k.VertexLayout(),
		Topology:      gputypes.PrimitiveTopologyTriangleList,
		CullMode:      cull,
		FrontFace:     gputypes.FrontFaceCCW,
		Depth: &gpu.DepthDesc{
			Format:  gputypes.TextureFormatDepth32Float,
			Write:   true,
			Compare: gputypes.CompareFunctionLess,
		},
		ColorFormats: formats,
	})
}

// OnNewContentLoaded adds the opaque and masked surfaces of b.
func (m *Module) OnNewContentLoaded(b *content.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	b.Surfaces(func(e *ecs.Entity, s *mesh.Surface) {
		if s.HasTranslucency() {
			return
		}
		if err := m.addSurface(e, s); err != nil {
			errs = append(errs, err)
		}
	})
	m.Logger().Debug("content loaded", "block", b.Name, "groups", m.cache.Len(), "textures", m.table.LiveCount())
	return errors.Join(errs...)
}

func (m *Module) addSurface(e *ecs.Entity, s *mesh.Surface) error {
	data, err := m.newSurfaceData(e, s)
	if err != nil {
		return err
	}
	key := permutation.Build(s, &m.profile)
	if _, err := m.cache.AddSurface(e, s, key, data, m.buildPipeline); err != nil {
		m.release(data)
		return fmt.Errorf("gbuffer: surface %d of %s: %w", s.ID(), e.Name(), err)
	}
	return nil
}

func (m *Module) newSurfaceData(e *ecs.Entity, s *mesh.Surface) (*surfaceData, error) {
	data := &surfaceData{}
	for c := range mesh.TextureClass(mesh.TextureClassCount) {
		data.textures[c], data.samplers[c] = -1, -1
		if m.profile.Samples(c) {
			data.textures[c], data.samplers[c] = m.table.AddTexture(s.Material(), c)
		}
	}
	label := fmt.Sprintf("gbuffer_%s_%d", e.Name(), s.ID())
	buf, err := rendermodule.ConstantBuffer(m.svc.Device, label, rendermodule.InstanceConstantsSize)
	if err != nil {
		m.release(data)
		return nil, fmt.Errorf("gbuffer: %w", err)
	}
	data.instance = buf
	data.params = gpu.NewParameterSet(m.root, label)
	if err := data.params.SetRootConstantBufferResource(bindingFrame, m.frame, 0, rendermodule.FrameConstantsSize); err != nil {
		m.release(data)
		return nil, err
	}
	if err := data.params.SetRootConstantBufferResource(bindingInstance, buf, 0, rendermodule.InstanceConstantsSize); err != nil {
		m.release(data)
		return nil, err
	}
	return data, nil
}

// release returns the texture slots of data and frees its resources.
func (m *Module) release(data *surfaceData) {
	for _, i := range data.textures {
		if i >= 0 {
			m.table.RemoveTexture(i)
		}
	}
	if data.params != nil {
		data.params.Destroy()
	}
	if data.instance != nil {
		data.instance.Destroy()
	}
}

// OnContentUnloaded removes the surfaces of b. Pipelines stay cached.
func (m *Module) OnContentUnloaded(b *content.Block) error {
	if err := m.svc.Device.FlushAllCommandQueues(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b.Surfaces(func(e *ecs.Entity, s *mesh.Surface) {
		if data, ok := m.cache.RemoveSurface(e, s); ok {
			m.release(data)
		}
	})
	m.Logger().Debug("content unloaded", "block", b.Name, "textures", m.table.LiveCount())
	return nil
}

// Execute fills the GBuffer. Each non-empty permutation group is drawn in
// its own raster pass; the first pass clears the targets.
func (m *Module) Execute(ec rendermodule.ExecuteContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cl := ec.CommandList
	colors := make([]gpu.ColorAttachment, len(m.colors))
	for i, t := range m.colors {
		tex, ok := m.svc.Targets.Get(t.name)
		if !ok {
			return fmt.Errorf("gbuffer: render target %q missing", t.name)
		}
		colors[i] = gpu.ColorAttachment{Texture: tex}
	}
	depth, ok := m.svc.Targets.Get(TargetDepth)
	if !ok {
		return fmt.Errorf("gbuffer: render target %q missing", TargetDepth)
	}

	fc := rendermodule.NewFrameConstants(rendermodule.ActiveCamera(m.svc.Registry), m.prevViewProj, ec.Resolution)
	if err := m.frame.Write(0, fc.Bytes()); err != nil {
		return err
	}
	vp := fc.ViewProjection
	m.prevViewProj = &vp
	if err := m.writeInstances(); err != nil {
		return err
	}

	for _, c := range colors {
		if err := cl.Transition(c.Texture, gpu.StateRenderTarget); err != nil {
			return err
		}
	}
	if err := cl.Transition(depth, gpu.StateDepthWrite); err != nil {
		return err
	}

	passes := 0
	for _, g := range m.cache.Groups() {
		if len(g.Surfaces) == 0 {
			continue
		}
		if err := m.drawGroup(cl, g, colors, depth, passes > 0); err != nil {
			return err
		}
		passes++
	}
	if passes == 0 {
		if err := m.drawGroup(cl, nil, colors, depth, false); err != nil {
			return err
		}
	}

	for _, c := range colors {
		if err := cl.Transition(c.Texture, gpu.StateShaderResource); err != nil {
			return err
		}
	}
	return cl.Transition(depth, gpu.StateShaderResource)
}

func (m *Module) writeInstances() error {
	for _, g := range m.cache.Groups() {
		for _, en := range g.Surfaces {
			c := rendermodule.NewInstanceConstants(en.Entity, en.Surface.Material())
			for i := range c.TextureIndices {
				c.TextureIndices[i] = int32(en.Data.textures[i]) //nolint:gosec // bounded by the table size
				c.SamplerIndices[i] = int32(en.Data.samplers[i]) //nolint:gosec // bounded by the table size
			}
			if err := en.Data.instance.Write(0, c.Bytes()); err != nil {
				return err
			}
		}
	}
	return nil
}

// drawGroup runs one raster pass over g. A nil g only clears.
func (m *Module) drawGroup(cl *gpu.CommandList, g *permutation.Group[*surfaceData], colors []gpu.ColorAttachment, depth *gpu.Texture, load bool) error {
	for i := range colors {
		colors[i].Load = load
	}
	label := "gbuffer_clear"
	if g != nil {
		label = fmt.Sprintf("gbuffer_%016x", g.Hash)
	}
	if err := cl.BeginRaster(gpu.RasterDesc{
		Label:  label,
		Colors: colors,
		Depth:  &gpu.DepthAttachment{Texture: depth, ClearDepth: 1, Load: load},
	}); err != nil {
		return err
	}
	if g != nil {
		if err := cl.SetPipeline(g.Pipeline); err != nil {
			return err
		}
		for _, en := range g.Surfaces {
			if err := m.table.Bind(en.Data.params, bindingTextures, bindingSamplers); err != nil {
				return err
			}
			if err := en.Data.params.Bind(cl); err != nil {
				return err
			}
			if _, err := rendermodule.DrawSurface(cl, en.Entity, en.Surface, g.Key.UsedAttributes); err != nil {
				return err
			}
		}
	}
	return cl.EndRaster()
}

// Stats returns the permutation cache counters.
func (m *Module) Stats() permutation.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Stats()
}

// Shutdown releases every surface, pipeline and shared resource.
func (m *Module) Shutdown() {
	m.SetModuleReady(false)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.cache.Groups() {
		for _, en := range g.Surfaces {
			m.release(en.Data)
		}
	}
	m.cache.Destroy()
	if m.table != nil {
		m.table.Destroy()
	}
	if m.frame != nil {
		m.frame.Destroy()
	}
	if m.root != nil {
		m.root.Destroy()
	}
}
