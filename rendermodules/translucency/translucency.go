// Package translucency draws alpha blended surfaces back to front over the
// scene color target, testing against the GBuffer depth.
package translucency

import (
	"cmp"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/bindless"
	"github.com/gogpu/cauldron/content"
	"github.com/gogpu/cauldron/ecs"
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/mesh"
	"github.com/gogpu/cauldron/permutation"
	"github.com/gogpu/cauldron/rendermodule"
	"github.com/gogpu/cauldron/rendermodules/gbuffer"
)

//go:embed shaders/translucency.wgsl
var translucencyShader string

// Name is the registered module name.
const Name = "TranslucencyRenderModule"

// TargetColor is the HDR scene color target blended into.
const TargetColor = "SceneColor"

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
	MaxTextures int `json:"maxTextures"`
	MaxSamplers int `json:"maxSamplers"`
}

type surfaceData struct {
	textures [mesh.TextureClassCount]int
	samplers [mesh.TextureClassCount]int
	instance *gpu.Buffer
	params   *gpu.ParameterSet
}

// draw is one surface of a frame's sorted draw list.
type draw struct {
	group *permutation.Group[*surfaceData]
	entry permutation.Entry[*surfaceData]
	depth float32
}

// Module is the translucency render module.
type Module struct {
	rendermodule.Base

	svc     *rendermodule.Services
	profile permutation.Profile
	root    *gpu.RootSignature
	source  string
	frame   *gpu.Buffer

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

// Init defines the color and depth targets it draws into.
func (m *Module) Init(s *rendermodule.Services, raw json.RawMessage) error {
	cfg := Config{MaxTextures: bindless.MaxTextures, MaxSamplers: bindless.MaxSamplers}
	if err := rendermodule.DecodeConfig(raw, &cfg); err != nil {
		return err
	}
	m.svc = s
	if _, err := s.Targets.Define(rendermodule.TargetDesc{Name: TargetColor, Format: gputypes.TextureFormatRGBA16Float}); err != nil {
		return err
	}
	if _, err := s.Targets.Define(rendermodule.TargetDesc{Name: gbuffer.TargetDepth, Format: gputypes.TextureFormatDepth32Float}); err != nil {
		return err
	}

	m.table = bindless.New(s.Device, bindless.WithMaxTextures(cfg.MaxTextures), bindless.WithMaxSamplers(cfg.MaxSamplers))
	m.source = m.table.ShaderSource(0, bindingTextures, bindingSamplers) + translucencyShader
	const vsfs = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
	desc := gpu.NewRootSignatureDesc("translucency").
		AddConstantBufferView(bindingFrame, vsfs, 1).
		AddConstantBufferView(bindingInstance, vsfs, 1)
	root, err := s.Device.CreateRootSignature(m.table.Layout(desc, gputypes.ShaderStageFragment, bindingTextures, bindingSamplers))
	if err != nil {
		return fmt.Errorf("translucency: %w", err)
	}
	m.root = root
	if m.frame, err = rendermodule.ConstantBuffer(s.Device, "translucency_frame", rendermodule.FrameConstantsSize); err != nil {
		root.Destroy()
		return fmt.Errorf("translucency: %w", err)
	}

	m.profile = permutation.Profile{
		Name: Name,
		ConsumableAttributes: mesh.AttrPosition | mesh.AttrNormal | mesh.AttrTexcoord0 |
			mesh.AttrTexcoord1 | mesh.AttrColor0,
		Textures:    []mesh.TextureClass{mesh.TextureAlbedo, mesh.TextureEmissive, mesh.TextureOcclusion},
		DoubleSided: true,
	}
	m.SetModuleReady(true)
	return nil
}

func (m *Module) buildPipeline(k permutation.Key) (*gpu.PipelineObject, error) {
	cull := gputypes.CullModeBack
	if k.DoubleSided {
		cull = gputypes.CullModeNone
	}
	blend := gputypes.BlendStateAlpha()
	return m.svc.Device.CreatePipelineObject(&gpu.PipelineDesc{
		Label:         fmt.Sprintf("translucency_%016x", k.Hash),
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
			Compare: gputypes.CompareFunctionLessEqual,
		},
		ColorFormats: []gputypes.TextureFormat{gputypes.TextureFormatRGBA16Float},
		Blend:        &blend,
	})
}

// OnNewContentLoaded adds the alpha blended surfaces of b.
func (m *Module) OnNewContentLoaded(b *content.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	b.Surfaces(func(e *ecs.Entity, s *mesh.Surface) {
		if !s.HasTranslucency() {
			return
		}
		if err := m.addSurface(e, s); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

func (m *Module) addSurface(e *ecs.Entity, s *mesh.Surface) error {
	data := &surfaceData{}
	for c := range mesh.TextureClass(mesh.TextureClassCount) {
		data.textures[c], data.samplers[c] = -1, -1
		if m.profile.Samples(c) {
			data.textures[c], data.samplers[c] = m.table.AddTexture(s.Material(), c)
		}
	}
	label := fmt.Sprintf("translucency_%s_%d", e.Name(), s.ID())
	buf, err := rendermodule.ConstantBuffer(m.svc.Device, label, rendermodule.InstanceConstantsSize)
	if err != nil {
		m.release(data)
		return fmt.Errorf("translucency: %w", err)
	}
	data.instance = buf
	data.params = gpu.NewParameterSet(m.root, label)
	err = errors.Join(
		data.params.SetRootConstantBufferResource(bindingFrame, m.frame, 0, rendermodule.FrameConstantsSize),
		data.params.SetRootConstantBufferResource(bindingInstance, buf, 0, rendermodule.InstanceConstantsSize),
	)
	if err == nil {
		_, err = m.cache.AddSurface(e, s, permutation.Build(s, &m.profile), data, m.buildPipeline)
	}
	if err != nil {
		m.release(data)
		return fmt.Errorf("translucency: surface %d of %s: %w", s.ID(), e.Name(), err)
	}
	return nil
}

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

// OnContentUnloaded removes the surfaces of b.
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
	return nil
}

// viewDepth is the distance of the surface center in front of the camera.
func viewDepth(view ecs.Mat4, e *ecs.Entity, s *mesh.Surface) float32 {
	p := view.Mul(e.Transform().Current).TransformPoint(s.Center())
	return -p[2]
}

// drawList returns every surface ordered back to front. Equal depths keep
// group order.
func (m *Module) drawList(view ecs.Mat4) []draw {
	var draws []draw
	for _, g := range m.cache.Groups() {
		for _, en := range g.Surfaces {
			draws = append(draws, draw{group: g, entry: en, depth: viewDepth(view, en.Entity, en.Surface)})
		}
	}
	slices.SortStableFunc(draws, func(a, b draw) int { return cmp.Compare(b.depth, a.depth) })
	return draws
}

// Execute blends the translucent surfaces, farthest first, in one raster
// pass. The pipeline is rebound whenever consecutive draws change group.
func (m *Module) Execute(ec rendermodule.ExecuteContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cam := rendermodule.ActiveCamera(m.svc.Registry)
	fc := rendermodule.NewFrameConstants(cam, nil, ec.Resolution)
	draws := m.drawList(fc.View)
	if len(draws) == 0 {
		return nil
	}

	color, ok := m.svc.Targets.Get(TargetColor)
	if !ok {
		return fmt.Errorf("translucency: render target %q missing", TargetColor)
	}
	depth, ok := m.svc.Targets.Get(gbuffer.TargetDepth)
	if !ok {
		return fmt.Errorf("translucency: render target %q missing", gbuffer.TargetDepth)
	}

	if err := m.frame.Write(0, fc.Bytes()); err != nil {
		return err
	}
	for _, d := range draws {
		c := rendermodule.NewInstanceConstants(d.entry.Entity, d.entry.Surface.Material())
		for i := range c.TextureIndices {
			c.TextureIndices[i] = int32(d.entry.Data.textures[i]) //nolint:gosec // bounded by the table size
			c.SamplerIndices[i] = int32(d.entry.Data.samplers[i]) //nolint:gosec // bounded by the table size
		}
		if err := d.entry.Data.instance.Write(0, c.Bytes()); err != nil {
			return err
		}
	}

	cl := ec.CommandList
	if err := cl.Transition(color, gpu.StateRenderTarget); err != nil {
		return err
	}
	if err := cl.Transition(depth, gpu.StateDepthRead); err != nil {
		return err
	}
	if err := cl.BeginRaster(gpu.RasterDesc{
		Label:  "translucency",
		Colors: []gpu.ColorAttachment{{Texture: color, Load: true}},
		Depth:  &gpu.DepthAttachment{Texture: depth, ReadOnly: true},
	}); err != nil {
		return err
	}
	var bound *permutation.Group[*surfaceData]
	for _, d := range draws {
		if d.group != bound {
			if err := cl.SetPipeline(d.group.Pipeline); err != nil {
				return err
			}
			bound = d.group
		}
		if err := m.table.Bind(d.entry.Data.params, bindingTextures, bindingSamplers); err != nil {
			return err
		}
		if err := d.entry.Data.params.Bind(cl); err != nil {
			return err
		}
		if _, err := rendermodule.DrawSurface(cl, d.entry.Entity, d.entry.Surface, d.group.Key.UsedAttributes); err != nil {
			return err
		}
	}
	if err := cl.EndRaster(); err != nil {
		return err
	}
	if err := cl.Transition(color, gpu.StateShaderResource); err != nil {
		return err
	}
	return cl.Transition(depth, gpu.StateShaderResource)
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
