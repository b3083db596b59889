package rastershadow

import (
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
	"github.com/gogpu/cauldron/shadowatlas"
)

//go:embed shaders/shadow.wgsl
var shadowShader string

// Name is the registered module name.
const Name = "RasterShadowRenderModule"

const (
	bindingLight    = 0
	bindingInstance = 1
	bindingSamplers = 2
	bindingTextures = 32
)

func init() {
	rendermodule.Register(Name, func() rendermodule.RenderModule { return New() })
}

// Config is the module's JSON configuration.
type Config struct {
	DepthBias            int32   `json:"depthBias"`
	SlopeScaledDepthBias float32 `json:"slopeScaledDepthBias"`
	DepthBiasClamp       float32 `json:"depthBiasClamp"`
	MaxAtlases           int     `json:"maxAtlases"`

	// DefaultResolution applies to lights without a shadow resolution.
	DefaultResolution string `json:"defaultResolution"`

	MaxTextures int `json:"maxTextures"`
	MaxSamplers int `json:"maxSamplers"`
}

// surfaceData holds a bindless albedo reference only for alpha-tested
// surfaces, and one parameter set per light so drawing the cells of
// several lights never rebinds a set.
type surfaceData struct {
	albedo   int
	sampler  int
	instance *gpu.Buffer
	params   map[*shadowLight]*gpu.ParameterSet
}

// shadowLight is a light with allocated shadow maps.
type shadowLight struct {
	comp      *ecs.Component
	data      *ecs.LightComponentData
	constants *gpu.Buffer
}

// Module is the raster shadow render module.
type Module struct {
	rendermodule.Base

	svc        *rendermodule.Services
	cfg        Config
	defaultRes shadowatlas.Resolution
	profile    permutation.Profile
	root       *gpu.RootSignature
	source     string
	pool       *shadowatlas.Pool

	mu     sync.Mutex
	cache  permutation.Cache[*surfaceData]
	table  *bindless.Table
	lights []*shadowLight
}

var _ content.Listener = (*Module)(nil)

// New creates an uninitialized module.
func New() *Module {
	m := &Module{}
	m.InitBase(Name)
	return m
}

// Init creates the shadow atlas pool and provides it in the service
// registry.
func (m *Module) Init(s *rendermodule.Services, raw json.RawMessage) error {
	cfg := Config{
		DepthBias:            2,
		SlopeScaledDepthBias: 2,
		MaxAtlases:           shadowatlas.DefaultMaxAtlases,
		DefaultResolution:    shadowatlas.ResolutionQuarter.String(),
		MaxTextures:          bindless.MaxTextures,
		MaxSamplers:          bindless.MaxSamplers,
	}
	if err := rendermodule.DecodeConfig(raw, &cfg); err != nil {
		return err
	}
	res, err := shadowatlas.ParseResolution(cfg.DefaultResolution)
	if err != nil {
		return fmt.Errorf("%w: %w", rendermodule.ErrInvalidConfig, err)
	}
	m.svc, m.cfg, m.defaultRes = s, cfg, res

	m.table = bindless.New(s.Device, bindless.WithMaxTextures(cfg.MaxTextures), bindless.WithMaxSamplers(cfg.MaxSamplers))
	m.source = m.table.ShaderSource(0, bindingTextures, bindingSamplers) + shadowShader
	const vsfs = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
	desc := gpu.NewRootSignatureDesc("rastershadow").
		AddConstantBufferView(bindingLight, vsfs, 1).
		AddConstantBufferView(bindingInstance, vsfs, 1)
	m.root, err = s.Device.CreateRootSignature(m.table.Layout(desc, gputypes.ShaderStageFragment, bindingTextures, bindingSamplers))
	if err != nil {
		return fmt.Errorf("rastershadow: %w", err)
	}

	m.pool = shadowatlas.NewPool(s.Device, shadowatlas.WithMaxAtlases(cfg.MaxAtlases), shadowatlas.WithLabel("ShadowAtlas"))
	if s.Registry != nil {
		if err := ecs.Provide(s.Registry, m.pool); err != nil {
			m.Logger().Warn("shadow atlas pool not shared", "err", err)
		}
	}

	m.profile = permutation.Profile{
		Name:                 Name,
		ConsumableAttributes: mesh.AttrPosition | mesh.AttrTexcoord0 | mesh.AttrTexcoord1,
		Textures:             []mesh.TextureClass{mesh.TextureAlbedo},
		AlphaMask:            true,
		DoubleSided:          true,
	}
	m.SetModuleReady(true)
	return nil
}

// Pool returns the shadow atlas pool.
func (m *Module) Pool() *shadowatlas.Pool { return m.pool }

func (m *Module) buildPipeline(k permutation.Key) (*gpu.PipelineObject, error) {
	desc := &gpu.PipelineDesc{
		Label:         fmt.Sprintf("rastershadow_%016x", k.Hash),
		Kind:          gpu.PipelineGraphics,
		Root:          m.root,
		VS:            k.Shader("", m.source, "vs_main"),
		VertexBuffers: k.VertexLayout(),
		Topology:      gputypes.PrimitiveTopologyTriangleList,
		CullMode:      gputypes.CullModeBack,
		FrontFace:     gputypes.FrontFaceCCW,
		Depth: &gpu.DepthDesc{
			Format:         gputypes.TextureFormatDepth32Float,
			Write:          true,
			Compare:        gputypes.CompareFunctionLessEqual,
			Bias:           m.cfg.DepthBias,
			BiasSlopeScale: m.cfg.SlopeScaledDepthBias,
			BiasClamp:      m.cfg.DepthBiasClamp,
		},
	}
	if k.DoubleSided {
		desc.CullMode = gputypes.CullModeNone
	}
	if k.Defines.Has("DEF_ALPHA_TEST") {
		desc.PS = k.Shader("", m.source, "ps_main")
	}
	return m.svc.Device.CreatePipelineObject(desc)
}

// OnNewContentLoaded adds the shadow casting surfaces of b and allocates
// shadow maps for its shadow casting lights.
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
	for _, c := range b.ComponentsOf(ecs.ComponentTypeLight) {
		if err := m.addLight(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Module) addSurface(e *ecs.Entity, s *mesh.Surface) error {
	data := &surfaceData{albedo: -1, sampler: -1, params: make(map[*shadowLight]*gpu.ParameterSet)}
	if mat := s.Material(); mat != nil && mat.Blend == mesh.BlendMask {
		data.albedo, data.sampler = m.table.AddTexture(mat, mesh.TextureAlbedo)
	}
	label := fmt.Sprintf("rastershadow_%s_%d", e.Name(), s.ID())
	buf, err := rendermodule.ConstantBuffer(m.svc.Device, label, rendermodule.InstanceConstantsSize)
	if err != nil {
		m.release(data)
		return fmt.Errorf("rastershadow: %w", err)
	}
	data.instance = buf
	key := permutation.Build(s, &m.profile)
	if _, err := m.cache.AddSurface(e, s, key, data, m.buildPipeline); err != nil {
		m.release(data)
		return fmt.Errorf("rastershadow: surface %d of %s: %w", s.ID(), e.Name(), err)
	}
	return nil
}

func (m *Module) release(data *surfaceData) {
	if data.albedo >= 0 {
		m.table.RemoveTexture(data.albedo)
	}
	for _, ps := range data.params {
		ps.Destroy()
	}
	clear(data.params)
	if data.instance != nil {
		data.instance.Destroy()
	}
}

// addLight allocates a shadow map for a shadow casting light. Lights that
// cannot get one are logged and left without.
func (m *Module) addLight(c *ecs.Component) error {
	ld, ok := ecs.As[*ecs.LightComponentData](c)
	if !ok || !ld.CastShadows {
		return nil
	}
	log := m.Logger().With("light", c.Entity().Name(), "type", ld.Type)
	if ld.Type == ecs.LightPoint {
		log.Warn("light has no shadow map: point light shadows are not supported")
		return nil
	}
	res := ld.ShadowResolution
	if res == 0 {
		res = m.defaultRes
	}
	sm, err := m.pool.GetNewShadowMap(res)
	if err != nil {
		log.Warn("light has no shadow map", "resolution", res, "err", err)
		return nil
	}
	cb, err := rendermodule.ConstantBuffer(m.svc.Device, "rastershadow_light_"+c.Entity().Name(), rendermodule.FrameConstantsSize)
	if err != nil {
		_ = m.pool.ReleaseShadowMap(sm.AtlasIndex, sm.CellIndex)
		return fmt.Errorf("rastershadow: %w", err)
	}
	ld.ShadowMaps = append(ld.ShadowMaps, sm)
	m.lights = append(m.lights, &shadowLight{comp: c, data: ld, constants: cb})
	log.Debug("shadow map allocated", "atlas", sm.AtlasIndex, "cell", sm.CellIndex, "rect", sm.Rect)
	return nil
}

// OnContentUnloaded removes the surfaces of b and releases the shadow maps
// of its lights.
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
	var errs []error
	for _, c := range b.ComponentsOf(ecs.ComponentTypeLight) {
		i := slices.IndexFunc(m.lights, func(l *shadowLight) bool { return l.comp == c })
		if i < 0 {
			continue
		}
		errs = append(errs, m.releaseLight(m.lights[i]))
		m.lights = slices.Delete(m.lights, i, i+1)
	}
	return errors.Join(errs...)
}

func (m *Module) releaseLight(l *shadowLight) error {
	var errs []error
	for _, sm := range l.data.ShadowMaps {
		errs = append(errs, m.pool.ReleaseShadowMap(sm.AtlasIndex, sm.CellIndex))
	}
	l.data.ShadowMaps = nil
	for _, g := range m.cache.Groups() {
		for _, en := range g.Surfaces {
			if ps, ok := en.Data.params[l]; ok {
				ps.Destroy()
				delete(en.Data.params, l)
			}
		}
	}
	l.constants.Destroy()
	return errors.Join(errs...)
}

// Execute renders one depth pass per atlas holding shadow maps. Each map
// is drawn with its cell as viewport and scissor.
func (m *Module) Execute(ec rendermodule.ExecuteContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.lights) == 0 {
		return nil
	}
	if err := m.writeConstants(); err != nil {
		return err
	}

	cl := ec.CommandList
	for _, a := range m.pool.Atlases() {
		type cell struct {
			light *shadowLight
			sm    shadowatlas.ShadowMap
		}
		var cells []cell
		for _, l := range m.lights {
			for _, sm := range l.data.ShadowMaps {
				if sm.AtlasIndex == a.Index() {
					cells = append(cells, cell{l, sm})
				}
			}
		}
		tex := a.Texture()
		if len(cells) == 0 || tex == nil {
			continue
		}

		if err := cl.Transition(tex, gpu.StateDepthWrite); err != nil {
			return err
		}
		if err := cl.BeginRaster(gpu.RasterDesc{
			Label: fmt.Sprintf("rastershadow_atlas_%d", a.Index()),
			Depth: &gpu.DepthAttachment{Texture: tex, ClearDepth: 1},
		}); err != nil {
			return err
		}
		for _, c := range cells {
			if err := m.drawCell(cl, c.light, c.sm); err != nil {
				return err
			}
		}
		if err := cl.EndRaster(); err != nil {
			return err
		}
		if err := cl.Transition(tex, gpu.StateShaderResource); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) writeConstants() error {
	for _, l := range m.lights {
		if len(l.data.ShadowMaps) == 0 {
			continue
		}
		size := uint32(l.data.ShadowMaps[0].Resolution())
		cam := &ecs.CameraComponentData{View: ecs.Identity(), Projection: l.comp.Entity().Transform().Current}
		fc := rendermodule.NewFrameConstants(cam, nil, rendermodule.Full(size, size))
		if err := l.constants.Write(0, fc.Bytes()); err != nil {
			return err
		}
	}
	for _, g := range m.cache.Groups() {
		for _, en := range g.Surfaces {
			c := rendermodule.NewInstanceConstants(en.Entity, en.Surface.Material())
			c.TextureIndices[mesh.TextureAlbedo] = int32(en.Data.albedo)  //nolint:gosec // bounded by the table size
			c.SamplerIndices[mesh.TextureAlbedo] = int32(en.Data.sampler) //nolint:gosec // bounded by the table size
			if err := en.Data.instance.Write(0, c.Bytes()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Module) drawCell(cl *gpu.CommandList, l *shadowLight, sm shadowatlas.ShadowMap) error {
	r := sm.Rect
	if err := cl.SetViewport(float32(r.Min.X), float32(r.Min.Y), float32(r.Dx()), float32(r.Dy()), 0, 1); err != nil {
		return err
	}
	if err := cl.SetScissor(r); err != nil {
		return err
	}
	for _, g := range m.cache.Groups() {
		if len(g.Surfaces) == 0 {
			continue
		}
		if err := cl.SetPipeline(g.Pipeline); err != nil {
			return err
		}
		for _, en := range g.Surfaces {
			ps, err := m.paramsFor(en.Data, l)
			if err != nil {
				return err
			}
			if err := m.table.Bind(ps, bindingTextures, bindingSamplers); err != nil {
				return err
			}
			if err := ps.Bind(cl); err != nil {
				return err
			}
			if _, err := rendermodule.DrawSurface(cl, en.Entity, en.Surface, g.Key.UsedAttributes); err != nil {
				return err
			}
		}
	}
	return nil
}

// paramsFor returns the parameter set drawing data for light l, creating
// it on first use.
func (m *Module) paramsFor(data *surfaceData, l *shadowLight) (*gpu.ParameterSet, error) {
	if ps, ok := data.params[l]; ok {
		return ps, nil
	}
	ps := gpu.NewParameterSet(m.root, data.instance.Label()+"_"+l.comp.Entity().Name())
	if err := ps.SetRootConstantBufferResource(bindingInstance, data.instance, 0, rendermodule.InstanceConstantsSize); err != nil {
		ps.Destroy()
		return nil, err
	}
	if err := ps.SetRootConstantBufferResource(bindingLight, l.constants, 0, rendermodule.FrameConstantsSize); err != nil {
		ps.Destroy()
		return nil, err
	}
	data.params[l] = ps
	return ps, nil
}

// Stats returns the permutation cache counters.
func (m *Module) Stats() permutation.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Stats()
}

// Shutdown releases every shadow map, surface and pipeline.
func (m *Module) Shutdown() {
	m.SetModuleReady(false)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lights {
		_ = m.releaseLight(l)
	}
	m.lights = nil
	for _, g := range m.cache.Groups() {
		for _, en := range g.Surfaces {
			m.release(en.Data)
		}
	}
	m.cache.Destroy()
	if m.table != nil {
		m.table.Destroy()
	}
	if m.pool != nil {
		m.pool.Destroy()
	}
	if m.root != nil {
		m.root.Destroy()
	}
}
