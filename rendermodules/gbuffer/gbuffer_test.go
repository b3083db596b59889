package gbuffer

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/internal/scenetest"
	"github.com/gogpu/cauldron/mesh"
	"github.com/gogpu/cauldron/rendermodule"
)

const testAttrs = mesh.AttrPosition | mesh.AttrNormal | mesh.AttrTexcoord0

func newModule(t *testing.T, svc *rendermodule.Services, cfg string) *Module {
	t.Helper()
	m := New()
	if err := m.Init(svc, json.RawMessage(cfg)); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(m.Shutdown)
	return m
}

func TestRegistered(t *testing.T) {
	if !slices.Contains(rendermodule.Available(), Name) {
		t.Fatalf("%s not registered: %v", Name, rendermodule.Available())
	}
	m, err := rendermodule.Create(Name)
	if err != nil {
		t.Fatal(err)
	}
	if m.Name() != Name || m.ModuleReady() {
		t.Errorf("created module %q ready=%v", m.Name(), m.ModuleReady())
	}
}

func TestInitDefinesTargets(t *testing.T) {
	d := scenetest.Device(t)
	svc := scenetest.Services(t, d, 64, 32)
	m := newModule(t, svc, `{"generateMotionVectors": true, "maxTextures": 8, "maxSamplers": 4}`)

	if !m.ModuleReady() || !m.ModuleEnabled() {
		t.Fatal("module not ready after Init")
	}
	want := []string{TargetAlbedo, TargetNormal, TargetAORoughMetal, TargetMotionVectors, TargetDepth}
	if got := svc.Targets.Names(); !slices.Equal(got, want) {
		t.Errorf("targets = %v, want %v", got, want)
	}
	if v, _ := m.profile.ExtraDefines.Get("GENERATE_MOTION_VECTORS"); v != "1" {
		t.Error("motion vector define missing")
	}
	if tex, _ := m.table.Capacity(); tex != 8 {
		t.Errorf("texture capacity = %d, want 8", tex)
	}
}

func TestInitErrors(t *testing.T) {
	d := scenetest.Device(t)

	tests := []struct {
		name    string
		cfg     string
		prepare func(*rendermodule.Services)
		wantErr error
	}{
		{name: "unknown field", cfg: `{"motionVectors": true}`, wantErr: rendermodule.ErrInvalidConfig},
		{
			name: "target conflict",
			prepare: func(svc *rendermodule.Services) {
				if _, err := svc.Targets.Define(rendermodule.TargetDesc{Name: TargetAlbedo, Format: gputypes.TextureFormatRGBA16Float}); err != nil {
					t.Fatal(err)
				}
			},
			wantErr: rendermodule.ErrTargetConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := scenetest.Services(t, d, 16, 16)
			if tt.prepare != nil {
				tt.prepare(svc)
			}
			m := New()
			if err := m.Init(svc, json.RawMessage(tt.cfg)); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if m.ModuleReady() {
				t.Error("module ready after failed Init")
			}
		})
	}
}

func TestSurfacesShareGroupAndTextures(t *testing.T) {
	d := scenetest.Device(t)
	svc := scenetest.Services(t, d, 64, 64)
	m := newModule(t, svc, `{"maxTextures": 8, "maxSamplers": 4}`)

	albedo := scenetest.Texture(t, d, "albedo")
	mat := scenetest.Textured("painted", albedo, mesh.TextureAlbedo)

	first := scenetest.Block(t, svc, "first", scenetest.Surface(t, d, mat, testAttrs, [3]float32{}))
	if err := m.OnNewContentLoaded(first); err != nil {
		t.Fatalf("OnNewContentLoaded failed: %v", err)
	}
	if m.cache.Len() != 1 {
		t.Fatalf("groups = %d, want 1", m.cache.Len())
	}
	if got := m.table.Textures()[0]; got.Texture != albedo || got.Count != 1 {
		t.Fatalf("slot 0 = %+v, want albedo with refcount 1", got)
	}

	second := scenetest.Block(t, svc, "second", scenetest.Surface(t, d, mat, testAttrs, [3]float32{}))
	if err := m.OnNewContentLoaded(second); err != nil {
		t.Fatal(err)
	}
	if m.cache.Len() != 1 {
		t.Errorf("identical surface created a new group: %d groups", m.cache.Len())
	}
	if got := m.table.Textures()[0].Count; got != 2 {
		t.Errorf("refcount = %d, want 2", got)
	}
	if st := m.Stats(); st.Hits != 1 || st.Misses != 1 || st.Surfaces != 2 {
		t.Errorf("stats = %+v", st)
	}

	glass := &mesh.Material{Name: "glass", Blend: mesh.BlendBlend}
	translucent := scenetest.Block(t, svc, "glass", scenetest.Surface(t, d, glass, testAttrs, [3]float32{}))
	if err := m.OnNewContentLoaded(translucent); err != nil {
		t.Fatal(err)
	}
	if m.Stats().Surfaces != 2 {
		t.Error("translucent surface was added to the GBuffer")
	}

	untextured := scenetest.Block(t, svc, "plain", scenetest.Surface(t, d, nil, testAttrs, [3]float32{}))
	if err := m.OnNewContentLoaded(untextured); err != nil {
		t.Fatal(err)
	}
	if m.cache.Len() != 2 {
		t.Errorf("surface without albedo texture should get its own group, have %d", m.cache.Len())
	}

	if err := m.OnContentUnloaded(first); err != nil {
		t.Fatal(err)
	}
	if got := m.table.Textures()[0].Count; got != 1 {
		t.Errorf("refcount after unload = %d, want 1", got)
	}
	if err := m.OnContentUnloaded(second); err != nil {
		t.Fatal(err)
	}
	if m.table.LiveCount() != 0 {
		t.Errorf("LiveCount = %d after unloading every textured surface", m.table.LiveCount())
	}
	if m.cache.Len() != 2 {
		t.Errorf("groups = %d after unload, pipelines should stay cached", m.cache.Len())
	}
}

func TestExecute(t *testing.T) {
	d := scenetest.Device(t)
	svc := scenetest.Services(t, d, 64, 64)
	m := newModule(t, svc, `{"generateMotionVectors": true, "maxTextures": 8, "maxSamplers": 4}`)

	ec := func(cl *gpu.CommandList) rendermodule.ExecuteContext {
		return rendermodule.ExecuteContext{CommandList: cl, Resolution: svc.Resolution}
	}

	cl := scenetest.CommandList(t, d, "empty")
	if err := m.Execute(ec(cl)); err != nil {
		t.Fatalf("Execute without content failed: %v", err)
	}
	if st := cl.Stats(); st.Passes != 1 || st.Draws != 0 {
		t.Errorf("empty frame stats = %+v, want one clearing pass", st)
	}

	albedo := scenetest.Texture(t, d, "albedo")
	normal := scenetest.Texture(t, d, "normal")
	painted := scenetest.Textured("painted", albedo, mesh.TextureAlbedo)
	bumpy := scenetest.Textured("bumpy", albedo, mesh.TextureAlbedo)
	bumpy.Textures[mesh.TextureNormal] = &mesh.TextureInfo{Texture: normal, Sampler: gpu.DefaultSamplerDesc()}

	b := scenetest.Block(t, svc, "scene",
		scenetest.Surface(t, d, painted, testAttrs, [3]float32{}),
		scenetest.Surface(t, d, painted, testAttrs, [3]float32{}),
		scenetest.Surface(t, d, bumpy, testAttrs|mesh.AttrTangent, [3]float32{}),
	)
	if err := m.OnNewContentLoaded(b); err != nil {
		t.Fatal(err)
	}

	cl = scenetest.CommandList(t, d, "frame")
	if err := m.Execute(ec(cl)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if st := cl.Stats(); st.Passes != 2 || st.Draws != 3 {
		t.Errorf("stats = %+v, want 2 passes and 3 draws", st)
	}
	for _, name := range svc.Targets.Names() {
		if tex, _ := svc.Targets.Get(name); tex.State() != gpu.StateShaderResource {
			t.Errorf("target %s left in %v", name, tex.State())
		}
	}
	if _, err := d.Submit(cl); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if m.prevViewProj == nil {
		t.Error("previous view-projection not recorded")
	}
}

func TestRootSignatureMatchesShader(t *testing.T) {
	d := scenetest.Device(t)
	svc := scenetest.Services(t, d, 64, 64)
	m := newModule(t, svc, `{"maxTextures": 8, "maxSamplers": 4}`)

	if got := len(m.root.Slots()); got != 2+8+4 {
		t.Errorf("root signature has %d bindings, want 14", got)
	}
	if strings.Contains(m.source, "binding_array") {
		t.Error("shader declares a binding array")
	}
	for _, want := range []string{"bindless_texture_7:", "bindless_sampler_3:", "fn ps_main"} {
		if !strings.Contains(m.source, want) {
			t.Errorf("shader source missing %q", want)
		}
	}
}
