package ecs

import (
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/mesh"
	"github.com/gogpu/cauldron/shadowatlas"
)

// Built-in component types.
const (
	ComponentTypeMesh      ComponentType = "mesh"
	ComponentTypeAnimation ComponentType = "animation"
	ComponentTypeLight     ComponentType = "light"
	ComponentTypeCamera    ComponentType = "camera"
)

// MeshComponentData attaches a mesh to an entity.
type MeshComponentData struct {
	Mesh *mesh.Mesh
}

func (*MeshComponentData) ComponentType() ComponentType { return ComponentTypeMesh }

// AnimationComponentData holds per-entity skinning output.
type AnimationComponentData struct {
	SkinID int
	// SkinnedBuffers holds the skinned vertex streams of each surface,
	// keyed by Surface.ID.
	SkinnedBuffers map[uint32][]*gpu.Buffer
}

func (*AnimationComponentData) ComponentType() ComponentType { return ComponentTypeAnimation }

// SkinnedStreams returns the skinned buffers of surface id, or nil.
func (a *AnimationComponentData) SkinnedStreams(id uint32) []*gpu.Buffer {
	if a == nil {
		return nil
	}
	return a.SkinnedBuffers[id]
}

// LightType is the kind of a light.
type LightType uint8

const (
	LightDirectional LightType = iota
	LightSpot
	LightPoint
)

func (t LightType) String() string {
	switch t {
	case LightDirectional:
		return "directional"
	case LightSpot:
		return "spot"
	case LightPoint:
		return "point"
	}
	return "unknown"
}

// LightComponentData describes a light and the shadow map cells assigned
// to it.
type LightComponentData struct {
	Type      LightType
	Color     [3]float32
	Intensity float32
	Range     float32

	CastShadows      bool
	ShadowResolution shadowatlas.Resolution
	ShadowMaps       []shadowatlas.ShadowMap
}

func (*LightComponentData) ComponentType() ComponentType { return ComponentTypeLight }

// CameraComponentData holds camera matrices and clip planes.
type CameraComponentData struct {
	View       Mat4
	Projection Mat4
	Near, Far  float32
}

func (*CameraComponentData) ComponentType() ComponentType { return ComponentTypeCamera }

// ViewProjection returns Projection * View.
func (c *CameraComponentData) ViewProjection() Mat4 { return c.Projection.Mul(c.View) }

type (
	MeshComponentMgr      = Manager[*MeshComponentData]
	AnimationComponentMgr = Manager[*AnimationComponentData]
	LightComponentMgr     = Manager[*LightComponentData]
	CameraComponentMgr    = Manager[*CameraComponentData]
)

func NewMeshComponentMgr() *MeshComponentMgr {
	return NewManager[*MeshComponentData](ComponentTypeMesh, "MeshComponentMgr")
}

func NewAnimationComponentMgr() *AnimationComponentMgr {
	return NewManager[*AnimationComponentData](ComponentTypeAnimation, "AnimationComponentMgr")
}

func NewLightComponentMgr() *LightComponentMgr {
	return NewManager[*LightComponentData](ComponentTypeLight, "LightComponentMgr")
}

func NewCameraComponentMgr() *CameraComponentMgr {
	return NewManager[*CameraComponentData](ComponentTypeCamera, "CameraComponentMgr")
}

// ProvideBuiltins registers the four built-in managers in r.
func ProvideBuiltins(r *Registry) error {
	if err := Provide(r, NewMeshComponentMgr()); err != nil {
		return err
	}
	if err := Provide(r, NewAnimationComponentMgr()); err != nil {
		return err
	}
	if err := Provide(r, NewLightComponentMgr()); err != nil {
		return err
	}
	return Provide(r, NewCameraComponentMgr())
}
