package ecs

import (
	"errors"
	"sync"
	"testing"

	"github.com/gogpu/cauldron/mesh"
)

func TestEntityRecycling(t *testing.T) {
	s := NewStore()
	a := s.CreateEntity("a")
	b := s.CreateEntity("b")
	if a.ID().Index == b.ID().Index {
		t.Fatalf("live entities share index %d", a.ID().Index)
	}

	old := a.ID()
	s.DestroyEntity(a)
	s.DestroyEntity(a)
	if a.Active() {
		t.Error("destroyed entity still active")
	}
	if _, ok := s.Lookup(old); ok {
		t.Error("Lookup accepted a destroyed entity")
	}

	c := s.CreateEntity("c")
	if c.ID().Index != old.Index {
		t.Errorf("freed index %d not reused, got %d", old.Index, c.ID().Index)
	}
	if c.ID().Generation != old.Generation+1 {
		t.Errorf("Generation = %d, want %d", c.ID().Generation, old.Generation+1)
	}
	if _, ok := s.Lookup(old); ok {
		t.Error("stale ID resolved to the recycled slot")
	}
	if e, ok := s.Lookup(c.ID()); !ok || e != c {
		t.Error("Lookup failed for a live entity")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestSetTransformKeepsPrevious(t *testing.T) {
	e := NewStore().CreateEntity("moving")
	if e.Transform().Current != Identity() {
		t.Fatal("new entity transform is not identity")
	}
	first := Translation(1, 2, 3)
	second := Translation(4, 5, 6)
	e.SetTransform(first)
	e.SetTransform(second)
	tr := e.Transform()
	if tr.Current != second || tr.Previous != first {
		t.Errorf("transform = %v, want current %v previous %v", tr, second, first)
	}
	if p := tr.Current.TransformPoint([3]float32{1, 1, 1}); p != [3]float32{5, 6, 7} {
		t.Errorf("TransformPoint = %v", p)
	}
}

func TestSpawnComponent(t *testing.T) {
	s := NewStore()
	meshes := NewMeshComponentMgr()
	lights := NewLightComponentMgr()
	e := s.CreateEntity("lamp")

	mc, err := meshes.Spawn(e, &MeshComponentData{Mesh: mesh.NewMesh("cube")})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if mc.Entity() != e || mc.Manager() != meshes || mc.Type() != ComponentTypeMesh {
		t.Error("component not tagged with its entity and manager")
	}
	if e.Component(ComponentTypeMesh) != mc {
		t.Error("entity does not expose the spawned component")
	}

	tests := []struct {
		name string
		mgr  ComponentMgr
		data ComponentData
		want error
	}{
		{"duplicate type", meshes, &MeshComponentData{}, ErrComponentExists},
		{"wrong data", meshes, &LightComponentData{}, ErrWrongComponentType},
		{"second type", lights, &LightComponentData{CastShadows: true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.mgr.SpawnComponent(e, tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("SpawnComponent = %v, want %v", err, tt.want)
			}
		})
	}

	if got := len(e.Components()); got != 2 {
		t.Fatalf("entity has %d components, want 2", got)
	}
	if ld, ok := As[*LightComponentData](e.Component(ComponentTypeLight)); !ok || !ld.CastShadows {
		t.Error("As failed to recover light data")
	}
	if _, ok := As[*CameraComponentData](mc); ok {
		t.Error("As accepted the wrong data type")
	}
	if _, ok := As[*MeshComponentData](nil); ok {
		t.Error("As accepted a nil component")
	}
}

func TestDestroyEntityDestroysComponents(t *testing.T) {
	s := NewStore()
	meshes := NewMeshComponentMgr()
	cams := NewCameraComponentMgr()

	e := s.CreateEntity("camera")
	if _, err := meshes.Spawn(e, &MeshComponentData{}); err != nil {
		t.Fatal(err)
	}
	if _, err := cams.Spawn(e, &CameraComponentData{Near: 0.1, Far: 100}); err != nil {
		t.Fatal(err)
	}
	other := s.CreateEntity("other")
	if _, err := meshes.Spawn(other, &MeshComponentData{}); err != nil {
		t.Fatal(err)
	}

	s.DestroyEntity(e)
	if meshes.Len() != 1 || cams.Len() != 0 {
		t.Errorf("live components after destroy: meshes %d cameras %d", meshes.Len(), cams.Len())
	}
	if len(e.Components()) != 0 {
		t.Error("destroyed entity still has components")
	}
	if _, err := meshes.Spawn(e, &MeshComponentData{}); !errors.Is(err, ErrEntityDestroyed) {
		t.Errorf("spawn on destroyed entity: expected ErrEntityDestroyed, got %v", err)
	}
}

func TestManagerConcurrentSpawn(t *testing.T) {
	s := NewStore()
	meshes := NewMeshComponentMgr()

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := s.CreateEntity("e")
			if _, err := meshes.Spawn(e, &MeshComponentData{}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if meshes.Len() != 32 || len(meshes.Components()) != 32 {
		t.Errorf("Len = %d, want 32", meshes.Len())
	}
	meshes.Shutdown()
	if meshes.Len() != 0 {
		t.Errorf("Len after Shutdown = %d", meshes.Len())
	}
	for _, e := range s.Entities() {
		if len(e.Components()) != 0 {
			t.Fatal("Shutdown left a component attached")
		}
	}
}

type shutdownRecorder struct {
	name string
	log  *[]string
}

func (r *shutdownRecorder) Shutdown() { *r.log = append(*r.log, r.name) }

type otherRecorder struct{ shutdownRecorder }

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	if err := ProvideBuiltins(reg); err != nil {
		t.Fatalf("ProvideBuiltins failed: %v", err)
	}
	if err := Provide(reg, NewMeshComponentMgr()); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("second mesh manager: expected ErrAlreadyRegistered, got %v", err)
	}
	if m, ok := Lookup[*LightComponentMgr](reg); !ok || m.Type() != ComponentTypeLight {
		t.Error("Lookup did not return the light manager")
	}
	if _, ok := Lookup[*Store](reg); ok {
		t.Error("Lookup found an unregistered type")
	}
	if got := len(reg.Managers()); got != 4 {
		t.Errorf("Managers = %d, want 4", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("MustLookup did not panic for an unregistered type")
		}
	}()
	MustLookup[*Store](reg)
}

func TestRegistryShutdownOrder(t *testing.T) {
	var log []string
	reg := NewRegistry()
	if err := Provide(reg, &shutdownRecorder{"first", &log}); err != nil {
		t.Fatal(err)
	}
	if err := Provide(reg, &otherRecorder{shutdownRecorder{"second", &log}}); err != nil {
		t.Fatal(err)
	}
	if err := Provide(reg, 42); err != nil {
		t.Fatal(err)
	}
	reg.Shutdown()
	if len(log) != 2 || log[0] != "second" || log[1] != "first" {
		t.Errorf("shutdown order = %v, want [second first]", log)
	}
	if reg.Len() != 0 {
		t.Errorf("Len after Shutdown = %d", reg.Len())
	}
}
