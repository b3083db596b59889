package sortbench

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gogpu/cauldron/internal/scenetest"
	"github.com/gogpu/cauldron/parallelsort"
	"github.com/gogpu/cauldron/rendermodule"
)

func TestRandomKeysDeterministic(t *testing.T) {
	a := RandomKeys(256, 1)
	if len(a) != 4*256 {
		t.Fatalf("len = %d, want %d", len(a), 4*256)
	}
	if !bytes.Equal(a, RandomKeys(256, 1)) {
		t.Error("same seed produced different keys")
	}
	if bytes.Equal(a, RandomKeys(256, 2)) {
		t.Error("different seeds produced the same keys")
	}
	if len(RandomKeys(0, 1)) != 0 {
		t.Error("zero keys produced data")
	}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name           string
		cfg            string
		wantDispatches int
		wantCopies     int
	}{
		{"keys", `{"keys": 1024}`, parallelsort.Iterations * 5, 1},
		{"payload", `{"keys": 1024, "payload": true}`, parallelsort.Iterations * 5, 2},
		{"indirect", `{"keys": 1024, "indirect": true}`, parallelsort.Iterations*5 + 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := scenetest.Device(t)
			svc := scenetest.Services(t, d, 16, 16)
			m := New()
			if err := m.Init(svc, json.RawMessage(tt.cfg)); err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			defer m.Shutdown()
			if m.Keys().Size() != 4*1024 {
				t.Errorf("key buffer size = %d", m.Keys().Size())
			}

			for frame := range 2 {
				cl := scenetest.CommandList(t, d, "sort")
				if err := m.Execute(rendermodule.ExecuteContext{CommandList: cl, Resolution: svc.Resolution}); err != nil {
					t.Fatalf("frame %d: Execute failed: %v", frame, err)
				}
				st := cl.Stats()
				if st.Dispatches != tt.wantDispatches || st.Copies != tt.wantCopies {
					t.Errorf("frame %d: stats = %+v, want %d dispatches and %d copies", frame, st, tt.wantDispatches, tt.wantCopies)
				}
				if _, err := d.Submit(cl); err != nil {
					t.Fatalf("frame %d: Submit failed: %v", frame, err)
				}
			}
		})
	}
}

func TestInitErrors(t *testing.T) {
	d := scenetest.Device(t)
	svc := scenetest.Services(t, d, 16, 16)
	for _, cfg := range []string{`{"keys": 0}`, `{"count": 12}`} {
		m := New()
		if err := m.Init(svc, json.RawMessage(cfg)); !errors.Is(err, rendermodule.ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", cfg, err)
		}
		m.Shutdown()
	}
}
