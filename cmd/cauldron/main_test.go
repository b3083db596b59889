package main

import (
	"context"
	"math"
	"testing"
)

func TestRunNoop(t *testing.T) {
	if err := run(context.Background(), "", "noop", 3, true); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		backend string
	}{
		{"missing config", "does-not-exist.json", "noop"},
		{"unknown backend", "", "glide"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := run(context.Background(), tt.config, tt.backend, 1, false); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestProfileMode(t *testing.T) {
	for _, name := range []string{"cpu", "MEM", "trace"} {
		if _, err := profileMode(name); err != nil {
			t.Errorf("profileMode(%q): %v", name, err)
		}
	}
	if _, err := profileMode("block"); err == nil {
		t.Error("profileMode(block) succeeded")
	}
}

func TestProjections(t *testing.T) {
	near, far := float32(0.1), float32(100)
	p := perspective(math.Pi/2, 1, near, far)
	tests := []struct {
		name  string
		point [3]float32
		depth float32
	}{
		{"near plane", [3]float32{0, 0, -near}, 0},
		{"far plane", [3]float32{0, 0, -far}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.TransformPoint(tt.point)
			if math.Abs(float64(got[2]-tt.depth)) > 1e-4 {
				t.Errorf("depth = %v, want %v", got[2], tt.depth)
			}
		})
	}

	shadow := topDownShadow(10, 8, 20)
	got := shadow.TransformPoint([3]float32{4, 0, -8})
	want := [3]float32{0.5, 1, 0.5}
	for i := range 3 {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Errorf("shadow clip = %v, want %v", got, want)
			break
		}
	}
}
