package workpool

import (
	"runtime"
	"sync/atomic"
	"testing"
)

func TestPool_Create(t *testing.T) {
	p := New(4)
	defer p.Close()

	if p.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", p.Workers())
	}
	if !p.IsRunning() {
		t.Error("pool should be running after creation")
	}
}

func TestPool_CreateDefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -3} {
		p := New(n)
		if p.Workers() != runtime.GOMAXPROCS(0) {
			t.Errorf("New(%d).Workers() = %d, want GOMAXPROCS", n, p.Workers())
		}
		p.Close()
	}
}

func TestPool_DispatchVisitsEveryGroupOnce(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		groups  uint32
	}{
		{"single group", 4, 1},
		{"fewer groups than workers", 8, 3},
		{"many groups", 4, 10007},
		{"one worker", 1, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.workers)
			defer p.Close()

			seen := make([]atomic.Int32, tt.groups)
			p.Dispatch(tt.groups, func(g uint32) {
				seen[g].Add(1)
			})

			for g := range seen {
				if got := seen[g].Load(); got != 1 {
					t.Fatalf("group %d ran %d times, want 1", g, got)
				}
			}
		})
	}
}

func TestPool_DispatchZeroGroups(t *testing.T) {
	p := New(2)
	defer p.Close()

	called := false
	p.Dispatch(0, func(uint32) { called = true })
	if called {
		t.Error("kernel called for an empty dispatch")
	}
	if d, _ := p.Stats(); d != 0 {
		t.Errorf("dispatches = %d, want 0", d)
	}
}

func TestPool_DispatchAfterCloseRunsInline(t *testing.T) {
	p := New(4)
	p.Close()
	p.Close() // idempotent

	if p.IsRunning() {
		t.Fatal("pool still running after Close")
	}

	var sum atomic.Uint64
	p.Dispatch(100, func(g uint32) { sum.Add(uint64(g)) })
	if got := sum.Load(); got != 4950 {
		t.Errorf("sum = %d, want 4950", got)
	}
}

func TestPool_Stats(t *testing.T) {
	p := New(2)
	defer p.Close()

	p.Dispatch(10, func(uint32) {})
	p.Dispatch(5, func(uint32) {})

	d, g := p.Stats()
	if d != 2 || g != 15 {
		t.Errorf("Stats() = (%d, %d), want (2, 15)", d, g)
	}
}
