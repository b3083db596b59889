package cauldron

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/gogpu/wgpu/hal"
)

func TestNopHandler(t *testing.T) {
	h := nopHandler{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(context.Background(), level) {
			t.Errorf("nopHandler.Enabled(%v) = true, want false", level)
		}
	}
	if err := h.Handle(context.Background(), slog.Record{}); err != nil {
		t.Errorf("nopHandler.Handle() = %v, want nil", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.String("key", "val")}).(nopHandler); !ok {
		t.Error("WithAttrs did not return a nopHandler")
	}
	if _, ok := h.WithGroup("group").(nopHandler); !ok {
		t.Error("WithGroup did not return a nopHandler")
	}
}

func TestLoggerDefaultSilent(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("Logger() returned nil")
	}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if l.Enabled(context.Background(), level) {
			t.Errorf("default logger should not be enabled for %v", level)
		}
	}
}

func TestSetLoggerPropagates(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	SetLogger(custom)

	if Logger() != custom {
		t.Error("Logger() did not return the custom logger")
	}
	if hal.Logger() != custom {
		t.Error("SetLogger did not reach the HAL")
	}

	fw := newFramework(t)
	if err := fw.Init(&Config{Width: 8, Height: 8, RenderModules: []string{"ParallelSortRenderModule"},
		Modules: map[string]json.RawMessage{"ParallelSortRenderModule": json.RawMessage(`{"keys": 64}`)}}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"cauldron: initialized", "module=ParallelSortRenderModule", "parallelsort: context created"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output lacks %q:\n%s", want, out)
		}
	}
}

func TestSetLoggerNilRestoresSilent(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })
	SetLogger(slog.Default())
	SetLogger(nil)

	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) should produce a disabled logger")
	}
	if hal.Logger().Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) left the HAL logging")
	}
}

func TestWithLogger(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })
	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	newFramework(t, WithLogger(custom))
	if Logger() != custom {
		t.Error("WithLogger did not install the logger")
	}
}
