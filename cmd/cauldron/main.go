// Command cauldron renders a small demo scene with the configured render
// modules for a fixed number of frames.
//
// Usage:
//
//	cauldron [-config cauldron.json] [-frames 120] [-backend best] [-profile cpu] [-v]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/pkg/profile"

	_ "github.com/gogpu/wgpu/hal/allbackends"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/cauldron"
	"github.com/gogpu/cauldron/gpu"
	"github.com/gogpu/cauldron/shader"
)

// defaultConfig runs every built-in module.
const defaultConfig = `{
	"width": 1280, "height": 720,
	"renderModules": ["GBufferRenderModule", "RasterShadowRenderModule", "TranslucencyRenderModule", "ParallelSortRenderModule"],
	"modules": {
		"GBufferRenderModule": {"generateMotionVectors": true},
		"ParallelSortRenderModule": {"keys": 65536, "payload": true}
	}
}`

var backends = map[string]gputypes.Backend{
	"vulkan": gputypes.BackendVulkan,
	"metal":  gputypes.BackendMetal,
	"dx12":   gputypes.BackendDX12,
	"gl":     gputypes.BackendGL,
}

func main() {
	var (
		configPath = flag.String("config", "", "framework configuration file (default: every built-in module)")
		frames     = flag.Int("frames", 120, "number of frames to render")
		backend    = flag.String("backend", "best", "HAL backend: best, vulkan, metal, dx12, gl or noop")
		profMode   = flag.String("profile", "", "write a profile: cpu, mem or trace")
		profDir    = flag.String("profile-dir", ".", "profile output directory")
		noScene    = flag.Bool("no-scene", false, "skip the demo scene")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		cauldron.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	if *profMode != "" {
		mode, err := profileMode(*profMode)
		if err != nil {
			log.Fatal(err)
		}
		defer profile.Start(mode, profile.ProfilePath(*profDir), profile.NoShutdownHook).Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, *configPath, *backend, *frames, !*noScene); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func profileMode(name string) (func(*profile.Profile), error) {
	switch strings.ToLower(name) {
	case "cpu":
		return profile.CPUProfile, nil
	case "mem":
		return profile.MemProfileAllocs, nil
	case "trace":
		return profile.TraceProfile, nil
	}
	return nil, fmt.Errorf("unknown profile mode %q", name)
}

func loadConfig(path string) (*cauldron.Config, error) {
	if path == "" {
		return cauldron.LoadConfig(strings.NewReader(defaultConfig))
	}
	return cauldron.LoadConfigFile(path)
}

func openDevice(name string, target shader.Target) (*gpu.Device, error) {
	compiler := gpu.WithShaderCompiler(shader.NewCompiler(shader.WithTarget(target)))
	switch name {
	case "best":
		return gpu.OpenBest(compiler)
	case "noop":
		return gpu.Open(noop.API{}, compiler)
	}
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	return gpu.OpenHeadless(b, compiler)
}

func run(ctx context.Context, configPath, backend string, frames int, scene bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	target, err := cfg.Target()
	if err != nil {
		return err
	}
	dev, err := openDevice(backend, target)
	if err != nil {
		return err
	}
	defer dev.Destroy()

	fw := cauldron.New(dev, cauldron.WithResolution(cfg.Width, cfg.Height))
	defer fw.Shutdown()
	if err := fw.Init(cfg); err != nil {
		return err
	}
	if err := fw.LoadContent(ctx); err != nil {
		return err
	}
	if scene {
		if err := fw.Content().Load(ctx, "demo", demoScene(dev, fw.Services().Registry, cfg.Width, cfg.Height)); err != nil {
			return err
		}
	}

	start := time.Now()
	last := start
	for i := range frames {
		now := time.Now()
		if err := fw.Frame(ctx, now.Sub(last)); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		last = now
	}
	if err := dev.FlushAllCommandQueues(); err != nil {
		return err
	}
	elapsed := time.Since(start)
	fmt.Printf("%d frames in %v (%.2f ms/frame) on %s\n",
		frames, elapsed.Round(time.Millisecond),
		float64(elapsed.Microseconds())/1000/float64(max(frames, 1)),
		dev.Capabilities().AdapterName)
	return nil
}
