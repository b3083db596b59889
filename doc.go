// Package cauldron is a small rendering framework built on the gogpu HAL.
//
// # Overview
//
// A [Framework] owns the frame loop. Render modules are created by name
// from the factories in package rendermodule, initialized with their JSON
// configuration block and executed in registration order on one command
// list per frame. Modules that track scene content are subscribed to the
// content manager and are told about every block loaded or unloaded.
//
// # Quick Start
//
//	dev, err := gpu.OpenBest()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Destroy()
//
//	cfg, err := cauldron.LoadConfigFile("cauldron.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fw := cauldron.New(dev, cauldron.WithResolution(cfg.Width, cfg.Height))
//	if err := fw.Init(cfg); err != nil {
//	    log.Fatal(err)
//	}
//	defer fw.Shutdown()
//
//	for range frames {
//	    if err := fw.Frame(ctx, dt); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Render Modules
//
// The built-in modules register themselves when their packages are
// imported; this package imports all of them:
//
//   - GBufferRenderModule fills the geometry buffer.
//   - RasterShadowRenderModule renders shadow maps into a shared atlas.
//   - TranslucencyRenderModule blends translucent surfaces back to front.
//   - ParallelSortRenderModule sorts a random key buffer every frame.
//
// # Logging
//
// Nothing is logged by default. See [SetLogger].
package cauldron
