// Package content tracks loaded content blocks and tells interested render
// modules when blocks arrive or leave.
//
// A [Block] owns the entities, materials, meshes and textures of one load.
// Loads run on background goroutines. Listeners are notified in
// registration order on the loading goroutine, so a listener must guard its
// own state against the render thread.
package content
