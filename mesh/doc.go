// Package mesh holds the load-time geometry and material model consumed by
// render modules: surfaces with their vertex attributes and index data, and
// the PBR materials that reference bound textures.
//
// Surfaces are immutable once created. Each carries a process-wide unique
// ID that per-entity data (such as skinned vertex buffers) is indexed by.
package mesh
