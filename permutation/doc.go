// Package permutation turns a surface's vertex streams and material flags
// into a shader permutation and groups surfaces that share one.
//
// [Build] derives a [Key] from a surface and a module [Profile]: the
// define list handed to the shader compiler, the vertex attributes the
// pipeline consumes, and a 64-bit FNV-1a hash of both. A render module keeps
// one [Cache] and compiles a pipeline only the first time a hash is seen.
//
//	key := permutation.Build(surface, profile)
//	group, err := cache.AddSurface(entity, surface, key, data, compile)
package permutation
