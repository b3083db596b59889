// Package parallelsort is a stable least-significant-digit radix sort of
// 32-bit keys, with optional 32-bit payloads, built from compute kernels.
//
// Every pass sorts on 4 bits of the key, so a sort takes 8 passes. Each pass
// runs five kernels over the keys, split into blocks of 512:
//
//  1. count      -- per-threadgroup histogram of the pass digit
//  2. reduce     -- per-bin sums of the threadgroup histograms
//  3. scan       -- exclusive prefix sum of the reduced table
//  4. scan_add   -- exclusive prefix sum of the histograms, offset by the scan
//  5. scatter    -- stable scatter of keys and payloads to their offsets
//
// Passes ping-pong between the caller's buffers and internal scratch buffers.
// Because the pass count is even the sorted keys end in the caller's buffer.
//
// The algorithm talks to its backend through an [Interface] function table.
// [NewHALInterface] records the kernels as WGSL compute pipelines into a
// gpu.CommandList. [NewHostInterface] runs the same kernels on a worker pool
// in host memory, which is used for verification and as a CPU fallback.
package parallelsort
