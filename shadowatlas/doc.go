// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package shadowatlas packs shadow maps of power-of-two resolutions into
// square depth atlases.
//
// Each [Atlas] is a quad-tree over a 4096x4096 D32F texture. A request for a
// [Resolution] takes the smallest empty cell that fits, subdividing larger
// empty cells on demand. When no atlas has room the [Pool] creates another
// one, up to its atlas limit.
//
// Released cells become empty again but are never merged back into their
// parent. A pool that has been fragmented into quarter cells cannot serve a
// full-size request from the same atlas even when every quarter is free.
package shadowatlas
