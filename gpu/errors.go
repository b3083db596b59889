// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import "errors"

var (
	// ErrDeviceLost is returned once the device has been destroyed.
	ErrDeviceLost = errors.New("gpu: device lost")

	// ErrStateMismatch is returned when a barrier's Before state does not
	// match the state the resource is tracked in.
	ErrStateMismatch = errors.New("gpu: resource state mismatch")

	// ErrNoActivePass is returned for draw or dispatch calls outside a pass.
	ErrNoActivePass = errors.New("gpu: no active pass")

	// ErrPipelineKind is returned when a graphics pipeline is used for a
	// dispatch or a compute pipeline inside a raster pass.
	ErrPipelineKind = errors.New("gpu: wrong pipeline kind")

	// ErrInvalidDescriptor is returned for malformed resource descriptions.
	ErrInvalidDescriptor = errors.New("gpu: invalid descriptor")

	// ErrUnsupportedProvider is returned by NewDevice when the provider does
	// not expose HAL device and queue handles.
	ErrUnsupportedProvider = errors.New("gpu: device provider does not expose a HAL device")

	// ErrNoAdapter is returned when a backend exposes no adapters.
	ErrNoAdapter = errors.New("gpu: no adapter available")

	// ErrInsideRasterPass is returned for barriers and copies recorded while
	// a raster pass is open.
	ErrInsideRasterPass = errors.New("gpu: not allowed inside a raster pass")

	// ErrListClosed is returned when recording into a submitted command list.
	ErrListClosed = errors.New("gpu: command list already closed")
)
