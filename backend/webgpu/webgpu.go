// Copyright 2026 The Kiln Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu exposes the WebGPU backend.
package webgpu

import (
	internalwebgpu "github.com/kilnml/kiln/internal/backend/webgpu"
	"github.com/kilnml/kiln/tensor"
)

// Backend is the WebGPU backend: convolution kernels and GEMM building
// blocks as WGSL compute shaders.
type Backend = internalwebgpu.Backend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a WebGPU backend, or returns an error when no device is
// available. Call Release when done.
//
// Example:
//
//	backend, err := webgpu.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Release()
//	engine := conv.NewEngine(backend, conv.WithTuner(conv.NewTuner()))
func New() (*Backend, error) {
	return internalwebgpu.New()
}

// IsAvailable reports whether a WebGPU device can be initialized on this
// system.
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
