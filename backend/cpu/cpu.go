// Copyright 2026 The Kiln Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu exposes the CPU backend.
package cpu

import (
	internalcpu "github.com/kilnml/kiln/internal/backend/cpu"
	"github.com/kilnml/kiln/tensor"
)

// Backend is the CPU backend: pure Go kernels over a parallel worker grid.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a new CPU backend.
//
// Example:
//
//	backend := cpu.New()
//	engine := conv.NewEngine(backend)
func New() *Backend {
	return internalcpu.New()
}
