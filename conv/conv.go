// Copyright 2026 The Kiln Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package conv exposes the convolution execution engine: 2D convolution and
// transposed convolution over NCHW tensors, with direct and GEMM kernel
// strategies and an autotuning dispatcher that picks the fastest per device
// and shape class.
//
// Example:
//
//	engine := conv.NewEngine(cpu.New(), conv.WithTuner(conv.NewTuner()))
//	out, err := engine.Conv2d(input, weight, bias, conv.DefaultOptions(), engine.DefaultStrategy())
package conv

import (
	internalconv "github.com/kilnml/kiln/internal/kernel/conv"
	"github.com/kilnml/kiln/internal/tune"
)

// Engine dispatches convolutions to kernel strategies over a backend.
type Engine = internalconv.Engine

// Option configures an Engine.
type Option = internalconv.Option

// NewEngine creates a convolution engine over the given backend.
var NewEngine = internalconv.NewEngine

// WithTuner attaches an autotuning cache to the engine.
var WithTuner = internalconv.WithTuner

// WithParallel overrides the host grid configuration.
var WithParallel = internalconv.WithParallel

// Strategy selects how a convolution is executed.
type Strategy = internalconv.Strategy

// Strategy constants.
const (
	StrategyAutotune Strategy = internalconv.StrategyAutotune
	StrategyDirect   Strategy = internalconv.StrategyDirect
	StrategyGemm     Strategy = internalconv.StrategyGemm
)

// Options holds the geometry of a 2D convolution.
type Options = internalconv.Options

// TransposeOptions holds the geometry of a 2D transposed convolution.
type TransposeOptions = internalconv.TransposeOptions

// DefaultOptions returns unit stride/dilation, no padding, one group.
var DefaultOptions = internalconv.DefaultOptions

// DefaultTransposeOptions returns unit stride/dilation, no padding, one
// group.
var DefaultTransposeOptions = internalconv.DefaultTransposeOptions

// OutputSize computes one spatial output dimension of a convolution.
var OutputSize = internalconv.OutputSize

// TransposeOutputSize computes one spatial output dimension of a transposed
// convolution.
var TransposeOutputSize = internalconv.TransposeOutputSize

// Tuner is a concurrent cache of per-device, per-shape-class strategy
// decisions. Share one across engines to share decisions.
type Tuner = tune.Tuner

// TunerEntry is one serialized cache entry for persistence.
type TunerEntry = tune.Entry

// NewTuner creates an empty tuner.
var NewTuner = tune.NewTuner

// DirectConvLauncher is implemented by backends that run the direct kernels
// on device.
type DirectConvLauncher = internalconv.DirectConvLauncher

// Col2imLauncher is implemented by backends that run the col2im fold on
// device.
type Col2imLauncher = internalconv.Col2imLauncher

// Col2imParams describes one column-matrix fold for device execution.
type Col2imParams = internalconv.Col2imParams
