// Copyright 2026 The Kiln Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor types of the Kiln convolution
// engine: raw NCHW tensors, shapes, data types and the backend interface
// the kernels execute against.
//
// Example:
//
//	backend := cpu.New()
//	x, err := tensor.Uniform(tensor.Shape{1, 3, 32, 32}, tensor.Float32, tensor.CPU, -1, 1)
package tensor

import (
	"github.com/kilnml/kiln/internal/tensor"
)

// DType is a constraint for tensor element types.
type DType = tensor.DType

// DataType identifies the element type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
)

// Device identifies where tensor data logically resides.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	WebGPU Device = tensor.WebGPU
)

// Shape holds the dimensions of a tensor.
// Example: Shape{1, 3, 32, 32} is a single 3-channel 32x32 image.
type Shape = tensor.Shape

// RawTensor is a dtype-erased tensor over a reference-counted buffer.
type RawTensor = tensor.RawTensor

// NewRaw creates a zero-initialized tensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.Ones(shape, dtype, device)
}

// Uniform creates a tensor with elements drawn uniformly from [low, high).
func Uniform(shape Shape, dtype DataType, device Device, low, high float64) (*RawTensor, error) {
	return tensor.Uniform(shape, dtype, device, low, high)
}

// BroadcastShapes computes the NumPy-style broadcast of two shapes.
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	return tensor.BroadcastShapes(a, b)
}
