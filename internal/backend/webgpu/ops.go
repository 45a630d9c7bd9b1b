package webgpu

import (
	"github.com/kilnml/kiln/internal/tensor"
)

// Add performs element-wise addition. Same-shape float32 operands run on the
// GPU; broadcast and float64 paths fall back to the host since the data is
// host-resident anyway.
func (b *Backend) Add(a, other *tensor.RawTensor) *tensor.RawTensor {
	if a.DType() == tensor.Float32 && a.Shape().Equal(other.Shape()) {
		result, err := b.runAddSameShape(a, other)
		if err != nil {
			panic("webgpu: Add: " + err.Error())
		}
		return result
	}
	return b.host.Add(a, other)
}

// MatMul performs 2D matrix multiplication on the GPU.
func (b *Backend) MatMul(a, other *tensor.RawTensor) *tensor.RawTensor {
	if a.DType() != tensor.Float32 {
		return b.host.MatMul(a, other)
	}
	result, err := b.runMatMul(a, other)
	if err != nil {
		panic("webgpu: MatMul: " + err.Error())
	}
	return result
}

// Reshape returns a tensor with the same data but different shape.
// Pure data movement, no dispatch.
func (b *Backend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	return b.host.Reshape(t, newShape)
}

// Transpose permutes the tensor's dimensions.
func (b *Backend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	return b.host.Transpose(t, axes...)
}

// Narrow returns the slice of t along dim from start to start+length.
func (b *Backend) Narrow(t *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	return b.host.Narrow(t, dim, start, length)
}

// SliceAssign writes src into dst along dim at the given start index.
func (b *Backend) SliceAssign(dst *tensor.RawTensor, dim, start int, src *tensor.RawTensor) *tensor.RawTensor {
	return b.host.SliceAssign(dst, dim, start, src)
}
