package cpu

import (
	"fmt"

	"github.com/kilnml/kiln/internal/tensor"
)

// Narrow returns the slice of t along dim covering [start, start+length).
// The result is a fresh contiguous tensor; grouped convolution pipelines use
// this to pull one group's weight or input slab out of a stacked tensor.
func (cpu *CPUBackend) Narrow(t *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	shape := t.Shape()
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("narrow: invalid dim %d for %dD tensor", dim, len(shape)))
	}
	if start < 0 || length <= 0 || start+length > shape[dim] {
		panic(fmt.Sprintf("narrow: range [%d, %d) out of bounds for dim of size %d",
			start, start+length, shape[dim]))
	}

	outShape := shape.Clone()
	outShape[dim] = length

	result, err := tensor.NewRaw(outShape, t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("narrow: %v", err))
	}

	// Row-major layout: the narrowed region is a strided sequence of
	// contiguous blocks, one per index of the outer dimensions.
	outer := 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	block := t.DType().Size()
	for i := dim + 1; i < len(shape); i++ {
		block *= shape[i]
	}

	src := t.Data()
	dst := result.Data()
	srcStride := shape[dim] * block
	dstStride := length * block
	for o := 0; o < outer; o++ {
		from := o*srcStride + start*block
		copy(dst[o*dstStride:o*dstStride+dstStride], src[from:from+dstStride])
	}

	return result
}

// SliceAssign writes src into dst along dim at the given start index and
// returns dst. Group loops write each group's matmul result into its slice of
// a stacked column buffer this way; iterations target disjoint slices.
func (cpu *CPUBackend) SliceAssign(dst *tensor.RawTensor, dim, start int, src *tensor.RawTensor) *tensor.RawTensor {
	dstShape := dst.Shape()
	srcShape := src.Shape()
	if len(dstShape) != len(srcShape) {
		panic(fmt.Sprintf("slice assign: rank mismatch %dD vs %dD", len(dstShape), len(srcShape)))
	}
	if dim < 0 || dim >= len(dstShape) {
		panic(fmt.Sprintf("slice assign: invalid dim %d for %dD tensor", dim, len(dstShape)))
	}
	for i := range dstShape {
		if i != dim && dstShape[i] != srcShape[i] {
			panic(fmt.Sprintf("slice assign: shape mismatch %v vs %v at dim %d", dstShape, srcShape, i))
		}
	}
	length := srcShape[dim]
	if start < 0 || start+length > dstShape[dim] {
		panic(fmt.Sprintf("slice assign: range [%d, %d) out of bounds for dim of size %d",
			start, start+length, dstShape[dim]))
	}

	outer := 1
	for i := 0; i < dim; i++ {
		outer *= dstShape[i]
	}
	block := dst.DType().Size()
	for i := dim + 1; i < len(dstShape); i++ {
		block *= dstShape[i]
	}

	srcData := src.Data()
	dstData := dst.Data()
	dstStride := dstShape[dim] * block
	srcStride := length * block
	for o := 0; o < outer; o++ {
		to := o*dstStride + start*block
		copy(dstData[to:to+srcStride], srcData[o*srcStride:o*srcStride+srcStride])
	}

	return dst
}
