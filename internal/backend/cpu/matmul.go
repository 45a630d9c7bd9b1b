package cpu

import (
	"fmt"

	"github.com/kilnml/kiln/internal/parallel"
	"github.com/kilnml/kiln/internal/tensor"
)

// MatMul performs matrix multiplication.
// For 2D tensors: (M, K) @ (K, N) -> (M, N).
// Output rows are computed by independent grid workers.
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape := a.Shape()
	bShape := b.Shape()

	// Validate dimensions
	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}

	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]

	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, kAlt, n))
	}

	result, err := tensor.NewRaw(tensor.Shape{m, n}, a.DType(), a.Device())
	if err != nil {
		panic(fmt.Sprintf("matmul: failed to create result tensor: %v", err))
	}

	// Dispatch to type-specific implementation
	switch a.DType() {
	case tensor.Float32:
		matmulFloat32(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), m, k, n, cpu.parallel)
	case tensor.Float64:
		matmulFloat64(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), m, k, n, cpu.parallel)
	default:
		panic(fmt.Sprintf("matmul: unsupported dtype %s", a.DType()))
	}

	return result
}

// matmulFloat32 computes C[i,j] = sum_k A[i,k] * B[k,j], one worker per row.
func matmulFloat32(c, a, b []float32, m, k, n int, cfg parallel.Config) {
	parallel.For(m, func(i int) {
		row := a[i*k : (i+1)*k]
		out := c[i*n : (i+1)*n]
		for j := range out {
			out[j] = 0
		}
		for kIdx := 0; kIdx < k; kIdx++ {
			av := row[kIdx]
			bRow := b[kIdx*n : (kIdx+1)*n]
			for j := 0; j < n; j++ {
				out[j] += av * bRow[j]
			}
		}
	}, cfg)
}

func matmulFloat64(c, a, b []float64, m, k, n int, cfg parallel.Config) {
	parallel.For(m, func(i int) {
		row := a[i*k : (i+1)*k]
		out := c[i*n : (i+1)*n]
		for j := range out {
			out[j] = 0
		}
		for kIdx := 0; kIdx < k; kIdx++ {
			av := row[kIdx]
			bRow := b[kIdx*n : (kIdx+1)*n]
			for j := 0; j < n; j++ {
				out[j] += av * bRow[j]
			}
		}
	}, cfg)
}
