package tensor

// Backend defines the interface that all compute backends must implement.
// Backends handle the actual computation for tensor operations.
//
// The convolution engine consumes these as pure functions over tensor
// handles: matmul and elementwise-add as GEMM building blocks, plus the
// shape and slicing primitives the grouped pipelines need.
//
// Implementations:
//   - CPU: Pure Go with parallel grid execution
//   - WebGPU: Cross-platform GPU compute via WGSL shaders
type Backend interface {
	// Add performs element-wise addition with NumPy-style broadcasting.
	Add(a, b *RawTensor) *RawTensor

	// MatMul performs 2D matrix multiplication: (M, K) @ (K, N) -> (M, N).
	MatMul(a, b *RawTensor) *RawTensor

	// Reshape returns a tensor with the same data but different shape.
	Reshape(t *RawTensor, newShape Shape) *RawTensor

	// Transpose permutes the tensor's dimensions.
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Narrow returns the slice of t along dim from start to start+length.
	Narrow(t *RawTensor, dim, start, length int) *RawTensor

	// SliceAssign writes src into dst along dim at the given start index,
	// returning the updated tensor.
	SliceAssign(dst *RawTensor, dim, start int, src *RawTensor) *RawTensor

	// Metadata
	Name() string
	Device() Device
}
