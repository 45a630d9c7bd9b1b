package webgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/kilnml/kiln/internal/kernel/conv"
	"github.com/kilnml/kiln/internal/tensor"
)

// The backend satisfies the engine's device-launcher interfaces, so the
// direct kernels and the col2im fold run as compute shaders while the
// engine keeps owning validation, strategy choice and the GEMM pipelines.
var (
	_ conv.DirectConvLauncher = (*Backend)(nil)
	_ conv.Col2imLauncher     = (*Backend)(nil)
)

func putI32(buf []byte, index int, v int) {
	//nolint:gosec // G115: geometry values fit in int32
	binary.LittleEndian.PutUint32(buf[index*4:index*4+4], uint32(int32(v)))
}

// directConvParams packs the uniform Params struct shared by the two direct
// convolution shaders. Field order must match the WGSL declaration.
func directConvParams(inChannels, outChannels, height, width, outH, outW,
	kernelH, kernelW int, stride, padding, dilation [2]int, groups, size int, hasBias bool) []byte {
	buf := make([]byte, 17*4)
	putI32(buf, 0, inChannels)
	putI32(buf, 1, outChannels)
	putI32(buf, 2, height)
	putI32(buf, 3, width)
	putI32(buf, 4, outH)
	putI32(buf, 5, outW)
	putI32(buf, 6, kernelH)
	putI32(buf, 7, kernelW)
	putI32(buf, 8, stride[0])
	putI32(buf, 9, stride[1])
	putI32(buf, 10, padding[0])
	putI32(buf, 11, padding[1])
	putI32(buf, 12, dilation[0])
	putI32(buf, 13, dilation[1])
	putI32(buf, 14, groups)
	if hasBias {
		putI32(buf, 15, 1)
	}
	putI32(buf, 16, size)
	return buf
}

// biasBytes returns the bias data, or a one-element zero placeholder when
// there is no bias. The shader never reads it in that case, but the binding
// slot must still hold a buffer.
func biasBytes(bias *tensor.RawTensor) []byte {
	if bias != nil {
		return bias.Data()
	}
	return make([]byte, 4)
}

// runDirectConv is the shared launch path of the two direct shaders.
func (b *Backend) runDirectConv(name, code string, input, weight, bias *tensor.RawTensor, params []byte, outShape tensor.Shape) (*tensor.RawTensor, error) {
	if input.DType() != tensor.Float32 {
		return nil, fmt.Errorf("webgpu: only float32 is supported, got %s", input.DType())
	}

	out, err := tensor.NewRaw(outShape, input.DType(), tensor.WebGPU)
	if err != nil {
		return nil, err
	}
	//nolint:gosec // G115: ByteSize() is non-negative
	resultSize := uint64(out.ByteSize())

	bufferInput := b.createBuffer(input.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferInput.Release()
	bufferWeight := b.createBuffer(weight.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferWeight.Release()
	biasData := biasBytes(bias)
	bufferBias := b.createBuffer(biasData, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferBias.Release()
	bufferResult := b.createStorageBuffer(resultSize)
	defer bufferResult.Release()

	paramsSize := (uint64(len(params)) + 15) &^ 15
	bufferParams := b.createUniformBuffer(params)
	defer bufferParams.Release()

	numElements := out.NumElements()
	//nolint:gosec // G115: workgroup count is non-negative
	workgroups := uint32((numElements + workgroupSize - 1) / workgroupSize)
	//nolint:gosec // G115: buffer sizes are non-negative
	b.dispatch(name, code, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufferInput, 0, uint64(input.ByteSize())),
		wgpu.BufferBindingEntry(1, bufferWeight, 0, uint64(weight.ByteSize())),
		wgpu.BufferBindingEntry(2, bufferBias, 0, uint64(len(biasData))),
		wgpu.BufferBindingEntry(3, bufferResult, 0, resultSize),
		wgpu.BufferBindingEntry(4, bufferParams, 0, paramsSize),
	}, workgroups, 1, 1)

	resultData, err := b.readBuffer(bufferResult, resultSize)
	if err != nil {
		return nil, err
	}
	copy(out.Data(), resultData)
	return out, nil
}

// Conv2dDirect runs the direct convolution shader, one output element per
// invocation.
func (b *Backend) Conv2dDirect(input, weight, bias *tensor.RawTensor, opts conv.Options) (*tensor.RawTensor, error) {
	inShape := input.Shape()
	wShape := weight.Shape()

	outH := conv.OutputSize(inShape[2], wShape[2], opts.Stride[0], opts.Padding[0], opts.Dilation[0])
	outW := conv.OutputSize(inShape[3], wShape[3], opts.Stride[1], opts.Padding[1], opts.Dilation[1])
	outShape := tensor.Shape{inShape[0], wShape[0], outH, outW}

	params := directConvParams(inShape[1], wShape[0], inShape[2], inShape[3], outH, outW,
		wShape[2], wShape[3], opts.Stride, opts.Padding, opts.Dilation,
		opts.Groups, outShape.NumElements(), bias != nil)

	return b.runDirectConv("conv2d_direct", conv2dDirectShader, input, weight, bias, params, outShape)
}

// ConvTranspose2dDirect runs the transposed convolution shader in gather
// form.
func (b *Backend) ConvTranspose2dDirect(input, weight, bias *tensor.RawTensor, opts conv.TransposeOptions) (*tensor.RawTensor, error) {
	inShape := input.Shape()
	wShape := weight.Shape()

	outChannels := wShape[1] * opts.Groups
	outH := conv.TransposeOutputSize(inShape[2], wShape[2], opts.Stride[0], opts.Padding[0], opts.PaddingOut[0], opts.Dilation[0])
	outW := conv.TransposeOutputSize(inShape[3], wShape[3], opts.Stride[1], opts.Padding[1], opts.PaddingOut[1], opts.Dilation[1])
	outShape := tensor.Shape{inShape[0], outChannels, outH, outW}

	params := directConvParams(inShape[1], outChannels, inShape[2], inShape[3], outH, outW,
		wShape[2], wShape[3], opts.Stride, opts.Padding, opts.Dilation,
		opts.Groups, outShape.NumElements(), bias != nil)

	return b.runDirectConv("conv_transpose2d_direct", convTranspose2dDirectShader, input, weight, bias, params, outShape)
}

// Col2im folds the column matrix into the output image on the GPU.
func (b *Backend) Col2im(columns, out *tensor.RawTensor, p conv.Col2imParams) error {
	if columns.DType() != tensor.Float32 {
		return fmt.Errorf("webgpu: only float32 is supported, got %s", columns.DType())
	}

	//nolint:gosec // G115: ByteSize() is non-negative
	resultSize := uint64(out.ByteSize())

	bufferColumns := b.createBuffer(columns.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferColumns.Release()
	bufferResult := b.createStorageBuffer(resultSize)
	defer bufferResult.Release()

	params := make([]byte, 15*4)
	putI32(params, 0, p.BatchSize)
	putI32(params, 1, p.Channels)
	putI32(params, 2, p.ImageH)
	putI32(params, 3, p.ImageW)
	putI32(params, 4, p.ColH)
	putI32(params, 5, p.ColW)
	putI32(params, 6, p.KernelH)
	putI32(params, 7, p.KernelW)
	putI32(params, 8, p.StrideH)
	putI32(params, 9, p.StrideW)
	putI32(params, 10, p.PadH)
	putI32(params, 11, p.PadW)
	putI32(params, 12, p.DilationH)
	putI32(params, 13, p.DilationW)
	putI32(params, 14, out.NumElements())
	paramsSize := (uint64(len(params)) + 15) &^ 15
	bufferParams := b.createUniformBuffer(params)
	defer bufferParams.Release()

	numElements := out.NumElements()
	//nolint:gosec // G115: workgroup count is non-negative
	workgroups := uint32((numElements + workgroupSize - 1) / workgroupSize)
	//nolint:gosec // G115: buffer sizes are non-negative
	b.dispatch("col2im", col2imShader, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufferColumns, 0, uint64(columns.ByteSize())),
		wgpu.BufferBindingEntry(1, bufferResult, 0, resultSize),
		wgpu.BufferBindingEntry(2, bufferParams, 0, paramsSize),
	}, workgroups, 1, 1)

	resultData, err := b.readBuffer(bufferResult, resultSize)
	if err != nil {
		return err
	}
	copy(out.Data(), resultData)
	return nil
}
