package conv

import (
	"fmt"

	"github.com/kilnml/kiln/internal/parallel"
	"github.com/kilnml/kiln/internal/tensor"
)

// directArgs carries the scalar geometry of a direct convolution launch.
// All coordinate arithmetic is signed; indices are only formed after bounds
// checks, so no intermediate value can underflow.
type directArgs struct {
	batchSize   int
	inChannels  int
	outChannels int
	height      int
	width       int
	outH        int
	outW        int
	kernelH     int
	kernelW     int
	strideH     int
	strideW     int
	padH        int
	padW        int
	dilationH   int
	dilationW   int
	groups      int
}

// conv2dDirect computes the convolution by per-output-element accumulation
// over the kernel window. Memory-conservative: no buffers beyond
// input/weight/output. One grid worker owns each output element.
func conv2dDirect(input, weight, bias *tensor.RawTensor, opts Options, grid parallel.Config) (*tensor.RawTensor, error) {
	inShape := input.Shape()
	wShape := weight.Shape()

	args := directArgs{
		batchSize:   inShape[0],
		inChannels:  inShape[1],
		outChannels: wShape[0],
		height:      inShape[2],
		width:       inShape[3],
		outH:        conv2dOutputSize(inShape[2], wShape[2], opts.Stride[0], opts.Padding[0], opts.Dilation[0]),
		outW:        conv2dOutputSize(inShape[3], wShape[3], opts.Stride[1], opts.Padding[1], opts.Dilation[1]),
		kernelH:     wShape[2],
		kernelW:     wShape[3],
		strideH:     opts.Stride[0],
		strideW:     opts.Stride[1],
		padH:        opts.Padding[0],
		padW:        opts.Padding[1],
		dilationH:   opts.Dilation[0],
		dilationW:   opts.Dilation[1],
		groups:      opts.Groups,
	}

	outShape := tensor.Shape{args.batchSize, args.outChannels, args.outH, args.outW}
	out, err := tensor.NewRaw(outShape, input.DType(), input.Device())
	if err != nil {
		return nil, fmt.Errorf("conv2d direct: %w", err)
	}

	numElems := out.NumElements()
	switch input.DType() {
	case tensor.Float32:
		in, w, o := input.AsFloat32(), weight.AsFloat32(), out.AsFloat32()
		var b []float32
		if bias != nil {
			b = bias.AsFloat32()
		}
		parallel.For(numElems, func(idx int) {
			if idx >= len(o) {
				return
			}
			o[idx] = conv2dDirectAtFloat32(in, w, b, args, idx)
		}, grid)
	case tensor.Float64:
		in, w, o := input.AsFloat64(), weight.AsFloat64(), out.AsFloat64()
		var b []float64
		if bias != nil {
			b = bias.AsFloat64()
		}
		parallel.For(numElems, func(idx int) {
			if idx >= len(o) {
				return
			}
			o[idx] = conv2dDirectAtFloat64(in, w, b, args, idx)
		}, grid)
	default:
		return nil, fmt.Errorf("conv2d direct: unsupported dtype %s", input.DType())
	}

	return out, nil
}

// conv2dDirectAtFloat32 computes the output value at flat index idx.
// Pure function of (index, read-only buffers, geometry): the device-parallel
// port mirrors it statement for statement.
func conv2dDirectAtFloat32(input, weight, bias []float32, a directArgs, idx int) float32 {
	x := idx % a.outW
	y := idx / a.outW % a.outH
	co := idx / (a.outW * a.outH) % a.outChannels
	n := idx / (a.outW * a.outH * a.outChannels)

	inPerGroup := a.inChannels / a.groups
	outPerGroup := a.outChannels / a.groups
	g := co / outPerGroup

	var val float32
	for ci := 0; ci < inPerGroup; ci++ {
		for ky := 0; ky < a.kernelH; ky++ {
			iy := y*a.strideH - a.padH + ky*a.dilationH
			if iy < 0 || iy >= a.height {
				continue
			}
			for kx := 0; kx < a.kernelW; kx++ {
				ix := x*a.strideW - a.padW + kx*a.dilationW
				if ix < 0 || ix >= a.width {
					continue
				}
				inIdx := ((n*a.inChannels+g*inPerGroup+ci)*a.height+iy)*a.width + ix
				wIdx := ((co*inPerGroup+ci)*a.kernelH+ky)*a.kernelW + kx
				val += input[inIdx] * weight[wIdx]
			}
		}
	}
	if bias != nil {
		val += bias[co]
	}
	return val
}

//nolint:dupl // Intentional duplication for float32/float64 specializations
func conv2dDirectAtFloat64(input, weight, bias []float64, a directArgs, idx int) float64 {
	x := idx % a.outW
	y := idx / a.outW % a.outH
	co := idx / (a.outW * a.outH) % a.outChannels
	n := idx / (a.outW * a.outH * a.outChannels)

	inPerGroup := a.inChannels / a.groups
	outPerGroup := a.outChannels / a.groups
	g := co / outPerGroup

	var val float64
	for ci := 0; ci < inPerGroup; ci++ {
		for ky := 0; ky < a.kernelH; ky++ {
			iy := y*a.strideH - a.padH + ky*a.dilationH
			if iy < 0 || iy >= a.height {
				continue
			}
			for kx := 0; kx < a.kernelW; kx++ {
				ix := x*a.strideW - a.padW + kx*a.dilationW
				if ix < 0 || ix >= a.width {
					continue
				}
				inIdx := ((n*a.inChannels+g*inPerGroup+ci)*a.height+iy)*a.width + ix
				wIdx := ((co*inPerGroup+ci)*a.kernelH+ky)*a.kernelW + kx
				val += input[inIdx] * weight[wIdx]
			}
		}
	}
	if bias != nil {
		val += bias[co]
	}
	return val
}

// convTranspose2dDirect computes the transposed convolution in gather form:
// each output element sums the input positions that map onto it, so no
// atomics or column buffers are needed.
func convTranspose2dDirect(input, weight, bias *tensor.RawTensor, opts TransposeOptions, grid parallel.Config) (*tensor.RawTensor, error) {
	inShape := input.Shape()
	wShape := weight.Shape()

	args := directArgs{
		batchSize:   inShape[0],
		inChannels:  inShape[1],
		outChannels: wShape[1] * opts.Groups,
		height:      inShape[2],
		width:       inShape[3],
		outH:        convTransposeOutputSize(inShape[2], wShape[2], opts.Stride[0], opts.Padding[0], opts.PaddingOut[0], opts.Dilation[0]),
		outW:        convTransposeOutputSize(inShape[3], wShape[3], opts.Stride[1], opts.Padding[1], opts.PaddingOut[1], opts.Dilation[1]),
		kernelH:     wShape[2],
		kernelW:     wShape[3],
		strideH:     opts.Stride[0],
		strideW:     opts.Stride[1],
		padH:        opts.Padding[0],
		padW:        opts.Padding[1],
		dilationH:   opts.Dilation[0],
		dilationW:   opts.Dilation[1],
		groups:      opts.Groups,
	}

	outShape := tensor.Shape{args.batchSize, args.outChannels, args.outH, args.outW}
	out, err := tensor.NewRaw(outShape, input.DType(), input.Device())
	if err != nil {
		return nil, fmt.Errorf("conv_transpose2d direct: %w", err)
	}

	numElems := out.NumElements()
	switch input.DType() {
	case tensor.Float32:
		in, w, o := input.AsFloat32(), weight.AsFloat32(), out.AsFloat32()
		var b []float32
		if bias != nil {
			b = bias.AsFloat32()
		}
		parallel.For(numElems, func(idx int) {
			if idx >= len(o) {
				return
			}
			o[idx] = convTranspose2dDirectAtFloat32(in, w, b, args, idx)
		}, grid)
	case tensor.Float64:
		in, w, o := input.AsFloat64(), weight.AsFloat64(), out.AsFloat64()
		var b []float64
		if bias != nil {
			b = bias.AsFloat64()
		}
		parallel.For(numElems, func(idx int) {
			if idx >= len(o) {
				return
			}
			o[idx] = convTranspose2dDirectAtFloat64(in, w, b, args, idx)
		}, grid)
	default:
		return nil, fmt.Errorf("conv_transpose2d direct: unsupported dtype %s", input.DType())
	}

	return out, nil
}

// convTranspose2dDirectAtFloat32 computes the output value at flat index idx.
// A kernel tap contributes only when the padded coordinate lands exactly on
// a stride lattice point and the back-projected input position is in range.
func convTranspose2dDirectAtFloat32(input, weight, bias []float32, a directArgs, idx int) float32 {
	x := idx % a.outW
	y := idx / a.outW % a.outH
	co := idx / (a.outW * a.outH) % a.outChannels
	n := idx / (a.outW * a.outH * a.outChannels)

	inPerGroup := a.inChannels / a.groups
	outPerGroup := a.outChannels / a.groups
	g := co / outPerGroup
	coLocal := co - g*outPerGroup

	var val float32
	for ky := 0; ky < a.kernelH; ky++ {
		yEff := y + a.padH - ky*a.dilationH
		if yEff < 0 || yEff%a.strideH != 0 {
			continue
		}
		iy := yEff / a.strideH
		if iy >= a.height {
			continue
		}
		for kx := 0; kx < a.kernelW; kx++ {
			xEff := x + a.padW - kx*a.dilationW
			if xEff < 0 || xEff%a.strideW != 0 {
				continue
			}
			ix := xEff / a.strideW
			if ix >= a.width {
				continue
			}
			for ci := 0; ci < inPerGroup; ci++ {
				inIdx := ((n*a.inChannels+g*inPerGroup+ci)*a.height+iy)*a.width + ix
				wIdx := (((g*inPerGroup+ci)*outPerGroup+coLocal)*a.kernelH+ky)*a.kernelW + kx
				val += input[inIdx] * weight[wIdx]
			}
		}
	}
	if bias != nil {
		val += bias[co]
	}
	return val
}

//nolint:dupl // Intentional duplication for float32/float64 specializations
func convTranspose2dDirectAtFloat64(input, weight, bias []float64, a directArgs, idx int) float64 {
	x := idx % a.outW
	y := idx / a.outW % a.outH
	co := idx / (a.outW * a.outH) % a.outChannels
	n := idx / (a.outW * a.outH * a.outChannels)

	inPerGroup := a.inChannels / a.groups
	outPerGroup := a.outChannels / a.groups
	g := co / outPerGroup
	coLocal := co - g*outPerGroup

	var val float64
	for ky := 0; ky < a.kernelH; ky++ {
		yEff := y + a.padH - ky*a.dilationH
		if yEff < 0 || yEff%a.strideH != 0 {
			continue
		}
		iy := yEff / a.strideH
		if iy >= a.height {
			continue
		}
		for kx := 0; kx < a.kernelW; kx++ {
			xEff := x + a.padW - kx*a.dilationW
			if xEff < 0 || xEff%a.strideW != 0 {
				continue
			}
			ix := xEff / a.strideW
			if ix >= a.width {
				continue
			}
			for ci := 0; ci < inPerGroup; ci++ {
				inIdx := ((n*a.inChannels+g*inPerGroup+ci)*a.height+iy)*a.width + ix
				wIdx := (((g*inPerGroup+ci)*outPerGroup+coLocal)*a.kernelH+ky)*a.kernelW + kx
				val += input[inIdx] * weight[wIdx]
			}
		}
	}
	if bias != nil {
		val += bias[co]
	}
	return val
}
