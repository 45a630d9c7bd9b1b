package conv

import (
	"fmt"

	"github.com/kilnml/kiln/internal/parallel"
	"github.com/kilnml/kiln/internal/tensor"
)

// conv2dIm2col computes the convolution as one matrix multiply per group:
// the input's sliding windows are unfolded into a column matrix, multiplied
// by the flattened weights, and the result folded back to NCHW. Column
// buffers cost kernel_area x output_pixels extra memory in exchange for
// routing the bulk of the work through the backend's matmul.
func (e *Engine) conv2dIm2col(input, weight, bias *tensor.RawTensor, opts Options) (*tensor.RawTensor, error) {
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

	inPerGroup := args.inChannels / args.groups
	outPerGroup := args.outChannels / args.groups
	colRows := inPerGroup * args.kernelH * args.kernelW
	colCols := args.batchSize * args.outH * args.outW

	outShape := tensor.Shape{args.batchSize, args.outChannels, args.outH, args.outW}
	out, err := tensor.NewRaw(outShape, input.DType(), input.Device())
	if err != nil {
		return nil, fmt.Errorf("conv2d im2col: %w", err)
	}

	// [Cout, Cin/g * Kh * Kw]: row-major weight is already flat per filter.
	wMat := e.backend.Reshape(weight, tensor.Shape{args.outChannels, colRows})

	for g := 0; g < args.groups; g++ {
		columns, err := tensor.NewRaw(tensor.Shape{colRows, colCols}, input.DType(), input.Device())
		if err != nil {
			return nil, fmt.Errorf("conv2d im2col: column buffer: %w", err)
		}

		switch input.DType() {
		case tensor.Float32:
			im2colFloat32(columns.AsFloat32(), input.AsFloat32(), args, g, e.grid)
		case tensor.Float64:
			im2colFloat64(columns.AsFloat64(), input.AsFloat64(), args, g, e.grid)
		default:
			return nil, fmt.Errorf("conv2d im2col: unsupported dtype %s", input.DType())
		}

		wGroup := wMat
		if args.groups > 1 {
			wGroup = e.backend.Narrow(wMat, 0, g*outPerGroup, outPerGroup)
		}

		// [Cout/g, colRows] @ [colRows, colCols] -> [Cout/g, N*outH*outW]
		product := e.backend.MatMul(wGroup, columns)
		columns.Release()

		switch input.DType() {
		case tensor.Float32:
			foldColumnsFloat32(out.AsFloat32(), product.AsFloat32(), args, g)
		case tensor.Float64:
			foldColumnsFloat64(out.AsFloat64(), product.AsFloat64(), args, g)
		}
		product.Release()
	}

	if bias != nil {
		out = e.backend.Add(out, e.backend.Reshape(bias, tensor.Shape{1, args.outChannels, 1, 1}))
	}
	return out, nil
}

// im2colFloat32 unfolds one group's sliding windows into the column matrix.
// Row (ci*Kh + ky)*Kw + kx, column n*outH*outW + y*outW + x; one grid worker
// per column. Out-of-range taps stay zero (implicit padding).
func im2colFloat32(columns, input []float32, a directArgs, group int, grid parallel.Config) {
	inPerGroup := a.inChannels / a.groups
	colCols := a.batchSize * a.outH * a.outW

	parallel.For(colCols, func(col int) {
		x := col % a.outW
		y := col / a.outW % a.outH
		n := col / (a.outW * a.outH)

		row := 0
		for ci := 0; ci < inPerGroup; ci++ {
			chanBase := (n*a.inChannels + group*inPerGroup + ci) * a.height * a.width
			for ky := 0; ky < a.kernelH; ky++ {
				iy := y*a.strideH - a.padH + ky*a.dilationH
				for kx := 0; kx < a.kernelW; kx++ {
					ix := x*a.strideW - a.padW + kx*a.dilationW
					if iy >= 0 && iy < a.height && ix >= 0 && ix < a.width {
						columns[row*colCols+col] = input[chanBase+iy*a.width+ix]
					}
					row++
				}
			}
		}
	}, grid)
}

//nolint:dupl // Intentional duplication for float32/float64 specializations
func im2colFloat64(columns, input []float64, a directArgs, group int, grid parallel.Config) {
	inPerGroup := a.inChannels / a.groups
	colCols := a.batchSize * a.outH * a.outW

	parallel.For(colCols, func(col int) {
		x := col % a.outW
		y := col / a.outW % a.outH
		n := col / (a.outW * a.outH)

		row := 0
		for ci := 0; ci < inPerGroup; ci++ {
			chanBase := (n*a.inChannels + group*inPerGroup + ci) * a.height * a.width
			for ky := 0; ky < a.kernelH; ky++ {
				iy := y*a.strideH - a.padH + ky*a.dilationH
				for kx := 0; kx < a.kernelW; kx++ {
					ix := x*a.strideW - a.padW + kx*a.dilationW
					if iy >= 0 && iy < a.height && ix >= 0 && ix < a.width {
						columns[row*colCols+col] = input[chanBase+iy*a.width+ix]
					}
					row++
				}
			}
		}
	}, grid)
}

// foldColumnsFloat32 rearranges one group's matmul product
// [Cout/g, N*outH*outW] into the NCHW output slab for that group.
func foldColumnsFloat32(out, product []float32, a directArgs, group int) {
	outPerGroup := a.outChannels / a.groups
	plane := a.outH * a.outW

	for oc := 0; oc < outPerGroup; oc++ {
		for n := 0; n < a.batchSize; n++ {
			src := product[oc*a.batchSize*plane+n*plane:]
			dst := out[(n*a.outChannels+group*outPerGroup+oc)*plane:]
			copy(dst[:plane], src[:plane])
		}
	}
}

func foldColumnsFloat64(out, product []float64, a directArgs, group int) {
	outPerGroup := a.outChannels / a.groups
	plane := a.outH * a.outW

	for oc := 0; oc < outPerGroup; oc++ {
		for n := 0; n < a.batchSize; n++ {
			src := product[oc*a.batchSize*plane+n*plane:]
			dst := out[(n*a.outChannels+group*outPerGroup+oc)*plane:]
			copy(dst[:plane], src[:plane])
		}
	}
}
