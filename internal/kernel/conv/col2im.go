package conv

import (
	"fmt"

	"github.com/kilnml/kiln/internal/parallel"
	"github.com/kilnml/kiln/internal/tensor"
)

// col2imArgs carries the geometry of a column-matrix fold. colH/colW are the
// spatial dims of the column grid (the transposed convolution's input), imH/imW
// those of the image being built. Padding is signed: the scatter shifts each
// image coordinate by it before searching for contributing columns.
type col2imArgs struct {
	batchSize int
	channels  int
	imH, imW  int
	colH      int
	colW      int
	kernelH   int
	kernelW   int
	strideH   int
	strideW   int
	padH      int
	padW      int
	dilationH int
	dilationW int
}

func (a col2imArgs) params() Col2imParams {
	return Col2imParams{
		BatchSize: a.batchSize, Channels: a.channels,
		ImageH: a.imH, ImageW: a.imW,
		ColH: a.colH, ColW: a.colW,
		KernelH: a.kernelH, KernelW: a.kernelW,
		StrideH: a.strideH, StrideW: a.strideW,
		PadH: a.padH, PadW: a.padW,
		DilationH: a.dilationH, DilationW: a.dilationW,
	}
}

// convTranspose2dCol2im computes the transposed convolution as a matrix
// multiply followed by a col2im fold. Per group the flattened weight
// [Cin/g, Cout/g*Kh*Kw] is transposed and multiplied against the channel-major
// input [Cin/g, N*H*W]; the stacked products form a column matrix whose
// entries are scattered back into overlapping image windows, accumulating
// where windows overlap.
func (e *Engine) convTranspose2dCol2im(input, weight, bias *tensor.RawTensor, opts TransposeOptions) (*tensor.RawTensor, error) {
	inShape := input.Shape()
	wShape := weight.Shape()

	batchSize, inChannels := inShape[0], inShape[1]
	inH, inW := inShape[2], inShape[3]
	kernelH, kernelW := wShape[2], wShape[3]
	groups := opts.Groups
	inPerGroup := inChannels / groups
	outPerGroup := wShape[1]
	imChannels := outPerGroup * groups

	imH := convTransposeOutputSize(inH, kernelH, opts.Stride[0], opts.Padding[0], opts.PaddingOut[0], opts.Dilation[0])
	imW := convTransposeOutputSize(inW, kernelW, opts.Stride[1], opts.Padding[1], opts.PaddingOut[1], opts.Dilation[1])

	colRows := outPerGroup * kernelH * kernelW
	colCols := batchSize * inH * inW

	// [Cin, N, H, W]: makes each group's input a contiguous [Cin/g, N*H*W] matrix.
	inT := e.backend.Transpose(input, 1, 0, 2, 3)

	var columns *tensor.RawTensor
	if groups == 1 {
		wMat := e.backend.Reshape(weight, tensor.Shape{inChannels, colRows})
		columns = e.backend.MatMul(
			e.backend.Transpose(wMat, 1, 0),
			e.backend.Reshape(inT, tensor.Shape{inChannels, colCols}),
		)
	} else {
		var err error
		columns, err = tensor.NewRaw(tensor.Shape{groups * colRows, colCols}, input.DType(), input.Device())
		if err != nil {
			return nil, fmt.Errorf("conv_transpose2d col2im: column buffer: %w", err)
		}
		wMat := e.backend.Reshape(weight, tensor.Shape{inChannels, colRows})
		inMat := e.backend.Reshape(inT, tensor.Shape{inChannels, colCols})
		for g := 0; g < groups; g++ {
			wGroup := e.backend.Narrow(wMat, 0, g*inPerGroup, inPerGroup)
			inGroup := e.backend.Narrow(inMat, 0, g*inPerGroup, inPerGroup)
			product := e.backend.MatMul(e.backend.Transpose(wGroup, 1, 0), inGroup)
			e.backend.SliceAssign(columns, 0, g*colRows, product)
			product.Release()
		}
	}

	out, err := tensor.NewRaw(tensor.Shape{batchSize, imChannels, imH, imW}, input.DType(), input.Device())
	if err != nil {
		return nil, fmt.Errorf("conv_transpose2d col2im: %w", err)
	}

	args := col2imArgs{
		batchSize: batchSize,
		channels:  imChannels,
		imH:       imH,
		imW:       imW,
		colH:      inH,
		colW:      inW,
		kernelH:   kernelH,
		kernelW:   kernelW,
		strideH:   opts.Stride[0],
		strideW:   opts.Stride[1],
		padH:      opts.Padding[0],
		padW:      opts.Padding[1],
		dilationH: opts.Dilation[0],
		dilationW: opts.Dilation[1],
	}

	launched := false
	if l, ok := e.backend.(Col2imLauncher); ok {
		// Launcher failures (dtype, device limits) fall through to the host
		// fold, which computes the same thing.
		launched = l.Col2im(columns, out, args.params()) == nil
	}
	if !launched {
		switch input.DType() {
		case tensor.Float32:
			col2imFloat32(out.AsFloat32(), columns.AsFloat32(), args, e.grid)
		case tensor.Float64:
			col2imFloat64(out.AsFloat64(), columns.AsFloat64(), args, e.grid)
		default:
			columns.Release()
			return nil, fmt.Errorf("conv_transpose2d col2im: unsupported dtype %s", input.DType())
		}
	}
	columns.Release()

	if bias != nil {
		biased, err := e.addBiasCol2im(out, bias, args)
		if err != nil {
			return nil, err
		}
		out = biased
	}
	return out, nil
}

// col2imFloat32 folds the column matrix back into image form. One worker owns
// one image element and sums every column entry whose sliding window covers
// it, so no two workers ever write the same slot. A column at grid position
// (colY, colX) with kernel tap (ky, kx) covers image row
// colY*stride - pad + ky*dilation; inverting that for a fixed image row gives
// a floor-division range of candidate colY values, filtered by the dilation
// lattice test.
func col2imFloat32(out, columns []float32, a col2imArgs, grid parallel.Config) {
	kernelExtentH := (a.kernelH-1)*a.dilationH + 1
	kernelExtentW := (a.kernelW-1)*a.dilationW + 1
	colStride := a.batchSize * a.colH * a.colW

	parallel.For(len(out), func(idx int) {
		if idx >= len(out) {
			return
		}
		x := idx % a.imW
		y := idx / a.imW % a.imH
		ch := idx / (a.imW * a.imH) % a.channels
		n := idx / (a.imW * a.imH * a.channels)

		yShift := y + a.padH
		xShift := x + a.padW

		colYStart := 0
		if yShift >= kernelExtentH {
			colYStart = (yShift-kernelExtentH)/a.strideH + 1
		}
		colYEnd := min(yShift/a.strideH+1, a.colH)
		colXStart := 0
		if xShift >= kernelExtentW {
			colXStart = (xShift-kernelExtentW)/a.strideW + 1
		}
		colXEnd := min(xShift/a.strideW+1, a.colW)

		var sum float32
		for colY := colYStart; colY < colYEnd; colY++ {
			kyOffset := yShift - colY*a.strideH
			if kyOffset%a.dilationH != 0 {
				continue
			}
			ky := kyOffset / a.dilationH
			for colX := colXStart; colX < colXEnd; colX++ {
				kxOffset := xShift - colX*a.strideW
				if kxOffset%a.dilationW != 0 {
					continue
				}
				kx := kxOffset / a.dilationW
				row := (ch*a.kernelH+ky)*a.kernelW + kx
				sum += columns[row*colStride+n*a.colH*a.colW+colY*a.colW+colX]
			}
		}
		out[idx] = sum
	}, grid)
}

//nolint:dupl // Intentional duplication for float32/float64 specializations
func col2imFloat64(out, columns []float64, a col2imArgs, grid parallel.Config) {
	kernelExtentH := (a.kernelH-1)*a.dilationH + 1
	kernelExtentW := (a.kernelW-1)*a.dilationW + 1
	colStride := a.batchSize * a.colH * a.colW

	parallel.For(len(out), func(idx int) {
		if idx >= len(out) {
			return
		}
		x := idx % a.imW
		y := idx / a.imW % a.imH
		ch := idx / (a.imW * a.imH) % a.channels
		n := idx / (a.imW * a.imH * a.channels)

		yShift := y + a.padH
		xShift := x + a.padW

		colYStart := 0
		if yShift >= kernelExtentH {
			colYStart = (yShift-kernelExtentH)/a.strideH + 1
		}
		colYEnd := min(yShift/a.strideH+1, a.colH)
		colXStart := 0
		if xShift >= kernelExtentW {
			colXStart = (xShift-kernelExtentW)/a.strideW + 1
		}
		colXEnd := min(xShift/a.strideW+1, a.colW)

		var sum float64
		for colY := colYStart; colY < colYEnd; colY++ {
			kyOffset := yShift - colY*a.strideH
			if kyOffset%a.dilationH != 0 {
				continue
			}
			ky := kyOffset / a.dilationH
			for colX := colXStart; colX < colXEnd; colX++ {
				kxOffset := xShift - colX*a.strideW
				if kxOffset%a.dilationW != 0 {
					continue
				}
				kx := kxOffset / a.dilationW
				row := (ch*a.kernelH+ky)*a.kernelW + kx
				sum += columns[row*colStride+n*a.colH*a.colW+colY*a.colW+colX]
			}
		}
		out[idx] = sum
	}, grid)
}

// addBiasCol2im broadcasts the bias across batch and spatial dims via a
// rank-one matmul against a ones vector, then folds the result into NCHW.
func (e *Engine) addBiasCol2im(out, bias *tensor.RawTensor, a col2imArgs) (*tensor.RawTensor, error) {
	ones, err := tensor.Ones(tensor.Shape{1, a.batchSize * a.imH * a.imW}, bias.DType(), bias.Device())
	if err != nil {
		return nil, fmt.Errorf("conv_transpose2d col2im: bias: %w", err)
	}
	defer ones.Release()

	// [C, 1] @ [1, N*imH*imW] -> [C, N, imH, imW] -> [N, C, imH, imW]
	spread := e.backend.MatMul(e.backend.Reshape(bias, tensor.Shape{a.channels, 1}), ones)
	spread = e.backend.Reshape(spread, tensor.Shape{a.channels, a.batchSize, a.imH, a.imW})
	spread = e.backend.Transpose(spread, 1, 0, 2, 3)
	return e.backend.Add(out, spread), nil
}
