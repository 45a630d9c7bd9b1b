package conv

import (
	"fmt"

	"github.com/kilnml/kiln/internal/tensor"
)

// Options holds the geometry of a 2D convolution.
//
// Index 0 is the height axis, index 1 the width axis.
type Options struct {
	Stride   [2]int
	Padding  [2]int
	Dilation [2]int
	Groups   int
}

// DefaultOptions returns unit stride/dilation, no padding, one group.
func DefaultOptions() Options {
	return Options{
		Stride:   [2]int{1, 1},
		Padding:  [2]int{0, 0},
		Dilation: [2]int{1, 1},
		Groups:   1,
	}
}

// TransposeOptions holds the geometry of a 2D transposed convolution.
type TransposeOptions struct {
	Stride     [2]int
	Padding    [2]int
	PaddingOut [2]int
	Dilation   [2]int
	Groups     int
}

// DefaultTransposeOptions returns unit stride/dilation, no padding, one group.
func DefaultTransposeOptions() TransposeOptions {
	return TransposeOptions{
		Stride:   [2]int{1, 1},
		Dilation: [2]int{1, 1},
		Groups:   1,
	}
}

func validateGeometry(stride, padding, dilation [2]int, groups int) error {
	for i := 0; i < 2; i++ {
		if stride[i] < 1 {
			return fmt.Errorf("stride must be >= 1, got %v", stride)
		}
		if dilation[i] < 1 {
			return fmt.Errorf("dilation must be >= 1, got %v", dilation)
		}
		if padding[i] < 0 {
			return fmt.Errorf("padding must be >= 0, got %v", padding)
		}
	}
	if groups < 1 {
		return fmt.Errorf("groups must be >= 1, got %d", groups)
	}
	return nil
}

// OutputSize computes one spatial output dimension of a convolution.
func OutputSize(in, kernel, stride, padding, dilation int) int {
	return (in+2*padding-dilation*(kernel-1)-1)/stride + 1
}

// TransposeOutputSize computes one spatial output dimension of a transposed
// convolution.
func TransposeOutputSize(in, kernel, stride, padding, paddingOut, dilation int) int {
	return convTransposeOutputSize(in, kernel, stride, padding, paddingOut, dilation)
}

func conv2dOutputSize(in, kernel, stride, padding, dilation int) int {
	return OutputSize(in, kernel, stride, padding, dilation)
}

// convTransposeOutputSize computes one spatial output dimension of a
// transposed convolution:
//
//	out = (in-1)*stride - 2*padding + dilation*(kernel-1) + paddingOut + 1
func convTransposeOutputSize(in, kernel, stride, padding, paddingOut, dilation int) int {
	return (in-1)*stride - 2*padding + dilation*(kernel-1) + paddingOut + 1
}

// validateConv2d checks shapes and options before any kernel work.
//
// input is [N, Cin, H, W], weight is [Cout, Cin/groups, Kh, Kw] and bias,
// if present, is [Cout].
func validateConv2d(input, weight, bias *tensor.RawTensor, opts Options) error {
	if err := validateGeometry(opts.Stride, opts.Padding, opts.Dilation, opts.Groups); err != nil {
		return err
	}

	inShape := input.Shape()
	wShape := weight.Shape()
	if len(inShape) != 4 {
		return fmt.Errorf("input must be 4D [N,C,H,W], got %dD", len(inShape))
	}
	if len(wShape) != 4 {
		return fmt.Errorf("weight must be 4D [Cout,Cin/groups,Kh,Kw], got %dD", len(wShape))
	}

	inChannels := inShape[1]
	outChannels := wShape[0]
	if inChannels%opts.Groups != 0 {
		return fmt.Errorf("input channels %d not divisible by groups %d", inChannels, opts.Groups)
	}
	if outChannels%opts.Groups != 0 {
		return fmt.Errorf("output channels %d not divisible by groups %d", outChannels, opts.Groups)
	}
	if wShape[1]*opts.Groups != inChannels {
		return fmt.Errorf("weight expects %d input channels (%d per group x %d groups), input has %d",
			wShape[1]*opts.Groups, wShape[1], opts.Groups, inChannels)
	}
	if bias != nil && (len(bias.Shape()) != 1 || bias.Shape()[0] != outChannels) {
		return fmt.Errorf("bias must be [%d], got %v", outChannels, bias.Shape())
	}

	outH := conv2dOutputSize(inShape[2], wShape[2], opts.Stride[0], opts.Padding[0], opts.Dilation[0])
	outW := conv2dOutputSize(inShape[3], wShape[3], opts.Stride[1], opts.Padding[1], opts.Dilation[1])
	if outH <= 0 || outW <= 0 {
		return fmt.Errorf("invalid output size %dx%d (check stride/padding/dilation)", outH, outW)
	}
	return nil
}

// validateConvTranspose2d checks shapes and options before any kernel work.
//
// input is [N, Cin, H, W], weight is [Cin, Cout/groups, Kh, Kw] and bias,
// if present, is [Cout].
func validateConvTranspose2d(input, weight, bias *tensor.RawTensor, opts TransposeOptions) error {
	if err := validateGeometry(opts.Stride, opts.Padding, opts.Dilation, opts.Groups); err != nil {
		return err
	}
	if opts.PaddingOut[0] < 0 || opts.PaddingOut[1] < 0 {
		return fmt.Errorf("output padding must be >= 0, got %v", opts.PaddingOut)
	}

	inShape := input.Shape()
	wShape := weight.Shape()
	if len(inShape) != 4 {
		return fmt.Errorf("input must be 4D [N,C,H,W], got %dD", len(inShape))
	}
	if len(wShape) != 4 {
		return fmt.Errorf("weight must be 4D [Cin,Cout/groups,Kh,Kw], got %dD", len(wShape))
	}

	inChannels := inShape[1]
	if inChannels != wShape[0] {
		return fmt.Errorf("input channels %d != weight input channels %d", inChannels, wShape[0])
	}
	if inChannels%opts.Groups != 0 {
		return fmt.Errorf("input channels %d not divisible by groups %d", inChannels, opts.Groups)
	}
	outChannels := wShape[1] * opts.Groups
	if bias != nil && (len(bias.Shape()) != 1 || bias.Shape()[0] != outChannels) {
		return fmt.Errorf("bias must be [%d], got %v", outChannels, bias.Shape())
	}

	outH := convTransposeOutputSize(inShape[2], wShape[2], opts.Stride[0], opts.Padding[0], opts.PaddingOut[0], opts.Dilation[0])
	outW := convTransposeOutputSize(inShape[3], wShape[3], opts.Stride[1], opts.Padding[1], opts.PaddingOut[1], opts.Dilation[1])
	if outH <= 0 || outW <= 0 {
		return fmt.Errorf("invalid output size %dx%d (check stride/padding/dilation)", outH, outW)
	}
	return nil
}
