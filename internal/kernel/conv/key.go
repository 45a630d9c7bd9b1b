package conv

import (
	"fmt"

	"github.com/kilnml/kiln/internal/tensor"
)

// anchor rounds v up to the next power of two so near-identical sizes share
// one tuning decision. Without anchoring the cache would grow unboundedly as
// batch sizes or image sizes drift across training steps.
func anchor(v int) int {
	if v <= 1 {
		return 1
	}
	p := 1
	for p < v {
		p <<= 1
	}
	return p
}

// Conv2dKey canonicalizes a convolution's shape parameters into a hashable,
// cache-stable descriptor. Kernel size, stride, padding, dilation and groups
// are exact; channel, spatial and batch magnitudes are anchored.
type Conv2dKey struct {
	KernelSize  [2]int `json:"kernel_size"`
	Stride      [2]int `json:"stride"`
	Padding     [2]int `json:"padding"`
	Dilation    [2]int `json:"dilation"`
	Groups      int    `json:"groups"`
	InChannels  int    `json:"in_channels"`
	OutChannels int    `json:"out_channels"`
	Height      int    `json:"height"`
	Width       int    `json:"width"`
	BatchSize   int    `json:"batch_size"`
	HasBias     bool   `json:"has_bias"`
}

// newConv2dKey derives the tuning key from the real operands' shapes.
func newConv2dKey(input, weight, bias *tensor.RawTensor, opts Options) Conv2dKey {
	inShape := input.Shape()
	wShape := weight.Shape()
	return Conv2dKey{
		KernelSize:  [2]int{wShape[2], wShape[3]},
		Stride:      opts.Stride,
		Padding:     opts.Padding,
		Dilation:    opts.Dilation,
		Groups:      opts.Groups,
		InChannels:  anchor(inShape[1]),
		OutChannels: anchor(wShape[0]),
		Height:      anchor(inShape[2]),
		Width:       anchor(inShape[3]),
		BatchSize:   anchor(inShape[0]),
		HasBias:     bias != nil,
	}
}

// String renders the canonical cache key.
func (k Conv2dKey) String() string {
	return fmt.Sprintf("k%dx%d-s%dx%d-p%dx%d-d%dx%d-g%d-ci%d-co%d-h%d-w%d-b%d-bias%t",
		k.KernelSize[0], k.KernelSize[1],
		k.Stride[0], k.Stride[1],
		k.Padding[0], k.Padding[1],
		k.Dilation[0], k.Dilation[1],
		k.Groups,
		k.InChannels, k.OutChannels,
		k.Height, k.Width, k.BatchSize,
		k.HasBias)
}

// ConvTranspose2dKey is the transposed-convolution analogue of Conv2dKey,
// additionally carrying the exact output padding.
type ConvTranspose2dKey struct {
	KernelSize  [2]int `json:"kernel_size"`
	Stride      [2]int `json:"stride"`
	Padding     [2]int `json:"padding"`
	PaddingOut  [2]int `json:"padding_out"`
	Dilation    [2]int `json:"dilation"`
	Groups      int    `json:"groups"`
	InChannels  int    `json:"in_channels"`
	OutChannels int    `json:"out_channels"`
	Height      int    `json:"height"`
	Width       int    `json:"width"`
	BatchSize   int    `json:"batch_size"`
	HasBias     bool   `json:"has_bias"`
}

func newConvTranspose2dKey(input, weight, bias *tensor.RawTensor, opts TransposeOptions) ConvTranspose2dKey {
	inShape := input.Shape()
	wShape := weight.Shape()
	return ConvTranspose2dKey{
		KernelSize:  [2]int{wShape[2], wShape[3]},
		Stride:      opts.Stride,
		Padding:     opts.Padding,
		PaddingOut:  opts.PaddingOut,
		Dilation:    opts.Dilation,
		Groups:      opts.Groups,
		InChannels:  anchor(inShape[1]),
		OutChannels: anchor(wShape[1] * opts.Groups),
		Height:      anchor(inShape[2]),
		Width:       anchor(inShape[3]),
		BatchSize:   anchor(inShape[0]),
		HasBias:     bias != nil,
	}
}

// String renders the canonical cache key.
func (k ConvTranspose2dKey) String() string {
	return fmt.Sprintf("k%dx%d-s%dx%d-p%dx%d-po%dx%d-d%dx%d-g%d-ci%d-co%d-h%d-w%d-b%d-bias%t",
		k.KernelSize[0], k.KernelSize[1],
		k.Stride[0], k.Stride[1],
		k.Padding[0], k.Padding[1],
		k.PaddingOut[0], k.PaddingOut[1],
		k.Dilation[0], k.Dilation[1],
		k.Groups,
		k.InChannels, k.OutChannels,
		k.Height, k.Width, k.BatchSize,
		k.HasBias)
}
