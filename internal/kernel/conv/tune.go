package conv

import (
	"fmt"

	"github.com/kilnml/kiln/internal/tensor"
	"github.com/kilnml/kiln/internal/tune"
)

// conv2dAutotune resolves the winning strategy for the operation's shape
// class and runs it on the real operands. On a cache hit no benchmarking
// happens at all; on a miss each candidate runs once on synthetic inputs
// sized from the anchored key.
func (e *Engine) conv2dAutotune(input, weight, bias *tensor.RawTensor, opts Options) (*tensor.RawTensor, error) {
	key := newConv2dKey(input, weight, bias, opts)
	dtype, device := input.DType(), input.Device()

	// Benchmarks run the exact geometry but anchored magnitudes, so one
	// decision covers every shape in the class.
	benchOpts := Options{
		Stride:   key.Stride,
		Padding:  key.Padding,
		Dilation: key.Dilation,
		Groups:   key.Groups,
	}

	bench := func(strategy Strategy) func() error {
		return func() error {
			in, w, b, err := syntheticConv2dInputs(key, dtype, device)
			if err != nil {
				return err
			}
			defer releaseSynthetic(in, w, b)

			out, err := e.Conv2d(in, w, b, benchOpts, strategy)
			if err != nil {
				return err
			}
			out.Release()
			return nil
		}
	}

	candidates := []tune.Candidate{
		{Name: strategyNameDirect, Bench: bench(StrategyDirect)},
		{Name: strategyNameIm2col, Bench: bench(StrategyGemm)},
	}

	winner, err := e.tuner.Pick(e.backend.Name(), opConv2d, key, candidates)
	if err != nil {
		return nil, err
	}

	switch winner {
	case strategyNameDirect:
		return e.Conv2d(input, weight, bias, opts, StrategyDirect)
	case strategyNameIm2col:
		return e.Conv2d(input, weight, bias, opts, StrategyGemm)
	default:
		return nil, fmt.Errorf("conv2d: tuner picked unknown strategy %q", winner)
	}
}

// convTranspose2dAutotune is the transposed-convolution analogue of
// conv2dAutotune.
func (e *Engine) convTranspose2dAutotune(input, weight, bias *tensor.RawTensor, opts TransposeOptions) (*tensor.RawTensor, error) {
	key := newConvTranspose2dKey(input, weight, bias, opts)
	dtype, device := input.DType(), input.Device()

	benchOpts := TransposeOptions{
		Stride:     key.Stride,
		Padding:    key.Padding,
		PaddingOut: key.PaddingOut,
		Dilation:   key.Dilation,
		Groups:     key.Groups,
	}

	bench := func(strategy Strategy) func() error {
		return func() error {
			in, w, b, err := syntheticConvTranspose2dInputs(key, dtype, device)
			if err != nil {
				return err
			}
			defer releaseSynthetic(in, w, b)

			out, err := e.ConvTranspose2d(in, w, b, benchOpts, strategy)
			if err != nil {
				return err
			}
			out.Release()
			return nil
		}
	}

	candidates := []tune.Candidate{
		{Name: strategyNameDirect, Bench: bench(StrategyDirect)},
		{Name: strategyNameCol2im, Bench: bench(StrategyGemm)},
	}

	winner, err := e.tuner.Pick(e.backend.Name(), opConvTranspose2d, key, candidates)
	if err != nil {
		return nil, err
	}

	switch winner {
	case strategyNameDirect:
		return e.ConvTranspose2d(input, weight, bias, opts, StrategyDirect)
	case strategyNameCol2im:
		return e.ConvTranspose2d(input, weight, bias, opts, StrategyGemm)
	default:
		return nil, fmt.Errorf("conv_transpose2d: tuner picked unknown strategy %q", winner)
	}
}
