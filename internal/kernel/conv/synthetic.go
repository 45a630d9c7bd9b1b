package conv

import (
	"fmt"

	"github.com/kilnml/kiln/internal/tensor"
)

// Benchmark inputs are drawn uniformly from [-1, 1], matching the scale of
// normalized activations without risking overflow across candidates.
const (
	syntheticLow  = -1.0
	syntheticHigh = 1.0
)

// syntheticConv2dInputs allocates fresh random input/weight/bias tensors
// whose shapes are derived from the tuning key, not from the caller's real
// tensors. Benchmarking against synthetic data keeps timing deterministic
// and side-effect free on caller buffers.
//
// Anchored channel counts are re-aligned to the exact group count so the
// synthesized shapes always satisfy the divisibility invariants.
func syntheticConv2dInputs(key Conv2dKey, dtype tensor.DataType, device tensor.Device) (input, weight, bias *tensor.RawTensor, err error) {
	inPerGroup := key.InChannels / key.Groups
	if inPerGroup < 1 {
		inPerGroup = 1
	}
	outPerGroup := key.OutChannels / key.Groups
	if outPerGroup < 1 {
		outPerGroup = 1
	}
	inChannels := inPerGroup * key.Groups
	outChannels := outPerGroup * key.Groups

	inputShape := tensor.Shape{key.BatchSize, inChannels, key.Height, key.Width}
	input, err = tensor.Uniform(inputShape, dtype, device, syntheticLow, syntheticHigh)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("synthetic input: %w", err)
	}

	weightShape := tensor.Shape{outChannels, inPerGroup, key.KernelSize[0], key.KernelSize[1]}
	weight, err = tensor.Uniform(weightShape, dtype, device, syntheticLow, syntheticHigh)
	if err != nil {
		input.Release()
		return nil, nil, nil, fmt.Errorf("synthetic weight: %w", err)
	}

	if key.HasBias {
		bias, err = tensor.Uniform(tensor.Shape{outChannels}, dtype, device, syntheticLow, syntheticHigh)
		if err != nil {
			input.Release()
			weight.Release()
			return nil, nil, nil, fmt.Errorf("synthetic bias: %w", err)
		}
	}
	return input, weight, bias, nil
}

// syntheticConvTranspose2dInputs is the transposed-convolution analogue of
// syntheticConv2dInputs; the weight layout is [Cin, Cout/groups, Kh, Kw].
func syntheticConvTranspose2dInputs(key ConvTranspose2dKey, dtype tensor.DataType, device tensor.Device) (input, weight, bias *tensor.RawTensor, err error) {
	inPerGroup := key.InChannels / key.Groups
	if inPerGroup < 1 {
		inPerGroup = 1
	}
	outPerGroup := key.OutChannels / key.Groups
	if outPerGroup < 1 {
		outPerGroup = 1
	}
	inChannels := inPerGroup * key.Groups
	outChannels := outPerGroup * key.Groups

	inputShape := tensor.Shape{key.BatchSize, inChannels, key.Height, key.Width}
	input, err = tensor.Uniform(inputShape, dtype, device, syntheticLow, syntheticHigh)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("synthetic input: %w", err)
	}

	weightShape := tensor.Shape{inChannels, outPerGroup, key.KernelSize[0], key.KernelSize[1]}
	weight, err = tensor.Uniform(weightShape, dtype, device, syntheticLow, syntheticHigh)
	if err != nil {
		input.Release()
		return nil, nil, nil, fmt.Errorf("synthetic weight: %w", err)
	}

	if key.HasBias {
		bias, err = tensor.Uniform(tensor.Shape{outChannels}, dtype, device, syntheticLow, syntheticHigh)
		if err != nil {
			input.Release()
			weight.Release()
			return nil, nil, nil, fmt.Errorf("synthetic bias: %w", err)
		}
	}
	return input, weight, bias, nil
}

// releaseSynthetic drops the benchmark tensors as soon as a tuning attempt
// finishes, success or failure.
func releaseSynthetic(tensors ...*tensor.RawTensor) {
	for _, t := range tensors {
		if t != nil {
			t.Release()
		}
	}
}
