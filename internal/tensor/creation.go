package tensor

import (
	"fmt"
	"math/rand"
)

// Ones creates a tensor filled with ones.
//
// Example:
//
//	ones, err := tensor.Ones(tensor.Shape{1, 64}, tensor.Float32, tensor.CPU)
func Ones(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	t, err := NewRaw(shape, dtype, device)
	if err != nil {
		return nil, err
	}

	switch dtype {
	case Float32:
		data := t.AsFloat32()
		for i := range data {
			data[i] = 1
		}
	case Float64:
		data := t.AsFloat64()
		for i := range data {
			data[i] = 1
		}
	default:
		return nil, fmt.Errorf("ones: unsupported dtype %s", dtype)
	}
	return t, nil
}

// Uniform creates a tensor with random values uniformly distributed in
// [low, high). It is used to synthesize benchmark inputs whose shapes match
// a tuning key without touching caller data.
// Note: Uses math/rand (not crypto/rand) - appropriate for ML/statistical purposes.
func Uniform(shape Shape, dtype DataType, device Device, low, high float64) (*RawTensor, error) {
	t, err := NewRaw(shape, dtype, device)
	if err != nil {
		return nil, err
	}

	switch dtype {
	case Float32:
		data := t.AsFloat32()
		for i := range data {
			u := rand.Float64() //nolint:gosec // G404: ML uses math/rand intentionally for reproducibility
			data[i] = float32(low + u*(high-low))
		}
	case Float64:
		data := t.AsFloat64()
		for i := range data {
			u := rand.Float64() //nolint:gosec // G404: ML uses math/rand intentionally for reproducibility
			data[i] = low + u*(high-low)
		}
	default:
		return nil, fmt.Errorf("uniform: unsupported dtype %s", dtype)
	}
	return t, nil
}
