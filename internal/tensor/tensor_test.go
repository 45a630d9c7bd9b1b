package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataTypeSize(t *testing.T) {
	tests := []struct {
		dtype DataType
		size  int
	}{
		{Float32, 4},
		{Float64, 8},
	}

	for _, tt := range tests {
		if got := tt.dtype.Size(); got != tt.size {
			t.Errorf("%s.Size() = %d, want %d", tt.dtype, got, tt.size)
		}
	}
}

func TestShapeNumElements(t *testing.T) {
	assert.Equal(t, 1, Shape{}.NumElements())
	assert.Equal(t, 24, Shape{2, 3, 4}.NumElements())
	assert.Equal(t, 5, Shape{5}.NumElements())
}

func TestShapeComputeStrides(t *testing.T) {
	strides := Shape{2, 3, 4}.ComputeStrides()
	assert.Equal(t, []int{12, 4, 1}, strides)
}

func TestShapeValidate(t *testing.T) {
	assert.NoError(t, Shape{2, 3}.Validate())
	assert.Error(t, Shape{2, 0}.Validate())
	assert.Error(t, Shape{-1, 3}.Validate())
}

func TestBroadcastShapes(t *testing.T) {
	out, needs, err := BroadcastShapes(Shape{1, 8, 1, 1}, Shape{2, 8, 5, 5})
	require.NoError(t, err)
	assert.True(t, needs)
	assert.Equal(t, Shape{2, 8, 5, 5}, out)

	out, needs, err = BroadcastShapes(Shape{3, 5}, Shape{3, 5})
	require.NoError(t, err)
	assert.False(t, needs)
	assert.Equal(t, Shape{3, 5}, out)

	_, _, err = BroadcastShapes(Shape{3, 4}, Shape{3, 5})
	assert.Error(t, err)
}

func TestNewRaw(t *testing.T) {
	raw, err := NewRaw(Shape{2, 3}, Float32, CPU)
	require.NoError(t, err)

	assert.Equal(t, Shape{2, 3}, raw.Shape())
	assert.Equal(t, 6, raw.NumElements())
	assert.Equal(t, 24, raw.ByteSize())
	assert.Equal(t, Float32, raw.DType())
	assert.Equal(t, CPU, raw.Device())

	// Zero-initialized
	for _, v := range raw.AsFloat32() {
		assert.Equal(t, float32(0), v)
	}

	_, err = NewRaw(Shape{2, 0}, Float32, CPU)
	assert.Error(t, err)
}

func TestRawCloneSharesBuffer(t *testing.T) {
	raw, err := NewRaw(Shape{4}, Float32, CPU)
	require.NoError(t, err)

	clone := raw.Clone()
	assert.False(t, raw.IsUnique())

	raw.AsFloat32()[0] = 42
	assert.Equal(t, float32(42), clone.AsFloat32()[0], "clone shares the buffer")

	clone.Release()
	assert.True(t, raw.IsUnique())
}

func TestOnes(t *testing.T) {
	ones, err := Ones(Shape{1, 6}, Float64, CPU)
	require.NoError(t, err)
	for _, v := range ones.AsFloat64() {
		assert.Equal(t, 1.0, v)
	}
}

func TestUniformBounds(t *testing.T) {
	u, err := Uniform(Shape{1000}, Float32, CPU, -1, 1)
	require.NoError(t, err)

	for _, v := range u.AsFloat32() {
		assert.GreaterOrEqual(t, v, float32(-1))
		assert.Less(t, v, float32(1))
	}
}
