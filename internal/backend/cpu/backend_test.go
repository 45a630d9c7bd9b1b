package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnml/kiln/internal/tensor"
)

func newFloat32(t *testing.T, shape tensor.Shape, data []float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(raw.AsFloat32(), data)
	return raw
}

func TestAddSameShape(t *testing.T) {
	backend := New()

	a := newFloat32(t, tensor.Shape{2, 2}, []float32{1, 2, 3, 4})
	b := newFloat32(t, tensor.Shape{2, 2}, []float32{10, 20, 30, 40})

	out := backend.Add(a, b)
	assert.Equal(t, []float32{11, 22, 33, 44}, out.AsFloat32())
}

func TestAddBroadcastChannelBias(t *testing.T) {
	backend := New()

	// [1, 2, 1, 1] bias broadcast over [1, 2, 2, 2] feature map,
	// the shape pattern conv2d uses for per-channel bias.
	out4d := newFloat32(t, tensor.Shape{1, 2, 2, 2}, []float32{1, 1, 1, 1, 2, 2, 2, 2})
	bias := newFloat32(t, tensor.Shape{1, 2, 1, 1}, []float32{10, 20})

	out := backend.Add(out4d, bias)
	assert.Equal(t, []float32{11, 11, 11, 11, 22, 22, 22, 22}, out.AsFloat32())
}

func TestMatMul(t *testing.T) {
	backend := New()

	a := newFloat32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b := newFloat32(t, tensor.Shape{3, 2}, []float32{7, 8, 9, 10, 11, 12})

	out := backend.MatMul(a, b)
	assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
	assert.Equal(t, []float32{58, 64, 139, 154}, out.AsFloat32())
}

func TestMatMulShapeMismatchPanics(t *testing.T) {
	backend := New()

	a := newFloat32(t, tensor.Shape{2, 3}, make([]float32, 6))
	b := newFloat32(t, tensor.Shape{2, 2}, make([]float32, 4))

	assert.Panics(t, func() { backend.MatMul(a, b) })
}

func TestReshape(t *testing.T) {
	backend := New()

	a := newFloat32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	out := backend.Reshape(a, tensor.Shape{3, 2})

	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, out.AsFloat32())

	assert.Panics(t, func() { backend.Reshape(a, tensor.Shape{4, 2}) })
}

func TestTranspose2D(t *testing.T) {
	backend := New()

	a := newFloat32(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	out := backend.Transpose(a, 1, 0)

	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.AsFloat32())
}

func TestTransposeSwapLeadingDims4D(t *testing.T) {
	backend := New()

	// [2, 3, 1, 1] -> [3, 2, 1, 1], the swap col2im uses for batch/channel.
	a := newFloat32(t, tensor.Shape{2, 3, 1, 1}, []float32{1, 2, 3, 4, 5, 6})
	out := backend.Transpose(a, 1, 0, 2, 3)

	assert.Equal(t, tensor.Shape{3, 2, 1, 1}, out.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.AsFloat32())
}

func TestNarrow(t *testing.T) {
	backend := New()

	a := newFloat32(t, tensor.Shape{3, 2}, []float32{1, 2, 3, 4, 5, 6})

	out := backend.Narrow(a, 0, 1, 1)
	assert.Equal(t, tensor.Shape{1, 2}, out.Shape())
	assert.Equal(t, []float32{3, 4}, out.AsFloat32())

	out = backend.Narrow(a, 1, 1, 1)
	assert.Equal(t, tensor.Shape{3, 1}, out.Shape())
	assert.Equal(t, []float32{2, 4, 6}, out.AsFloat32())

	assert.Panics(t, func() { backend.Narrow(a, 0, 2, 2) })
}

func TestSliceAssign(t *testing.T) {
	backend := New()

	dst := newFloat32(t, tensor.Shape{3, 2}, make([]float32, 6))
	src := newFloat32(t, tensor.Shape{1, 2}, []float32{7, 8})

	backend.SliceAssign(dst, 0, 2, src)
	assert.Equal(t, []float32{0, 0, 0, 0, 7, 8}, dst.AsFloat32())

	// Middle dim assignment
	dst2 := newFloat32(t, tensor.Shape{2, 3}, make([]float32, 6))
	src2 := newFloat32(t, tensor.Shape{2, 1}, []float32{9, 10})
	backend.SliceAssign(dst2, 1, 0, src2)
	assert.Equal(t, []float32{9, 0, 0, 10, 0, 0}, dst2.AsFloat32())
}

func TestBackendInterface(t *testing.T) {
	var _ tensor.Backend = New()
}
