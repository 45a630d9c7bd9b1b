package conv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnml/kiln/internal/backend/cpu"
	"github.com/kilnml/kiln/internal/tensor"
	"github.com/kilnml/kiln/internal/tune"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(cpu.New())
}

func newFloat32(t *testing.T, shape tensor.Shape, data []float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(raw.AsFloat32(), data)
	return raw
}

func uniform(t *testing.T, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.Uniform(shape, tensor.Float32, tensor.CPU, -1, 1)
	require.NoError(t, err)
	return raw
}

func TestConv2dKnownValues(t *testing.T) {
	e := newTestEngine(t)

	input := newFloat32(t, tensor.Shape{1, 1, 3, 3},
		[]float32{1, 2, 3, 4, 5, 6, 7, 8, 9})
	weight := newFloat32(t, tensor.Shape{1, 1, 2, 2},
		[]float32{1, 1, 1, 1})

	for _, strategy := range []Strategy{StrategyDirect, StrategyGemm} {
		out, err := e.Conv2d(input, weight, nil, DefaultOptions(), strategy)
		require.NoError(t, err, strategy)
		assert.Equal(t, tensor.Shape{1, 1, 2, 2}, out.Shape())
		assert.Equal(t, []float32{12, 16, 24, 28}, out.AsFloat32(), strategy)
	}
}

func TestConv2dBias(t *testing.T) {
	e := newTestEngine(t)

	input := newFloat32(t, tensor.Shape{1, 2, 2, 2},
		[]float32{1, 1, 1, 1, 2, 2, 2, 2})
	weight := newFloat32(t, tensor.Shape{2, 2, 1, 1},
		[]float32{1, 0, 0, 1})
	bias := newFloat32(t, tensor.Shape{2}, []float32{10, 20})

	for _, strategy := range []Strategy{StrategyDirect, StrategyGemm} {
		out, err := e.Conv2d(input, weight, bias, DefaultOptions(), strategy)
		require.NoError(t, err, strategy)
		assert.Equal(t, []float32{11, 11, 11, 11, 22, 22, 22, 22}, out.AsFloat32(), strategy)
	}
}

func TestConvTranspose2dKnownValues(t *testing.T) {
	e := newTestEngine(t)

	input := newFloat32(t, tensor.Shape{1, 1, 2, 2}, []float32{1, 2, 3, 4})
	weight := newFloat32(t, tensor.Shape{1, 1, 2, 2}, []float32{1, 1, 1, 1})

	want := []float32{1, 3, 2, 4, 10, 6, 3, 7, 4}
	for _, strategy := range []Strategy{StrategyDirect, StrategyGemm} {
		out, err := e.ConvTranspose2d(input, weight, nil, DefaultTransposeOptions(), strategy)
		require.NoError(t, err, strategy)
		assert.Equal(t, tensor.Shape{1, 1, 3, 3}, out.Shape())
		assert.Equal(t, want, out.AsFloat32(), strategy)
	}
}

// convCase is one geometry exercised by the direct/GEMM equivalence tests.
type convCase struct {
	name                 string
	batch, cin, cout     int
	h, w                 int
	kh, kw               int
	stride, pad, dil     [2]int
	padOut               [2]int
	groups               int
	bias                 bool
}

var convCases = []convCase{
	{name: "1x1_kernel", batch: 2, cin: 3, cout: 4, h: 5, w: 5, kh: 1, kw: 1,
		stride: [2]int{1, 1}, dil: [2]int{1, 1}, groups: 1},
	{name: "3x3_same_padding", batch: 1, cin: 2, cout: 2, h: 4, w: 4, kh: 3, kw: 3,
		stride: [2]int{1, 1}, pad: [2]int{1, 1}, dil: [2]int{1, 1}, groups: 1, bias: true},
	{name: "strided", batch: 2, cin: 3, cout: 5, h: 9, w: 7, kh: 3, kw: 3,
		stride: [2]int{2, 2}, pad: [2]int{1, 1}, dil: [2]int{1, 1}, groups: 1},
	{name: "dilated", batch: 1, cin: 2, cout: 3, h: 8, w: 8, kh: 3, kw: 3,
		stride: [2]int{1, 1}, pad: [2]int{2, 2}, dil: [2]int{2, 2}, groups: 1, bias: true},
	{name: "grouped", batch: 1, cin: 8, cout: 8, h: 6, w: 6, kh: 3, kw: 3,
		stride: [2]int{1, 1}, pad: [2]int{1, 1}, dil: [2]int{1, 1}, groups: 4},
	{name: "depthwise", batch: 2, cin: 4, cout: 4, h: 5, w: 5, kh: 3, kw: 3,
		stride: [2]int{1, 1}, pad: [2]int{1, 1}, dil: [2]int{1, 1}, groups: 4, bias: true},
	{name: "asymmetric", batch: 1, cin: 3, cout: 2, h: 10, w: 6, kh: 3, kw: 2,
		stride: [2]int{2, 1}, pad: [2]int{1, 0}, dil: [2]int{1, 2}, groups: 1},
	{name: "strided_output_padding", batch: 1, cin: 2, cout: 3, h: 4, w: 4, kh: 3, kw: 3,
		stride: [2]int{2, 2}, pad: [2]int{1, 1}, dil: [2]int{1, 1}, padOut: [2]int{1, 1}, groups: 1, bias: true},
}

// TestConv2dDirectMatchesGemm checks that both strategies agree across
// stride, padding, dilation and group combinations.
func TestConv2dDirectMatchesGemm(t *testing.T) {
	e := newTestEngine(t)

	for _, tc := range convCases {
		t.Run(tc.name, func(t *testing.T) {
			input := uniform(t, tensor.Shape{tc.batch, tc.cin, tc.h, tc.w})
			weight := uniform(t, tensor.Shape{tc.cout, tc.cin / tc.groups, tc.kh, tc.kw})
			var bias *tensor.RawTensor
			if tc.bias {
				bias = uniform(t, tensor.Shape{tc.cout})
			}
			opts := Options{Stride: tc.stride, Padding: tc.pad, Dilation: tc.dil, Groups: tc.groups}

			direct, err := e.Conv2d(input, weight, bias, opts, StrategyDirect)
			require.NoError(t, err)
			gemm, err := e.Conv2d(input, weight, bias, opts, StrategyGemm)
			require.NoError(t, err)

			require.Equal(t, direct.Shape(), gemm.Shape())
			d, g := direct.AsFloat32(), gemm.AsFloat32()
			for i := range d {
				assert.InDelta(t, d[i], g[i], 1e-4, "element %d", i)
			}
		})
	}
}

// TestConvTranspose2dDirectMatchesGemm checks the gather kernel against the
// col2im fold across the same geometry grid.
func TestConvTranspose2dDirectMatchesGemm(t *testing.T) {
	e := newTestEngine(t)

	for _, tc := range convCases {
		t.Run(tc.name, func(t *testing.T) {
			input := uniform(t, tensor.Shape{tc.batch, tc.cin, tc.h, tc.w})
			weight := uniform(t, tensor.Shape{tc.cin, tc.cout / tc.groups, tc.kh, tc.kw})
			var bias *tensor.RawTensor
			if tc.bias {
				bias = uniform(t, tensor.Shape{tc.cout})
			}
			opts := TransposeOptions{Stride: tc.stride, Padding: tc.pad, PaddingOut: tc.padOut,
				Dilation: tc.dil, Groups: tc.groups}

			direct, err := e.ConvTranspose2d(input, weight, bias, opts, StrategyDirect)
			require.NoError(t, err)
			gemm, err := e.ConvTranspose2d(input, weight, bias, opts, StrategyGemm)
			require.NoError(t, err)

			require.Equal(t, direct.Shape(), gemm.Shape())
			d, g := direct.AsFloat32(), gemm.AsFloat32()
			for i := range d {
				assert.InDelta(t, d[i], g[i], 1e-4, "element %d", i)
			}
		})
	}
}

// TestConvTranspose2dIsAdjoint verifies <conv(x), y> == <x, convT(y)> with a
// shared weight tensor, the defining property of the transposed op.
func TestConvTranspose2dIsAdjoint(t *testing.T) {
	e := newTestEngine(t)

	cases := []struct {
		name        string
		h, w        int
		k           int
		stride, pad int
	}{
		{name: "same_padding", h: 6, w: 6, k: 3, stride: 1, pad: 1},
		{name: "strided", h: 7, w: 7, k: 3, stride: 2, pad: 1},
		{name: "no_padding", h: 5, w: 5, k: 2, stride: 1, pad: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			const cin, cout = 2, 3
			x := uniform(t, tensor.Shape{1, cin, tc.h, tc.w})
			// [Cout, Cin, Kh, Kw]: read as [CinT, CoutT, Kh, Kw] by the
			// transposed op, which is exactly the adjoint pairing.
			w := uniform(t, tensor.Shape{cout, cin, tc.k, tc.k})

			fwdOpts := Options{Stride: [2]int{tc.stride, tc.stride},
				Padding: [2]int{tc.pad, tc.pad}, Dilation: [2]int{1, 1}, Groups: 1}
			fx, err := e.Conv2d(x, w, nil, fwdOpts, StrategyDirect)
			require.NoError(t, err)

			y := uniform(t, fx.Shape())
			bwdOpts := TransposeOptions{Stride: [2]int{tc.stride, tc.stride},
				Padding: [2]int{tc.pad, tc.pad}, Dilation: [2]int{1, 1}, Groups: 1}
			ty, err := e.ConvTranspose2d(y, w, nil, bwdOpts, StrategyGemm)
			require.NoError(t, err)
			require.Equal(t, x.Shape(), ty.Shape())

			assert.InDelta(t, dot(fx.AsFloat32(), y.AsFloat32()), dot(x.AsFloat32(), ty.AsFloat32()), 1e-3)
		})
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// TestConv2dGroupIsolation perturbs the second group's input channels and
// checks the first group's output channels do not move.
func TestConv2dGroupIsolation(t *testing.T) {
	e := newTestEngine(t)

	input := uniform(t, tensor.Shape{1, 8, 6, 6})
	weight := uniform(t, tensor.Shape{8, 4, 3, 3})
	opts := Options{Stride: [2]int{1, 1}, Padding: [2]int{1, 1}, Dilation: [2]int{1, 1}, Groups: 2}

	before, err := e.Conv2d(input, weight, nil, opts, StrategyGemm)
	require.NoError(t, err)

	// Channels 4..7 belong to group 1.
	perturbed, err := tensor.NewRaw(input.Shape(), input.DType(), input.Device())
	require.NoError(t, err)
	copy(perturbed.AsFloat32(), input.AsFloat32())
	data := perturbed.AsFloat32()
	plane := 6 * 6
	for i := 4 * plane; i < 8*plane; i++ {
		data[i] += 1
	}

	after, err := e.Conv2d(perturbed, weight, nil, opts, StrategyGemm)
	require.NoError(t, err)

	b, a := before.AsFloat32(), after.AsFloat32()
	group0 := 4 * plane
	assert.Equal(t, b[:group0], a[:group0], "group 0 output changed")
	assert.NotEqual(t, b[group0:], a[group0:], "group 1 output should change")
}

func TestConv2dFloat64(t *testing.T) {
	e := newTestEngine(t)

	input, err := tensor.Uniform(tensor.Shape{1, 2, 5, 5}, tensor.Float64, tensor.CPU, -1, 1)
	require.NoError(t, err)
	weight, err := tensor.Uniform(tensor.Shape{3, 2, 3, 3}, tensor.Float64, tensor.CPU, -1, 1)
	require.NoError(t, err)

	opts := Options{Stride: [2]int{1, 1}, Padding: [2]int{1, 1}, Dilation: [2]int{1, 1}, Groups: 1}
	direct, err := e.Conv2d(input, weight, nil, opts, StrategyDirect)
	require.NoError(t, err)
	gemm, err := e.Conv2d(input, weight, nil, opts, StrategyGemm)
	require.NoError(t, err)

	d, g := direct.AsFloat64(), gemm.AsFloat64()
	for i := range d {
		assert.InDelta(t, d[i], g[i], 1e-10)
	}
}

func TestConv2dValidation(t *testing.T) {
	e := newTestEngine(t)

	input := uniform(t, tensor.Shape{1, 4, 5, 5})
	weight := uniform(t, tensor.Shape{4, 4, 3, 3})

	cases := []struct {
		name string
		run  func() error
	}{
		{"zero_stride", func() error {
			opts := DefaultOptions()
			opts.Stride[0] = 0
			_, err := e.Conv2d(input, weight, nil, opts, StrategyDirect)
			return err
		}},
		{"negative_padding", func() error {
			opts := DefaultOptions()
			opts.Padding[1] = -1
			_, err := e.Conv2d(input, weight, nil, opts, StrategyDirect)
			return err
		}},
		{"groups_not_dividing_channels", func() error {
			opts := DefaultOptions()
			opts.Groups = 3
			_, err := e.Conv2d(input, weight, nil, opts, StrategyDirect)
			return err
		}},
		{"channel_mismatch", func() error {
			bad := uniform(t, tensor.Shape{4, 3, 3, 3})
			_, err := e.Conv2d(input, bad, nil, DefaultOptions(), StrategyDirect)
			return err
		}},
		{"bad_bias_shape", func() error {
			bias := uniform(t, tensor.Shape{5})
			_, err := e.Conv2d(input, weight, bias, DefaultOptions(), StrategyDirect)
			return err
		}},
		{"kernel_larger_than_input", func() error {
			small := uniform(t, tensor.Shape{1, 4, 2, 2})
			_, err := e.Conv2d(small, weight, nil, DefaultOptions(), StrategyDirect)
			return err
		}},
		{"non_4d_input", func() error {
			flat := uniform(t, tensor.Shape{4, 5, 5})
			_, err := e.Conv2d(flat, weight, nil, DefaultOptions(), StrategyDirect)
			return err
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.run())
		})
	}
}

func TestAutotuneRequiresTuner(t *testing.T) {
	e := newTestEngine(t)
	input := uniform(t, tensor.Shape{1, 2, 4, 4})
	weight := uniform(t, tensor.Shape{2, 2, 3, 3})

	_, err := e.Conv2d(input, weight, nil, DefaultOptions(), StrategyAutotune)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tuner")

	assert.Equal(t, StrategyDirect, e.DefaultStrategy())
}

func TestConv2dAutotune(t *testing.T) {
	tuner := tune.NewTuner()
	e := NewEngine(cpu.New(), WithTuner(tuner))
	assert.Equal(t, StrategyAutotune, e.DefaultStrategy())

	input := uniform(t, tensor.Shape{1, 3, 6, 6})
	weight := uniform(t, tensor.Shape{4, 3, 3, 3})
	opts := Options{Stride: [2]int{1, 1}, Padding: [2]int{1, 1}, Dilation: [2]int{1, 1}, Groups: 1}

	out, err := e.Conv2d(input, weight, nil, opts, StrategyAutotune)
	require.NoError(t, err)
	require.Equal(t, 1, tuner.Len())

	// The tuned result matches whichever strategy won.
	key := newConv2dKey(input, weight, nil, opts)
	winner, ok := tuner.Lookup(e.Backend().Name(), opConv2d, key)
	require.True(t, ok)

	var want *tensor.RawTensor
	switch winner {
	case strategyNameDirect:
		want, err = e.Conv2d(input, weight, nil, opts, StrategyDirect)
	case strategyNameIm2col:
		want, err = e.Conv2d(input, weight, nil, opts, StrategyGemm)
	default:
		t.Fatalf("unexpected winner %q", winner)
	}
	require.NoError(t, err)
	w, o := want.AsFloat32(), out.AsFloat32()
	for i := range w {
		assert.InDelta(t, w[i], o[i], 1e-5)
	}

	// 5x5 and 6x6 inputs anchor to the same 8x8 class: no new entry.
	smaller := uniform(t, tensor.Shape{1, 3, 5, 5})
	_, err = e.Conv2d(smaller, weight, nil, opts, StrategyAutotune)
	require.NoError(t, err)
	assert.Equal(t, 1, tuner.Len())

	// A different kernel geometry is a new class.
	weight5 := uniform(t, tensor.Shape{4, 3, 5, 5})
	opts5 := Options{Stride: [2]int{1, 1}, Padding: [2]int{2, 2}, Dilation: [2]int{1, 1}, Groups: 1}
	_, err = e.Conv2d(input, weight5, nil, opts5, StrategyAutotune)
	require.NoError(t, err)
	assert.Equal(t, 2, tuner.Len())
}

func TestConvTranspose2dAutotune(t *testing.T) {
	tuner := tune.NewTuner()
	e := NewEngine(cpu.New(), WithTuner(tuner))

	input := uniform(t, tensor.Shape{1, 4, 4, 4})
	weight := uniform(t, tensor.Shape{4, 3, 3, 3})
	opts := DefaultTransposeOptions()
	opts.Stride = [2]int{2, 2}

	out, err := e.ConvTranspose2d(input, weight, nil, opts, StrategyAutotune)
	require.NoError(t, err)
	require.Equal(t, 1, tuner.Len())

	key := newConvTranspose2dKey(input, weight, nil, opts)
	winner, ok := tuner.Lookup(e.Backend().Name(), opConvTranspose2d, key)
	require.True(t, ok)
	assert.Contains(t, []string{strategyNameDirect, strategyNameCol2im}, winner)

	direct, err := e.ConvTranspose2d(input, weight, nil, opts, StrategyDirect)
	require.NoError(t, err)
	d, o := direct.AsFloat32(), out.AsFloat32()
	for i := range d {
		assert.InDelta(t, d[i], o[i], 1e-4)
	}
}

// TestAutotuneReplaysPersistedDecision restores a saved cache and checks the
// engine honors it without re-tuning.
func TestAutotuneReplaysPersistedDecision(t *testing.T) {
	input := uniform(t, tensor.Shape{1, 2, 4, 4})
	weight := uniform(t, tensor.Shape{2, 2, 3, 3})
	opts := Options{Stride: [2]int{1, 1}, Padding: [2]int{1, 1}, Dilation: [2]int{1, 1}, Groups: 1}
	key := newConv2dKey(input, weight, nil, opts)

	backend := cpu.New()
	tuner := tune.NewTuner()
	tuner.Restore([]tune.Entry{{
		Device:   backend.Name(),
		Op:       opConv2d,
		Key:      key.String(),
		Strategy: strategyNameIm2col,
	}})

	e := NewEngine(backend, WithTuner(tuner))
	out, err := e.Conv2d(input, weight, nil, opts, StrategyAutotune)
	require.NoError(t, err)

	gemm, err := e.Conv2d(input, weight, nil, opts, StrategyGemm)
	require.NoError(t, err)
	assert.Equal(t, gemm.AsFloat32(), out.AsFloat32())

	// Still exactly the restored entry.
	assert.Equal(t, 1, tuner.Len())
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "autotune", StrategyAutotune.String())
	assert.Equal(t, "direct", StrategyDirect.String())
	assert.Equal(t, "gemm", StrategyGemm.String())
	assert.Equal(t, "strategy(42)", Strategy(42).String())
}
