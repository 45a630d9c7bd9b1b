// Package conv implements 2D convolution and transposed convolution over
// NCHW tensors, with direct element-wise kernels, GEMM-based kernels
// (im2col for the forward op, col2im for the transposed op) and an
// autotuning dispatcher that benchmarks both per device and shape class.
package conv

import (
	"fmt"

	"github.com/kilnml/kiln/internal/parallel"
	"github.com/kilnml/kiln/internal/tensor"
	"github.com/kilnml/kiln/internal/tune"
)

// Strategy selects how a convolution is executed.
type Strategy int

const (
	// StrategyAutotune benchmarks the available kernels on synthetic inputs
	// the first time a shape class is seen, then replays the winner.
	StrategyAutotune Strategy = iota
	// StrategyDirect always runs the element-wise kernel.
	StrategyDirect
	// StrategyGemm always runs the matrix-multiply formulation.
	StrategyGemm
)

func (s Strategy) String() string {
	switch s {
	case StrategyAutotune:
		return "autotune"
	case StrategyDirect:
		return "direct"
	case StrategyGemm:
		return "gemm"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Cached strategy names. These are persisted by the tuner, so they must stay
// stable across releases.
const (
	strategyNameDirect = "direct"
	strategyNameIm2col = "im2col"
	strategyNameCol2im = "col2im"

	opConv2d          = "conv2d"
	opConvTranspose2d = "conv_transpose2d"
)

// DirectConvLauncher is implemented by backends that run the direct kernels
// on device. Without it the engine falls back to the host grid.
type DirectConvLauncher interface {
	Conv2dDirect(input, weight, bias *tensor.RawTensor, opts Options) (*tensor.RawTensor, error)
	ConvTranspose2dDirect(input, weight, bias *tensor.RawTensor, opts TransposeOptions) (*tensor.RawTensor, error)
}

// Col2imParams describes one column-matrix fold for device execution.
// ColH/ColW are the spatial dims of the column grid, ImageH/ImageW those of
// the image being accumulated into.
type Col2imParams struct {
	BatchSize, Channels  int
	ImageH, ImageW       int
	ColH, ColW           int
	KernelH, KernelW     int
	StrideH, StrideW     int
	PadH, PadW           int
	DilationH, DilationW int
}

// Col2imLauncher is implemented by backends that run the col2im scatter on
// device.
type Col2imLauncher interface {
	Col2im(columns, out *tensor.RawTensor, p Col2imParams) error
}

// Engine dispatches convolutions to kernel strategies over a backend.
// The zero value is not usable; construct with NewEngine.
type Engine struct {
	backend tensor.Backend
	tuner   *tune.Tuner
	grid    parallel.Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithTuner attaches an autotuning cache. Engines sharing one tuner share
// its decisions.
func WithTuner(t *tune.Tuner) Option {
	return func(e *Engine) { e.tuner = t }
}

// WithParallel overrides the host grid configuration for the element-wise
// kernels.
func WithParallel(cfg parallel.Config) Option {
	return func(e *Engine) { e.grid = cfg }
}

// NewEngine creates a convolution engine over the given backend.
func NewEngine(b tensor.Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: b,
		grid:    parallel.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Backend returns the backend the engine executes on.
func (e *Engine) Backend() tensor.Backend { return e.backend }

// Tuner returns the attached autotuning cache, or nil.
func (e *Engine) Tuner() *tune.Tuner { return e.tuner }

// DefaultStrategy is the strategy used when callers do not force one:
// autotuning when a tuner is attached, the direct kernel otherwise.
func (e *Engine) DefaultStrategy() Strategy {
	if e.tuner != nil {
		return StrategyAutotune
	}
	return StrategyDirect
}

// Conv2d computes a 2D convolution of input [N, Cin, H, W] with weight
// [Cout, Cin/groups, Kh, Kw] and optional bias [Cout], returning
// [N, Cout, Hout, Wout]. Geometry and shapes are validated before any
// kernel runs.
func (e *Engine) Conv2d(input, weight, bias *tensor.RawTensor, opts Options, strategy Strategy) (*tensor.RawTensor, error) {
	if err := validateConv2d(input, weight, bias, opts); err != nil {
		return nil, fmt.Errorf("conv2d: %w", err)
	}

	switch strategy {
	case StrategyDirect:
		if l, ok := e.backend.(DirectConvLauncher); ok {
			if out, err := l.Conv2dDirect(input, weight, bias, opts); err == nil {
				return out, nil
			}
			// Launcher refused the problem (dtype, device limits); the host
			// kernel computes the same thing.
		}
		return conv2dDirect(input, weight, bias, opts, e.grid)
	case StrategyGemm:
		return e.conv2dIm2col(input, weight, bias, opts)
	case StrategyAutotune:
		if e.tuner == nil {
			return nil, fmt.Errorf("conv2d: autotune strategy requires a tuner")
		}
		return e.conv2dAutotune(input, weight, bias, opts)
	default:
		return nil, fmt.Errorf("conv2d: unknown strategy %s", strategy)
	}
}

// ConvTranspose2d computes a 2D transposed convolution of input
// [N, Cin, H, W] with weight [Cin, Cout/groups, Kh, Kw] and optional bias
// [Cout], returning [N, Cout, Hout, Wout].
func (e *Engine) ConvTranspose2d(input, weight, bias *tensor.RawTensor, opts TransposeOptions, strategy Strategy) (*tensor.RawTensor, error) {
	if err := validateConvTranspose2d(input, weight, bias, opts); err != nil {
		return nil, fmt.Errorf("conv_transpose2d: %w", err)
	}

	switch strategy {
	case StrategyDirect:
		if l, ok := e.backend.(DirectConvLauncher); ok {
			if out, err := l.ConvTranspose2dDirect(input, weight, bias, opts); err == nil {
				return out, nil
			}
		}
		return convTranspose2dDirect(input, weight, bias, opts, e.grid)
	case StrategyGemm:
		return e.convTranspose2dCol2im(input, weight, bias, opts)
	case StrategyAutotune:
		if e.tuner == nil {
			return nil, fmt.Errorf("conv_transpose2d: autotune strategy requires a tuner")
		}
		return e.convTranspose2dAutotune(input, weight, bias, opts)
	default:
		return nil, fmt.Errorf("conv_transpose2d: unknown strategy %s", strategy)
	}
}
