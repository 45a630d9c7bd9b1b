// Package main provides the Kiln CLI.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kilnml/kiln/backend/cpu"
	"github.com/kilnml/kiln/backend/webgpu"
	"github.com/kilnml/kiln/conv"
	"github.com/kilnml/kiln/tensor"
)

const version = "v0.1.0-dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("Kiln %s\n", version)
			return
		case "bench":
			if err := runBench(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "kiln bench: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	fmt.Println("Kiln - Convolution Execution Engine for Go")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version    Show version")
	fmt.Println("  bench      Time the kernel strategies on a given geometry")
}

// runBench times every strategy of both convolution ops on one geometry and
// prints what the autotuner would pick.
func runBench(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	var (
		batch  = fs.Int("batch", 8, "batch size")
		cin    = fs.Int("cin", 32, "input channels")
		cout   = fs.Int("cout", 64, "output channels")
		size   = fs.Int("size", 56, "input height and width")
		kernel = fs.Int("kernel", 3, "kernel height and width")
		stride = fs.Int("stride", 1, "stride")
		pad    = fs.Int("pad", 1, "padding")
		groups = fs.Int("groups", 1, "groups")
		reps   = fs.Int("reps", 5, "repetitions per strategy")
		gpu    = fs.Bool("gpu", false, "use the WebGPU backend")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var backend tensor.Backend
	device := tensor.CPU
	if *gpu {
		b, err := webgpu.New()
		if err != nil {
			return err
		}
		defer b.Release()
		backend = b
		device = tensor.WebGPU
	} else {
		backend = cpu.New()
	}
	engine := conv.NewEngine(backend)

	input, err := tensor.Uniform(tensor.Shape{*batch, *cin, *size, *size}, tensor.Float32, device, -1, 1)
	if err != nil {
		return err
	}
	weight, err := tensor.Uniform(tensor.Shape{*cout, *cin / *groups, *kernel, *kernel}, tensor.Float32, device, -1, 1)
	if err != nil {
		return err
	}
	opts := conv.Options{
		Stride:   [2]int{*stride, *stride},
		Padding:  [2]int{*pad, *pad},
		Dilation: [2]int{1, 1},
		Groups:   *groups,
	}

	fmt.Printf("conv2d %dx%dx%dx%d * %dx%dx%dx%d (stride %d, pad %d, groups %d) on %s\n",
		*batch, *cin, *size, *size, *cout, *cin / *groups, *kernel, *kernel,
		*stride, *pad, *groups, backend.Name())

	best := ""
	var bestTime time.Duration
	for _, strategy := range []conv.Strategy{conv.StrategyDirect, conv.StrategyGemm} {
		elapsed, err := timeStrategy(engine, input, weight, opts, strategy, *reps)
		if err != nil {
			fmt.Printf("  %-8s failed: %v\n", strategy, err)
			continue
		}
		fmt.Printf("  %-8s %v\n", strategy, elapsed)
		if best == "" || elapsed < bestTime {
			best, bestTime = strategy.String(), elapsed
		}
	}
	if best != "" {
		fmt.Printf("winner: %s\n", best)
	}
	return nil
}

func timeStrategy(engine *conv.Engine, input, weight *tensor.RawTensor, opts conv.Options, strategy conv.Strategy, reps int) (time.Duration, error) {
	// Warm-up run, excluded from timing.
	out, err := engine.Conv2d(input, weight, nil, opts, strategy)
	if err != nil {
		return 0, err
	}
	out.Release()

	start := time.Now()
	for i := 0; i < reps; i++ {
		out, err := engine.Conv2d(input, weight, nil, opts, strategy)
		if err != nil {
			return 0, err
		}
		out.Release()
	}
	return time.Since(start) / time.Duration(reps), nil
}
