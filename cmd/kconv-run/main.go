// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command kconv-run is the single-host entry point: it spins up N
// goroutine participants sharing one process and memory space, the
// group.Local path through internal/engine.
package main

import (
	"log"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/xtaci/kconv/internal/budget"
	"github.com/xtaci/kconv/internal/cliargs"
	"github.com/xtaci/kconv/internal/engine"
	"github.com/xtaci/kconv/internal/genmatrix"
	"github.com/xtaci/kconv/internal/group"
	"github.com/xtaci/kconv/internal/matrixfile"
	"github.com/xtaci/kconv/internal/telemetry"
	"github.com/xtaci/kconv/internal/tempfiles"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "kconv-run"
	myApp.Usage = "single-host streaming convolution engine"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{Name: "height,H", Value: -1, Usage: "input matrix height (required if no -input)"},
		cli.IntFlag{Name: "width,W", Value: -1, Usage: "input matrix width (required if no -input)"},
		cli.IntFlag{Name: "kernel-height,kH", Value: -1, Usage: "kernel height (required if no -kernel)"},
		cli.IntFlag{Name: "kernel-width,kW", Value: -1, Usage: "kernel width (required if no -kernel)"},
		cli.IntFlag{Name: "stride-height,sH", Value: 1, Usage: "vertical stride"},
		cli.IntFlag{Name: "stride-width,sW", Value: 1, Usage: "horizontal stride"},
		cli.StringFlag{Name: "input,f", Usage: "input matrix file (.txt or .bin)"},
		cli.StringFlag{Name: "kernel,g", Usage: "kernel file (.txt or .bin)"},
		cli.StringFlag{Name: "output,o", Usage: "output file"},
		cli.Float64Flag{Name: "memory,M", Value: budget.DefaultGlobalGiB, Usage: "memory budget in GiB"},
		cli.IntFlag{Name: "participants,n", Value: 1, Usage: "number of participants (goroutines)"},
		cli.StringFlag{Name: "telemetry-csv", Usage: "optional CSV trace path for per-chunk stats"},
	}

	myApp.Action = func(c *cli.Context) error {
		args := cliargs.New()
		args.H = c.Int("height")
		args.W = c.Int("width")
		args.KH = c.Int("kernel-height")
		args.KW = c.Int("kernel-width")
		args.SH = c.Int("stride-height")
		args.SW = c.Int("stride-width")
		args.InputFile = c.String("input")
		args.KernelFile = c.String("kernel")
		args.OutputFile = c.String("output")
		args.MemoryGB = c.Float64("memory")
		args.ResolveEnv()

		if err := args.Validate(); err != nil {
			return err
		}

		n := c.Int("participants")
		if n < 1 {
			n = 1
		}

		staging, err := tempfiles.NewStaging()
		if err != nil {
			return err
		}
		defer staging.Cleanup()

		inPath, h, w, err := resolveInput(args, staging)
		if err != nil {
			return err
		}
		args.H, args.W = int(h), int(w)

		kernel, kh, kw, err := resolveKernel(args, staging)
		if err != nil {
			return err
		}

		convertToText := args.ConvertText && !strings.HasSuffix(args.OutputFile, ".bin")
		outPath := args.OutputFile
		if convertToText {
			outPath = staging.Path("output")
		}

		globalBudget := budget.GlobalBytes(args.MemoryGB)

		members := group.NewLocalGroup(n)
		reporters := make([]*telemetry.Reporter, n)
		for i := range reporters {
			r, err := telemetry.NewReporter(i, c.String("telemetry-csv"))
			if err != nil {
				return err
			}
			reporters[i] = r
		}

		var wg sync.WaitGroup
		errs := make([]error, n)
		for i, m := range members {
			wg.Add(1)
			go func(i int, m *group.Local) {
				defer wg.Done()
				cfg := engine.Config{
					InputPath:         inPath,
					OutputPath:        outPath,
					GlobalBudgetBytes: globalBudget,
					Group:             m,
					Log:               reporters[i].Log,
				}
				if m.Rank() == 0 {
					cfg.Dims = group.Dims{
						H: h, W: w, KH: kh, KW: kw,
						SH: uint32(args.SH), SW: uint32(args.SW),
					}
					cfg.Kernel = kernel
				}
				_, err := engine.Run(cfg)
				errs[i] = err
				if err != nil {
					telemetry.Fail(m.Rank(), err)
				} else {
					reporters[i].Summary()
				}
			}(i, m)
		}
		wg.Wait()

		for i := range reporters {
			reporters[i].Close()
		}
		for _, err := range errs {
			if err != nil {
				return err
			}
		}

		if convertToText {
			if err := matrixfile.ConvertBinaryToText(outPath, args.OutputFile, 8192); err != nil {
				return errors.Wrap(err, "convert output to text")
			}
		}

		color.Green("kconv-run: done, output written to %s", args.OutputFile)
		return nil
	}

	if err := myApp.Run(os.Args); err != nil {
		color.Red("kconv-run: %v", err)
		os.Exit(1)
	}
}

// resolveInput converts a .txt input to .bin under staging if needed,
// generates a seeded matrix when no input file was given at all, and
// returns the binary path plus its dimensions.
func resolveInput(args cliargs.Args, staging *tempfiles.Staging) (path string, h, w uint32, err error) {
	in := args.InputFile
	if in != "" && cliargs.HasTextSuffix(in) {
		binPath := staging.Path("input")
		if err := matrixfile.ConvertTextToBinary(in, binPath, 8192); err != nil {
			return "", 0, 0, errors.Wrap(err, "convert input to binary")
		}
		in = binPath
	}

	if in != "" {
		mf, err := matrixfile.OpenRead(in)
		if err != nil {
			return "", 0, 0, err
		}
		h, w = mf.Dims()
		mf.Close()
		return in, h, w, nil
	}

	if args.H <= 0 || args.W <= 0 {
		return "", 0, 0, errors.New("kconv-run: input size invalid or missing (-H/-W or -f)")
	}
	h, w = uint32(args.H), uint32(args.W)
	genPath := staging.Path("input")
	if err := genmatrix.Matrix(genPath, h, w, 1234); err != nil {
		return "", 0, 0, err
	}
	return genPath, h, w, nil
}

// resolveKernel mirrors main.c's fallback chain: an explicit kernel file
// (converting .txt as needed), otherwise a 1x1 identity kernel when no
// kernel source was given at all, otherwise a seeded random kernel of the
// given dimensions.
func resolveKernel(args cliargs.Args, staging *tempfiles.Staging) (kernel []float32, kh, kw uint32, err error) {
	if args.KernelFile != "" {
		path := args.KernelFile
		if cliargs.HasTextSuffix(path) {
			binPath := staging.Path("kernel")
			if err := matrixfile.ConvertTextToBinary(path, binPath, 8192); err != nil {
				return nil, 0, 0, errors.Wrap(err, "convert kernel to binary")
			}
			path = binPath
		}
		mf, err := matrixfile.OpenRead(path)
		if err != nil {
			return nil, 0, 0, err
		}
		defer mf.Close()
		h, w := mf.Dims()
		buf := make([]float32, h*w)
		if err := mf.ReadRows(0, h, buf); err != nil {
			return nil, 0, 0, err
		}
		return buf, h, w, nil
	}

	if args.NeedsIdentityKernel() {
		color.Yellow("kconv-run: no kernel file or dimensions provided, assuming 1x1 identity kernel")
		return []float32{1}, 1, 1, nil
	}

	kh, kw = uint32(args.KH), uint32(args.KW)
	return genmatrix.Kernel(kh, kw, 2025), kh, kw, nil
}
