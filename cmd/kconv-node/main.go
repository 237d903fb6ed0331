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

// Command kconv-node is the multi-host entry point: one process per
// cluster member, rank 0 hosting the control-plane rendezvous and every
// other rank dialing in, via the group.Net path through internal/engine.
// Every rank must already see the same input/output paths on a shared
// filesystem; kconv-node never ships matrix bytes over the network itself.
package main

import (
	"log"
	"os"

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
)

var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "kconv-node"
	myApp.Usage = "multi-host streaming convolution engine node"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{Name: "rank", Usage: "this participant's rank (0 is the coordinator)"},
		cli.IntFlag{Name: "size", Usage: "total participant count"},
		cli.StringFlag{Name: "listen", Value: ":29900", Usage: "rank 0's control-plane listen address"},
		cli.StringFlag{Name: "coordinator", Usage: "rank 0's address, used by every other rank"},
		cli.StringFlag{Name: "secret", EnvVar: "KCONV_SECRET", Usage: "pre-shared control-plane secret"},
		cli.IntFlag{Name: "datashard,ds", Value: 10, Usage: "reed-solomon erasure coding datashard"},
		cli.IntFlag{Name: "parityshard,ps", Value: 3, Usage: "reed-solomon erasure coding parityshard"},

		cli.IntFlag{Name: "height,H", Value: -1, Usage: "input matrix height (rank 0 only, required if no -input)"},
		cli.IntFlag{Name: "width,W", Value: -1, Usage: "input matrix width (rank 0 only, required if no -input)"},
		cli.IntFlag{Name: "kernel-height,kH", Value: -1, Usage: "kernel height (rank 0 only)"},
		cli.IntFlag{Name: "kernel-width,kW", Value: -1, Usage: "kernel width (rank 0 only)"},
		cli.IntFlag{Name: "stride-height,sH", Value: 1, Usage: "vertical stride"},
		cli.IntFlag{Name: "stride-width,sW", Value: 1, Usage: "horizontal stride"},
		cli.StringFlag{Name: "input,f", Usage: "input matrix file on the shared filesystem (every rank)"},
		cli.StringFlag{Name: "kernel,g", Usage: "kernel file on the shared filesystem (rank 0 only)"},
		cli.StringFlag{Name: "output,o", Usage: "output file on the shared filesystem"},
		cli.Float64Flag{Name: "memory,M", Value: budget.DefaultGlobalGiB, Usage: "cluster-wide memory budget in GiB"},
		cli.StringFlag{Name: "telemetry-csv", Usage: "optional CSV trace path for per-chunk stats"},
	}

	myApp.Action = func(c *cli.Context) error {
		rank := c.Int("rank")
		size := c.Int("size")
		if size < 1 {
			return errors.New("kconv-node: -size must be at least 1")
		}
		if rank < 0 || rank >= size {
			return errors.Errorf("kconv-node: -rank must be in [0,%d)", size)
		}
		if rank != 0 && c.String("coordinator") == "" {
			return errors.New("kconv-node: non-zero ranks require -coordinator")
		}

		net, err := group.DialNet(group.NetConfig{
			Rank:            rank,
			Size:            size,
			ListenAddr:      c.String("listen"),
			CoordinatorAddr: c.String("coordinator"),
			Secret:          c.String("secret"),
			DataShard:       c.Int("datashard"),
			ParityShard:     c.Int("parityshard"),
		})
		if err != nil {
			return errors.Wrap(err, "establish control plane")
		}
		defer net.Close()

		cfg := engine.Config{
			OutputPath:        c.String("output"),
			GlobalBudgetBytes: budget.GlobalBytes(c.Float64("memory")),
			Group:             net,
		}

		reporter, err := telemetry.NewReporter(rank, c.String("telemetry-csv"))
		if err != nil {
			return err
		}
		defer reporter.Close()
		cfg.Log = reporter.Log

		if rank == 0 {
			args := cliargs.New()
			args.H, args.W = c.Int("height"), c.Int("width")
			args.KH, args.KW = c.Int("kernel-height"), c.Int("kernel-width")
			args.SH, args.SW = c.Int("stride-height"), c.Int("stride-width")
			args.InputFile = c.String("input")
			args.KernelFile = c.String("kernel")
			args.OutputFile = c.String("output")

			inPath, h, w, err := resolveInput(args)
			if err != nil {
				return err
			}
			cfg.InputPath = inPath

			kernel, kh, kw, err := resolveKernel(args)
			if err != nil {
				return err
			}

			cfg.Dims = group.Dims{H: h, W: w, KH: kh, KW: kw, SH: uint32(args.SH), SW: uint32(args.SW)}
			cfg.Kernel = kernel
		} else {
			cfg.InputPath = c.String("input")
		}

		_, err = engine.Run(cfg)
		if err != nil {
			telemetry.Fail(rank, err)
			return err
		}
		reporter.Summary()
		if rank == 0 {
			color.Green("kconv-node: done, output written to %s", cfg.OutputPath)
		}
		return nil
	}

	if err := myApp.Run(os.Args); err != nil {
		color.Red("kconv-node: %v", err)
		os.Exit(1)
	}
}

func resolveInput(args cliargs.Args) (path string, h, w uint32, err error) {
	if args.InputFile == "" {
		if args.H <= 0 || args.W <= 0 {
			return "", 0, 0, errors.New("kconv-node: input size invalid or missing (-H/-W or -f)")
		}
		return "", 0, 0, errors.New("kconv-node: generated-input mode is not supported across hosts, provide -f on a shared filesystem")
	}
	mf, err := matrixfile.OpenRead(args.InputFile)
	if err != nil {
		return "", 0, 0, err
	}
	defer mf.Close()
	h, w = mf.Dims()
	return args.InputFile, h, w, nil
}

func resolveKernel(args cliargs.Args) (kernel []float32, kh, kw uint32, err error) {
	if args.KernelFile != "" {
		mf, err := matrixfile.OpenRead(args.KernelFile)
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
		color.Yellow("kconv-node: no kernel file or dimensions provided, assuming 1x1 identity kernel")
		return []float32{1}, 1, 1, nil
	}

	kh, kw = uint32(args.KH), uint32(args.KW)
	return genmatrix.Kernel(kh, kw, 2025), kh, kw, nil
}
