// Package engine is the top-level participant coordinator:
// it drives one participant through dimension/kernel agreement, budget and
// chunk-size derivation, partition assignment, and the streaming pipeline,
// against whichever group.Group (Local or Net) it is given. This is the Go
// analogue of main.c's post-CLI-parsing body plus conv_mpi.c's outer
// MPI_Bcast/MPI_Barrier choreography, minus the C file's CLI and
// txt-conversion concerns, which live in cmd/kconv-run and cmd/kconv-node.
package engine

import (
	"github.com/pkg/errors"

	"github.com/xtaci/kconv/internal/budget"
	"github.com/xtaci/kconv/internal/chunkplan"
	"github.com/xtaci/kconv/internal/convspec"
	"github.com/xtaci/kconv/internal/group"
	"github.com/xtaci/kconv/internal/matrixfile"
	"github.com/xtaci/kconv/internal/pipeline"
)

// Config is one participant's view of a run. Only rank 0 needs Dims and
// Kernel populated meaningfully; every other field, InputPath and
// OutputPath included, is required on every rank.
type Config struct {
	Dims       group.Dims
	Kernel     []float32 // only meaningful on rank 0; may be nil elsewhere
	InputPath  string
	OutputPath string

	// GlobalBudgetBytes is the whole cluster's memory allowance; engine
	// divides it evenly across Group.Size() participants.
	GlobalBudgetBytes int64

	Group group.Group
	Log   pipeline.Logger
}

// Result summarizes one participant's share of a finished run.
type Result struct {
	Spec        convspec.Spec
	RowStart    uint32
	RowEnd      uint32
	ChunkRows   uint32
	ChunksTotal uint32
}

// Run executes one participant's full lifecycle: agree on dims and kernel,
// derive this rank's chunk size and row partition, open the shared files,
// and stream every assigned chunk through the pipeline. Every participant
// must call Run with a Group built over the same Size and a consistent
// InputPath/OutputPath (the Group itself only actually reads Dims/Kernel
// from rank 0; see group.Group.BroadcastDims/BroadcastKernel).
func Run(cfg Config) (Result, error) {
	g := cfg.Group
	rank := g.Rank()
	size := g.Size()

	dims, err := g.BroadcastDims(cfg.Dims)
	if err != nil {
		return Result{}, errors.Wrap(err, "agree on dimensions")
	}

	kernel, err := g.BroadcastKernel(cfg.Kernel)
	if err != nil {
		return Result{}, errors.Wrap(err, "agree on kernel")
	}

	spec := convspec.New(dims.H, dims.W, dims.KH, dims.KW, dims.SH, dims.SW, kernel)

	if err := g.Barrier("dims-kernel-agreed"); err != nil {
		return Result{}, errors.Wrap(err, "barrier after dims/kernel agreement")
	}

	perParticipant := budget.PerParticipant(cfg.GlobalBudgetBytes, size)
	chunkRows := convspec.ChunkRows(spec.W, spec.OutW, spec.KH, spec.KW, spec.SH, perParticipant)

	rowStart, rowEnd := group.Partition(spec.OutH, size, rank)

	in, err := g.OpenInput(cfg.InputPath)
	if err != nil {
		return Result{}, errors.Wrap(err, "open input matrix")
	}
	defer in.Close()

	if in.H != spec.H || in.W != spec.W {
		return Result{}, errors.Errorf("engine: input file is %dx%d, dims agreed %dx%d", in.H, in.W, spec.H, spec.W)
	}

	out, err := g.CreateOrOpenOutput(cfg.OutputPath, spec.OutH, spec.OutW, rank == 0)
	if err != nil {
		return Result{}, errors.Wrap(err, "open output matrix")
	}
	defer out.Close()

	if err := g.Barrier("files-ready"); err != nil {
		return Result{}, errors.Wrap(err, "barrier after output file handoff")
	}

	planner := chunkplan.NewPlanner(&spec, rowStart, rowEnd, chunkRows)
	total := planner.Total()

	p := &pipeline.Pipeline{
		Spec: &spec,
		In:   (*fileReader)(in),
		Out:  (*fileWriter)(out),
		Rank: rank,
		Log:  cfg.Log,
	}

	if err := p.Run(planner); err != nil {
		return Result{}, errors.Wrapf(err, "rank %d: pipeline run", rank)
	}

	if err := g.Barrier("run-complete"); err != nil {
		return Result{}, errors.Wrap(err, "barrier after run completion")
	}

	return Result{
		Spec:        spec,
		RowStart:    rowStart,
		RowEnd:      rowEnd,
		ChunkRows:   chunkRows,
		ChunksTotal: total,
	}, nil
}

// fileReader/fileWriter adapt *matrixfile.File's absolute-row-index
// ReadRows/WriteRows to pipeline.Reader/Writer without introducing an
// extra allocation or indirection layer; the method sets already match.
type fileReader matrixfile.File
type fileWriter matrixfile.File

func (r *fileReader) ReadRows(rowStart, rowCount uint32, out []float32) error {
	return (*matrixfile.File)(r).ReadRows(rowStart, rowCount, out)
}

func (w *fileWriter) WriteRows(rowStart, rowCount uint32, buf []float32) error {
	return (*matrixfile.File)(w).WriteRows(rowStart, rowCount, buf)
}
