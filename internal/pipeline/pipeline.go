// Package pipeline implements the per-participant double-buffered
// streaming loop: two input tiles, two output tiles, and
// async read/write tickets overlapping I/O with compute. The slot state
// machine mirrors conv_mpi.c's use of MPI_File_iread_at/iwrite_at with a
// two-element Chunk/request array; here "nonblocking I/O" is a goroutine
// reporting onto a done channel rather than an MPI_Request.
package pipeline

import (
	"time"

	"github.com/pkg/errors"

	"github.com/xtaci/kconv/internal/chunkplan"
	"github.com/xtaci/kconv/internal/convspec"
	"github.com/xtaci/kconv/internal/kernelconv"
)

// Reader is the read half of the file capability the pipeline needs.
type Reader interface {
	ReadRows(rowStart, rowCount uint32, out []float32) error
}

// Writer is the write half of the file capability the pipeline needs.
type Writer interface {
	WriteRows(rowStart, rowCount uint32, buf []float32) error
}

// ChunkStats describes one completed chunk, for stdout telemetry.
type ChunkStats struct {
	Rank         int
	ChunkIndex   uint32
	ChunkTotal   uint32
	OutRowStart  uint32
	OutRowEnd    uint32
	InputRows    uint32
	TileMiB      float64
	IOTime       time.Duration
	ComputeTime  time.Duration
	Total        time.Duration
}

// Logger receives one ChunkStats per completed chunk.
type Logger func(ChunkStats)

// Pipeline drives the read/compute/write state machine for one
// participant's assigned output-row range.
type Pipeline struct {
	Spec    *convspec.Spec
	In      Reader
	Out     Writer
	Rank    int
	Log     Logger

	maxInputElems  int
	maxOutputElems int
}

// ticket reports the outcome of one asynchronous I/O operation.
type ticket struct {
	done chan error
}

func newTicket() ticket {
	return ticket{done: make(chan error, 1)}
}

func (t ticket) wait() error {
	if t.done == nil {
		return nil
	}
	return <-t.done
}

// Run drives the planner to completion, filling the output file with the
// convolution of every chunk in [rowStart, rowEnd).
func (p *Pipeline) Run(planner *chunkplan.Planner) error {
	total := planner.Total()
	if total == 0 {
		return nil
	}

	maxInputRows := chunkMaxInputRows(p.Spec, planner)
	p.maxInputElems = int(maxInputRows) * int(p.Spec.W)
	p.maxOutputElems = int(chunkMaxOutputRows(planner)) * int(p.Spec.OutW)
	if p.maxOutputElems == 0 {
		p.maxOutputElems = int(p.Spec.OutW)
	}

	var inBuf [2][]float32
	var outBuf [2][]float32
	for i := 0; i < 2; i++ {
		inBuf[i] = make([]float32, p.maxInputElems)
		outBuf[i] = make([]float32, p.maxOutputElems)
	}

	var chunks [2]chunkplan.Chunk
	var readTix [2]ticket
	var writeTix [2]ticket

	slot := 0
	completed := uint32(0)

	// Prologue: schedule the first chunk's read.
	chunks[slot] = planner.Next()
	if err := p.checkFits(chunks[slot]); err != nil {
		return err
	}
	readTix[slot] = p.issueRead(chunks[slot], inBuf[slot])

	for completed < total {
		tIOStart := time.Now()
		if err := readTix[slot].wait(); err != nil {
			return errors.Wrapf(err, "rank %d: read chunk rows [%d,%d)", p.Rank, chunks[slot].ChunkStart, chunks[slot].ChunkEnd)
		}
		ioWait := time.Now().Sub(tIOStart)

		chunk := chunks[slot]
		tCompute := time.Now()
		kernelconv.Evaluate(p.Spec, kernelconv.Tile{
			Data:      inBuf[slot][:int(chunk.NumInputRows)*int(p.Spec.W)],
			OffsetRow: chunk.InputRowStart,
			Rows:      chunk.NumInputRows,
		}, kernelconv.Tile{
			Data:      outBuf[slot][:int(chunk.ChunkOutH)*int(p.Spec.OutW)],
			OffsetRow: chunk.ChunkStart,
			Rows:      chunk.ChunkOutH,
		})
		computeTime := time.Now().Sub(tCompute)

		writeTix[slot] = p.issueWrite(chunk, outBuf[slot][:int(chunk.ChunkOutH)*int(p.Spec.OutW)])
		completed++

		if !planner.Done() {
			nextSlot := slot ^ 1
			if writeTix[nextSlot].done != nil {
				if err := writeTix[nextSlot].wait(); err != nil {
					return errors.Wrapf(err, "rank %d: write chunk rows [%d,%d)", p.Rank, chunks[nextSlot].ChunkStart, chunks[nextSlot].ChunkEnd)
				}
				writeTix[nextSlot].done = nil
			}
			chunks[nextSlot] = planner.Next()
			if err := p.checkFits(chunks[nextSlot]); err != nil {
				return err
			}
			readTix[nextSlot] = p.issueRead(chunks[nextSlot], inBuf[nextSlot])
		}

		if p.Log != nil {
			tileBytes := (int(chunk.NumInputRows)*int(p.Spec.W) + int(chunk.ChunkOutH)*int(p.Spec.OutW)) * 4
			p.Log(ChunkStats{
				Rank:        p.Rank,
				ChunkIndex:  completed,
				ChunkTotal:  total,
				OutRowStart: chunk.ChunkStart,
				OutRowEnd:   chunk.ChunkEnd,
				InputRows:   chunk.NumInputRows,
				TileMiB:     float64(tileBytes) / (1 << 20),
				IOTime:      ioWait,
				ComputeTime: computeTime,
				Total:       ioWait + computeTime,
			})
		}

		slot ^= 1
	}

	// Epilogue: wait on any pending write ticket in either slot. The loop
	// above only drains the other slot's write before reusing it, so the
	// very last chunk's write is still outstanding here regardless of
	// which slot it landed in.
	for i := range writeTix {
		if writeTix[i].done != nil {
			if err := writeTix[i].wait(); err != nil {
				return errors.Wrapf(err, "rank %d: final write drain", p.Rank)
			}
			writeTix[i].done = nil
		}
	}
	return nil
}

func (p *Pipeline) checkFits(c chunkplan.Chunk) error {
	need := int(c.NumInputRows) * int(p.Spec.W)
	if need > p.maxInputElems {
		return errors.Errorf("rank %d: input tile too small (%d > %d): planner bug", p.Rank, need, p.maxInputElems)
	}
	needOut := int(c.ChunkOutH) * int(p.Spec.OutW)
	if needOut > p.maxOutputElems {
		return errors.Errorf("rank %d: output tile too small (%d > %d): planner bug", p.Rank, needOut, p.maxOutputElems)
	}
	return nil
}

func (p *Pipeline) issueRead(c chunkplan.Chunk, buf []float32) ticket {
	t := newTicket()
	go func() {
		t.done <- p.In.ReadRows(c.InputRowStart, c.NumInputRows, buf)
	}()
	return t
}

func (p *Pipeline) issueWrite(c chunkplan.Chunk, buf []float32) ticket {
	t := newTicket()
	go func() {
		t.done <- p.Out.WriteRows(c.ChunkStart, c.ChunkOutH, buf)
	}()
	return t
}

// chunkMaxInputRows bounds how many input rows any chunk this planner will
// emit can need, for worst-case tile sizing.
func chunkMaxInputRows(spec *convspec.Spec, planner *chunkplan.Planner) uint32 {
	// worst case: chunkRows output rows times stride, plus the kernel's
	// full height, clamped to H.
	cr := planner.ChunkRows()
	max := cr*spec.SH + spec.KH
	if max > spec.H {
		max = spec.H
	}
	return max
}

func chunkMaxOutputRows(planner *chunkplan.Planner) uint32 {
	return planner.ChunkRows()
}
