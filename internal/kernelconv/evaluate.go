// Package kernelconv implements the windowed kernel evaluator
// §4.3: a shared-memory parallel fill of one output tile from one input
// tile. The loop nest and zero-padding rule mirror apply_window/conv_openmp
// in conv_openmp.c; the worker partitioning mirrors its
// "#pragma omp parallel for schedule(static)" over a flattened (row,col)
// index space, translated into goroutines over a static row partition.
package kernelconv

import (
	"runtime"
	"sync"

	"github.com/xtaci/kconv/internal/convspec"
)

// Tile describes the absolute placement of an input or output buffer
// within the global matrix.
type Tile struct {
	// Data is row-major, Rows*spec.W (input) or Rows*spec.OutW (output)
	// floats long.
	Data []float32
	// OffsetRow is the absolute row index of Data[0].
	OffsetRow uint32
	// Rows is the number of rows held in Data.
	Rows uint32
}

// Workers is the number of goroutines Evaluate uses, 0 meaning
// runtime.GOMAXPROCS(0).
var Workers = 0

// Evaluate fills out.Data[r*outW+c] for r in [0,out.Rows), c in [0,spec.OutW)
// with the cross-correlation window centered at the absolute output
// position (r+out.OffsetRow, c), sampling in.Data via in.OffsetRow and
// zero-padding any position outside [0,spec.H)x[0,spec.W). Out-of-tile but
// in-global access (in.Data indices outside [0,in.Rows)) is a programming
// error: it indicates the Chunk Planner under-provisioned the halo, and
// Evaluate panics rather than silently reading garbage or another tile's
// memory.
func Evaluate(spec *convspec.Spec, in Tile, out Tile) {
	if out.Rows == 0 {
		return
	}

	workers := Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if uint32(workers) > out.Rows {
		workers = int(out.Rows)
	}
	if workers < 1 {
		workers = 1
	}

	rowsPerWorker := (out.Rows + uint32(workers) - 1) / uint32(workers)

	var (
		wg        sync.WaitGroup
		panicOnce sync.Once
		panicVal  any
	)
	for wIdx := 0; wIdx < workers; wIdx++ {
		rStart := uint32(wIdx) * rowsPerWorker
		if rStart >= out.Rows {
			break
		}
		rEnd := rStart + rowsPerWorker
		if rEnd > out.Rows {
			rEnd = out.Rows
		}

		wg.Add(1)
		go func(rStart, rEnd uint32) {
			defer wg.Done()
			// A worker's panic is handed back to Evaluate's caller below.
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicVal = r })
				}
			}()
			// Each worker holds its own copy of the kernel so its working
			// set stays resident in its own cache line set rather than
			// contending on the shared, immutable slice header.
			localKernel := make([]float32, len(spec.Kernel))
			copy(localKernel, spec.Kernel)
			evaluateRows(spec, in, out, localKernel, rStart, rEnd)
		}(rStart, rEnd)
	}
	wg.Wait()
	if panicVal != nil {
		panic(panicVal)
	}
}

func evaluateRows(spec *convspec.Spec, in, out Tile, kernel []float32, rStart, rEnd uint32) {
	halfH := int32(spec.KH-1) / 2
	halfW := int32(spec.KW-1) / 2

	for r := rStart; r < rEnd; r++ {
		outRowAbs := r + out.OffsetRow
		rowCenter := int32(outRowAbs)*int32(spec.SH) - halfH
		for c := uint32(0); c < spec.OutW; c++ {
			colCenter := int32(c)*int32(spec.SW) - halfW

			var sum float32
			for ki := uint32(0); ki < spec.KH; ki++ {
				i := rowCenter + int32(ki)
				if i < 0 || i >= int32(spec.H) {
					continue
				}
				localRow := i - int32(in.OffsetRow)
				if localRow < 0 || localRow >= int32(in.Rows) {
					panic("kernelconv: evaluator read outside its input tile; planner under-provisioned the halo")
				}
				for kj := uint32(0); kj < spec.KW; kj++ {
					j := colCenter + int32(kj)
					if j < 0 || j >= int32(spec.W) {
						continue
					}
					sample := in.Data[uint32(localRow)*spec.W+uint32(j)]
					sum += sample * kernel[ki*spec.KW+kj]
				}
			}
			out.Data[r*spec.OutW+c] = sum
		}
	}
}
