// Package genmatrix creates seeded random matrix and kernel files for
// benchmarking and testing, grounded on generate.c's chunked rand()%101/100
// population: uniform values on a 0.01 grid in [0,1], written in row
// batches rather than one float at a time.
package genmatrix

import (
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/xtaci/kconv/internal/matrixfile"
)

// rowChunk bounds how many floats are buffered in memory per batch (never
// less than one whole row; see rowsPerBatch), mirroring
// generate.c's fixed-size scratch buffer (there: 10000 floats at a time).
const rowChunk = 2000

// Matrix creates path as an h x w binary matrix file, filling it with
// values uniform on a 0.01 grid in [0,1] drawn from a seeded generator, so
// a given seed always reproduces the same data.
func Matrix(path string, h, w uint32, seed uint64) error {
	mf, err := matrixfile.Create(path, h, w)
	if err != nil {
		return err
	}
	defer mf.Close()

	src := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	buf := make([]float32, 0, int(w)*rowsPerBatch(w))

	for row := uint32(0); row < h; {
		batch := rowsPerBatch(w)
		if row+batch > h {
			batch = h - row
		}
		buf = buf[:0]
		for i := uint32(0); i < batch*w; i++ {
			buf = append(buf, randStep(src))
		}
		if err := mf.WriteRows(row, batch, buf); err != nil {
			return errors.Wrapf(err, "write generated rows [%d,%d)", row, row+batch)
		}
		row += batch
	}
	return nil
}

// Kernel returns a kh*kw kernel of values on the same 0.01 grid in [0,1],
// for use as a synthetic convolution kernel in benchmarks.
func Kernel(kh, kw uint32, seed uint64) []float32 {
	src := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]float32, kh*kw)
	for i := range out {
		out[i] = randStep(src)
	}
	return out
}

func rowsPerBatch(w uint32) uint32 {
	if w == 0 {
		return rowChunk
	}
	rows := rowChunk / w
	if rows == 0 {
		rows = 1
	}
	return rows
}

func randStep(src *rand.Rand) float32 {
	step := src.IntN(101)
	return float32(step) / 100.0
}
