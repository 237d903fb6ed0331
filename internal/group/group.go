// Package group implements the participant coordinator: the collective
// layer that agrees on a ConvSpec, opens shared files, writes the output
// header exactly once, and barriers the group through the phases of a run.
// Two implementations satisfy the Group interface: Local (single process, N
// goroutines, shared memory) and Net (one process per participant, a
// kcp-go+smux control plane, shared filesystem for file I/O) — see
// local.go and net.go.
package group

import (
	"github.com/xtaci/kconv/internal/matrixfile"
)

// Dims is the wire-shape of the dimension fields every participant must
// agree on before the first Chunk is processed.
type Dims struct {
	H, W   uint32
	KH, KW uint32
	SH, SW uint32
}

// Group is the collective capability a Participant Coordinator needs:
// agreeing on configuration, barriering, and opening shared matrix files.
type Group interface {
	// Rank returns this participant's identity index in [0, Size()).
	Rank() int
	// Size returns the group's participant count N.
	Size() int

	// BroadcastDims distributes rank 0's dims to every participant and
	// returns the agreed value (including to rank 0 itself).
	BroadcastDims(dims Dims) (Dims, error)

	// BroadcastKernel distributes rank 0's kernel bytes to every
	// participant so every rank observes bit-identical data before
	// returning (Net verifies a fingerprint of what it received; Local
	// copies from shared memory). Non-rank-0 callers should pass nil.
	BroadcastKernel(kernel []float32) ([]float32, error)

	// Barrier blocks until every participant has called Barrier with the
	// same name for the current phase.
	Barrier(phase string) error

	// OpenInput opens path read-only, return value shared per rank's own
	// handle (a collective open).
	OpenInput(path string) (*matrixfile.File, error)

	// CreateOrOpenOutput ensures the output file exists with the given
	// dimensions. Exactly one participant (rank 0) actually creates it and
	// writes the header; others open the file once rank 0
	// signals it is ready, via a group barrier taken inside this call.
	CreateOrOpenOutput(path string, h, w uint32, isCreator bool) (*matrixfile.File, error)

	// Close releases any group-wide resources (network sessions, etc).
	Close() error
}

// Partition computes participant r's assigned output-row range out of
// outH total rows split across n participants:
// rows_per_participant = ceil(outH/n).
func Partition(outH uint32, n, r int) (rowStart, rowEnd uint32) {
	if n <= 0 {
		n = 1
	}
	rowsPer := (outH + uint32(n) - 1) / uint32(n)
	start := uint32(r) * rowsPer
	end := start + rowsPer
	if start > outH {
		start = outH
	}
	if end > outH {
		end = outH
	}
	return start, end
}
