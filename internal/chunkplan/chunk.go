// Package chunkplan converts a participant's assigned output-row range into
// the sequence of Chunk descriptors the streaming pipeline consumes,
// The planner is a pure iterator: it allocates
// nothing beyond the descriptors themselves, mirroring build_chunk in
// conv_mpi.c.
package chunkplan

import "github.com/xtaci/kconv/internal/convspec"

// Chunk is a contiguous output-row span processed as one pipeline unit,
// together with the halo-aware input row span and absolute byte offsets
// needed to read/write it.
type Chunk struct {
	ChunkStart     uint32
	ChunkEnd       uint32
	ChunkOutH      uint32
	InputRowStart  uint32
	NumInputRows   uint32
	InputOffset    int64
	OutputOffset   int64
}

// Planner emits Chunks for a participant's [rowStart, rowEnd) output range,
// chunkRows output rows at a time.
type Planner struct {
	spec       *convspec.Spec
	rowStart   uint32
	rowEnd     uint32
	chunkRows  uint32
	next       uint32
}

// NewPlanner constructs a Planner over [rowStart, rowEnd) of output rows.
func NewPlanner(spec *convspec.Spec, rowStart, rowEnd, chunkRows uint32) *Planner {
	if chunkRows == 0 {
		chunkRows = 1
	}
	return &Planner{spec: spec, rowStart: rowStart, rowEnd: rowEnd, chunkRows: chunkRows, next: rowStart}
}

// ChunkRows returns the configured output-rows-per-chunk size.
func (p *Planner) ChunkRows() uint32 {
	return p.chunkRows
}

// Done reports whether every output row in the assigned range has been
// emitted.
func (p *Planner) Done() bool {
	return p.next >= p.rowEnd
}

// Remaining returns the number of chunks still to be emitted.
func (p *Planner) Remaining() uint32 {
	if p.Done() {
		return 0
	}
	span := p.rowEnd - p.next
	return (span + p.chunkRows - 1) / p.chunkRows
}

// Total returns the total number of chunks this planner will emit across
// its whole lifetime (independent of how many have already been consumed).
func (p *Planner) Total() uint32 {
	if p.rowEnd <= p.rowStart {
		return 0
	}
	span := p.rowEnd - p.rowStart
	return (span + p.chunkRows - 1) / p.chunkRows
}

// Next builds and returns the next Chunk, advancing the planner's cursor.
// Callers must check Done() first.
func (p *Planner) Next() Chunk {
	start := p.next
	end := start + p.chunkRows
	if end > p.rowEnd {
		end = p.rowEnd
	}
	p.next = end

	inStart, inCount := convspec.InputRowsForOutputRange(start, end, p.spec.SH, p.spec.KH, p.spec.H)

	return Chunk{
		ChunkStart:    start,
		ChunkEnd:      end,
		ChunkOutH:     end - start,
		InputRowStart: inStart,
		NumInputRows:  inCount,
		InputOffset:   8 + int64(inStart)*int64(p.spec.W)*4,
		OutputOffset:  8 + int64(start)*int64(p.spec.OutW)*4,
	}
}
