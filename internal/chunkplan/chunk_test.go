package chunkplan

import (
	"testing"

	"github.com/xtaci/kconv/internal/convspec"
)

func TestPlannerCoversRangeExactly(t *testing.T) {
	spec := convspec.New(10, 4, 3, 3, 1, 1, make([]float32, 9))
	p := NewPlanner(&spec, 2, 9, 3)

	var chunks []Chunk
	for !p.Done() {
		chunks = append(chunks, p.Next())
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[0].ChunkStart != 2 || chunks[0].ChunkEnd != 5 {
		t.Fatalf("chunk 0 = %+v", chunks[0])
	}
	if chunks[1].ChunkStart != 5 || chunks[1].ChunkEnd != 8 {
		t.Fatalf("chunk 1 = %+v", chunks[1])
	}
	if chunks[2].ChunkStart != 8 || chunks[2].ChunkEnd != 9 {
		t.Fatalf("chunk 2 = %+v", chunks[2])
	}

	// coverage must be contiguous and exactly [2,9)
	row := uint32(2)
	for _, c := range chunks {
		if c.ChunkStart != row {
			t.Fatalf("gap or overlap before chunk %+v, expected start %d", c, row)
		}
		row = c.ChunkEnd
	}
	if row != 9 {
		t.Fatalf("chunks cover up to %d, want 9", row)
	}
}

func TestPlannerHaloMath(t *testing.T) {
	spec := convspec.New(5, 1, 3, 1, 1, 1, []float32{1, 1, 1})
	p := NewPlanner(&spec, 0, 5, 5)
	c := p.Next()
	if c.InputRowStart != 0 || c.NumInputRows != 5 {
		t.Fatalf("chunk = %+v, want input rows [0,5)", c)
	}
	if c.InputOffset != 8 || c.OutputOffset != 8 {
		t.Fatalf("chunk offsets = %d,%d want 8,8", c.InputOffset, c.OutputOffset)
	}
}

func TestPlannerEmptyRange(t *testing.T) {
	spec := convspec.New(5, 1, 1, 1, 1, 1, []float32{1})
	p := NewPlanner(&spec, 3, 3, 2)
	if !p.Done() {
		t.Fatal("expected planner over empty range to be immediately done")
	}
	if p.Total() != 0 {
		t.Fatalf("Total() = %d, want 0", p.Total())
	}
}

func TestPlannerSingleChunkCoversWholeRange(t *testing.T) {
	spec := convspec.New(100, 10, 5, 5, 1, 1, make([]float32, 25))
	p := NewPlanner(&spec, 0, 100, 1_000_000)
	if p.Total() != 1 {
		t.Fatalf("Total() = %d, want 1", p.Total())
	}
	c := p.Next()
	if c.ChunkStart != 0 || c.ChunkEnd != 100 {
		t.Fatalf("chunk = %+v", c)
	}
	if !p.Done() {
		t.Fatal("expected planner to be done after a single all-covering chunk")
	}
}
