package convspec

import "testing"

func TestOutputDims(t *testing.T) {
	cases := []struct {
		h, w, kh, kw, sh, sw   uint32
		wantOutH, wantOutW uint32
	}{
		{1, 1, 1, 1, 1, 1, 1, 1},
		{3, 3, 3, 3, 1, 1, 3, 3},
		{4, 4, 3, 3, 2, 2, 2, 2},
		{5, 1, 3, 1, 1, 1, 5, 1},
		{1000, 1000, 5, 5, 1, 1, 1000, 1000},
		{10, 7, 9, 9, 3, 2, 4, 4},
	}
	for _, c := range cases {
		outH, outW := OutputDims(c.h, c.w, c.kh, c.kw, c.sh, c.sw)
		if outH != c.wantOutH || outW != c.wantOutW {
			t.Errorf("OutputDims(%d,%d,%d,%d,%d,%d) = (%d,%d), want (%d,%d)",
				c.h, c.w, c.kh, c.kw, c.sh, c.sw, outH, outW, c.wantOutH, c.wantOutW)
		}
	}
}

func TestHaloRows(t *testing.T) {
	cases := map[uint32]uint32{0: 0, 1: 0, 2: 0, 3: 1, 4: 1, 5: 2, 9: 4}
	for kh, want := range cases {
		if got := HaloRows(kh); got != want {
			t.Errorf("HaloRows(%d) = %d, want %d", kh, got, want)
		}
	}
}

func TestInputRowsForOutputRange(t *testing.T) {
	// S4: H=5, kH=3, sH=1 — first and last output rows see zero padding.
	start, n := InputRowsForOutputRange(0, 5, 1, 3, 5)
	if start != 0 || n != 5 {
		t.Fatalf("got start=%d n=%d, want 0,5", start, n)
	}

	// A single-row chunk covering out row 2 of 5 (halo=1) needs in rows [1,4).
	start, n = InputRowsForOutputRange(2, 3, 1, 3, 5)
	if start != 1 || n != 3 {
		t.Fatalf("got start=%d n=%d, want 1,3", start, n)
	}

	// Clamped at the top edge: out row 0 with halo 1 clamps to input row 0.
	start, n = InputRowsForOutputRange(0, 1, 1, 3, 5)
	if start != 0 || n != 2 {
		t.Fatalf("got start=%d n=%d, want 0,2", start, n)
	}

	// Clamped at the bottom edge.
	start, n = InputRowsForOutputRange(4, 5, 1, 3, 5)
	if start != 3 || n != 2 {
		t.Fatalf("got start=%d n=%d, want 3,2", start, n)
	}

	// Empty range with outHi==outLo != 0 is not the sentinel path (that is
	// outHi==0): the end uses (outHi-1)*sh, so [1,3) comes back.
	start, n = InputRowsForOutputRange(2, 2, 1, 3, 5)
	if start != 1 || n != 2 {
		t.Fatalf("got start=%d n=%d, want 1,2", start, n)
	}
}

func TestChunkRowsNeverBelowOne(t *testing.T) {
	if got := ChunkRows(1_000_000, 1_000_000, 5, 5, 1, 0); got != 1 {
		t.Fatalf("ChunkRows with zero budget = %d, want 1", got)
	}
	if got := ChunkRows(1_000_000, 1_000_000, 5, 5, 1, 100); got != 1 {
		t.Fatalf("ChunkRows with tiny budget = %d, want 1", got)
	}
}

func TestChunkRowsScalesWithBudget(t *testing.T) {
	small := ChunkRows(1000, 1000, 5, 5, 1, 1<<20)
	large := ChunkRows(1000, 1000, 5, 5, 1, 1<<30)
	if large <= small {
		t.Fatalf("expected larger budget to yield more chunk rows: small=%d large=%d", small, large)
	}
}
