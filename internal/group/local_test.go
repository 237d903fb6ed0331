package group

import (
	"path/filepath"
	"sync"
	"testing"
)

func TestLocalBroadcastDimsAgreement(t *testing.T) {
	const n = 4
	members := NewLocalGroup(n)

	want := Dims{H: 100, W: 50, KH: 3, KW: 3, SH: 1, SW: 1}

	var wg sync.WaitGroup
	got := make([]Dims, n)
	for i, m := range members {
		wg.Add(1)
		go func(i int, m *Local) {
			defer wg.Done()
			var d Dims
			if m.Rank() == 0 {
				d = want
			}
			result, err := m.BroadcastDims(d)
			if err != nil {
				t.Errorf("rank %d: %v", m.Rank(), err)
				return
			}
			got[i] = result
		}(i, m)
	}
	wg.Wait()

	for i, d := range got {
		if d != want {
			t.Fatalf("rank %d: got %+v want %+v", i, d, want)
		}
	}
}

func TestLocalBroadcastKernelAgreement(t *testing.T) {
	const n = 3
	members := NewLocalGroup(n)
	kernel := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}

	var wg sync.WaitGroup
	results := make([][]float32, n)
	errs := make([]error, n)
	for i, m := range members {
		wg.Add(1)
		go func(i int, m *Local) {
			defer wg.Done()
			var in []float32
			if m.Rank() == 0 {
				in = kernel
			}
			results[i], errs[i] = m.BroadcastKernel(in)
		}(i, m)
	}
	wg.Wait()

	for i := range members {
		if errs[i] != nil {
			t.Fatalf("rank %d: %v", i, errs[i])
		}
		if len(results[i]) != len(kernel) {
			t.Fatalf("rank %d: got %d floats, want %d", i, len(results[i]), len(kernel))
		}
		for j, v := range kernel {
			if results[i][j] != v {
				t.Fatalf("rank %d: kernel[%d] = %v, want %v", i, j, results[i][j], v)
			}
		}
	}
}

func TestLocalCreateOrOpenOutput(t *testing.T) {
	const n = 3
	members := NewLocalGroup(n)
	path := filepath.Join(t.TempDir(), "out.bin")

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, m := range members {
		wg.Add(1)
		go func(i int, m *Local) {
			defer wg.Done()
			f, err := m.CreateOrOpenOutput(path, 20, 10, m.Rank() == 0)
			if err != nil {
				errs[i] = err
				return
			}
			defer f.Close()
			h, w := f.Dims()
			if h != 20 || w != 10 {
				t.Errorf("rank %d: dims %dx%d, want 20x10", m.Rank(), h, w)
			}
		}(i, m)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", i, err)
		}
	}
}

func TestPartition(t *testing.T) {
	cases := []struct {
		outH     uint32
		n, r     int
		wantS, e uint32
	}{
		{10, 1, 0, 0, 10},
		{10, 2, 0, 0, 5},
		{10, 2, 1, 5, 10},
		{10, 3, 0, 0, 4},
		{10, 3, 1, 4, 8},
		{10, 3, 2, 8, 10},
	}
	for _, c := range cases {
		s, e := Partition(c.outH, c.n, c.r)
		if s != c.wantS || e != c.e {
			t.Errorf("Partition(%d,%d,%d) = (%d,%d), want (%d,%d)", c.outH, c.n, c.r, s, e, c.wantS, c.e)
		}
	}
}
