package matrixfile

import (
	"path/filepath"
	"testing"
)

func TestCreateAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.bin")

	mf, err := Create(path, 4, 3)
	if err != nil {
		t.Fatal(err)
	}

	data := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	if err := mf.WriteRows(0, 3, data); err != nil {
		t.Fatal(err)
	}
	if err := mf.WriteRows(3, 1, []float32{10, 11, 12}); err != nil {
		t.Fatal(err)
	}
	if err := mf.Close(); err != nil {
		t.Fatal(err)
	}

	rf, err := OpenRead(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rf.Close()

	if h, w := rf.Dims(); h != 4 || w != 3 {
		t.Fatalf("dims = %d,%d want 4,3", h, w)
	}

	out := make([]float32, 12)
	if err := rf.ReadRows(0, 4, out); err != nil {
		t.Fatal(err)
	}
	want := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestReadRowsPartialSpan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.bin")

	mf, err := Create(path, 5, 2)
	if err != nil {
		t.Fatal(err)
	}
	for r := uint32(0); r < 5; r++ {
		if err := mf.WriteRows(r, 1, []float32{float32(r), float32(r) + 0.5}); err != nil {
			t.Fatal(err)
		}
	}
	mf.Close()

	rf, err := OpenRead(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rf.Close()

	buf := make([]float32, 4)
	if err := rf.ReadRows(1, 2, buf); err != nil {
		t.Fatal(err)
	}
	want := []float32{1, 1.5, 2, 2.5}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("buf[%d] = %v want %v", i, buf[i], want[i])
		}
	}
}

func TestCreateZeroFillsPayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "z.bin")

	mf, err := Create(path, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	mf.Close()

	rf, err := OpenRead(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rf.Close()

	buf := make([]float32, 4)
	if err := rf.ReadRows(0, 2, buf); err != nil {
		t.Fatal(err)
	}
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("buf[%d] = %v, want 0", i, v)
		}
	}
}

func TestOpenReadRejectsDegenerateDims(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.bin")
	mf, err := Create(path, 0, 5)
	if err != nil {
		t.Fatal(err)
	}
	mf.Close()

	if _, err := OpenRead(path); err == nil {
		t.Fatal("expected error opening degenerate matrix file")
	}
}
