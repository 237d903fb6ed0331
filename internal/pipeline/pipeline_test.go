package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/xtaci/kconv/internal/chunkplan"
	"github.com/xtaci/kconv/internal/convspec"
	"github.com/xtaci/kconv/internal/matrixfile"
)

func writeInput(t *testing.T, dir string, h, w uint32, data []float32) *matrixfile.File {
	t.Helper()
	path := filepath.Join(dir, "in.bin")
	mf, err := matrixfile.Create(path, h, w)
	if err != nil {
		t.Fatal(err)
	}
	if err := mf.WriteRows(0, h, data); err != nil {
		t.Fatal(err)
	}
	if err := mf.Close(); err != nil {
		t.Fatal(err)
	}
	rf, err := matrixfile.OpenRead(path)
	if err != nil {
		t.Fatal(err)
	}
	return rf
}

func TestPipelineMatchesNaiveEvaluation(t *testing.T) {
	dir := t.TempDir()
	h, w := uint32(10), uint32(6)
	data := make([]float32, h*w)
	for i := range data {
		data[i] = float32(i%7) - 3
	}
	kernel := []float32{0, 1, 0, 1, 2, 1, 0, 1, 0}
	spec := convspec.New(h, w, 3, 3, 1, 1, kernel)

	in := writeInput(t, dir, h, w, data)
	defer in.Close()

	outPath := filepath.Join(dir, "out.bin")
	out, err := matrixfile.Create(outPath, spec.OutH, spec.OutW)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	for _, chunkRows := range []uint32{1, 2, 3, 100} {
		planner := chunkplan.NewPlanner(&spec, 0, spec.OutH, chunkRows)
		p := &Pipeline{Spec: &spec, In: in, Out: out, Rank: 0}
		if err := p.Run(planner); err != nil {
			t.Fatalf("chunkRows=%d: %v", chunkRows, err)
		}

		got := make([]float32, spec.OutH*spec.OutW)
		if err := out.ReadRows(0, spec.OutH, got); err != nil {
			t.Fatal(err)
		}

		want := naiveConv(data, h, w, kernel, 3, 3, 1, 1)
		for i := range want {
			if diff := got[i] - want[i]; diff > 1e-4 || diff < -1e-4 {
				t.Fatalf("chunkRows=%d: got[%d]=%v want %v", chunkRows, i, got[i], want[i])
			}
		}
	}
}

func naiveConv(data []float32, h, w uint32, kernel []float32, kh, kw, sh, sw uint32) []float32 {
	outH := (h-1)/sh + 1
	outW := (w-1)/sw + 1
	halfH := int32(kh-1) / 2
	halfW := int32(kw-1) / 2
	out := make([]float32, outH*outW)
	for r := uint32(0); r < outH; r++ {
		for c := uint32(0); c < outW; c++ {
			var sum float32
			for ki := uint32(0); ki < kh; ki++ {
				i := int32(r)*int32(sh) - halfH + int32(ki)
				if i < 0 || i >= int32(h) {
					continue
				}
				for kj := uint32(0); kj < kw; kj++ {
					j := int32(c)*int32(sw) - halfW + int32(kj)
					if j < 0 || j >= int32(w) {
						continue
					}
					sum += data[uint32(i)*w+uint32(j)] * kernel[ki*kw+kj]
				}
			}
			out[r*outW+c] = sum
		}
	}
	return out
}
