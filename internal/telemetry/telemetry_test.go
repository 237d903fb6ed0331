package telemetry

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtaci/kconv/internal/pipeline"
)

func TestReporterWritesCSVHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.csv")

	r, err := NewReporter(0, path)
	if err != nil {
		t.Fatal(err)
	}
	r.Log(pipeline.ChunkStats{Rank: 0, ChunkIndex: 1, ChunkTotal: 2, OutRowStart: 0, OutRowEnd: 5, InputRows: 7, IOTime: time.Millisecond, ComputeTime: time.Millisecond})
	r.Log(pipeline.ChunkStats{Rank: 0, ChunkIndex: 2, ChunkTotal: 2, OutRowStart: 5, OutRowEnd: 10, InputRows: 7, IOTime: time.Millisecond, ComputeTime: time.Millisecond})
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	if lines != 3 {
		t.Fatalf("expected 1 header + 2 rows = 3 lines, got %d", lines)
	}
}

func TestReporterAppendsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.csv")

	r1, err := NewReporter(0, path)
	if err != nil {
		t.Fatal(err)
	}
	r1.Log(pipeline.ChunkStats{Rank: 0, ChunkIndex: 1, ChunkTotal: 1})
	r1.Close()

	r2, err := NewReporter(0, path)
	if err != nil {
		t.Fatal(err)
	}
	r2.Log(pipeline.ChunkStats{Rank: 0, ChunkIndex: 1, ChunkTotal: 1})
	r2.Close()

	f, _ := os.Open(path)
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	if lines != 3 {
		t.Fatalf("expected header written once across two appends (3 lines total), got %d", lines)
	}
}
