// Package telemetry renders the per-chunk and summary progress lines
// grounded on std/snmp.go's pattern of periodically
// flushing counters to an encoding/csv writer — here driven by the
// pipeline's own ChunkStats events rather than a ticker polling SNMP
// counters, and mirrored to a colorized stdout banner via fatih/color the
// way the CLI entrypoints use color.Red/color.Green for operator-facing
// status lines.
package telemetry

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/xtaci/kconv/internal/pipeline"
)

// Reporter consumes pipeline.ChunkStats events and renders them both as a
// colorized stdout line and, if configured, as a CSV trace for later
// analysis.
type Reporter struct {
	rank int

	mu         sync.Mutex
	csvWriter  *csv.Writer
	csvFile    io.Closer
	wroteHead  bool
	startedAt  time.Time
	chunkCount uint32
	ioTotal    time.Duration
	compTotal  time.Duration
}

// NewReporter builds a Reporter for one participant's rank. If csvPath is
// non-empty, every chunk is additionally appended to that file.
func NewReporter(rank int, csvPath string) (*Reporter, error) {
	r := &Reporter{rank: rank, startedAt: time.Now()}
	if csvPath == "" {
		return r, nil
	}

	f, err := os.OpenFile(csvPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open telemetry csv %s", csvPath)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat telemetry csv")
	}
	r.csvFile = f
	r.csvWriter = csv.NewWriter(f)
	r.wroteHead = stat.Size() > 0
	return r, nil
}

// Log implements pipeline.Logger.
func (r *Reporter) Log(stats pipeline.ChunkStats) {
	r.mu.Lock()
	r.chunkCount++
	r.ioTotal += stats.IOTime
	r.compTotal += stats.ComputeTime
	r.mu.Unlock()

	line := fmt.Sprintf("[rank %d] chunk %d/%d rows [%d,%d) in=%d rows io=%s compute=%s",
		stats.Rank, stats.ChunkIndex, stats.ChunkTotal, stats.OutRowStart, stats.OutRowEnd,
		stats.InputRows, stats.IOTime.Round(time.Millisecond), stats.ComputeTime.Round(time.Millisecond))
	color.Cyan(line)

	if r.csvWriter == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.wroteHead {
		r.csvWriter.Write([]string{"unix", "rank", "chunk_index", "chunk_total", "out_row_start", "out_row_end", "input_rows", "tile_mib", "io_ms", "compute_ms"})
		r.wroteHead = true
	}
	r.csvWriter.Write([]string{
		strconv.FormatInt(time.Now().Unix(), 10),
		strconv.Itoa(stats.Rank),
		strconv.FormatUint(uint64(stats.ChunkIndex), 10),
		strconv.FormatUint(uint64(stats.ChunkTotal), 10),
		strconv.FormatUint(uint64(stats.OutRowStart), 10),
		strconv.FormatUint(uint64(stats.OutRowEnd), 10),
		strconv.FormatUint(uint64(stats.InputRows), 10),
		strconv.FormatFloat(stats.TileMiB, 'f', 3, 64),
		strconv.FormatInt(stats.IOTime.Milliseconds(), 10),
		strconv.FormatInt(stats.ComputeTime.Milliseconds(), 10),
	})
	r.csvWriter.Flush()
}

// Summary prints the final banner once a participant's chunks are all
// processed: total wall time, chunk count and the io/compute split, colored
// green on success.
func (r *Reporter) Summary() {
	r.mu.Lock()
	elapsed := time.Since(r.startedAt)
	chunks := r.chunkCount
	ioTotal := r.ioTotal
	compTotal := r.compTotal
	r.mu.Unlock()

	color.Green("[rank %d] done: %d chunks in %s (io=%s compute=%s)",
		r.rank, chunks, elapsed.Round(time.Millisecond), ioTotal.Round(time.Millisecond), compTotal.Round(time.Millisecond))
}

// Fail prints a run-ending error in red, mirroring the CLI entrypoints'
// color.Red warning lines for configuration problems.
func Fail(rank int, err error) {
	color.Red("[rank %d] failed: %v", rank, err)
}

// Close flushes and releases any open CSV file.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.csvWriter != nil {
		r.csvWriter.Flush()
	}
	if r.csvFile != nil {
		return r.csvFile.Close()
	}
	return nil
}
