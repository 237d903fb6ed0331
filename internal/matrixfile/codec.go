// Package matrixfile implements the canonical binary matrix format: an
// 8-byte little-endian {H,W} header followed by H*W row-major IEEE-754
// float32 values, and random-access row-span I/O against it. The layout
// mirrors BinaryHeader/BinaryFile in file.c; the access pattern mirrors the
// MPI_File_iread_at/iwrite_at byte-offset arithmetic in conv_mpi.c.
package matrixfile

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/xtaci/kconv/internal/iohint"
)

const (
	// HeaderBytes is the fixed size of the {H,W} header.
	HeaderBytes = 8
	floatBytes  = 4
)

// File is a random-access handle to a binary matrix file.
type File struct {
	f    *os.File
	H, W uint32
}

// RowOffset returns the byte offset of the given row within the payload.
func RowOffset(w uint32, row uint32) int64 {
	return HeaderBytes + int64(row)*int64(w)*floatBytes
}

// OpenRead opens an existing matrix file for random-access reads, validating
// the header and positioning nothing in particular — all access is by
// explicit offset via ReadRows.
func OpenRead(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open matrix file %s for reading", path)
	}

	var hdr [HeaderBytes]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "read header of %s", path)
	}

	h := binary.LittleEndian.Uint32(hdr[0:4])
	w := binary.LittleEndian.Uint32(hdr[4:8])
	if uint64(h)*uint64(w) == 0 {
		f.Close()
		return nil, errors.Errorf("matrix file %s has degenerate dimensions %dx%d", path, h, w)
	}

	iohint.SequentialRead(f)

	return &File{f: f, H: h, W: w}, nil
}

// Create writes the header and pre-allocates the zero-filled payload region,
// opening the file for random-access writes. The payload is sized up front
// with Truncate, so regions a participant never touches (there should be
// none, given a crash mid-run should not leave garbage) read back as zero
// rather than whatever the filesystem left behind.
func Create(path string, h, w uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "create matrix file %s", path)
	}

	var hdr [HeaderBytes]byte
	binary.LittleEndian.PutUint32(hdr[0:4], h)
	binary.LittleEndian.PutUint32(hdr[4:8], w)
	if _, err := f.WriteAt(hdr[:], 0); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "write header of %s", path)
	}

	total := int64(h) * int64(w) * floatBytes
	if total > 0 {
		if err := f.Truncate(HeaderBytes + total); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "preallocate payload of %s", path)
		}
	}

	iohint.SequentialWrite(f)

	return &File{f: f, H: h, W: w}, nil
}

// OpenReadWrite opens an existing matrix file (already created and
// header-written by another participant) for random-access reads and
// writes. Used by non-creator participants joining a shared output file
// after the Participant Coordinator's create-then-barrier handoff.
func OpenReadWrite(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open matrix file %s for read/write", path)
	}

	var hdr [HeaderBytes]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "read header of %s", path)
	}

	h := binary.LittleEndian.Uint32(hdr[0:4])
	w := binary.LittleEndian.Uint32(hdr[4:8])
	if uint64(h)*uint64(w) == 0 {
		f.Close()
		return nil, errors.Errorf("matrix file %s has degenerate dimensions %dx%d", path, h, w)
	}

	return &File{f: f, H: h, W: w}, nil
}

// ReadRows fills out[:rowCount*W] with rows [rowStart, rowStart+rowCount)
// read from the file at their absolute byte offset. Safe to call
// concurrently from multiple goroutines against disjoint row ranges of the
// same *File, since pread-style ReadAt does not share a file cursor.
func (mf *File) ReadRows(rowStart, rowCount uint32, out []float32) error {
	if rowCount == 0 {
		return nil
	}
	n := int(rowCount) * int(mf.W)
	if len(out) < n {
		return errors.Errorf("matrixfile: output buffer too small: need %d floats, have %d", n, len(out))
	}

	buf := make([]byte, n*floatBytes)
	off := RowOffset(mf.W, rowStart)
	if _, err := mf.f.ReadAt(buf, off); err != nil {
		return errors.Wrapf(err, "read %d rows at row %d", rowCount, rowStart)
	}

	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(buf[i*floatBytes:])
		out[i] = math.Float32frombits(bits)
	}
	return nil
}

// WriteRows writes buf[:rowCount*W] as rows [rowStart, rowStart+rowCount) at
// their absolute byte offset. Safe to call concurrently against disjoint row
// ranges of the same *File (pwrite-style WriteAt).
func (mf *File) WriteRows(rowStart, rowCount uint32, buf []float32) error {
	if rowCount == 0 {
		return nil
	}
	n := int(rowCount) * int(mf.W)
	if len(buf) < n {
		return errors.Errorf("matrixfile: input buffer too small: need %d floats, have %d", n, len(buf))
	}

	raw := make([]byte, n*floatBytes)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(raw[i*floatBytes:], math.Float32bits(buf[i]))
	}

	off := RowOffset(mf.W, rowStart)
	if _, err := mf.f.WriteAt(raw, off); err != nil {
		return errors.Wrapf(err, "write %d rows at row %d", rowCount, rowStart)
	}
	return nil
}

// WriteHeader rewrites the {H,W} header at offset 0. The coordinator does
// not call it: its exactly-once header write is the one Create performs on
// participant 0, before any payload write.
func (mf *File) WriteHeader(h, w uint32) error {
	var hdr [HeaderBytes]byte
	binary.LittleEndian.PutUint32(hdr[0:4], h)
	binary.LittleEndian.PutUint32(hdr[4:8], w)
	if _, err := mf.f.WriteAt(hdr[:], 0); err != nil {
		return errors.Wrap(err, "write matrix header")
	}
	return nil
}

// Close closes the underlying file handle.
func (mf *File) Close() error {
	return mf.f.Close()
}

// Dims returns the matrix's row and column counts.
func (mf *File) Dims() (h, w uint32) {
	return mf.H, mf.W
}
