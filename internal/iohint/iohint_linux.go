//go:build linux

// Package iohint advertises access-pattern hints to the kernel for matrix
// files, advertising read_once/sequential...
// write_once/sequential hints where the underlying file-I/O layer supports
// them" — the local-filesystem analogue of the MPI_Info romio_cb_read/
// access_style hints set in conv_mpi.c. Split by GOOS exactly as the
// teacher splits listen_linux.go from listen.go.
package iohint

import (
	"os"

	"golang.org/x/sys/unix"
)

// SequentialRead advises the kernel that f will be read once, sequentially,
// and that cached pages should not be kept around afterward.
func SequentialRead(f *os.File) {
	fd := int(f.Fd())
	_ = unix.Fadvise(fd, 0, 0, unix.FADV_SEQUENTIAL)
	_ = unix.Fadvise(fd, 0, 0, unix.FADV_NOREUSE)
}

// SequentialWrite advises the kernel that f will be written once,
// sequentially.
func SequentialWrite(f *os.File) {
	fd := int(f.Fd())
	_ = unix.Fadvise(fd, 0, 0, unix.FADV_SEQUENTIAL)
}
