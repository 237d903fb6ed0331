//go:build !linux

package iohint

import "os"

// SequentialRead is a no-op on platforms without fadvise; the hint is
// advisory everywhere, so a quiet no-op fallback preserves correctness.
func SequentialRead(f *os.File) {}

// SequentialWrite is a no-op on platforms without fadvise.
func SequentialWrite(f *os.File) {}
