package group

import (
	"crypto/sha1"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// kernelFingerprint returns a sha1 digest of kernel's raw little-endian
// float32 bytes, used to verify kernel data is bit-identical on every
// participant after a broadcast, against transmission corruption on the
// network control plane.
func kernelFingerprint(kernel []float32) [sha1.Size]byte {
	buf := make([]byte, len(kernel)*4)
	for i, v := range kernel {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return sha1.Sum(buf)
}

func verifyKernelFingerprint(kernel []float32, want [sha1.Size]byte) error {
	got := kernelFingerprint(kernel)
	if got != want {
		return errors.New("group: kernel fingerprint mismatch after broadcast")
	}
	return nil
}
