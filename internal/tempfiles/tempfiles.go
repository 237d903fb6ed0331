// Package tempfiles manages the staging directory main.c uses for
// txt-to-bin conversions and generated inputs: CONV_TEMP_DIR/CONV_TMP_DIR
// pick the directory, a run-unique suffix appended to getpid() keeps
// concurrent runs on the same host from colliding, and Cleanup removes only the files
// this run created.
package tempfiles

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Dir resolves the staging directory the same way main.c does:
// CONV_TEMP_DIR, then CONV_TMP_DIR, then "./tmp", creating it if absent.
func Dir() (string, error) {
	dir := os.Getenv("CONV_TEMP_DIR")
	if dir == "" {
		dir = os.Getenv("CONV_TMP_DIR")
	}
	if dir == "" {
		dir = "./tmp"
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return "", errors.Wrapf(err, "create staging directory %s", dir)
	}
	return dir, nil
}

// Staging tracks the temp files a single run creates under Dir, so they can
// be removed together once a run finishes (or fails).
type Staging struct {
	dir   string
	runID string
	paths []string
}

// NewStaging resolves the staging directory and assigns a run-unique id
// (standing in for getpid() in the original, since a Go process can host
// many concurrent runs for testing).
func NewStaging() (*Staging, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return &Staging{dir: dir, runID: fmt.Sprintf("%d-%d", os.Getpid(), runCounter())}, nil
}

// Path builds a staging path named "conv_<kind>_<runid>.bin" and records it
// for later Cleanup, mirroring "%s/conv_input_%d.bin"-style naming.
func (s *Staging) Path(kind string) string {
	p := filepath.Join(s.dir, fmt.Sprintf("conv_%s_%s.bin", kind, s.runID))
	s.paths = append(s.paths, p)
	return p
}

// Cleanup removes every path this Staging produced via Path. Errors for
// individual files are collected but do not stop the sweep.
func (s *Staging) Cleanup() error {
	var firstErr error
	for _, p := range s.paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = errors.Wrapf(err, "remove staging file %s", p)
		}
	}
	return firstErr
}

var counter int64

// runCounter gives successive Staging instances in the same process
// distinct ids even when os.Getpid() is constant across them (tests create
// many Staging values in one process).
func runCounter() int64 {
	return atomic.AddInt64(&counter, 1)
}
