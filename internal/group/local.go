package group

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/xtaci/kconv/internal/matrixfile"
)

// localHub is the shared state N Local participants rendezvous through; it
// plays the role a real interconnect plays for group.Net, but lives as
// ordinary shared memory within one process.
type localHub struct {
	barrier *cyclicBarrier

	mu         sync.Mutex
	dims       Dims
	kernel     []float32
	outputPath string
	outputErr  error
	output     *matrixfile.File
}

// Local is the single-process implementation of Group: N goroutines sharing
// memory directly, barriers implemented with a cyclic barrier rather than
// network messages. This is what cmd/kconv-run uses, and what the S5/S6
// participant-invariance tests drive with N up to 8.
type Local struct {
	hub  *localHub
	rank int
	size int
}

// NewLocalGroup builds n Group members that share one in-process hub.
func NewLocalGroup(n int) []*Local {
	if n < 1 {
		n = 1
	}
	hub := &localHub{barrier: newCyclicBarrier(n)}
	members := make([]*Local, n)
	for i := range members {
		members[i] = &Local{hub: hub, rank: i, size: n}
	}
	return members
}

func (l *Local) Rank() int { return l.rank }
func (l *Local) Size() int { return l.size }

func (l *Local) BroadcastDims(dims Dims) (Dims, error) {
	if l.rank == 0 {
		l.hub.mu.Lock()
		l.hub.dims = dims
		l.hub.mu.Unlock()
	}
	l.hub.barrier.Wait()

	l.hub.mu.Lock()
	out := l.hub.dims
	l.hub.mu.Unlock()

	l.hub.barrier.Wait()
	return out, nil
}

func (l *Local) BroadcastKernel(kernel []float32) ([]float32, error) {
	if l.rank == 0 {
		cp := make([]float32, len(kernel))
		copy(cp, kernel)
		l.hub.mu.Lock()
		l.hub.kernel = cp
		l.hub.mu.Unlock()
	}
	l.hub.barrier.Wait()

	l.hub.mu.Lock()
	src := l.hub.kernel
	l.hub.mu.Unlock()

	out := make([]float32, len(src))
	copy(out, src)

	l.hub.barrier.Wait()
	return out, nil
}

func (l *Local) Barrier(phase string) error {
	_ = phase
	l.hub.barrier.Wait()
	return nil
}

func (l *Local) OpenInput(path string) (*matrixfile.File, error) {
	return matrixfile.OpenRead(path)
}

func (l *Local) CreateOrOpenOutput(path string, h, w uint32, isCreator bool) (*matrixfile.File, error) {
	if isCreator {
		l.hub.mu.Lock()
		l.hub.outputPath = path
		l.hub.output, l.hub.outputErr = matrixfile.Create(path, h, w)
		l.hub.mu.Unlock()
		l.hub.barrier.Wait()
		return l.hub.output, l.hub.outputErr
	}

	l.hub.barrier.Wait()
	l.hub.mu.Lock()
	creatorErr := l.hub.outputErr
	l.hub.mu.Unlock()
	if creatorErr != nil {
		return nil, errors.Wrap(creatorErr, "rank 0 failed to create output file")
	}
	return matrixfile.OpenReadWrite(path)
}

func (l *Local) Close() error {
	return nil
}
