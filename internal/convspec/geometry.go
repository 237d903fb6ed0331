// Package convspec computes the pure geometry of a same-size strided
// cross-correlation: output dimensions, halo extents, and the input row
// span a chunk of output rows needs. Every function here is allocation-free
// and has no side effects, mirroring how conv_utils.c keeps dimension math
// separate from I/O and compute.
package convspec

// Spec is the immutable convolution configuration, replicated bit-for-bit
// on every participant before the first Chunk is processed.
type Spec struct {
	H, W   uint32
	KH, KW uint32
	SH, SW uint32
	OutH   uint32
	OutW   uint32
	Kernel []float32 // length KH*KW, owned
}

// New computes OutH/OutW and returns a Spec. Kernel is not copied.
func New(h, w, kh, kw, sh, sw uint32, kernel []float32) Spec {
	outH, outW := OutputDims(h, w, kh, kw, sh, sw)
	return Spec{
		H: h, W: w,
		KH: kh, KW: kw,
		SH: sh, SW: sw,
		OutH: outH, OutW: outW,
		Kernel: kernel,
	}
}

// OutputDims: kernel width/height are deliberately
// absent from the formula — this is same-size strided output, not the
// classical "valid convolution" shrinkage.
func OutputDims(h, w, kh, kw, sh, sw uint32) (outH, outW uint32) {
	_ = kh
	_ = kw
	outH = (h-1)/sh + 1
	outW = (w-1)/sw + 1
	return outH, outW
}

// HaloRows is the number of input rows that must precede an output row's
// nominal center to cover the kernel's vertical extent.
func HaloRows(kh uint32) uint32 {
	if kh == 0 {
		return 0
	}
	return (kh - 1) / 2
}

// InputRowsForOutputRange computes the clamped input row span covering every
// output row in [outLo, outHi) under stride sh and kernel height kh, against
// a global input height H.
func InputRowsForOutputRange(outLo, outHi, sh, kh, h uint32) (inputRowStart, numInputRows uint32) {
	halo := int64(HaloRows(kh))

	var sentinel int64
	if outHi == 0 {
		sentinel = int64(outLo) * int64(sh)
	} else {
		sentinel = int64(outHi-1) * int64(sh)
	}

	start := int64(outLo)*int64(sh) - halo
	end := sentinel + int64(kh) - halo

	if start < 0 {
		start = 0
	}
	if end > int64(h) {
		end = int64(h)
	}

	if end <= start {
		return uint32(start), 0
	}
	return uint32(start), uint32(end - start)
}

// ChunkRows computes the largest number of output rows c such that one input
// tile ((c*sH+kH)*W*4 bytes) plus one output tile (c*outW*4 bytes) fits
// within budget bytes, after reserving the kernel (kh*kw*4 bytes). Never
// returns less than 1; budget is expected to be the per-participant,
// per-side allowance (see internal/budget), since the pipeline keeps two of
// each tile.
func ChunkRows(w, outW, kh, kw, sh uint32, budget int64) uint32 {
	const floatBytes = 4
	kernelBytes := int64(kh) * int64(kw) * floatBytes

	margin := budget - kernelBytes
	if margin <= 0 {
		margin = budget / 2
	}
	// The kH extra input rows are a fixed cost of every input tile.
	margin -= int64(kh) * int64(w) * floatBytes
	if margin <= 0 {
		return 1
	}

	rowBytes := (int64(sh)*int64(w) + int64(outW)) * floatBytes
	if rowBytes <= 0 {
		return 1
	}

	chunk := margin / rowBytes
	if chunk < 1 {
		return 1
	}
	return uint32(chunk)
}
