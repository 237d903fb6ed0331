package matrixfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// ConvertTextToBinary streams a text matrix ("H W\n" then H rows of W
// whitespace-separated decimals) into the canonical binary format, without
// materializing the whole matrix in memory. Mirrors convert_txt_to_bin in
// file.c, chunked in rowBatch-sized row groups.
func ConvertTextToBinary(txtPath, binPath string, rowBatch uint32) error {
	if rowBatch == 0 {
		rowBatch = 512
	}

	in, err := os.Open(txtPath)
	if err != nil {
		return errors.Wrapf(err, "open text matrix %s", txtPath)
	}
	defer in.Close()

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	h, err := scanUint32(sc)
	if err != nil {
		return errors.Wrapf(err, "read height from %s", txtPath)
	}
	w, err := scanUint32(sc)
	if err != nil {
		return errors.Wrapf(err, "read width from %s", txtPath)
	}
	if h == 0 || w == 0 {
		return errors.Errorf("invalid matrix dimensions %dx%d in %s", h, w, txtPath)
	}

	out, err := Create(binPath, h, w)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]float32, int(rowBatch)*int(w))
	batchStart := uint32(0)
	bufRow := uint32(0)
	for row := uint32(0); row < h; row++ {
		for col := uint32(0); col < w; col++ {
			v, err := scanFloat32(sc)
			if err != nil {
				return errors.Wrapf(err, "read value at row %d col %d of %s", row, col, txtPath)
			}
			buf[int(bufRow)*int(w)+int(col)] = v
		}
		bufRow++
		if bufRow == rowBatch {
			if err := out.WriteRows(batchStart, bufRow, buf); err != nil {
				return err
			}
			batchStart += bufRow
			bufRow = 0
		}
	}
	if bufRow > 0 {
		if err := out.WriteRows(batchStart, bufRow, buf); err != nil {
			return err
		}
	}
	return nil
}

// ConvertBinaryToText streams a canonical binary matrix file out as text,
// chunked in rowBatch-sized row groups. Mirrors convert_bin_to_txt in
// file.c.
func ConvertBinaryToText(binPath, txtPath string, rowBatch uint32) error {
	if rowBatch == 0 {
		rowBatch = 512
	}

	in, err := OpenRead(binPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(txtPath)
	if err != nil {
		return errors.Wrapf(err, "create text matrix %s", txtPath)
	}
	defer out.Close()

	bw := bufio.NewWriterSize(out, 256*1024)
	if _, err := fmt.Fprintf(bw, "%d %d\n", in.H, in.W); err != nil {
		return errors.Wrap(err, "write text header")
	}

	buf := make([]float32, int(rowBatch)*int(in.W))
	for row := uint32(0); row < in.H; row += rowBatch {
		n := rowBatch
		if row+n > in.H {
			n = in.H - row
		}
		if err := in.ReadRows(row, n, buf); err != nil {
			return err
		}
		if err := writeTextRows(bw, buf, n, in.W); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeTextRows(bw *bufio.Writer, buf []float32, rows, cols uint32) error {
	for r := uint32(0); r < rows; r++ {
		base := int(r) * int(cols)
		for c := uint32(0); c < cols; c++ {
			if c > 0 {
				if err := bw.WriteByte(' '); err != nil {
					return err
				}
			}
			if _, err := bw.WriteString(strconv.FormatFloat(float64(buf[base+int(c)]), 'g', -1, 32)); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

func scanUint32(sc *bufio.Scanner) (uint32, error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return 0, err
		}
		return 0, io.ErrUnexpectedEOF
	}
	v, err := strconv.ParseUint(sc.Text(), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func scanFloat32(sc *bufio.Scanner) (float32, error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return 0, err
		}
		return 0, io.ErrUnexpectedEOF
	}
	v, err := strconv.ParseFloat(sc.Text(), 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}
