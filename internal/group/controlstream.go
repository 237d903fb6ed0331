// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package group

import (
	"net"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// controlStream wraps a control-plane kcp connection with snappy
// compression before smux multiplexes it. Unlike a tunnel's CompStream,
// which carries arbitrary proxied bytes, this wrapper only ever sees
// framed dims/kernel/barrier messages, so it also tallies bytes moved
// across the connection; Net.Close reports the tally as a control-plane
// footprint.
type controlStream struct {
	conn net.Conn
	w    *snappy.Writer
	r    *snappy.Reader

	bytesIn  uint64
	bytesOut uint64
}

func newControlStream(conn net.Conn) *controlStream {
	return &controlStream{
		conn: conn,
		w:    snappy.NewBufferedWriter(conn),
		r:    snappy.NewReader(conn),
	}
}

func (c *controlStream) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.bytesIn += uint64(n)
	return n, err
}

func (c *controlStream) Write(p []byte) (int, error) {
	if _, err := c.w.Write(p); err != nil {
		return 0, errors.WithStack(err)
	}
	if err := c.w.Flush(); err != nil {
		return 0, errors.WithStack(err)
	}
	c.bytesOut += uint64(len(p))
	return len(p), nil
}

func (c *controlStream) Close() error {
	return c.conn.Close()
}

func (c *controlStream) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *controlStream) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *controlStream) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *controlStream) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *controlStream) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
