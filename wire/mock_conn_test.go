package wire

import (
	"bytes"
	"io"
	"net"
	"os"
	"time"
)

// mockConn is a net.Conn that delivers its input as separate chunks, one per
// Read, and records everything written to it.
type mockConn struct {
	chunks [][]byte
	// stall makes an exhausted conn block until the read deadline instead of
	// returning io.EOF, like a peer that is still connected but silent.
	stall bool

	out          bytes.Buffer
	closed       int
	readDeadline time.Time
}

var _ net.Conn = &mockConn{}

func makeMockConnStr(chunks ...string) *mockConn {
	c := &mockConn{}
	for _, s := range chunks {
		c.chunks = append(c.chunks, []byte(s))
	}
	return c
}

func makeMockConnBuf(buf []byte) *mockConn {
	return &mockConn{chunks: [][]byte{buf}}
}

func (c *mockConn) Read(p []byte) (int, error) {
	if c.closed > 0 {
		return 0, net.ErrClosed
	}
	if len(c.chunks) == 0 {
		if !c.stall {
			return 0, io.EOF
		}
		if c.readDeadline.IsZero() {
			return 0, io.EOF
		}
		time.Sleep(time.Until(c.readDeadline))
		return 0, os.ErrDeadlineExceeded
	}
	n := copy(p, c.chunks[0])
	if n < len(c.chunks[0]) {
		c.chunks[0] = c.chunks[0][n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func (c *mockConn) Write(p []byte) (int, error) {
	if c.closed > 0 {
		return 0, net.ErrClosed
	}
	return c.out.Write(p)
}

func (c *mockConn) Close() error {
	c.closed++
	return nil
}

func (c *mockConn) LocalAddr() net.Addr  { return nil }
func (c *mockConn) RemoteAddr() net.Addr { return nil }

func (c *mockConn) SetDeadline(t time.Time) error {
	c.readDeadline = t
	return nil
}

func (c *mockConn) SetReadDeadline(t time.Time) error {
	c.readDeadline = t
	return nil
}

func (c *mockConn) SetWriteDeadline(t time.Time) error {
	return nil
}

// failingReader returns data, then err.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}
