package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultSettleWindow is how long the stream has to stay quiet before an
	// unterminated message is considered complete.
	DefaultSettleWindow = 50 * time.Millisecond

	readChunkSize = 32 * 1024
)

// Options tunes the wait points of a Conn. A zero ReadTimeout or WriteTimeout
// disables the corresponding deadline.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SettleWindow time.Duration
}

// Conn is one stream connection to the storage server.
// It hides the lack of framing on the wire: the server terminates some
// messages with a line break (banner, status lines, listings) and sends others
// bare (sizes, "name:size" headers, READY, NEXT), and TCP is free to split or
// coalesce any of them. Conn keeps the bytes it received but did not consume yet
// and hands them out as lines, tokens or exact-length payloads.
//
// For most cases, usage looks something like:
//
//	conn := wire.NewConn(netConn, opts)
//	conn.ReadLine()                // welcome banner
//	conn.WriteLine("LIST u1")
//	conn.ReadResponse()            // listing
//	conn.Close()
//
// A Conn belongs to exactly one operation and is not safe for concurrent use.
type Conn struct {
	conn  net.Conn
	opts  Options
	rbuf  []byte
	chunk []byte
	state State

	closeOnce sync.Once
	closeErr  error
}

func NewConn(conn net.Conn, opts Options) *Conn {
	if opts.SettleWindow <= 0 {
		opts.SettleWindow = DefaultSettleWindow
	}
	return &Conn{
		conn:  conn,
		opts:  opts,
		chunk: make([]byte, readChunkSize),
		state: StateConnecting,
	}
}

func (c *Conn) State() State {
	return c.state
}

// Transition moves the session to the next state, or fails with ErrAssertion
// if the protocol does not allow it.
func (c *Conn) Transition(to State) error {
	if !canTransition(c.state, to) {
		return fmt.Errorf("%w: illegal session transition %s -> %s", ErrAssertion, c.state, to)
	}
	c.state = to
	return nil
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Buffered returns the number of received bytes that were not consumed yet.
func (c *Conn) Buffered() int {
	return len(c.rbuf)
}

func (c *Conn) readDeadline() time.Time {
	if c.opts.ReadTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.opts.ReadTimeout)
}

// fill performs a single read from the socket and appends it to the read buffer.
func (c *Conn) fill(deadline time.Time) (int, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("%w: set read deadline: %w", ErrNetwork, err)
	}
	n, err := c.conn.Read(c.chunk)
	if n > 0 {
		c.rbuf = append(c.rbuf, c.chunk[:n]...)
	}
	return n, err
}

func (c *Conn) take(n int) []byte {
	out := make([]byte, n)
	copy(out, c.rbuf[:n])
	c.rbuf = c.rbuf[n:]
	if len(c.rbuf) == 0 {
		c.rbuf = c.rbuf[:0:0]
	}
	return out
}

// ReadLine returns the next message, without its line terminator.
// A message ends at "\n"; if the server sent something without a terminator,
// the message ends once the stream has been quiet for the settle window.
func (c *Conn) ReadLine() (string, error) {
	return c.readLine(c.readDeadline())
}

// ReadLineWithin is ReadLine bounded by d for the whole wait, regardless of the
// configured read timeout.
func (c *Conn) ReadLineWithin(d time.Duration) (string, error) {
	return c.readLine(time.Now().Add(d))
}

func (c *Conn) readLine(deadline time.Time) (string, error) {
	for {
		if i := bytes.IndexByte(c.rbuf, '\n'); i >= 0 {
			line := c.take(i + 1)
			return strings.TrimRight(string(line), "\r\n"), nil
		}

		if len(c.rbuf) > 0 {
			n, err := c.fill(c.settleDeadline(deadline))
			if n > 0 {
				continue
			}
			if err == nil {
				continue
			}
			if isTimeout(err) || errors.Is(err, io.EOF) {
				return strings.TrimRight(string(c.take(len(c.rbuf))), "\r"), nil
			}
			return "", readError("line", err)
		}

		n, err := c.fill(deadline)
		if n == 0 && err != nil {
			return "", readError("line", err)
		}
	}
}

func (c *Conn) settleDeadline(hard time.Time) time.Time {
	settle := time.Now().Add(c.opts.SettleWindow)
	if !hard.IsZero() && hard.Before(settle) {
		return hard
	}
	return settle
}

// ReadResponse reads a response that may span several lines, such as a
// directory listing. The response is complete once it ends with "\n" and the
// stream has been quiet for the settle window. The trailing line break is removed.
func (c *Conn) ReadResponse() (string, error) {
	deadline := c.readDeadline()
	for {
		if len(c.rbuf) > 0 && c.rbuf[len(c.rbuf)-1] == '\n' {
			n, err := c.fill(c.settleDeadline(deadline))
			if n > 0 || err == nil {
				continue
			}
			if isTimeout(err) || errors.Is(err, io.EOF) {
				return strings.TrimRight(string(c.take(len(c.rbuf))), "\r\n"), nil
			}
			return "", readError("response", err)
		}

		n, err := c.fill(deadline)
		if n > 0 {
			continue
		}
		if err != nil {
			// the server closed the stream after an unterminated response
			if errors.Is(err, io.EOF) && len(c.rbuf) > 0 {
				return strings.TrimRight(string(c.take(len(c.rbuf))), "\r\n"), nil
			}
			return "", readError("response", err)
		}
	}
}

// ExpectToken consumes tok, which the server sends without terminator and
// possibly coalesced with the message that follows it. A line break directly
// after the token is consumed as well.
func (c *Conn) ExpectToken(tok string) error {
	want := []byte(tok)
	deadline := c.readDeadline()
	for len(c.rbuf) < len(want) {
		if !bytes.HasPrefix(want, c.rbuf) {
			break
		}
		n, err := c.fill(deadline)
		if n == 0 && err != nil {
			return readError(fmt.Sprintf("token %s", tok), err)
		}
	}

	if !bytes.HasPrefix(c.rbuf, want) {
		got := c.rbuf
		if i := bytes.IndexByte(got, '\n'); i >= 0 {
			got = got[:i]
		}
		return fmt.Errorf("%w: expected %q, got %q", ErrProtocol, tok, got)
	}
	c.take(len(want))
	if len(c.rbuf) > 0 && c.rbuf[0] == '\n' {
		c.take(1)
	}
	return nil
}

// ReadExactly returns exactly n bytes, accumulating across as many socket reads
// as necessary. Bytes received beyond n stay buffered for the next read.
func (c *Conn) ReadExactly(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrAssertion, n)
	}
	deadline := c.readDeadline()
	for len(c.rbuf) < n {
		read, err := c.fill(deadline)
		if read == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errIncompleteMessage("payload", len(c.rbuf), n)
			}
			return nil, readError("payload", err)
		}
	}
	return c.take(n), nil
}

// Read serves buffered bytes first and reads from the socket only when the
// buffer is empty. io.EOF is returned unwrapped.
func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(c.rbuf) > 0 {
		n := copy(p, c.rbuf)
		c.rbuf = c.rbuf[n:]
		return n, nil
	}
	if err := c.conn.SetReadDeadline(c.readDeadline()); err != nil {
		return 0, fmt.Errorf("%w: set read deadline: %w", ErrNetwork, err)
	}
	n, err := c.conn.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = readError("payload", err)
	}
	return n, err
}

// WriteLine sends text followed by "\n".
func (c *Conn) WriteLine(text string) error {
	return c.write([]byte(text + "\n"))
}

// WriteToken sends tok without terminator, e.g. READY or NEXT.
func (c *Conn) WriteToken(tok string) error {
	return c.write([]byte(tok))
}

// WriteBytes sends raw payload bytes. Writes are not acknowledged by the server.
func (c *Conn) WriteBytes(buf []byte) error {
	return c.write(buf)
}

func (c *Conn) write(buf []byte) error {
	var deadline time.Time
	if c.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(c.opts.WriteTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrNetwork, err)
	}
	if n, err := c.conn.Write(buf); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: write stalled after %d of %d bytes", ErrTimeout, n, len(buf))
		}
		return fmt.Errorf("%w: error send bytes: %w, sent %d", ErrNetwork, err, n)
	}
	return nil
}

// Close closes the socket. It can be called any number of times, also on a
// connection that already failed; only the first close error is reported.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state = StateClosed
		if err := c.conn.Close(); err != nil {
			c.closeErr = fmt.Errorf("error closing connection: %w", err)
		}
	})
	return nil
}

// Interrupt closes the socket without touching the session state, so that a
// blocked read or write returns at once. Unlike the other methods it may be
// called from another goroutine.
func (c *Conn) Interrupt() error {
	return c.conn.Close()
}

// CloseErr returns the error the first Close ran into, if any.
func (c *Conn) CloseErr() error {
	return c.closeErr
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func readError(what string, err error) error {
	switch {
	case isTimeout(err):
		return fmt.Errorf("%w: waiting for %s", ErrTimeout, what)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: connection closed while reading %s", ErrConnectionReset, what)
	default:
		return fmt.Errorf("%w: error reading %s: %w", ErrNetwork, what, err)
	}
}

func errIncompleteMessage(description string, actual int, expected int) error {
	return fmt.Errorf("%w: incomplete %s: read %d bytes, expecting %d", ErrConnectionReset, description, actual, expected)
}
