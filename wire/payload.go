package wire

import (
	"errors"
	"fmt"
	"io"
)

// TransferDescriptor describes one payload on the wire. Transferred never
// exceeds Size, and the transfer is complete exactly when they are equal.
type TransferDescriptor struct {
	Name        string
	Size        int64
	Transferred int64
}

func (d *TransferDescriptor) Remaining() int64 {
	return d.Size - d.Transferred
}

func (d *TransferDescriptor) Complete() bool {
	return d.Transferred == d.Size
}

func (d TransferDescriptor) String() string {
	return fmt.Sprintf("%s %d/%d", d.Name, d.Transferred, d.Size)
}

// ProgressFunc is called after every chunk with a snapshot of the descriptor.
type ProgressFunc func(d TransferDescriptor)

// PayloadReader reads exactly the declared number of bytes of one payload.
// It must be fully read, or drained, before anything else is read from the Conn.
type PayloadReader struct {
	conn     *Conn
	desc     *TransferDescriptor
	progress ProgressFunc
}

var _ io.Reader = &PayloadReader{}

func (c *Conn) NewPayloadReader(desc *TransferDescriptor, progress ProgressFunc) *PayloadReader {
	return &PayloadReader{conn: c, desc: desc, progress: progress}
}

func (r *PayloadReader) Descriptor() *TransferDescriptor {
	return r.desc
}

func (r *PayloadReader) Read(buf []byte) (n int, err error) {
	remaining := r.desc.Remaining()
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	n, err = r.conn.Read(buf)
	r.desc.Transferred += int64(n)
	if n > 0 && r.progress != nil {
		r.progress(*r.desc)
	}

	if errors.Is(err, io.EOF) {
		if r.desc.Remaining() > 0 {
			return n, errIncompleteMessage("payload "+r.desc.Name, int(r.desc.Transferred), int(r.desc.Size))
		}
		err = nil
	}
	return n, err
}

// Drain reads and discards whatever is left of the payload.
func (r *PayloadReader) Drain() (int64, error) {
	if r.desc.Remaining() <= 0 {
		return 0, nil
	}
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return n, fmt.Errorf("error draining %s: %w", r.desc.Name, err)
	}
	return n, nil
}

// ChunkWriter sends one payload of a declared size in fixed-size chunks.
type ChunkWriter struct {
	conn      *Conn
	desc      *TransferDescriptor
	chunkSize int
	progress  ProgressFunc
}

func (c *Conn) NewChunkWriter(desc *TransferDescriptor, chunkSize int, progress ProgressFunc) *ChunkWriter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkWriter{conn: c, desc: desc, chunkSize: chunkSize, progress: progress}
}

func (w *ChunkWriter) Descriptor() *TransferDescriptor {
	return w.desc
}

// Write sends buf in chunks. Writing past the declared size is refused.
func (w *ChunkWriter) Write(buf []byte) (int, error) {
	if int64(len(buf)) > w.desc.Remaining() {
		return 0, fmt.Errorf("%w: %d bytes exceed the %d bytes left of %s", ErrAssertion, len(buf), w.desc.Remaining(), w.desc.Name)
	}

	written := 0
	for len(buf) > 0 {
		partial := buf
		if len(partial) > w.chunkSize {
			partial = partial[:w.chunkSize]
		}
		if err := w.conn.WriteBytes(partial); err != nil {
			return written, err
		}
		written += len(partial)
		w.desc.Transferred += int64(len(partial))
		buf = buf[len(partial):]
		if w.progress != nil {
			w.progress(*w.desc)
		}
	}
	return written, nil
}

// Send copies the payload from r. Failures reading r are reported as
// ErrLocalIO so callers can tell them apart from transport failures.
func (w *ChunkWriter) Send(r io.Reader) error {
	buf := make([]byte, w.chunkSize)
	for w.desc.Remaining() > 0 {
		want := int64(len(buf))
		if want > w.desc.Remaining() {
			want = w.desc.Remaining()
		}
		n, err := io.ReadFull(r, buf[:want])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: %s ended after %d of %d bytes", ErrLocalIO, w.desc.Name, w.desc.Transferred, w.desc.Size)
			}
			return fmt.Errorf("%w: reading %s: %w", ErrLocalIO, w.desc.Name, err)
		}
	}
	return nil
}

// Pad fills the rest of the declared size with zero bytes, keeping a batch
// aligned after the local source failed.
func (w *ChunkWriter) Pad() error {
	zeros := make([]byte, w.chunkSize)
	for w.desc.Remaining() > 0 {
		n := int64(len(zeros))
		if n > w.desc.Remaining() {
			n = w.desc.Remaining()
		}
		if _, err := w.Write(zeros[:n]); err != nil {
			return err
		}
	}
	return nil
}
