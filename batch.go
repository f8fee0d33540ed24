package bridge

import (
	"errors"
	"fmt"
	"io"

	"github.com/prife/ftpbridge/wire"
)

// BatchReader walks the files of a DOWNLOAD_ALL_FROM exchange.
//
//	batch, _ := s.DownloadAllFrom(nil)
//	for {
//		desc, r, err := batch.Next()
//		if err == io.EOF {
//			break
//		}
//		...
//	}
//
// The files have to be visited in server order. Moving on drains whatever the
// caller left of the current payload, so skipping a file never loses the
// position in the stream.
type BatchReader struct {
	s        *Session
	count    int
	index    int
	current  *wire.PayloadReader
	progress wire.ProgressFunc
	done     bool
	status   string

	consumed int64
	declared int64
}

// Count is the number of files the server announced.
func (b *BatchReader) Count() int {
	return b.count
}

// Status is the server's final status line, available once Next returned io.EOF.
func (b *BatchReader) Status() string {
	return b.status
}

// Offset returns the payload bytes consumed so far and the sum of the sizes
// declared for the files that were finished. Both are equal between files.
func (b *BatchReader) Offset() (consumed, declared int64) {
	return b.consumed, b.declared
}

// Next finishes the current file and advances to the next one. After the last
// file it reads the final status line and returns io.EOF.
func (b *BatchReader) Next() (*wire.TransferDescriptor, io.Reader, error) {
	if b.done {
		return nil, nil, io.EOF
	}
	if err := b.finishCurrent(); err != nil {
		return nil, nil, err
	}

	if b.index == b.count {
		b.done = true
		if err := b.s.transition(wire.StateAwaitCommandResponse); err != nil {
			return nil, nil, err
		}
		status, err := b.s.readStatus()
		if err != nil {
			return nil, nil, err
		}
		b.status = status
		return nil, nil, io.EOF
	}

	line, err := b.s.readStatus()
	if err != nil {
		return nil, nil, err
	}
	name, size, err := wire.ParseFileHeader(line)
	if err != nil {
		return nil, nil, err
	}
	if err := b.s.conn.WriteToken(wire.TokenReady); err != nil {
		return nil, nil, b.s.fail(err)
	}
	if err := b.s.transition(wire.StateStreamingPayload); err != nil {
		return nil, nil, err
	}

	b.index++
	b.current = b.s.conn.NewPayloadReader(&wire.TransferDescriptor{Name: name, Size: size}, b.progress)
	return b.current.Descriptor(), b.current, nil
}

func (b *BatchReader) finishCurrent() error {
	if b.current == nil {
		return nil
	}
	r := b.current
	b.current = nil

	before := r.Descriptor().Transferred
	if _, err := r.Drain(); err != nil {
		b.consumed += r.Descriptor().Transferred
		return b.s.fail(err)
	}
	desc := r.Descriptor()
	b.consumed += desc.Transferred
	b.declared += desc.Size
	if skipped := desc.Transferred - before; skipped > 0 {
		b.s.log.Debugf("drained %d bytes of %s", skipped, desc.Name)
	}

	if err := b.s.conn.WriteToken(wire.TokenNext); err != nil {
		return b.s.fail(err)
	}
	return b.s.transition(wire.StateAwaitNext)
}

// BatchWriter sends the files of an UPLOAD_ALL_TO exchange.
type BatchWriter struct {
	s     *Session
	count int
	sent  int
}

func (w *BatchWriter) Count() int {
	return w.count
}

func (w *BatchWriter) Sent() int {
	return w.sent
}

// Put announces name with its size and streams size bytes from r.
// If r fails, the slot is padded with zero bytes and the ErrLocalIO is
// returned; the batch can go on. Any other error leaves the session unusable.
func (w *BatchWriter) Put(name string, size int64, r io.Reader, progress wire.ProgressFunc) error {
	if w.sent == w.count {
		return fmt.Errorf("%w: batch of %d files is already complete", wire.ErrAssertion, w.count)
	}
	if size < 0 {
		return fmt.Errorf("%w: negative size %d for %s", wire.ErrAssertion, size, name)
	}

	header := wire.FormatFileHeader(name, size)
	w.s.log.WithField("header", header).Debug("send")
	if err := w.s.conn.WriteLine(header); err != nil {
		return w.s.fail(err)
	}
	if err := w.s.conn.ExpectToken(wire.TokenReady); err != nil {
		return w.s.fail(err)
	}
	if err := w.s.transition(wire.StateStreamingPayload); err != nil {
		return err
	}

	localErr, err := w.s.sendPayload(&wire.TransferDescriptor{Name: name, Size: size}, r, progress)
	if err != nil {
		return err
	}
	if err := w.s.conn.ExpectToken(wire.TokenNext); err != nil {
		return w.s.fail(err)
	}
	w.sent++
	if err := w.s.transition(wire.StateAwaitNext); err != nil {
		return err
	}
	return localErr
}

// Finish reads the completion line once every announced file was sent.
func (w *BatchWriter) Finish() (string, error) {
	if w.sent != w.count {
		return "", fmt.Errorf("%w: %d of %d files sent", wire.ErrAssertion, w.sent, w.count)
	}
	if err := w.s.transition(wire.StateAwaitCommandResponse); err != nil {
		return "", err
	}
	status, err := w.s.readStatus()
	if err != nil {
		return "", err
	}
	if !wire.IsUploadSuccess(status) {
		return status, fmt.Errorf("%w: batch upload not confirmed: %s", wire.ErrProtocol, status)
	}
	return status, nil
}

// isSessionFatal reports whether err leaves the session out of step with the server.
func isSessionFatal(err error) bool {
	return err != nil && !errors.Is(err, wire.ErrLocalIO)
}
