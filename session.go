package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prife/ftpbridge/wire"
	"github.com/sirupsen/logrus"
)

// Session is one connection to the storage server, serving exactly one command.
// It is owned by a single caller and not safe for concurrent use.
type Session struct {
	conn   *wire.Conn
	user   string
	config ServerConfig
	log    *logrus.Entry
	banner string

	ctx         context.Context
	stop        func() bool
	interrupted atomic.Bool
	closeOnce   sync.Once
}

func (b *Bridge) open(ctx context.Context, user, op string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", wire.ErrConnection, err)
	}

	dialCtx := ctx
	if b.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, b.config.DialTimeout)
		defer cancel()
	}
	conn, err := b.config.Dial(dialCtx, b.Address(), b.config.wireOptions())
	if err != nil {
		return nil, err
	}

	s := &Session{
		conn:   conn,
		user:   user,
		config: b.config,
		ctx:    ctx,
		log: b.config.Logger.WithFields(logrus.Fields{
			"server": b.Address(),
			"user":   user,
			"op":     op,
		}),
	}
	// A cancelled caller unblocks whatever wait the session is in.
	s.stop = context.AfterFunc(ctx, func() {
		s.interrupted.Store(true)
		conn.Interrupt()
	})

	if err := s.greet(); err != nil {
		s.stop()
		conn.Close()
		return nil, s.fail(fmt.Errorf("%w: %w", wire.ErrConnection, err))
	}
	return s, nil
}

func (s *Session) greet() error {
	if err := s.conn.Transition(wire.StateAwaitGreeting); err != nil {
		return err
	}
	banner, err := s.conn.ReadLine()
	if err != nil {
		return fmt.Errorf("server did not greet: %w", err)
	}
	if banner == "" {
		return errors.New("server sent an empty greeting")
	}
	s.banner = banner
	s.log.WithField("banner", banner).Debug("recv")
	return s.conn.Transition(wire.StateGreeted)
}

func (s *Session) Banner() string {
	return s.banner
}

func (s *Session) User() string {
	return s.user
}

func (s *Session) State() wire.State {
	return s.conn.State()
}

// fail records the cancellation cause on errors caused by an interrupted socket.
func (s *Session) fail(err error) error {
	if err != nil && s.interrupted.Load() {
		return fmt.Errorf("%w: %w", context.Cause(s.ctx), err)
	}
	return err
}

// begin sends the session's one command line.
func (s *Session) begin(line string) error {
	if s.conn.State() != wire.StateGreeted {
		return fmt.Errorf("%w: session is %s, it serves exactly one command", wire.ErrAssertion, s.conn.State())
	}
	if err := s.conn.Transition(wire.StateAwaitCommandResponse); err != nil {
		return err
	}
	s.log.WithField("cmd", line).Debug("send")
	return s.fail(s.conn.WriteLine(line))
}

func (s *Session) readStatus() (string, error) {
	line, err := s.conn.ReadLine()
	if err != nil {
		return "", s.fail(err)
	}
	s.log.WithField("status", line).Debug("recv")
	return line, nil
}

func (s *Session) transition(to wire.State) error {
	return s.conn.Transition(to)
}

// List sends LIST and returns the names in the user's directory. A missing
// directory is an empty listing.
func (s *Session) List() ([]string, error) {
	if err := s.begin(wire.ListRequest(s.user)); err != nil {
		return nil, err
	}
	resp, err := s.conn.ReadResponse()
	if err != nil {
		return nil, s.fail(err)
	}
	if wire.IsRejection(resp) {
		return nil, fmt.Errorf("%w: server rejected LIST: %s", wire.ErrProtocol, resp)
	}
	files := wire.ParseListing(resp)
	s.log.WithField("count", len(files)).Debug("recv listing")
	return files, nil
}

// DownloadFrom requests one file. If the server reports the file missing,
// ErrNotFound is returned and no payload is requested. Otherwise the returned
// reader yields exactly the declared number of bytes.
func (s *Session) DownloadFrom(name string, progress wire.ProgressFunc) (*wire.PayloadReader, error) {
	if err := s.begin(wire.DownloadFromRequest(s.user, name)); err != nil {
		return nil, err
	}
	line, err := s.readStatus()
	if err != nil {
		return nil, err
	}
	size, err := wire.ParseSize(line)
	if err != nil {
		return nil, err
	}
	if size == wire.NotFoundSize {
		return nil, fmt.Errorf("%w: %s in %s", wire.ErrNotFound, name, s.user)
	}

	if err := s.conn.WriteToken(wire.TokenReady); err != nil {
		return nil, s.fail(err)
	}
	if err := s.transition(wire.StateStreamingPayload); err != nil {
		return nil, err
	}
	desc := &wire.TransferDescriptor{Name: name, Size: size}
	return s.conn.NewPayloadReader(desc, progress), nil
}

// DownloadAllFrom requests every file of the user's directory. The files are
// consumed in server order through the returned BatchReader.
func (s *Session) DownloadAllFrom(progress wire.ProgressFunc) (*BatchReader, error) {
	if err := s.begin(wire.DownloadAllFromRequest(s.user)); err != nil {
		return nil, err
	}
	line, err := s.readStatus()
	if err != nil {
		return nil, err
	}
	count, err := wire.ParseCount(line)
	if err != nil {
		return nil, err
	}

	batch := &BatchReader{s: s, count: count, progress: progress}
	if count == 0 {
		batch.done = true
		return batch, nil
	}
	if err := s.conn.WriteToken(wire.TokenReady); err != nil {
		return nil, s.fail(err)
	}
	if err := s.transition(wire.StateAwaitNext); err != nil {
		return nil, err
	}
	return batch, nil
}

// UploadTo stores size bytes read from r as name. It returns the server's
// status line. If r fails or ends early, the rest of the slot is sent as zero
// bytes so that the session stays in step, and ErrLocalIO is returned along
// with the status.
func (s *Session) UploadTo(name string, size int64, r io.Reader, progress wire.ProgressFunc) (string, error) {
	if size < 0 {
		return "", fmt.Errorf("%w: negative size %d for %s", wire.ErrAssertion, size, name)
	}
	if err := s.begin(wire.UploadToRequest(s.user, name)); err != nil {
		return "", err
	}
	// The server reads the command and the size with two separate socket reads.
	time.Sleep(s.config.SettleWindow)
	if err := s.conn.WriteToken(strconv.FormatInt(size, 10)); err != nil {
		return "", s.fail(err)
	}
	if err := s.conn.ExpectToken(wire.TokenReady); err != nil {
		return "", s.fail(err)
	}
	if err := s.transition(wire.StateStreamingPayload); err != nil {
		return "", err
	}

	localErr, err := s.sendPayload(&wire.TransferDescriptor{Name: name, Size: size}, r, progress)
	if err != nil {
		return "", err
	}
	if err := s.transition(wire.StateAwaitCommandResponse); err != nil {
		return "", err
	}
	status, err := s.readStatus()
	if err != nil {
		return "", err
	}
	if localErr != nil {
		return status, localErr
	}
	if !wire.IsUploadSuccess(status) {
		return status, fmt.Errorf("%w: upload of %s rejected: %s", wire.ErrProtocol, name, status)
	}
	return status, nil
}

// sendPayload streams one payload. A local read failure pads the slot and is
// returned as localErr; err is only set when the session itself failed.
func (s *Session) sendPayload(desc *wire.TransferDescriptor, r io.Reader, progress wire.ProgressFunc) (localErr, err error) {
	w := s.conn.NewChunkWriter(desc, s.config.ChunkSize, progress)
	sendErr := w.Send(r)
	if sendErr == nil {
		return nil, nil
	}
	if !errors.Is(sendErr, wire.ErrLocalIO) {
		return nil, s.fail(sendErr)
	}
	s.log.WithError(sendErr).Warnf("padding %d bytes of %s", desc.Remaining(), desc.Name)
	if err := w.Pad(); err != nil {
		return sendErr, s.fail(err)
	}
	return sendErr, nil
}

// UploadAllTo announces a batch of n files. Exactly n files must then be Put
// before the batch is finished.
func (s *Session) UploadAllTo(n int) (*BatchWriter, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: batch upload needs at least one file, got %d", wire.ErrAssertion, n)
	}
	if err := s.begin(wire.UploadAllToRequest(s.user, n)); err != nil {
		return nil, err
	}
	if err := s.conn.ExpectToken(wire.TokenReady); err != nil {
		return nil, s.fail(err)
	}
	if err := s.transition(wire.StateAwaitNext); err != nil {
		return nil, err
	}
	return &BatchWriter{s: s, count: n}, nil
}

type DeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DeleteFrom asks the server to remove name. The server has no status code
// for the outcome, Success is derived from the message text.
func (s *Session) DeleteFrom(name string) (DeleteResult, error) {
	if err := s.begin(wire.DeleteFromRequest(s.user, name)); err != nil {
		return DeleteResult{}, err
	}
	line, err := s.readStatus()
	if err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Success: wire.IsDeleteSuccess(line), Message: line}, nil
}

// Close sends QUIT, waits a bounded time for the goodbye and closes the
// socket. It is safe to call on a failed session and more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.stop()
		if s.conn.State() != wire.StateClosed {
			_ = s.conn.Transition(wire.StateClosing)
			s.quit()
		}
		s.conn.Close()
		if err := s.conn.CloseErr(); err != nil && !s.interrupted.Load() {
			s.log.WithError(err).Warn("close")
		}
	})
	return nil
}

func (s *Session) quit() {
	if s.interrupted.Load() {
		return
	}
	if err := s.conn.WriteLine(wire.CmdQuit); err != nil {
		s.log.WithError(err).Debug("QUIT not sent")
		return
	}
	line, err := s.conn.ReadLineWithin(s.config.QuitWait)
	if err != nil {
		s.log.WithError(err).Debug("no goodbye")
		return
	}
	s.log.WithField("status", line).Debug("recv")
}
