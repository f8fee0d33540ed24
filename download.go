package bridge

import (
	"context"
	"fmt"
	"io"

	"github.com/prife/ftpbridge/wire"
)

// FileInfo describes a file about to be streamed.
type FileInfo struct {
	Name        string
	Size        int64
	ContentType string
}

func newFileInfo(desc *wire.TransferDescriptor) FileInfo {
	return FileInfo{Name: desc.Name, Size: desc.Size, ContentType: ContentType(desc.Name)}
}

// Download is an open single-file download. It yields exactly Size bytes;
// Close ends the session, also when the payload was not read to the end.
type Download struct {
	FileInfo
	r *wire.PayloadReader
	s *Session
}

var _ io.ReadCloser = &Download{}

func (d *Download) Read(p []byte) (int, error) {
	return d.r.Read(p)
}

// Transferred returns the number of payload bytes read so far.
func (d *Download) Transferred() int64 {
	return d.r.Descriptor().Transferred
}

func (d *Download) Close() error {
	if !d.r.Descriptor().Complete() {
		d.s.log.WithField("file", d.Name).Warnf("download closed after %s", d.r.Descriptor())
	}
	return d.s.Close()
}

// Fetch opens a direct download of one file. Nothing is streamed for a file
// the server does not have: the error satisfies IsNotFound.
// Corresponds to the command:
//
//	DOWNLOAD_FROM <user> <name>
func (b *Bridge) Fetch(ctx context.Context, user, name string, progress wire.ProgressFunc) (*Download, error) {
	if err := checkUser(user); err != nil {
		return nil, wrapClientError(err, user, "Fetch(%s)", name)
	}
	if err := checkName(name); err != nil {
		return nil, wrapClientError(err, user, "Fetch(%s)", name)
	}

	s, err := b.open(ctx, user, "fetch")
	if err != nil {
		return nil, wrapClientError(err, user, "Fetch(%s)", name)
	}
	r, err := s.DownloadFrom(name, progress)
	if err != nil {
		s.Close()
		if IsNotFound(err) {
			s.log.WithField("file", name).Info("not found")
		} else {
			s.log.WithError(err).Error("fetch failed")
		}
		return nil, wrapClientError(err, user, "Fetch(%s)", name)
	}
	s.log.WithField("file", name).Infof("streaming %d bytes", r.Descriptor().Size)
	return &Download{FileInfo: newFileInfo(r.Descriptor()), r: r, s: s}, nil
}

// FetchViaBatch downloads one file by enumerating the user's whole directory.
// Every other file is drained; when name is found, open is called with its
// description and the payload is copied into the writer it returns.
// Corresponds to the command:
//
//	DOWNLOAD_ALL_FROM <user>
func (b *Bridge) FetchViaBatch(ctx context.Context, user, name string, open func(FileInfo) (io.Writer, error)) error {
	if err := checkUser(user); err != nil {
		return wrapClientError(err, user, "FetchViaBatch(%s)", name)
	}
	if err := checkName(name); err != nil {
		return wrapClientError(err, user, "FetchViaBatch(%s)", name)
	}

	found := false
	_, err := b.walkBatch(ctx, user, "fetch-batch", nil, func(desc *wire.TransferDescriptor, r io.Reader) error {
		if found || desc.Name != name {
			return nil
		}
		found = true
		w, err := open(newFileInfo(desc))
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, r); err != nil {
			return fmt.Errorf("streaming %s: %w", desc.Name, err)
		}
		return nil
	})
	if err != nil {
		return wrapClientError(err, user, "FetchViaBatch(%s)", name)
	}
	if !found {
		return wrapClientError(fmt.Errorf("%w: %s in %s", wire.ErrNotFound, name, user), user, "FetchViaBatch(%s)", name)
	}
	return nil
}

// FetchAll visits every file of the user's directory in server order. The
// reader passed to visit is only valid during the call; whatever visit leaves
// unread is drained. It returns the number of files visited.
func (b *Bridge) FetchAll(ctx context.Context, user string, progress wire.ProgressFunc, visit func(*wire.TransferDescriptor, io.Reader) error) (int, error) {
	if err := checkUser(user); err != nil {
		return 0, wrapClientError(err, user, "FetchAll")
	}
	n, err := b.walkBatch(ctx, user, "fetch-all", progress, visit)
	return n, wrapClientError(err, user, "FetchAll")
}

func (b *Bridge) walkBatch(ctx context.Context, user, op string, progress wire.ProgressFunc, visit func(*wire.TransferDescriptor, io.Reader) error) (int, error) {
	s, err := b.open(ctx, user, op)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	batch, err := s.DownloadAllFrom(progress)
	if err != nil {
		s.log.WithError(err).Error("batch download failed")
		return 0, err
	}

	visited := 0
	for {
		desc, r, err := batch.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.log.WithError(err).Errorf("batch download failed after %d of %d files", visited, batch.Count())
			return visited, err
		}
		visited++
		if err := visit(desc, r); err != nil {
			return visited, err
		}
	}
	consumed, _ := batch.Offset()
	s.log.WithField("files", visited).Infof("batch complete, %d bytes", consumed)
	return visited, nil
}
