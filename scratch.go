package bridge

import (
	"fmt"
	"io"
	"os"

	"github.com/prife/ftpbridge/wire"
	"github.com/sirupsen/logrus"
)

// Scratch is a private temporary directory for the local copies of one
// request's files. Close removes it with everything in it.
//
//	scratch, err := bridge.NewScratch("", log)
//	if err != nil {
//		return err
//	}
//	defer scratch.Close()
type Scratch struct {
	dir string
	log logrus.FieldLogger
}

// NewScratch creates a uniquely named directory under parent, or under the
// system temp directory if parent is empty.
func NewScratch(parent string, log logrus.FieldLogger) (*Scratch, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	dir, err := os.MkdirTemp(parent, "ftpbridge-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create scratch directory: %w", wire.ErrLocalIO, err)
	}
	return &Scratch{dir: dir, log: log}, nil
}

func (s *Scratch) Dir() string {
	return s.dir
}

// Save copies r into a new file of the scratch directory. The returned
// LocalFile uploads as name.
func (s *Scratch) Save(name string, r io.Reader) (LocalFile, error) {
	f, err := os.CreateTemp(s.dir, "upload-*")
	if err != nil {
		return LocalFile{}, fmt.Errorf("%w: create scratch file for %s: %w", wire.ErrLocalIO, name, err)
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rerr := os.Remove(f.Name()); rerr != nil {
			s.log.WithError(rerr).Warn("remove scratch file")
		}
		return LocalFile{}, fmt.Errorf("%w: save %s: %w", wire.ErrLocalIO, name, err)
	}
	return LocalFile{Name: name, Path: f.Name()}, nil
}

// Close removes the scratch directory. Failures are logged, never returned, so
// that cleanup cannot mask the outcome of the request.
func (s *Scratch) Close() error {
	if err := os.RemoveAll(s.dir); err != nil {
		s.log.WithError(err).WithField("dir", s.dir).Warn("remove scratch directory")
	}
	return nil
}
