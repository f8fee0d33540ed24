package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prife/ftpbridge/wire"
)

// LocalFile is a file on local disk to be stored on the server as Name.
type LocalFile struct {
	Name string
	Path string
}

// UploadResult is the outcome for one file of an upload.
type UploadResult struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	err error
}

func (r *UploadResult) fail(err error) {
	r.Success = false
	r.err = err
	r.Error = err.Error()
}

func (r UploadResult) Err() error {
	return r.err
}

// UploadReport is the per-file outcome of an upload. Message is the server's
// status or completion line, if one was received.
type UploadReport struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message"`
	FilesUploaded int            `json:"filesUploaded"`
	Results       []UploadResult `json:"results"`
}

func (r *UploadReport) tally() {
	r.FilesUploaded = 0
	for _, res := range r.Results {
		if res.Success {
			r.FilesUploaded++
		}
	}
	r.Success = len(r.Results) > 0 && r.FilesUploaded == len(r.Results)
}

// Err summarizes the failed files. It is nil when every file was stored and
// wraps ErrPartialFailure when only some were.
func (r *UploadReport) Err() error {
	var errs []error
	for _, res := range r.Results {
		if !res.Success && res.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if r.FilesUploaded > 0 {
		return fmt.Errorf("%w: %d of %d files failed: %w", wire.ErrPartialFailure, len(errs), len(r.Results), errors.Join(errs...))
	}
	return errors.Join(errs...)
}

// localSource is an opened LocalFile.
type localSource struct {
	file *os.File
	size int64
}

func openLocal(lf LocalFile) (*localSource, error) {
	f, err := os.Open(lf.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wire.ErrLocalIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", wire.ErrLocalIO, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a regular file", wire.ErrLocalIO, lf.Path)
	}
	return &localSource{file: f, size: info.Size()}, nil
}

func (l *localSource) Close() {
	if l != nil {
		l.file.Close()
	}
}

// Upload stores one local file.
// Corresponds to the command:
//
//	UPLOAD_TO <user> <name>
func (b *Bridge) Upload(ctx context.Context, user string, file LocalFile, progress wire.ProgressFunc) (UploadReport, error) {
	report := UploadReport{Results: []UploadResult{{Name: file.Name}}}
	res := &report.Results[0]

	if err := checkUser(user); err != nil {
		res.fail(err)
		return report, wrapClientError(err, user, "Upload(%s)", file.Name)
	}
	if err := checkName(file.Name); err != nil {
		res.fail(err)
		return report, wrapClientError(err, user, "Upload(%s)", file.Name)
	}

	src, err := openLocal(file)
	if err != nil {
		res.fail(err)
		return report, wrapClientError(err, user, "Upload(%s)", file.Name)
	}
	defer src.Close()
	res.Size = src.size

	s, err := b.open(ctx, user, "upload")
	if err != nil {
		res.fail(err)
		return report, wrapClientError(err, user, "Upload(%s)", file.Name)
	}
	status, err := s.UploadTo(file.Name, src.size, src.file, progress)
	s.Close()
	report.Message = status

	if err != nil {
		res.fail(err)
		report.tally()
		if errors.Is(err, wire.ErrLocalIO) && status != "" {
			b.discard(ctx, user, []string{file.Name})
		}
		s.log.WithError(err).Error("upload failed")
		return report, wrapClientError(err, user, "Upload(%s)", file.Name)
	}
	res.Success = true
	report.tally()
	s.log.WithField("file", file.Name).Infof("uploaded %d bytes", src.size)
	return report, nil
}

// UploadBatch stores several local files in one session.
//
// The server is told the number of files up front, so every file is announced
// even if it fails locally. A file that cannot be opened takes its slot as an
// empty placeholder under a temporary name; a file that fails while being sent
// is padded with zero bytes. Both are reported as failed and removed from the
// server afterwards. If no file can be opened, the server is not contacted.
// Corresponds to the command:
//
//	UPLOAD_ALL_TO <user> <n>
func (b *Bridge) UploadBatch(ctx context.Context, user string, files []LocalFile, progress wire.ProgressFunc) (UploadReport, error) {
	report := UploadReport{Results: make([]UploadResult, len(files))}
	for i, f := range files {
		report.Results[i].Name = f.Name
	}
	if len(files) == 0 {
		err := fmt.Errorf("%w: no files to upload", wire.ErrAssertion)
		return report, wrapClientError(err, user, "UploadBatch")
	}
	if err := checkUser(user); err != nil {
		for i := range report.Results {
			report.Results[i].fail(err)
		}
		return report, wrapClientError(err, user, "UploadBatch")
	}

	sources := make([]*localSource, len(files))
	defer func() {
		for _, src := range sources {
			src.Close()
		}
	}()
	opened := 0
	for i, f := range files {
		if err := checkName(f.Name); err != nil {
			report.Results[i].fail(err)
			continue
		}
		src, err := openLocal(f)
		if err != nil {
			report.Results[i].fail(err)
			continue
		}
		sources[i] = src
		report.Results[i].Size = src.size
		opened++
	}
	if opened == 0 {
		report.tally()
		return report, wrapClientError(report.Err(), user, "UploadBatch")
	}

	s, err := b.open(ctx, user, "upload-batch")
	if err != nil {
		for i := range report.Results {
			if sources[i] != nil {
				report.Results[i].fail(err)
			}
		}
		report.tally()
		return report, wrapClientError(err, user, "UploadBatch")
	}

	var discard []string
	status, err := b.sendBatch(s, files, sources, &report, &discard, progress)
	s.Close()
	report.Message = status
	report.tally()

	if len(discard) > 0 {
		b.discard(ctx, user, discard)
	}
	if err != nil {
		s.log.WithError(err).Errorf("batch upload aborted, %d of %d files stored", report.FilesUploaded, len(files))
		return report, wrapClientError(err, user, "UploadBatch")
	}
	s.log.Infof("batch upload: %d of %d files stored", report.FilesUploaded, len(files))
	return report, wrapClientError(report.Err(), user, "UploadBatch")
}

// sendBatch runs the UPLOAD_ALL_TO exchange. It returns a non-nil error only
// if the session failed; per-file failures are recorded in report.
func (b *Bridge) sendBatch(s *Session, files []LocalFile, sources []*localSource, report *UploadReport, discard *[]string, progress wire.ProgressFunc) (string, error) {
	w, err := s.UploadAllTo(len(files))
	if err != nil {
		for i := range report.Results {
			if sources[i] != nil {
				report.Results[i].fail(err)
			}
		}
		return "", err
	}

	for i, f := range files {
		res := &report.Results[i]
		src := sources[i]

		var perr error
		if src == nil {
			placeholder := placeholderName(i)
			*discard = append(*discard, placeholder)
			perr = w.Put(placeholder, 0, strings.NewReader(""), nil)
		} else {
			perr = w.Put(f.Name, src.size, src.file, progress)
			if perr == nil {
				res.Success = true
			} else if !isSessionFatal(perr) {
				res.fail(perr)
				*discard = append(*discard, f.Name)
			}
		}

		if isSessionFatal(perr) {
			for j := i; j < len(files); j++ {
				if sources[j] != nil {
					report.Results[j].fail(fmt.Errorf("batch aborted: %w", perr))
				}
			}
			return "", perr
		}
	}

	status, err := w.Finish()
	if err != nil {
		for i := range report.Results {
			if report.Results[i].Success {
				report.Results[i].fail(err)
			}
		}
		return status, err
	}
	return status, nil
}

func placeholderName(slot int) string {
	return fmt.Sprintf(".ftpbridge-%d-%d.part", time.Now().UnixNano(), slot)
}

// discard removes files that were stored with padding or as placeholders.
// Failures are logged only.
func (b *Bridge) discard(ctx context.Context, user string, names []string) {
	for _, name := range names {
		result, err := b.Delete(context.WithoutCancel(ctx), user, name)
		entry := b.config.Logger.WithField("user", user).WithField("file", name)
		if err != nil {
			entry.WithError(err).Warn("could not remove incomplete upload")
		} else if !result.Success {
			entry.Warnf("could not remove incomplete upload: %s", result.Message)
		}
	}
}
