package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	bridge "github.com/prife/ftpbridge"
	"github.com/prife/ftpbridge/wire"
	"golang.org/x/sync/errgroup"
)

func (c *cli) ls(ctx context.Context, user string) error {
	files, err := c.b.List(ctx, user)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		c.infof("%s has no files", user)
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Name", "Type")
	for i, name := range files {
		if err := table.Append([]string{fmt.Sprint(i + 1), name, bridge.ContentType(name)}); err != nil {
			return err
		}
	}
	return table.Render()
}

// createFile creates the destination of a download inside dir. The name was
// checked by the bridge, so it has no path separators.
func createFile(dir, name string) (*os.File, error) {
	return os.Create(filepath.Join(dir, name))
}

func (c *cli) get(ctx context.Context, user string, names []string, dir string, viaBatch bool, jobs int) error {
	bars := newTracker(c.progress)
	defer bars.Stop()

	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	failed := make([]error, len(names))
	saved := make([]bool, len(names))
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			var err error
			if viaBatch {
				err = c.getViaBatch(ctx, bars, user, name, dir)
			} else {
				err = c.getDirect(ctx, bars, user, name, dir)
			}
			if err != nil && !bridge.IsNotFound(err) {
				return err
			}
			failed[i] = err
			saved[i] = err == nil
			return nil
		})
	}
	err := g.Wait()
	bars.Stop()

	for i, name := range names {
		switch {
		case saved[i]:
			c.okf("%s", filepath.Join(dir, name))
		case failed[i] != nil:
			c.failf("%s: not found", name)
		}
	}
	if err != nil {
		return err
	}
	return errors.Join(failed...)
}

func (c *cli) getDirect(ctx context.Context, bars *tracker, user, name, dir string) error {
	d, err := c.b.Fetch(ctx, user, name, bars.Func())
	if err != nil {
		return err
	}
	defer d.Close()

	f, err := createFile(dir, name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, d); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	return f.Close()
}

func (c *cli) getViaBatch(ctx context.Context, bars *tracker, user, name, dir string) error {
	var f *os.File
	err := c.b.FetchViaBatch(ctx, user, name, func(info bridge.FileInfo) (io.Writer, error) {
		var err error
		f, err = createFile(dir, info.Name)
		if err != nil {
			return nil, err
		}
		return bars.Writer(f, info.Name, info.Size), nil
	})
	if f != nil {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(f.Name())
		}
	}
	return err
}

func (c *cli) getAll(ctx context.Context, user, dir string) error {
	bars := newTracker(c.progress)
	defer bars.Stop()

	var saved []string
	n, err := c.b.FetchAll(ctx, user, bars.Func(), func(desc *wire.TransferDescriptor, r io.Reader) error {
		f, err := createFile(dir, desc.Name)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			os.Remove(f.Name())
			return err
		}
		saved = append(saved, f.Name())
		return f.Close()
	})
	bars.Stop()

	for _, name := range saved {
		c.okf("%s", name)
	}
	if err != nil {
		return err
	}
	if n == 0 {
		c.infof("%s has no files", user)
	}
	return nil
}

func (c *cli) put(ctx context.Context, user string, paths []string) error {
	files := make([]bridge.LocalFile, len(paths))
	for i, p := range paths {
		files[i] = bridge.LocalFile{Name: filepath.Base(p), Path: p}
	}

	bars := newTracker(c.progress)
	defer bars.Stop()

	var report bridge.UploadReport
	var err error
	if len(files) == 1 {
		report, err = c.b.Upload(ctx, user, files[0], bars.Func())
	} else {
		report, err = c.b.UploadBatch(ctx, user, files, bars.Func())
	}
	bars.Stop()

	for _, res := range report.Results {
		if res.Success {
			c.okf("%s (%d bytes)", res.Name, res.Size)
		} else if res.Error != "" {
			c.failf("%s: %s", res.Name, res.Error)
		}
	}
	if report.Message != "" {
		c.infof("%s", report.Message)
	}
	return err
}

func (c *cli) rm(ctx context.Context, user string, names []string) error {
	var errs []error
	for _, name := range names {
		result, err := c.b.Delete(ctx, user, name)
		if err != nil {
			return err
		}
		if result.Success {
			c.okf("%s", result.Message)
		} else {
			c.failf("%s: %s", name, result.Message)
			errs = append(errs, fmt.Errorf("%s: %s", name, result.Message))
		}
	}
	return errors.Join(errs...)
}
