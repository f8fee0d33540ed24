package main

import (
	"io"
	"sync"

	"github.com/cheggaaa/pb"
	"github.com/prife/ftpbridge/wire"
)

// tracker draws one progress bar per transferred file. A nil tracker draws
// nothing.
type tracker struct {
	mu      sync.Mutex
	pool    *pb.Pool
	bars    map[string]*pb.ProgressBar
	stopped bool
}

func newTracker(enabled bool) *tracker {
	if !enabled {
		return nil
	}
	pool, err := pb.StartPool()
	if err != nil {
		return nil
	}
	return &tracker{pool: pool, bars: make(map[string]*pb.ProgressBar)}
}

func (t *tracker) bar(name string, size int64) *pb.ProgressBar {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bar, ok := t.bars[name]; ok {
		return bar
	}
	bar := pb.New64(size).SetUnits(pb.U_BYTES).Prefix(name + " ")
	bar.ShowSpeed = true
	t.bars[name] = bar
	t.pool.Add(bar)
	return bar
}

func (t *tracker) update(desc wire.TransferDescriptor) {
	bar := t.bar(desc.Name, desc.Size)
	bar.Set64(desc.Transferred)
}

// Func returns the progress callback for bridge operations.
func (t *tracker) Func() wire.ProgressFunc {
	if t == nil {
		return nil
	}
	return t.update
}

// Writer counts what is written to w on the bar of name.
func (t *tracker) Writer(w io.Writer, name string, size int64) io.Writer {
	if t == nil {
		return w
	}
	return io.MultiWriter(w, t.bar(name, size))
}

// Stop finishes the bars. It may be called more than once.
func (t *tracker) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	for _, bar := range t.bars {
		bar.Finish()
	}
	t.pool.Stop()
}
