package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	bridge "github.com/prife/ftpbridge"
	"github.com/prife/ftpbridge/internal/storagetest"
	"github.com/prife/ftpbridge/services"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeOnce(t *testing.T) {
	srv := storagetest.NewServer(t)
	logger, _ := logtest.NewNullLogger()
	b, err := bridge.NewWithConfig(bridge.ServerConfig{
		Host:         srv.Host(),
		Port:         srv.Port(),
		ReadTimeout:  2 * time.Second,
		SettleWindow: 15 * time.Millisecond,
		Logger:       logger,
	})
	require.NoError(t, err)

	st := services.ProbeOnce(context.Background(), b)
	assert.True(t, st.Reachable)
	assert.Equal(t, storagetest.Banner, st.Banner)
	assert.Equal(t, srv.Addr(), st.Server)
	assert.NoError(t, st.Err)

	srv.Close()
	st = services.ProbeOnce(context.Background(), b)
	assert.False(t, st.Reachable)
	assert.True(t, bridge.IsTransport(st.Err))
	assert.NotEmpty(t, st.Error)
}

// flakyPinger fails while down is set.
type flakyPinger struct {
	mu   sync.Mutex
	down bool
}

func (p *flakyPinger) set(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

func (p *flakyPinger) Ping(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return "", errors.New("connection refused")
	}
	return "Welcome", nil
}

func (p *flakyPinger) Address() string {
	return "fake:2121"
}

func TestProbeReportsChanges(t *testing.T) {
	p := &flakyPinger{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan services.Status, 10)
	done := make(chan error, 1)
	go func() {
		done <- services.Probe(ctx, p, 5*time.Millisecond, func(st services.Status) { ch <- st })
	}()

	first := <-ch
	assert.True(t, first.Reachable)

	p.set(true)
	second := <-ch
	assert.False(t, second.Reachable)
	assert.EqualError(t, second.Err, "connection refused")

	p.set(false)
	third := <-ch
	assert.True(t, third.Reachable)

	// no change, no callback
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, ch)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestMonitorRecordsProbe(t *testing.T) {
	var m services.Monitor
	_, ok := m.Last()
	assert.False(t, ok)

	p := &flakyPinger{down: true}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- services.Probe(ctx, p, 5*time.Millisecond, m.Record)
	}()

	require.Eventually(t, func() bool {
		_, ok := m.Last()
		return ok
	}, time.Second, 5*time.Millisecond)
	st, _ := m.Last()
	assert.False(t, st.Reachable)
	assert.Equal(t, "fake:2121", st.Server)

	p.set(false)
	require.Eventually(t, func() bool {
		st, _ := m.Last()
		return st.Reachable
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
