package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	bridge "github.com/prife/ftpbridge"
	"github.com/prife/ftpbridge/internal/storagetest"
	"github.com/prife/ftpbridge/wire"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCli(t *testing.T, opts ...storagetest.Option) (*cli, *storagetest.Server, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true
	srv := storagetest.NewServer(t, opts...)
	logger, _ := logtest.NewNullLogger()
	b, err := bridge.NewWithConfig(bridge.ServerConfig{
		Host:         srv.Host(),
		Port:         srv.Port(),
		ReadTimeout:  5 * time.Second,
		SettleWindow: 15 * time.Millisecond,
		QuitWait:     200 * time.Millisecond,
		Logger:       logger,
	})
	require.NoError(t, err)
	var out bytes.Buffer
	return &cli{b: b, out: &out}, srv, &out
}

func TestLs(t *testing.T) {
	c, srv, out := newTestCli(t)
	srv.Put("u1", "a.jpg", []byte("x"))
	srv.Put("u1", "notes.txt", []byte("y"))

	require.NoError(t, c.ls(context.Background(), "u1"))
	assert.Contains(t, out.String(), "a.jpg")
	assert.Contains(t, out.String(), "image/jpeg")
	assert.Contains(t, out.String(), "application/octet-stream")

	out.Reset()
	require.NoError(t, c.ls(context.Background(), "nobody"))
	assert.Equal(t, "nobody has no files\n", out.String())
}

func TestPutGetRm(t *testing.T) {
	c, srv, out := newTestCli(t)
	ctx := context.Background()
	src := t.TempDir()
	a := filepath.Join(src, "a.jpg")
	b := filepath.Join(src, "b.png")
	require.NoError(t, os.WriteFile(a, []byte("aaaa"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("bb"), 0o644))

	require.NoError(t, c.put(ctx, "u1", []string{a, b}))
	assert.Contains(t, out.String(), "All files uploaded successfully to u1!")
	assert.Equal(t, []string{"a.jpg", "b.png"}, srv.Files("u1"))

	dst := t.TempDir()
	require.NoError(t, c.get(ctx, "u1", []string{"a.jpg", "b.png"}, dst, false, 2))
	data, err := os.ReadFile(filepath.Join(dst, "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "aaaa", string(data))

	viaBatch := t.TempDir()
	require.NoError(t, c.get(ctx, "u1", []string{"b.png"}, viaBatch, true, 1))
	data, err = os.ReadFile(filepath.Join(viaBatch, "b.png"))
	require.NoError(t, err)
	assert.Equal(t, "bb", string(data))

	err = c.get(ctx, "u1", []string{"missing.jpg"}, dst, false, 1)
	assert.True(t, bridge.IsNotFound(err))
	_, statErr := os.Stat(filepath.Join(dst, "missing.jpg"))
	assert.True(t, os.IsNotExist(statErr))

	all := t.TempDir()
	require.NoError(t, c.getAll(ctx, "u1", all))
	entries, err := os.ReadDir(all)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	out.Reset()
	assert.Error(t, c.rm(ctx, "u1", []string{"a.jpg", "zzz.jpg"}))
	assert.Contains(t, out.String(), "File a.jpg deleted successfully from u1!")
	assert.Contains(t, out.String(), "zzz.jpg: File not found")
	assert.Equal(t, []string{"b.png"}, srv.Files("u1"))
}

func TestGetReportsSavedFilesWhenOneFails(t *testing.T) {
	broken := wire.DownloadFromRequest("u1", "bad.jpg")
	c, srv, out := newTestCli(t, storagetest.WithHandler(func(cmd string, conn *wire.Conn) bool {
		if cmd != broken {
			return false
		}
		if conn.WriteToken("100") == nil && conn.ExpectToken(wire.TokenReady) == nil {
			conn.Interrupt()
		}
		return true
	}))
	srv.Put("u1", "a.jpg", []byte("aaaa"))
	srv.Put("u1", "bad.jpg", []byte("b"))

	dst := t.TempDir()
	err := c.get(context.Background(), "u1", []string{"a.jpg", "bad.jpg"}, dst, false, 1)
	require.Error(t, err)
	assert.True(t, bridge.IsTransport(err))
	assert.Contains(t, out.String(), filepath.Join(dst, "a.jpg"))
	assert.NotContains(t, out.String(), filepath.Join(dst, "bad.jpg"))
	_, statErr := os.Stat(filepath.Join(dst, "bad.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}
