package bridge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prife/ftpbridge/wire"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.jpg":        "image/jpeg",
		"A.JPEG":       "image/jpeg",
		"b.png":        "image/png",
		"c.gif":        "image/gif",
		"d.bmp":        "image/bmp",
		"e.webp":       "image/webp",
		"notes.txt":    "application/octet-stream",
		"no-extension": "application/octet-stream",
		"archive.jpg.": "application/octet-stream",
	}
	for name, want := range tests {
		assert.Equal(t, want, ContentType(name), name)
	}
}

func TestCheckUser(t *testing.T) {
	assert.NoError(t, checkUser("u1"))
	assert.NoError(t, checkUser("3f9c-user_id"))
	for _, bad := range []string{"", "  ", "a b", "a\tb", "a\nb", "..", "../u2"} {
		err := checkUser(bad)
		assert.True(t, errors.Is(err, wire.ErrAssertion), "%q", bad)
	}
}

func TestCheckName(t *testing.T) {
	assert.NoError(t, checkName("a.jpg"))
	assert.NoError(t, checkName("holiday photo 1.jpg"))
	assert.NoError(t, checkName("12:30.png"))
	for _, bad := range []string{"", " ", "a\nb", "a\rb", "dir/a.jpg", `dir\a.jpg`, ".", ".."} {
		err := checkName(bad)
		assert.True(t, errors.Is(err, wire.ErrAssertion), "%q", bad)
	}
}

func TestWrapClientError(t *testing.T) {
	assert.NoError(t, wrapClientError(nil, "u1", "List"))

	err := wrapClientError(fmt.Errorf("%w: a.jpg in u1", wire.ErrNotFound), "u1", "Fetch(%s)", "a.jpg")
	assert.EqualError(t, err, "Fetch(a.jpg) for u1, err: NotFound: a.jpg in u1")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsTransport(err))
}

func TestUploadReportErr(t *testing.T) {
	report := UploadReport{Results: []UploadResult{{Name: "a", Success: true}, {Name: "b"}}}
	report.Results[1].fail(fmt.Errorf("%w: gone", wire.ErrLocalIO))
	report.tally()

	err := report.Err()
	assert.True(t, errors.Is(err, wire.ErrPartialFailure))
	assert.True(t, errors.Is(err, wire.ErrLocalIO))
	assert.Equal(t, 1, report.FilesUploaded)
	assert.False(t, report.Success)

	report.Results[1] = UploadResult{Name: "b", Success: true}
	report.tally()
	assert.NoError(t, report.Err())
	assert.True(t, report.Success)
}

func TestServerConfigDefaults(t *testing.T) {
	config, err := ServerConfig{}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2121", config.Address())
	assert.Equal(t, DefaultReadTimeout, config.ReadTimeout)
	assert.Equal(t, wire.DefaultSettleWindow, config.SettleWindow)
	assert.Equal(t, DefaultQuitWait, config.QuitWait)
	assert.Equal(t, wire.DefaultChunkSize, config.ChunkSize)
	assert.NotNil(t, config.Dialer)
	assert.NotNil(t, config.Logger)

	_, err = ServerConfig{Port: 70000}.withDefaults()
	assert.True(t, errors.Is(err, wire.ErrAssertion))
}

func TestServerConfigNegativeTimeoutsDisable(t *testing.T) {
	config, err := ServerConfig{ReadTimeout: -1, WriteTimeout: -1}.withDefaults()
	require.NoError(t, err)
	opts := config.wireOptions()
	assert.Zero(t, opts.ReadTimeout)
	assert.Zero(t, opts.WriteTimeout)
	assert.Equal(t, wire.DefaultSettleWindow, opts.SettleWindow)
}

func TestWithServer(t *testing.T) {
	b, err := NewWithConfig(ServerConfig{ReadTimeout: time.Second})
	require.NoError(t, err)
	other, err := b.WithServer("storage.local", 9000)
	require.NoError(t, err)
	assert.Equal(t, "storage.local:9000", other.Address())
	assert.Equal(t, time.Second, other.Config().ReadTimeout)
	assert.Equal(t, "127.0.0.1:2121", b.Address())
}

func TestScratch(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	scratch, err := NewScratch(t.TempDir(), logger)
	require.NoError(t, err)

	lf, err := scratch.Save("photo.jpg", strings.NewReader("jpegdata"))
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", lf.Name)
	assert.Equal(t, scratch.Dir(), filepath.Dir(lf.Path))
	data, err := os.ReadFile(lf.Path)
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(data))

	other, err := scratch.Save("photo.jpg", strings.NewReader("again"))
	require.NoError(t, err)
	assert.NotEqual(t, lf.Path, other.Path)

	assert.NoError(t, scratch.Close())
	_, err = os.Stat(scratch.Dir())
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, hook.AllEntries())
}

func TestScratchSaveFailureRemovesFile(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	scratch, err := NewScratch(t.TempDir(), logger)
	require.NoError(t, err)
	defer scratch.Close()

	_, err = scratch.Save("a.bin", &brokenReader{data: []byte("partial")})
	assert.True(t, errors.Is(err, wire.ErrLocalIO))
	entries, err := os.ReadDir(scratch.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
