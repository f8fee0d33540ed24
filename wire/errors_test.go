package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransport(t *testing.T) {
	assert.True(t, IsTransport(fmt.Errorf("%w: dial", ErrConnection)))
	assert.True(t, IsTransport(fmt.Errorf("op: %w", fmt.Errorf("%w: waiting", ErrTimeout))))
	assert.True(t, IsTransport(ErrConnectionReset))
	assert.True(t, IsTransport(ErrNetwork))
	assert.False(t, IsTransport(ErrProtocol))
	assert.False(t, IsTransport(ErrNotFound))
	assert.False(t, IsTransport(ErrLocalIO))
	assert.False(t, IsTransport(nil))
}

func TestReadErrorMapping(t *testing.T) {
	assert.ErrorIs(t, readError("line", fmt.Errorf("read: %w", io.EOF)), ErrConnectionReset)
	assert.ErrorIs(t, readError("line", net.ErrClosed), ErrConnectionReset)
	assert.ErrorIs(t, readError("line", os.ErrDeadlineExceeded), ErrTimeout)
	assert.ErrorIs(t, readError("line", errors.New("boom")), ErrNetwork)
}
