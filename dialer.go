package bridge

import (
	"context"

	"github.com/prife/ftpbridge/wire"
)

// Dialer knows how to create connections to a storage server.
type Dialer interface {
	Dial(ctx context.Context, address string, opts wire.Options) (*wire.Conn, error)
}

type tcpDialer struct{}

// Dial connects to the storage server over TCP.
func (tcpDialer) Dial(ctx context.Context, address string, opts wire.Options) (*wire.Conn, error) {
	return wire.Dial(ctx, address, opts)
}
