package wire

import (
	"context"
	"fmt"
	"net"
)

// Dial opens a stream connection to address. Refusal, name resolution
// failures and dial timeouts are all reported as ErrConnection.
func Dial(ctx context.Context, address string, opts Options) (*Conn, error) {
	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: error dialing %s: %w", ErrConnection, address, err)
	}
	return NewConn(netConn, opts), nil
}
