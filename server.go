package bridge

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/prife/ftpbridge/wire"
	"github.com/sirupsen/logrus"
)

const (
	DefaultHost = "127.0.0.1"

	// Default port the storage server listens on.
	DefaultPort = 2121

	DefaultDialTimeout  = 10 * time.Second
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second

	// DefaultQuitWait bounds the wait for the goodbye line after QUIT.
	DefaultQuitWait = 500 * time.Millisecond
)

type ServerConfig struct {
	// Dialer used to connect to the storage server.
	Dialer
	// Host and port the storage server is listening on. If not specified, will use the default port on localhost.
	Host string
	Port int

	DialTimeout time.Duration
	// ReadTimeout bounds every wait for the server, WriteTimeout every write.
	// A negative value disables the deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// SettleWindow is how long the stream has to be quiet before a message
	// sent without terminator is considered complete.
	SettleWindow time.Duration
	QuitWait     time.Duration
	// ChunkSize is the payload write size for uploads.
	ChunkSize int

	Logger logrus.FieldLogger
}

func (c ServerConfig) withDefaults() (ServerConfig, error) {
	if c.Dialer == nil {
		c.Dialer = tcpDialer{}
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 0 || c.Port > 65535 {
		return c, fmt.Errorf("%w: invalid port %d", wire.ErrAssertion, c.Port)
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.SettleWindow <= 0 {
		c.SettleWindow = wire.DefaultSettleWindow
	}
	if c.QuitWait <= 0 {
		c.QuitWait = DefaultQuitWait
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = wire.DefaultChunkSize
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c, nil
}

// Address returns host:port of the storage server.
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c ServerConfig) wireOptions() wire.Options {
	opts := wire.Options{
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		SettleWindow: c.SettleWindow,
	}
	if opts.ReadTimeout < 0 {
		opts.ReadTimeout = 0
	}
	if opts.WriteTimeout < 0 {
		opts.WriteTimeout = 0
	}
	return opts
}
