package bridge

import (
	"context"
	"fmt"
)

// Bridge runs file operations against one storage server.
// Eg.
//
//	client, _ := bridge.New()
//	files, err := client.List(ctx, "u1")
//
// Every operation opens its own session and closes it before returning, so a
// Bridge holds no connection state and is safe for concurrent use.
type Bridge struct {
	config ServerConfig
}

// New creates a new Bridge that uses the default ServerConfig.
func New() (*Bridge, error) {
	return NewWithConfig(ServerConfig{})
}

func NewWithConfig(config ServerConfig) (*Bridge, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Bridge{config: config}, nil
}

func (b *Bridge) Config() ServerConfig {
	return b.config
}

func (b *Bridge) Address() string {
	return b.config.Address()
}

// WithServer returns a Bridge with the same settings talking to another server.
func (b *Bridge) WithServer(host string, port int) (*Bridge, error) {
	config := b.config
	config.Host = host
	config.Port = port
	return NewWithConfig(config)
}

// Open dials the server and waits for its welcome banner. The session is ready
// for exactly one command and must be closed by the caller.
func (b *Bridge) Open(ctx context.Context, user string) (*Session, error) {
	if err := checkUser(user); err != nil {
		return nil, err
	}
	return b.open(ctx, user, "session")
}

// Ping greets the server and quits, returning the welcome banner.
func (b *Bridge) Ping(ctx context.Context) (string, error) {
	s, err := b.open(ctx, "", "ping")
	if err != nil {
		return "", fmt.Errorf("Ping %s, err: %w", b.Address(), err)
	}
	defer s.Close()
	return s.Banner(), nil
}
