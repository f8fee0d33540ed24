// Package config holds the process configuration of the ftpbridge HTTP
// server. Every flag can also be set from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	bridge "github.com/prife/ftpbridge"
	"github.com/prife/ftpbridge/internal/listcache"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Listen     string
	ScratchDir string

	// default storage server, used when a request does not name one
	StorageHost  string
	StoragePort  int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SettleWindow time.Duration

	CacheBackend string
	CacheTTL     time.Duration
	RedisAddr    string

	NATSURL string

	// MaxUploadMemory is the part of a multipart form kept in memory; the
	// rest spills to disk.
	MaxUploadMemory int64
	MaxUploadFiles  int

	LogLevel string
}

// Register adds the configuration flags to app.
func (c *Config) Register(app *kingpin.Application) {
	app.Flag("listen", "HTTP listen address.").
		Envar("FTPBRIDGE_LISTEN").Default(":3001").StringVar(&c.Listen)
	app.Flag("scratch-dir", "Directory for temporary upload files, system temp dir if empty.").
		Envar("FTPBRIDGE_SCRATCH_DIR").StringVar(&c.ScratchDir)

	app.Flag("ftp-server", "Default storage server host.").
		Envar("FTP_SERVER").Default(bridge.DefaultHost).StringVar(&c.StorageHost)
	app.Flag("ftp-port", "Default storage server port.").
		Envar("FTP_PORT").Default(fmt.Sprint(bridge.DefaultPort)).IntVar(&c.StoragePort)
	app.Flag("dial-timeout", "Timeout for connecting to the storage server.").
		Envar("FTPBRIDGE_DIAL_TIMEOUT").Default(bridge.DefaultDialTimeout.String()).DurationVar(&c.DialTimeout)
	app.Flag("read-timeout", "Timeout for every wait on the storage server.").
		Envar("FTPBRIDGE_READ_TIMEOUT").Default(bridge.DefaultReadTimeout.String()).DurationVar(&c.ReadTimeout)
	app.Flag("write-timeout", "Timeout for every write to the storage server.").
		Envar("FTPBRIDGE_WRITE_TIMEOUT").Default(bridge.DefaultWriteTimeout.String()).DurationVar(&c.WriteTimeout)
	app.Flag("settle-window", "Quiet period that ends an unterminated server message.").
		Envar("FTPBRIDGE_SETTLE_WINDOW").Default("50ms").DurationVar(&c.SettleWindow)

	app.Flag("list-cache", "Listing cache backend: "+strings.Join(listcache.Backends, ", ")+".").
		Envar("FTPBRIDGE_LIST_CACHE").Default(listcache.BackendNone).EnumVar(&c.CacheBackend, listcache.Backends...)
	app.Flag("list-cache-ttl", "How long a cached listing is served.").
		Envar("FTPBRIDGE_LIST_CACHE_TTL").Default("30s").DurationVar(&c.CacheTTL)
	app.Flag("redis-addr", "Redis address for the redis listing cache.").
		Envar("REDIS_URL").Default("localhost:6379").StringVar(&c.RedisAddr)

	app.Flag("nats-url", "NATS server for transfer events, disabled if empty.").
		Envar("NATS_URL").StringVar(&c.NATSURL)

	app.Flag("max-upload-memory", "Bytes of a multipart upload kept in memory.").
		Envar("FTPBRIDGE_MAX_UPLOAD_MEMORY").Default("33554432").Int64Var(&c.MaxUploadMemory)
	app.Flag("max-upload-files", "Maximum number of files in one batch upload.").
		Envar("FTPBRIDGE_MAX_UPLOAD_FILES").Default("100").IntVar(&c.MaxUploadFiles)

	app.Flag("log-level", "Log level: trace, debug, info, warn, error.").
		Envar("FTPBRIDGE_LOG_LEVEL").Default("info").StringVar(&c.LogLevel)
}

func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is empty")
	}
	if c.StorageHost == "" {
		return fmt.Errorf("ftp server host is empty")
	}
	if c.StoragePort <= 0 || c.StoragePort > 65535 {
		return fmt.Errorf("invalid ftp port %d", c.StoragePort)
	}
	if c.ScratchDir != "" {
		info, err := os.Stat(c.ScratchDir)
		if err != nil {
			return fmt.Errorf("scratch dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("scratch dir %s is not a directory", c.ScratchDir)
		}
	}
	if c.CacheBackend == listcache.BackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("redis listing cache needs --redis-addr")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("negative list cache ttl %s", c.CacheTTL)
	}
	if c.MaxUploadFiles <= 0 {
		return fmt.Errorf("max upload files must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Level() (logrus.Level, error) {
	return logrus.ParseLevel(c.LogLevel)
}

// ServerConfig returns the settings for the default storage server.
func (c *Config) ServerConfig(logger logrus.FieldLogger) bridge.ServerConfig {
	return bridge.ServerConfig{
		Host:         c.StorageHost,
		Port:         c.StoragePort,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		SettleWindow: c.SettleWindow,
		Logger:       logger,
	}
}

// CacheOptions returns the listing cache settings.
func (c *Config) CacheOptions(logger logrus.FieldLogger) listcache.Options {
	return listcache.Options{
		Backend:   c.CacheBackend,
		TTL:       c.CacheTTL,
		RedisAddr: c.RedisAddr,
		Logger:    logger,
	}
}
