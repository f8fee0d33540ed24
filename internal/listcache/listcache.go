// Package listcache caches directory listings of the storage server.
//
// Entries are keyed by server address and user, and are dropped by callers
// whenever they change the user's directory. A cache is always optional:
// backend failures are logged and the listing is fetched from the server.
package listcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// FetchFunc loads a listing from the storage server on a cache miss.
type FetchFunc func(ctx context.Context) ([]string, error)

// Cache holds listings by key.
type Cache interface {
	// GetOrFetch returns the cached listing for key, or calls fetch and
	// caches its result. Concurrent misses for the same key share one fetch.
	GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]string, error)

	// Invalidate drops the listing for key.
	Invalidate(ctx context.Context, key string) error
}

// Backend names accepted by New.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Backends lists the accepted backend names.
var Backends = []string{BackendNone, BackendMemory, BackendRedis}

const keyPrefix = "ftpbridge:list:"

// Key returns the cache key of user's listing on server.
func Key(server, user string) string {
	return keyPrefix + server + "|" + user
}

// Options configures New.
type Options struct {
	Backend   string
	TTL       time.Duration
	RedisAddr string
	Logger    logrus.FieldLogger
}

// New returns the cache selected by opts. A zero TTL or the "none" backend
// returns a pass-through cache.
func New(opts Options) (Cache, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.TTL <= 0 {
		return Nop{}, nil
	}
	switch strings.ToLower(opts.Backend) {
	case "", BackendNone:
		return Nop{}, nil
	case BackendMemory:
		return NewMemory(opts.TTL), nil
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis listing cache needs an address")
		}
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		return NewRedis(client, opts.TTL, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown listing cache backend %q", opts.Backend)
	}
}

// Nop caches nothing.
type Nop struct{}

func (Nop) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]string, error) {
	return fetch(ctx)
}

func (Nop) Invalidate(context.Context, string) error {
	return nil
}

func cloneListing(names []string) []string {
	if names == nil {
		return nil
	}
	return append(make([]string, 0, len(names)), names...)
}
