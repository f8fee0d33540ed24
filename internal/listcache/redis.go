package listcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Redis keeps listings in Redis as JSON arrays, so several bridge processes
// share them.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    logrus.FieldLogger
	group  singleflight.Group
}

// NewRedis returns a cache on client whose entries expire after ttl.
func NewRedis(client *redis.Client, ttl time.Duration, log logrus.FieldLogger) *Redis {
	return &Redis{client: client, ttl: ttl, log: log}
}

func (r *Redis) get(ctx context.Context, key string) ([]string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get error: %w", err)
	}
	var names []string
	if err := json.Unmarshal([]byte(val), &names); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached listing: %w", err)
	}
	return names, true, nil
}

func (r *Redis) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]string, error) {
	names, found, err := r.get(ctx, key)
	if err != nil {
		r.log.WithError(err).WithField("key", key).Warn("listing cache unavailable")
		return fetch(ctx)
	}
	if found {
		return names, nil
	}

	val, err, _ := r.group.Do(key, func() (interface{}, error) {
		names, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(names)
		if err != nil {
			return names, nil
		}
		// storing is best effort, the caller gets the listing either way
		if err := r.client.Set(context.WithoutCancel(ctx), key, data, r.ttl).Err(); err != nil {
			r.log.WithError(err).WithField("key", key).Warn("could not cache listing")
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	names, ok := val.([]string)
	if !ok {
		return nil, fmt.Errorf("unexpected type in cache for key %s", key)
	}
	return cloneListing(names), nil
}

func (r *Redis) Invalidate(ctx context.Context, key string) error {
	r.group.Forget(key)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Close releases the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
