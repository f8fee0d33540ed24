package listcache

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Memory keeps listings in process memory.
type Memory struct {
	cache *cache.Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewMemory returns a cache whose entries expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		cache: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

func (m *Memory) get(key string) ([]string, bool) {
	if val, found := m.cache.Get(key); found {
		if names, ok := val.([]string); ok {
			return cloneListing(names), true
		}
	}
	return nil, false
}

func (m *Memory) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]string, error) {
	if names, ok := m.get(key); ok {
		return names, nil
	}

	val, err, _ := m.group.Do(key, func() (interface{}, error) {
		// another caller may have filled it while we waited
		if names, ok := m.get(key); ok {
			return names, nil
		}
		// shared by every waiting caller, so no single caller may cancel it
		names, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		m.cache.Set(key, cloneListing(names), m.ttl)
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

func (m *Memory) Invalidate(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.group.Forget(key)
	m.cache.Delete(key)
	return nil
}

// Len returns the number of cached listings, expired ones included until the
// next cleanup.
func (m *Memory) Len() int {
	return m.cache.ItemCount()
}
