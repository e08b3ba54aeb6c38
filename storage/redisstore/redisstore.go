// Package redisstore is a storage.Store on Redis, for deployments where the
// session lives server side (one prefix per browser session or device).
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/imhotep-client/storage"
	"github.com/redis/go-redis/v9"
)

// Cmdable is the subset of the go-redis client the store needs.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ storage.Store = (*Store)(nil)

type Store struct {
	rdb    Cmdable
	prefix string
	ttl    time.Duration
}

// New wraps an existing client. A zero ttl keeps keys until deleted.
// If prefix is empty "imhotep:session:" is used.
func New(rdb Cmdable, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "imhotep:session:"
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Dial creates a client from a URL such as redis://:pass@host:6379/0 and
// pings it.
func Dial(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*Store, func() error, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("[redisstore Dial] parse url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("[redisstore Dial] ping: %w", err)
	}
	return New(rdb, prefix, ttl), rdb.Close, nil
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("[redisstore Get] %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("[redisstore Set] %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("[redisstore Delete] %s: %w", key, err)
	}
	return nil
}
