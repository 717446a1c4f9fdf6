// Package redis provides a storage.KV on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/graaaaa/attention-collector/internal/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "attn:"

// Store keeps values as plain Redis strings without expiry.
type Store struct {
	Client *redis.Client
	prefix string
}

var _ storage.KV = (*Store)(nil)

// New wraps an existing client.
func New(client *redis.Client, prefix string) *Store {
	return &Store{Client: client, prefix: prefix}
}

// Open parses a redis:// URL, connects and pings.
func Open(ctx context.Context, rawURL, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, prefix), nil
}

// Get implements storage.KV.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.Client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

// Set implements storage.KV.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.Client.Set(ctx, s.prefix+key, value, 0).Err()
}

// Delete implements storage.KV.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Client.Del(ctx, s.prefix+key).Err()
}

// Close implements storage.KV.
func (s *Store) Close() error {
	return s.Client.Close()
}
