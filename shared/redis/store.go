package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// JSONStore keeps values of type T as JSON documents under a key prefix.
// A zero TTL stores keys without expiry.
type JSONStore[T any] struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

func NewJSONStore[T any](client *goredis.Client, prefix string, ttl time.Duration) *JSONStore[T] {
	return &JSONStore[T]{client: client, prefix: prefix, ttl: ttl}
}

// Get returns (nil, false, nil) when the key does not exist.
func (s *JSONStore[T]) Get(ctx context.Context, key string) (*T, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s%s: %w", s.prefix, key, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, fmt.Errorf("failed to decode %s%s: %w", s.prefix, key, err)
	}
	return &v, true, nil
}

func (s *JSONStore[T]) Set(ctx context.Context, key string, value *T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s%s: %w", s.prefix, key, err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s%s: %w", s.prefix, key, err)
	}
	return nil
}

func (s *JSONStore[T]) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s%s: %w", s.prefix, key, err)
	}
	return nil
}
