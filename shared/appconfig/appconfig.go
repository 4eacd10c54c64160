// Package appconfig reads and writes remote key/value settings kept in a
// Redis hash, so operators can change them without a redeploy.
package appconfig

import (
	"context"
	"log/slog"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

type Store struct {
	client *redis.Client
	key    string
}

func NewStore(client *redis.Client, key string) *Store {
	return &Store{client: client, key: key}
}

// Get returns the value of key. A missing key and a read failure both yield
// ok == false; failures are logged.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	value, err := s.client.HGet(ctx, s.key, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		slog.ErrorContext(ctx, "error retrieving configuration value", "key", key, "error", err)
		return "", false
	}
	return value, true
}

// GetOrDefault returns the value of key or fallback when it is unset or empty.
func (s *Store) GetOrDefault(ctx context.Context, key, fallback string) string {
	if value, ok := s.Get(ctx, key); ok && value != "" {
		return value
	}
	return fallback
}

// GetByPrefix returns every setting whose key starts with prefix. Failures are
// logged and produce an empty map.
func (s *Store) GetByPrefix(ctx context.Context, prefix string) map[string]string {
	settings := make(map[string]string)
	var cursor uint64
	for {
		fields, next, err := s.client.HScan(ctx, s.key, cursor, escapeGlob(prefix)+"*", scanBatch).Result()
		if err != nil {
			slog.ErrorContext(ctx, "error retrieving configuration values", "prefix", prefix, "error", err)
			return map[string]string{}
		}
		for i := 0; i+1 < len(fields); i += 2 {
			settings[fields[i]] = fields[i+1]
		}
		if next == 0 {
			return settings
		}
		cursor = next
	}
}

// Set stores value under key. Unlike reads, failures are returned.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, s.key, key, value).Err(); err != nil {
		slog.ErrorContext(ctx, "error setting configuration value", "key", key, "error", err)
		return pkgerrors.Wrapf(err, "set configuration %q", key)
	}
	slog.InfoContext(ctx, "set configuration value", "key", key)
	return nil
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`).Replace(s)
}
