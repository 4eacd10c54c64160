package workflow

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	redisstore "github.com/userpreference/platform/shared/redis"
)

// RedisRunStore keeps runs as JSON documents with a retention TTL.
type RedisRunStore struct {
	runs *redisstore.JSONStore[Run]
}

func NewRedisRunStore(client *goredis.Client, prefix string, ttl time.Duration) *RedisRunStore {
	return &RedisRunStore{runs: redisstore.NewJSONStore[Run](client, prefix, ttl)}
}

func (s *RedisRunStore) Get(ctx context.Context, id string) (*Run, bool, error) {
	return s.runs.Get(ctx, id)
}

func (s *RedisRunStore) Save(ctx context.Context, run *Run) error {
	return s.runs.Set(ctx, run.ID, run)
}
