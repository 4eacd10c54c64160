package repository

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/userpreference/platform/shared/apperrors"
	"github.com/userpreference/platform/shared/models"
)

const updatesField = "updates"

// recordScript counts a change once per run: the run marker is set with NX in
// the same script as the increments, so a retried run cannot count twice and
// a failed count leaves no marker behind.
//
// KEYS: counters hash, users HyperLogLog, run marker.
// ARGV: marker TTL seconds, user ID, counter fields...
var recordScript = redis.NewScript(`
if not redis.call('SET', KEYS[3], '1', 'NX', 'EX', ARGV[1]) then
	return 0
end
redis.call('HINCRBY', KEYS[1], 'updates', 1)
for i = 3, #ARGV do
	redis.call('HINCRBY', KEYS[1], ARGV[i], 1)
end
redis.call('PFADD', KEYS[2], ARGV[2])
return 1
`)

// AnalyticsRepository aggregates preference changes in Redis: a hash of
// counters per theme, language and timezone, and a HyperLogLog of users.
type AnalyticsRepository struct {
	client    *redis.Client
	key       string
	markerTTL time.Duration
}

// AnalyticsSummary is the aggregate view served by the worker API.
type AnalyticsSummary struct {
	Updates       int64            `json:"updates"`
	DistinctUsers int64            `json:"distinctUsers"`
	Counters      map[string]int64 `json:"counters"`
}

// NewAnalyticsRepository keeps per-run markers for markerTTL, which should
// cover how long a run can still be redelivered.
func NewAnalyticsRepository(client *redis.Client, key string, markerTTL time.Duration) *AnalyticsRepository {
	if markerTTL < time.Second {
		markerTTL = 7 * 24 * time.Hour
	}
	return &AnalyticsRepository{client: client, key: key, markerTTL: markerTTL}
}

func (r *AnalyticsRepository) usersKey() string {
	return r.key + ":users"
}

func (r *AnalyticsRepository) runKey(runID string) string {
	return r.key + ":run:" + runID
}

// Record counts the change of p made by run runID. It reports false when the
// run was already counted.
func (r *AnalyticsRepository) Record(ctx context.Context, runID string, p *models.Preference) (bool, error) {
	keys := []string{r.key, r.usersKey(), r.runKey(runID)}
	args := []any{
		int64(r.markerTTL / time.Second),
		p.UserID,
		"theme:" + p.Theme,
		"language:" + p.Language,
		"timezone:" + p.Timezone,
	}
	counted, err := recordScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		slog.ErrorContext(ctx, "failed to record analytics", "run_id", runID, "user_id", p.UserID, "error", err)
		return false, apperrors.Dependency("failed to record analytics", pkgerrors.Wrap(err, "analytics script"))
	}
	return counted == 1, nil
}

func (r *AnalyticsRepository) Summary(ctx context.Context) (*AnalyticsSummary, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, apperrors.Dependency("failed to read analytics", pkgerrors.Wrap(err, "read counters"))
	}
	users, err := r.client.PFCount(ctx, r.usersKey()).Result()
	if err != nil {
		return nil, apperrors.Dependency("failed to read analytics", pkgerrors.Wrap(err, "count users"))
	}

	summary := &AnalyticsSummary{DistinctUsers: users, Counters: make(map[string]int64, len(raw))}
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		if field == updatesField {
			summary.Updates = n
			continue
		}
		summary.Counters[field] = n
	}
	return summary, nil
}
