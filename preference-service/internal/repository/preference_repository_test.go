package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/userpreference/platform/shared/apperrors"
	"github.com/userpreference/platform/shared/database"
	"github.com/userpreference/platform/shared/events"
	"github.com/userpreference/platform/shared/models"
)

func newTestRepository(t *testing.T) *PreferenceRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewPreferenceRepository(db)
	require.NoError(t, repo.Migrate(ctx))
	return repo
}

func outboxFor(t *testing.T, eventType string) OutboxFunc {
	return func(p *models.Preference) (*OutboxEntry, error) {
		event, err := events.NewEvent(eventType, "test", p)
		require.NoError(t, err)
		return NewOutboxEntry(events.PreferenceEventsStream, event)
	}
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	p := models.NewPreference("pref-1", "u1", models.BuiltinDefaults(), baseTime)
	p.CustomSettings["fontSize"] = "large"
	require.NoError(t, repo.Put(ctx, p, "", outboxFor(t, events.PreferenceCreated)))
	require.NotEmpty(t, p.ETag)

	got, err := repo.Get(ctx, "pref-1")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	latest, err := repo.FindLatestByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, p, latest)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	_, err = repo.FindLatestByUserID(ctx, "nobody")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestPutRegeneratesETag(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	p := models.NewPreference("pref-1", "u1", models.BuiltinDefaults(), baseTime)
	require.NoError(t, repo.Put(ctx, p, "", nil))
	first := p.ETag

	p.Theme = "dark"
	p.Touch(baseTime.Add(time.Second))
	require.NoError(t, repo.Put(ctx, p, "", nil))
	assert.NotEqual(t, first, p.ETag)

	got, err := repo.Get(ctx, "pref-1")
	require.NoError(t, err)
	assert.Equal(t, "dark", got.Theme)
	assert.Equal(t, baseTime, got.CreatedAt)
}

func TestPutIfMatch(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	p := models.NewPreference("pref-1", "u1", models.BuiltinDefaults(), baseTime)
	require.NoError(t, repo.Put(ctx, p, "", nil))
	current := p.ETag

	stale := p.Clone()
	stale.Theme = "stale"

	p.Theme = "dark"
	require.NoError(t, repo.Put(ctx, p, current, nil))

	err := repo.Put(ctx, stale, current, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodePreconditionFailed), "got %v", err)
	assert.Equal(t, current, stale.ETag, "etag restored after a failed write")

	got, err := repo.Get(ctx, "pref-1")
	require.NoError(t, err)
	assert.Equal(t, "dark", got.Theme)

	missing := models.NewPreference("pref-2", "u2", models.BuiltinDefaults(), baseTime)
	err = repo.Put(ctx, missing, `"whatever"`, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound), "got %v", err)
}

func TestFindLatestAndQuery(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	older := models.NewPreference("pref-old", "u1", models.BuiltinDefaults(), baseTime)
	newer := models.NewPreference("pref-new", "u1", models.BuiltinDefaults(), baseTime.Add(time.Minute))
	newer.Theme = "dark"
	other := models.NewPreference("pref-other", "u2", models.BuiltinDefaults(), baseTime.Add(2*time.Minute))
	for _, p := range []*models.Preference{older, newer, other} {
		require.NoError(t, repo.Put(ctx, p, "", nil))
	}

	latest, err := repo.FindLatestByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "pref-new", latest.ID)

	all, err := repo.Query(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"pref-other", "pref-new", "pref-old"}, ids(all))

	mine, err := repo.Query(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"pref-new"}, ids(mine))
}

func TestDeleteByUserID(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.Put(ctx, models.NewPreference("a", "u1", models.BuiltinDefaults(), baseTime), "", nil))
	require.NoError(t, repo.Put(ctx, models.NewPreference("b", "u1", models.BuiltinDefaults(), baseTime), "", nil))

	event, err := events.NewEvent(events.PreferenceDeleted, "test", models.PreferenceDeleted{UserID: "u1"})
	require.NoError(t, err)
	entry, err := NewOutboxEntry(events.PreferenceEventsStream, event)
	require.NoError(t, err)

	removed, err := repo.DeleteByUserID(ctx, "u1", entry)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = repo.FindLatestByUserID(ctx, "u1")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	removed, err = repo.DeleteByUserID(ctx, "u1", entry)
	require.NoError(t, err)
	assert.False(t, removed)

	pending, err := repo.PendingOutbox(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "no outbox entry for a delete that removed nothing")
	assert.Equal(t, events.PreferenceDeleted, pending[0].EventType)
}

func TestOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	p := models.NewPreference("pref-1", "u1", models.BuiltinDefaults(), baseTime)
	var recorded *OutboxEntry
	err := repo.Put(ctx, p, "", func(stored *models.Preference) (*OutboxEntry, error) {
		entry, err := outboxFor(t, events.PreferenceCreated)(stored)
		recorded = entry
		return entry, err
	})
	require.NoError(t, err)
	require.NotNil(t, recorded)

	pending, err := repo.PendingOutbox(ctx, recorded.CreatedAt.Add(-time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "entries inside the grace period are not returned")

	pending, err = repo.PendingOutbox(ctx, recorded.CreatedAt.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, recorded.ID, pending[0].ID)
	assert.Equal(t, events.PreferenceEventsStream, pending[0].Stream)

	event, err := pending[0].Event()
	require.NoError(t, err)
	var snapshot models.Preference
	require.NoError(t, event.Decode(&snapshot))
	assert.Equal(t, p.ETag, snapshot.ETag, "snapshot carries the stored etag")

	require.NoError(t, repo.MarkPublished(ctx, recorded.ID, time.Now()))
	pending, err = repo.PendingOutbox(ctx, recorded.CreatedAt.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func ids(ps []*models.Preference) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
