package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/userpreference/platform/shared/apperrors"
	"github.com/userpreference/platform/shared/database"
	"github.com/userpreference/platform/shared/models"
	"github.com/userpreference/platform/shared/utils"
)

const selectPreference = `SELECT id, etag, doc FROM preferences`

// Schema returns the DDL for the preference document table and its outbox.
func Schema(d database.Dialect) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS preferences (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			etag TEXT NOT NULL,
			doc ` + d.DocumentType() + ` NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_preferences_user_updated ON preferences (user_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS preference_outbox (
			id TEXT PRIMARY KEY,
			stream TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload ` + d.DocumentType() + ` NOT NULL,
			created_at BIGINT NOT NULL,
			published_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_preference_outbox_pending ON preference_outbox (published_at, created_at)`,
	}
}

// PreferenceRepository stores preference documents keyed by record ID. Every
// write regenerates the etag and may append an outbox entry in the same
// transaction.
type PreferenceRepository struct {
	db *database.DB
}

func NewPreferenceRepository(db *database.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

func (r *PreferenceRepository) Migrate(ctx context.Context) error {
	return r.db.Migrate(ctx, Schema(r.db.Dialect))
}

// Get returns the record with the given ID.
func (r *PreferenceRepository) Get(ctx context.Context, id string) (*models.Preference, error) {
	row := r.db.QueryRowContext(ctx, r.db.Dialect.Rebind(selectPreference+` WHERE id = ?`), id)
	p, err := scanPreference(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("Preferences not found")
	}
	if err != nil {
		return nil, r.fail(ctx, "failed to get preferences", err, "id", id)
	}
	return p, nil
}

// FindLatestByUserID returns the most recently updated record of a user.
func (r *PreferenceRepository) FindLatestByUserID(ctx context.Context, userID string) (*models.Preference, error) {
	query := selectPreference + ` WHERE user_id = ? ORDER BY updated_at DESC, id LIMIT 1`
	row := r.db.QueryRowContext(ctx, r.db.Dialect.Rebind(query), userID)
	p, err := scanPreference(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("Preferences not found for user " + userID)
	}
	if err != nil {
		return nil, r.fail(ctx, "failed to get preferences", err, "user_id", userID)
	}
	return p, nil
}

// Query lists records, newest first. An empty userID matches every owner.
func (r *PreferenceRepository) Query(ctx context.Context, userID string, limit int) ([]*models.Preference, error) {
	query := selectPreference + ` WHERE (? = '' OR user_id = ?) ORDER BY updated_at DESC, id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, r.db.Dialect.Rebind(query), userID, userID, limit)
	if err != nil {
		return nil, r.fail(ctx, "failed to query preferences", err, "user_id", userID)
	}
	defer rows.Close()

	var result []*models.Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, r.fail(ctx, "failed to read preferences", err, "user_id", userID)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, r.fail(ctx, "failed to read preferences", err, "user_id", userID)
	}
	return result, nil
}

// OutboxFunc builds the event recorded with a write. It sees the record with
// its new etag already assigned.
type OutboxFunc func(p *models.Preference) (*OutboxEntry, error)

// Put creates or replaces p. When ifMatch is non-empty the write only
// succeeds if the stored etag still equals it. On success p.ETag holds the
// new version token.
func (r *PreferenceRepository) Put(ctx context.Context, p *models.Preference, ifMatch string, outbox OutboxFunc) error {
	previous := p.ETag
	p.ETag = utils.NewETag()

	doc, err := json.Marshal(p)
	if err != nil {
		p.ETag = previous
		return apperrors.Dependency("failed to encode preferences", err)
	}
	var entry *OutboxEntry
	if outbox != nil {
		if entry, err = outbox(p); err != nil {
			p.ETag = previous
			return apperrors.Dependency("failed to build preference event", err)
		}
	}

	err = r.db.InTx(ctx, func(tx *sql.Tx) error {
		if ifMatch != "" {
			if err := r.compareAndSwap(ctx, tx, p, doc, ifMatch); err != nil {
				return err
			}
		} else if err := r.upsert(ctx, tx, p, doc); err != nil {
			return err
		}
		if entry != nil {
			return r.insertOutbox(ctx, tx, entry)
		}
		return nil
	})
	if err != nil {
		p.ETag = previous
		if apperrors.CodeOf(err) != apperrors.CodeDependency {
			return err
		}
		return r.fail(ctx, "failed to save preferences", err, "id", p.ID, "user_id", p.UserID)
	}
	return nil
}

func (r *PreferenceRepository) upsert(ctx context.Context, tx *sql.Tx, p *models.Preference, doc []byte) error {
	query := `
		INSERT INTO preferences (id, user_id, etag, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			etag = excluded.etag,
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`
	_, err := tx.ExecContext(ctx, r.db.Dialect.Rebind(query),
		p.ID, p.UserID, p.ETag, string(doc), p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano())
	return pkgerrors.Wrap(err, "upsert preferences")
}

func (r *PreferenceRepository) compareAndSwap(ctx context.Context, tx *sql.Tx, p *models.Preference, doc []byte, ifMatch string) error {
	query := `UPDATE preferences SET user_id = ?, etag = ?, doc = ?, updated_at = ? WHERE id = ? AND etag = ?`
	result, err := tx.ExecContext(ctx, r.db.Dialect.Rebind(query),
		p.UserID, p.ETag, string(doc), p.UpdatedAt.UnixNano(), p.ID, ifMatch)
	if err != nil {
		return pkgerrors.Wrap(err, "update preferences")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return pkgerrors.Wrap(err, "check rows affected")
	}
	if rows > 0 {
		return nil
	}

	var current string
	err = tx.QueryRowContext(ctx, r.db.Dialect.Rebind(`SELECT etag FROM preferences WHERE id = ?`), p.ID).Scan(&current)
	if err == sql.ErrNoRows {
		return apperrors.NotFound("Preferences not found for user " + p.UserID)
	}
	if err != nil {
		return pkgerrors.Wrap(err, "read etag")
	}
	return apperrors.PreconditionFailed("Preferences were modified by another request")
}

// DeleteByUserID removes every record of a user. The outbox entry is only
// written when something was removed.
func (r *PreferenceRepository) DeleteByUserID(ctx context.Context, userID string, entry *OutboxEntry) (bool, error) {
	var removed bool
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, r.db.Dialect.Rebind(`DELETE FROM preferences WHERE user_id = ?`), userID)
		if err != nil {
			return pkgerrors.Wrap(err, "delete preferences")
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return pkgerrors.Wrap(err, "check rows affected")
		}
		removed = rows > 0
		if removed && entry != nil {
			return r.insertOutbox(ctx, tx, entry)
		}
		return nil
	})
	if err != nil {
		return false, r.fail(ctx, "failed to delete preferences", err, "user_id", userID)
	}
	return removed, nil
}

func (r *PreferenceRepository) fail(ctx context.Context, msg string, err error, attrs ...any) error {
	slog.ErrorContext(ctx, msg, append(attrs, "error", err)...)
	return apperrors.Dependency(msg, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreference(row rowScanner) (*models.Preference, error) {
	var (
		id, etag string
		doc      []byte
	)
	if err := row.Scan(&id, &etag, &doc); err != nil {
		return nil, err
	}
	var p models.Preference
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, pkgerrors.Wrapf(err, "decode preferences %s", id)
	}
	p.ID = id
	p.ETag = etag
	if p.CustomSettings == nil {
		p.CustomSettings = map[string]any{}
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}
