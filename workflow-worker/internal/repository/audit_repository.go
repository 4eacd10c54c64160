package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/userpreference/platform/shared/apperrors"
	"github.com/userpreference/platform/shared/database"
	"github.com/userpreference/platform/shared/models"
)

// AuditEntry records one preference change seen by the workflow.
type AuditEntry struct {
	ID        string            `json:"id"`
	RunID     string            `json:"runId"`
	UserID    string            `json:"userId"`
	Action    string            `json:"action"`
	Snapshot  models.Preference `json:"snapshot"`
	CreatedAt time.Time         `json:"createdAt"`
}

func AuditSchema(d database.Dialect) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS preference_audit (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			action TEXT NOT NULL,
			snapshot ` + d.DocumentType() + ` NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_preference_audit_user ON preference_audit (user_id, created_at)`,
	}
}

type AuditRepository struct {
	db *database.DB
}

func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Migrate(ctx context.Context) error {
	return r.db.Migrate(ctx, AuditSchema(r.db.Dialect))
}

// Insert stores entry. Re-inserting the same ID is ignored, so a repeated
// attempt does not duplicate the audit trail.
func (r *AuditRepository) Insert(ctx context.Context, entry *AuditEntry) error {
	snapshot, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return apperrors.Dependency("failed to encode audit snapshot", err)
	}
	query := `
		INSERT INTO preference_audit (id, run_id, user_id, action, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, r.db.Dialect.Rebind(query),
		entry.ID, entry.RunID, entry.UserID, entry.Action, string(snapshot), entry.CreatedAt.UTC().UnixNano())
	if err != nil {
		slog.ErrorContext(ctx, "failed to write audit entry", "run_id", entry.RunID, "error", err)
		return apperrors.Dependency("failed to write audit entry", pkgerrors.Wrap(err, "insert preference_audit"))
	}
	return nil
}

// ListByUser returns the newest entries of a user first.
func (r *AuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*AuditEntry, error) {
	query := `
		SELECT id, run_id, user_id, action, snapshot, created_at
		FROM preference_audit
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.db.Dialect.Rebind(query), userID, limit)
	if err != nil {
		return nil, apperrors.Dependency("failed to read audit entries", pkgerrors.Wrap(err, "query preference_audit"))
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			entry    AuditEntry
			snapshot []byte
			created  int64
		)
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.UserID, &entry.Action, &snapshot, &created); err != nil {
			return nil, apperrors.Dependency("failed to read audit entries", pkgerrors.Wrap(err, "scan preference_audit"))
		}
		if err := json.Unmarshal(snapshot, &entry.Snapshot); err != nil {
			return nil, apperrors.Dependency("failed to read audit entries", pkgerrors.Wrapf(err, "decode audit entry %s", entry.ID))
		}
		entry.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Dependency("failed to read audit entries", err)
	}
	return entries, nil
}
