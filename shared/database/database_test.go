package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = ParseDialect("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	query := "UPDATE t SET a = ?, b = ? WHERE id = ?"
	assert.Equal(t, "UPDATE t SET a = $1, b = $2 WHERE id = $3", Postgres.Rebind(query))
	assert.Equal(t, query, SQLite.Rebind(query))
}

func TestOpenSQLiteAndInTx(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(ctx, []string{
		`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v ` + db.Dialect.DocumentType() + `)`,
		`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`,
	}))

	err = db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, db.Dialect.Rebind(`INSERT INTO kv (k, v) VALUES (?, ?)`), "a", "1")
		return err
	})
	require.NoError(t, err)

	rollback := errors.New("rollback")
	err = db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('b', '2')`); err != nil {
			return err
		}
		return rollback
	})
	assert.ErrorIs(t, err, rollback)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "dsn")
	assert.Error(t, err)
}
