// Package database opens the SQL document store used by the services.
// Postgres is the production driver; SQLite serves local runs and tests.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect accepts the configured driver name.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Rebind rewrites ? placeholders into the dialect's positional form.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DocumentType is the column type used for JSON documents.
func (d Dialect) DocumentType() string {
	if d == Postgres {
		return "JSONB"
	}
	return "TEXT"
}

type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects and pings the database.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLite {
		// One connection keeps in-memory databases shared and avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{DB: db, Dialect: dialect}, nil
}

// Migrate executes idempotent DDL statements in order.
func (db *DB) Migrate(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// InTx runs fn in a transaction, committing when fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
