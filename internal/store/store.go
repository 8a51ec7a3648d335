// Package store opens the per-service embedded SQLite database used by
// every durable component, generalizing the teacher's
// internal/repository/db.go (jmoiron/sqlx over a SQL driver) from a shared
// Postgres cluster to the file-per-service layout implied by the *_DB_PATH
// environment variables in §6.
package store

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the SQLite database at path, or an in-process
// ":memory:" database when path is empty. The test suites open ":memory:";
// every service's *_DB_PATH setting defaults to a file, so the services,
// the ledger adapter included, run on disk unless configured otherwise.
func Open(path string) (*sqlx.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sqlx.Connect("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	// SQLite serializes writers at the engine level; capping the pool
	// avoids SQLITE_BUSY storms under concurrent handlers per §5.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}
