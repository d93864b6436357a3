// Package db persists runs, phase outcomes, events and shared memory in SQLite.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// FileName is the database file inside the state directory.
const FileName = "phasekit.db"

type pragma struct {
	stmt string
	// optional pragmas only log on failure, e.g. WAL on filesystems without
	// shared memory support.
	optional bool
}

var pragmas = []pragma{
	{stmt: "PRAGMA foreign_keys=ON"},
	{stmt: "PRAGMA journal_mode=WAL", optional: true},
	{stmt: "PRAGMA busy_timeout=5000"},
	{stmt: "PRAGMA synchronous=NORMAL", optional: true},
}

// Open opens the database at path, creating its directory, applying
// connection pragmas and running pending migrations. The pool is limited to a
// single connection so pragmas hold for every statement.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			if p.optional {
				log.Warn().Err(err).Str("pragma", p.stmt).Msg("sqlite pragma not applied")
				continue
			}
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p.stmt, err)
		}
	}

	version, err := migrate(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Int64("schema_version", version).Msg("database ready")
	return db, nil
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its base FS and dialect in package globals.
var migrateMu sync.Mutex

// migrate applies pending migrations and returns the resulting schema version.
func migrate(db *sql.DB) (int64, error) {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	version, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
