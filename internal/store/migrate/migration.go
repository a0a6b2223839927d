// Package migrate provides Postgres schema versioning and migration running
// for Brokkr stores. Adapted from the teacher's
// internal/controlplane/migration package: the SchemaVersion/Runner shape
// is kept unchanged, only the SQL dialect moves from SQLite
// (sqlite_master, '?' placeholders) to Postgres (to_regclass, '$n'
// placeholders, TIMESTAMPTZ).
package migrate

import (
	"database/sql"
	"fmt"
	"time"
)

// SchemaVersion records the schema version applied to a database.
type SchemaVersion struct {
	Version   int
	AppliedAt time.Time
}

const createVersionTable = `
CREATE TABLE IF NOT EXISTS _schema_version (
	version    INTEGER NOT NULL DEFAULT 0,
	applied_at TIMESTAMPTZ NOT NULL
)`

func ensureTable(db *sql.DB) error {
	if _, err := db.Exec(createVersionTable); err != nil {
		return fmt.Errorf("create _schema_version: %w", err)
	}
	return nil
}

// CurrentVersion returns the current schema version stored in db, or 0 if
// the _schema_version table does not exist or is empty.
func CurrentVersion(db *sql.DB) (int, error) {
	var exists bool
	if err := db.QueryRow(`SELECT to_regclass('_schema_version') IS NOT NULL`).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check _schema_version table: %w", err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err := db.QueryRow(`SELECT version FROM _schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// SetVersion inserts or updates the schema version in db.
func SetVersion(db *sql.DB, version int) error {
	if err := ensureTable(db); err != nil {
		return err
	}

	now := time.Now().UTC()

	res, err := db.Exec(`UPDATE _schema_version SET version = $1, applied_at = $2`, version, now)
	if err != nil {
		return fmt.Errorf("update schema version: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows > 0 {
		return nil
	}

	if _, err := db.Exec(`INSERT INTO _schema_version (version, applied_at) VALUES ($1, $2)`, version, now); err != nil {
		return fmt.Errorf("insert schema version: %w", err)
	}
	return nil
}

// NeedsMigration reports whether the current schema version is below target.
func NeedsMigration(db *sql.DB, target int) (bool, error) {
	current, err := CurrentVersion(db)
	if err != nil {
		return false, err
	}
	return current < target, nil
}

// EnsureVersion creates the _schema_version table if needed and records
// initial only if no version has been recorded yet. Idempotent, safe on
// every startup.
func EnsureVersion(db *sql.DB, initial int) error {
	if err := ensureTable(db); err != nil {
		return err
	}

	current, err := CurrentVersion(db)
	if err != nil {
		return err
	}
	if current != 0 {
		return nil
	}

	if _, err := db.Exec(`INSERT INTO _schema_version (version, applied_at) VALUES ($1, $2)`, initial, time.Now().UTC()); err != nil {
		return fmt.Errorf("set initial schema version: %w", err)
	}
	return nil
}

// CheckVersion errors if the schema version stored in db is newer than
// binaryVersion — refuses to start an old binary against a newer schema.
func CheckVersion(db *sql.DB, binaryVersion int) error {
	current, err := CurrentVersion(db)
	if err != nil {
		return err
	}
	if current > binaryVersion {
		return fmt.Errorf(
			"database schema version %d is newer than binary version %d — "+
				"refusing to start (use a newer binary or restore from backup)",
			current, binaryVersion,
		)
	}
	return nil
}
