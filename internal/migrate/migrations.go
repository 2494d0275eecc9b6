// Package migrate brings the server database schema up to date. The
// applied version lives in sqlite's user_version header field, so the
// schema needs no bookkeeping table of its own.
package migrate

import (
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed sql/0001_init.sql
var initSQL string

//go:embed sql/0002_projects.sql
var projectsSQL string

// steps run in order, each in its own transaction; a step that fails
// leaves the recorded version untouched and is retried on the next start.
var steps = []struct {
	version int
	name    string
	up      string
}{
	{1, "init", initSQL},
	{2, "projects", projectsSQL},
}

// Version returns the schema version recorded in the database.
func Version(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Migrate applies the steps the database has not seen yet.
func Migrate(db *sql.DB) error {
	current, err := Version(db)
	if err != nil {
		return err
	}
	for _, s := range steps {
		if s.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(s.up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply %s: %w", s.name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, s.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record version %d: %w", s.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		current = s.version
	}
	return nil
}
