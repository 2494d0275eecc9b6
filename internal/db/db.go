// Package db opens the server's sqlite database file.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const fileName = "aviary.db"

// Options control where the database lives and how long sqlite waits on
// a locked file. The zero value stores aviary.db under ./.aviary.
type Options struct {
	// Dir is the data directory, created if missing.
	Dir string

	// BusyTimeoutMS bounds waits on a locked database, for when the CLI
	// and a running server share one file. Zero means 5000.
	BusyTimeoutMS int
}

func (o Options) dataDir() string {
	if o.Dir == "" {
		return ".aviary"
	}
	return o.Dir
}

// Path returns the database file path the options resolve to.
func (o Options) Path() string {
	return filepath.Join(o.dataDir(), fileName)
}

// Open creates the data directory if needed and opens the database with
// foreign keys enforced.
func Open(opts Options) (*sql.DB, error) {
	if err := os.MkdirAll(opts.dataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	busy := opts.BusyTimeoutMS
	if busy == 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", opts.Path(), busy)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path(), err)
	}
	return conn, nil
}
