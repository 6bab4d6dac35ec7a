// Package store provides the SQLite-backed local cache for a mtx session:
// client identity, rooms, timeline events, room state, account data, presence
// and notification bookkeeping. Writes happen through explicit transaction
// scopes (see WithTxn); reads run outside any write scope.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection for the session-owned mtx.db.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// FailInterruptedSends marks every event still in Sending status as Failed.
// A send that was in flight when the process last stopped is assumed lost.
// Called once per startup, after migrations. Returns the number of rows touched.
func (db *DB) FailInterruptedSends() (int64, error) {
	res, err := db.Exec(`UPDATE events SET status = ? WHERE status = ?`,
		StatusFailed, StatusSending)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted sends: %w", err)
	}
	return res.RowsAffected()
}
