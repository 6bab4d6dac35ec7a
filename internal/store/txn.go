package store

import (
	"database/sql"
	"fmt"
)

// Txn is an open write scope. All ingestion row operations are methods on Txn,
// so a write outside a scope cannot be expressed. One sync batch maps to
// exactly one Txn: it commits as a whole or rolls back as a whole.
type Txn struct {
	tx *sql.Tx
}

// WithTxn begins a transaction, runs fn with the scope, and commits on nil
// return. Any error (or panic unwinding) rolls the whole scope back, leaving
// the previously committed state intact.
func (db *DB) WithTxn(fn func(*Txn) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin txn: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Txn{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit txn: %w", err)
	}
	return nil
}
