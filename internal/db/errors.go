package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// IsUniqueViolation reports whether err is a unique-constraint failure from
// either driver. Uniqueness races (agent names, repo names, dependency pairs)
// are resolved by the database, so callers translate this into a conflict
// instead of retrying.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

// Rollback aborts the transaction and returns cause. A rollback failure
// takes precedence since it leaves the connection in an unknown state.
func Rollback(tx *sql.Tx, cause error) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return fmt.Errorf("failed to rollback: %w", rollbackErr)
	}
	return cause
}
