// Package shared provides helpers used by more than one layer.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	return hasPrimaryCode(err, sqlite3.SQLITE_BUSY) || containsMessage(err, "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a SQLITE_LOCKED or
// "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	return hasPrimaryCode(err, sqlite3.SQLITE_LOCKED) || containsMessage(err, "database is locked")
}

// IsSQLiteConflictError reports SQLite concurrency errors that warrant a retry.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

func hasPrimaryCode(err error, code int) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	// Extended result codes keep the primary code in the low byte.
	return sqliteErr.Code()&0xff == code
}

func containsMessage(err error, needle string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), needle)
}
