package shared

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsSQLiteConflictError(t *testing.T) {
	tests := []struct {
		err    error
		busy   bool
		locked bool
	}{
		{err: nil},
		{err: errors.New("constraint failed: UNIQUE")},
		{err: errors.New("database is locked (5) (SQLITE_BUSY)"), busy: true, locked: true},
		{err: fmt.Errorf("append message: %w", errors.New("SQLITE_BUSY")), busy: true},
		{err: errors.New("database is locked"), locked: true},
	}

	for _, tt := range tests {
		if got := IsSQLiteBusyError(tt.err); got != tt.busy {
			t.Errorf("IsSQLiteBusyError(%v) = %v, want %v", tt.err, got, tt.busy)
		}
		if got := IsSQLiteLockedError(tt.err); got != tt.locked {
			t.Errorf("IsSQLiteLockedError(%v) = %v, want %v", tt.err, got, tt.locked)
		}
		if got := IsSQLiteConflictError(tt.err); got != (tt.busy || tt.locked) {
			t.Errorf("IsSQLiteConflictError(%v) = %v", tt.err, got)
		}
	}
}
