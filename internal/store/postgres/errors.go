package postgres

import (
	"errors"
	"strings"
)

// ErrDuplicateOutcome is returned when a run records the same module twice.
var ErrDuplicateOutcome = errors.New("outcome already recorded for this run")

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// 23505 is unique_violation
	return strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "duplicate key")
}
