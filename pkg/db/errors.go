package db

import "strings"

// IsUniqueViolation reports whether the provided error is a unique-constraint
// violation. When constraintName is provided, the Postgres error must name
// that constraint. SQLite reports the violated columns instead of the
// constraint name, so any unique violation matches there.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}
	if !strings.Contains(msg, "duplicate key value") {
		return false
	}
	if constraintName == "" {
		return true
	}
	return strings.Contains(msg, constraintName)
}
