package storage

import (
	"fmt"
	"strings"
)

// PersistenceError is a write failure for one category. It never affects
// other categories.
type PersistenceError struct {
	Category string
	Cause    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s failed: %v", e.Category, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// MissingKeyFieldError describes a record skipped because it lacks fields of
// its category key
type MissingKeyFieldError struct {
	Category string
	Entity   string
	Fields   []string
}

func (e *MissingKeyFieldError) Error() string {
	return fmt.Sprintf("%s record for %q is missing key fields: %s", e.Category, e.Entity, strings.Join(e.Fields, ", "))
}
