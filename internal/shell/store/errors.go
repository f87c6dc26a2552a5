// Package store provides persistence for saved projects and comparison
// reports.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateID means a project or comparison report id is already taken.
	ErrDuplicateID = errors.New("entity with this ID already exists")

	ErrDuplicateSlug = errors.New("project with this slug already exists")

	// ErrConnectionFailed and ErrMigrationFailed come only from NewSQLiteStore.
	ErrConnectionFailed = errors.New("database connection failed")
	ErrMigrationFailed  = errors.New("database migration failed")

	// ErrInvalidData covers the JSON columns: project files and profiles,
	// report findings and summary.
	ErrInvalidData = errors.New("invalid data format")

	ErrTxFailed = errors.New("transaction failed")
)

// StoreError names the store method, the row kind ("project" or
// "comparison") and its id when one is known.
type StoreError struct {
	Op      string
	Entity  string
	ID      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
