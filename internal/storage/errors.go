package storage

import "errors"

var (
	// ErrNotFound is returned by latest-value queries on an empty relation.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a pressure record for the same
	// (time, symbol) already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStorage wraps every other write or read failure.
	ErrStorage = errors.New("storage error")

	// ErrInvalidInput is returned when a record fails validation before any
	// write is attempted.
	ErrInvalidInput = errors.New("invalid input")
)
