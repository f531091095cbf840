package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyResolved is returned when a status transition is attempted
	// on an action that has already left pending. Resolution is
	// test-and-set: exactly one transition out of pending ever succeeds.
	ErrAlreadyResolved = errors.New("action already resolved")
)
