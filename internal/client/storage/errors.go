package storage

import "errors"

// Common client storage errors
var (
	// ErrRecordNotFound indicates that no record exists for the key
	ErrRecordNotFound = errors.New("record not found")

	// ErrConflictNotFound indicates that the conflict was not found
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
