package storage

import "errors"

var (
	// ErrNotFound if the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCollision if a row with the same unique key already exists.
	ErrCollision = errors.New("item already exists")

	// ErrIntegrityViolation if a foreign key or cascade rule was violated.
	// This indicates a schema or configuration bug, not a user error.
	ErrIntegrityViolation = errors.New("referential integrity violation")

	// ErrCancelled if the request was abandoned before the operation finished.
	ErrCancelled = errors.New("request has been cancelled")
)
