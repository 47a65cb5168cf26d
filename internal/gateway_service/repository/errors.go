package repository

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateIdempotencyKey is returned when a concurrent admission
	// already persisted a message for the same idempotency key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	// ErrStaleStatus is returned by guarded writes when the row is no longer
	// in the status the caller observed, e.g. the TTL sweep expired a message
	// while a delivery attempt was in flight.
	ErrStaleStatus = errors.New("stale message status")
)
