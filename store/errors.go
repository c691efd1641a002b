package store

import "errors"

var (
	// ErrNotFound is returned when no record matches a filter. A record
	// excluded by a status filter is indistinguishable from one that
	// never existed.
	ErrNotFound = errors.New("policy not found")

	// ErrConflict is returned when an insert collides with an existing
	// policy ID.
	ErrConflict = errors.New("policy already exists")
)
