package storage

import "errors"

var (
	// ErrNotFound is returned when a row that must exist is absent
	ErrNotFound = errors.New("not found")

	// ErrMissingStep is returned by metric queries without a step
	ErrMissingStep = errors.New("query has no step")

	// ErrInvalidRole is returned for grouped queries with an unknown role
	ErrInvalidRole = errors.New("invalid group role")

	// ErrInvalidOrder is returned for brief queries with an unknown sort key
	ErrInvalidOrder = errors.New("invalid query order")
)
