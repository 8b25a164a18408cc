package query

import "errors"

var (
	// ErrMissingDuration is returned by metric queries without a query duration
	ErrMissingDuration = errors.New("the condition must contain a query duration")

	// ErrInvalidDuration is returned when a duration bound cannot be parsed at its step
	ErrInvalidDuration = errors.New("invalid query duration")

	// ErrInvalidContact is returned when alarm contact input fails validation
	ErrInvalidContact = errors.New("invalid alarm contact")

	// ErrInvalidApplication is returned for operations without an application id
	ErrInvalidApplication = errors.New("invalid application id")
)
