package model

import "errors"

var (
	// ErrMissingApplicationID is returned when an alarm record carries no application id
	ErrMissingApplicationID = errors.New("alarm record has no application id")

	// ErrUnknownAlarmKind is returned for records whose kind tag is not recognised
	ErrUnknownAlarmKind = errors.New("unknown alarm kind")

	// ErrUnknownAlarmType is returned for records whose alarm type is not recognised
	ErrUnknownAlarmType = errors.New("unknown alarm type")

	// ErrIncompleteAlarm is returned when a variant-specific id is missing
	ErrIncompleteAlarm = errors.New("incomplete alarm record")

	// ErrUnknownStep is returned when a step name cannot be parsed
	ErrUnknownStep = errors.New("unknown step")
)
