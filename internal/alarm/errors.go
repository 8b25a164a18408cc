package alarm

import "errors"

var (
	// ErrNameUnresolved is returned when an id in an alarm record has no
	// cached or stored name
	ErrNameUnresolved = errors.New("name not resolved")

	// ErrMalformedPayload is returned for ingested messages that cannot be decoded
	ErrMalformedPayload = errors.New("malformed payload")
)
