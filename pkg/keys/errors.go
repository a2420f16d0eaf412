package keys

import "errors"

var (
	// ErrInvalidArgument is returned when an alias or key is missing from a call
	// that requires it. It always indicates a caller bug.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMalformedKeyFormat is returned when PEM framing, base64 content or the
	// decoded key encoding is invalid.
	ErrMalformedKeyFormat = errors.New("malformed key format")

	// ErrUnsupportedAlgorithm is returned when no parser is registered for an
	// algorithm identifier.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)
