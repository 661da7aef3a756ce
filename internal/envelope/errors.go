package envelope

import "errors"

// Domain errors for envelope construction and parsing.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMissingIdentifier is returned when a response is built without an identifier.
	ErrMissingIdentifier = errors.New("envelope: identifier is required")

	// ErrMissingMessage is returned when an error response is built without a message.
	ErrMissingMessage = errors.New("envelope: message is required for error responses")

	// ErrMalformed is returned when a raw reply is not a valid Response Envelope.
	ErrMalformed = errors.New("envelope: malformed response")
)
