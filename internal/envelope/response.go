package envelope

import (
	"encoding/json"
	"fmt"
)

// Map is a decoded JSON object as carried in message content and responses.
type Map = map[string]any

const (
	keyResult     = "result"
	keyError      = "error"
	keyIdentifier = "identifier"
	keyMessage    = "message"
	keyData       = "data"
)

// Result builds a success envelope. message and data are optional and are
// omitted when empty or nil.
func Result(identifier, message string, data any) (Map, error) {
	if identifier == "" {
		return nil, ErrMissingIdentifier
	}
	return Map{keyResult: branch(identifier, message, data)}, nil
}

// Error builds an error envelope. Both identifier and message are required.
func Error(identifier, message string, data any) (Map, error) {
	if identifier == "" {
		return nil, ErrMissingIdentifier
	}
	if message == "" {
		return nil, ErrMissingMessage
	}
	return Map{keyError: branch(identifier, message, data)}, nil
}

// Success is shorthand for a result with the "success" identifier.
func Success(message string, data any) Map {
	return Map{keyResult: branch(IDSuccess, message, data)}
}

// Failed is shorthand for an error with the "failed" identifier.
// An empty message is replaced so the envelope stays valid.
func Failed(message string, data any) Map {
	if message == "" {
		message = "failed"
	}
	return Map{keyError: branch(IDFailed, message, data)}
}

// UnknownCommand is the reply for a command the handler does not implement.
func UnknownCommand() Map {
	return Map{keyError: branch(IDUnknownCommand, "unknown command", nil)}
}

func branch(identifier, message string, data any) Map {
	b := Map{keyIdentifier: identifier}
	if message != "" {
		b[keyMessage] = message
	}
	if data != nil {
		b[keyData] = data
	}
	return b
}

// Response is a validated Response Envelope.
type Response struct {
	raw        Map
	isError    bool
	identifier string
	message    string
	data       any
}

// NewErrorResponse builds an error Response that is known to be valid.
// Transports use it to report delivery failures.
func NewErrorResponse(identifier, message string) *Response {
	return &Response{
		raw:        Map{keyError: branch(identifier, message, nil)},
		isError:    true,
		identifier: identifier,
		message:    message,
	}
}

// Parse validates raw as a Response Envelope.
//
// Exactly one of "result" and "error" must be present and hold an object
// with an identifier; the error branch must also carry a message.
func Parse(raw Map) (*Response, error) {
	res, hasResult := raw[keyResult]
	errb, hasError := raw[keyError]

	switch {
	case hasResult && hasError:
		return nil, fmt.Errorf("%w: both result and error present", ErrMalformed)
	case !hasResult && !hasError:
		return nil, fmt.Errorf("%w: neither result nor error present", ErrMalformed)
	}

	body := res
	if hasError {
		body = errb
	}
	b, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: branch is %T, not an object", ErrMalformed, body)
	}

	id, _ := b[keyIdentifier].(string)
	if id == "" {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, ErrMissingIdentifier)
	}

	var msg string
	if m, present := b[keyMessage]; present {
		s, ok := m.(string)
		if !ok {
			return nil, fmt.Errorf("%w: message is %T, not a string", ErrMalformed, m)
		}
		msg = s
	}
	if hasError && msg == "" {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, ErrMissingMessage)
	}

	return &Response{
		raw:        raw,
		isError:    hasError,
		identifier: id,
		message:    msg,
		data:       b[keyData],
	}, nil
}

// Decode parses a JSON payload into a validated Response.
func Decode(payload []byte) (*Response, error) {
	var raw Map
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: null payload", ErrMalformed)
	}
	return Parse(raw)
}

// IsOK reports whether the response carries the result branch.
func (r *Response) IsOK() bool { return !r.isError }

// IsError reports whether the response carries the error branch.
func (r *Response) IsError() bool { return r.isError }

// Identifier returns the branch identifier.
func (r *Response) Identifier() string { return r.identifier }

// Message returns the human-readable message, which may be empty on success.
func (r *Response) Message() string { return r.message }

// Data returns the optional payload, or nil.
func (r *Response) Data() any { return r.data }

// DataMap returns the payload as an object, or nil when it is absent or
// not an object.
func (r *Response) DataMap() Map {
	m, _ := r.data.(map[string]any)
	return m
}

// Raw returns the envelope as received. Callers must not modify it.
func (r *Response) Raw() Map { return r.raw }

// MarshalJSON encodes the envelope as received.
func (r *Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.raw)
}

// Err returns nil for a result and a *ResponseError for an error.
func (r *Response) Err() error {
	if !r.isError {
		return nil
	}
	return &ResponseError{Identifier: r.identifier, Message: r.message, Data: r.data}
}

// ResponseError is the Go error form of an error-branch response.
type ResponseError struct {
	Identifier string
	Message    string
	Data       any
}

func (e *ResponseError) Error() string {
	return e.Identifier + ": " + e.Message
}
