package envelope

import "fmt"

// CommandError is returned by command handlers to reply with an error
// envelope instead of a result.
type CommandError struct {
	Identifier string
	Message    string
	Data       any
}

// NewCommandError returns a CommandError with the given identifier and message.
func NewCommandError(identifier, message string) *CommandError {
	return &CommandError{Identifier: identifier, Message: message}
}

func (e *CommandError) Error() string {
	return e.Identifier + ": " + e.Message
}

// Response converts the error into an error envelope. An empty identifier
// falls back to "failed" and an empty message to the identifier.
func (e *CommandError) Response() Map {
	id := e.Identifier
	if id == "" {
		id = IDFailed
	}
	msg := e.Message
	if msg == "" {
		msg = id
	}
	return Map{keyError: branch(id, msg, e.Data)}
}

// RequireParam returns content[key] or a missing.parameters CommandError.
func RequireParam(content Map, key string) (any, error) {
	v, ok := content[key]
	if !ok || v == nil {
		return nil, NewCommandError(IDMissingParameters, fmt.Sprintf("parameter %q is required", key))
	}
	return v, nil
}

// RequireString returns content[key] as a string. A missing key yields
// missing.parameters; a non-string value, or an empty string when
// allowEmpty is false, yields bad.parameters.
func RequireString(content Map, key string, allowEmpty bool) (string, error) {
	v, err := RequireParam(content, key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", NewCommandError(IDBadParameters, fmt.Sprintf("parameter %q must be a string", key))
	}
	if s == "" && !allowEmpty {
		return "", NewCommandError(IDBadParameters, fmt.Sprintf("parameter %q must not be empty", key))
	}
	return s, nil
}

// RequireNumber returns content[key] as a float64. JSON numbers arrive as
// float64; AMQP-value bodies keep their wire integer width.
func RequireNumber(content Map, key string) (float64, error) {
	v, err := RequireParam(content, key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return 0, NewCommandError(IDBadParameters, fmt.Sprintf("parameter %q must be a number", key))
}
