package recurrence

import (
	"errors"
	"fmt"
)

var (
	// ErrDTStartRequired is matched (errors.Is) by the validation error
	// reported for rule text without a DTSTART line.
	ErrDTStartRequired = errors.New("DTSTART is required")

	// ErrExpansionOverflow is returned when an expansion examines more
	// candidates than ExpandOptions.MaxIterations allows.
	ErrExpansionOverflow = errors.New("recurrence: expansion exceeded iteration limit")

	// ErrInvalidWindow is returned when the window ends before it starts.
	ErrInvalidWindow = errors.New("recurrence: window before is earlier than after")

	// ErrNegativeDuration is returned when pairing starts with a negative duration.
	ErrNegativeDuration = errors.New("recurrence: negative duration")
)

// ParseError reports rule text that could not be tokenized into a rule.
type ParseError struct {
	Property string // DTSTART, RRULE or the RRULE key (e.g. "INTERVAL")
	Value    string
	Reason   string
}

func (e *ParseError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("parse %s: %s", e.Property, e.Reason)
	}
	return fmt.Sprintf("parse %s %q: %s", e.Property, e.Value, e.Reason)
}

// ValidationError is a user-correctable problem with an otherwise parseable
// rule. Its message is the diagnostic shown to the caller.
type ValidationError struct {
	Field string
	Msg   string
	err   error
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}
