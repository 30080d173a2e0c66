package interpreter

import (
	"errors"
	"fmt"
)

// Causes carried by a CommandError. Match them with errors.Is.
var (
	ErrMalformed      = errors.New("malformed")
	ErrDuplicateName  = errors.New("duplicate name")
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrUnknownStmt    = errors.New("unknown statement")
	ErrUnknownAgree   = errors.New("unknown agreement")
	ErrUnknownPolicy  = errors.New("unknown policy")
	ErrNotParty       = errors.New("not a party to")
	ErrNotAuthor      = errors.New("not the author of")
	ErrRetracted      = errors.New("statement is retracted")
	ErrAlreadyEnacted = errors.New("effect already enacted under agreement")
	ErrCapability     = errors.New("capability")
	ErrClock          = errors.New("clock cannot move backwards")
	ErrOutOfRange     = errors.New("sequence out of range")
	ErrNoActivePolicy = errors.New("no active policy")
	ErrNoPolicies     = errors.New("no policies loaded")
	ErrNotMutating    = errors.New("command does not change state")
	ErrUnknownCommand = errors.New("unknown command")
)

// CommandError rejects a command before any state is touched. Field is the
// Command field that failed validation and Value the offending value.
type CommandError struct {
	Command Kind
	Field   string
	Value   string
	Err     error
}

func (e *CommandError) Error() string {
	msg := e.Err.Error()
	if e.Value != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Value)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Command, e.Field, msg)
	}
	return fmt.Sprintf("%s: %s", e.Command, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

func reject(kind Kind, field string, cause error, value string) *CommandError {
	return &CommandError{Command: kind, Field: field, Value: value, Err: cause}
}

func malformed(kind Kind, field, detail string) *CommandError {
	return &CommandError{Command: kind, Field: field, Err: fmt.Errorf("%w: %s", ErrMalformed, detail)}
}
