package evaluator

import (
	"errors"
	"fmt"
)

// Reason classifies an evaluation that produced no verdict.
type Reason string

const (
	ReasonUnavailable       Reason = "unavailable"
	ReasonTimeout           Reason = "timeout"
	ReasonCancelled         Reason = "cancelled"
	ReasonMalformedResponse Reason = "malformed-response"
	ReasonMalformedPolicy   Reason = "malformed-policy"
	ReasonProcessFailure    Reason = "process-failure"
)

// ErrFatal marks errors after which the session cannot continue, such as a
// configured evaluator binary that does not exist. The bridge returns these
// as errors instead of folding them into a Verdict.
var ErrFatal = errors.New("fatal evaluator error")

// EvaluatorError explains why an evaluation produced no verdict. It is a
// recoverable outcome, distinct from an Invalid verdict.
type EvaluatorError struct {
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`
	Err    error  `json:"-"`
}

func (e *EvaluatorError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("evaluator %s", e.Reason)
	}
	return fmt.Sprintf("evaluator %s: %s", e.Reason, e.Detail)
}

func (e *EvaluatorError) Unwrap() error { return e.Err }

func newError(reason Reason, err error) *EvaluatorError {
	e := &EvaluatorError{Reason: reason, Err: err}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}

// Fatal wraps err so that errors.Is(err, ErrFatal) holds.
func Fatal(err error) error {
	return fmt.Errorf("%w: %w", ErrFatal, err)
}
