package optimization

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies optimization errors.
type Kind string

const (
	// KindConfiguration marks a malformed space, objective, algorithm name or
	// run parameter. It is fatal and raised before any evaluation.
	KindConfiguration Kind = "ConfigurationError"
	// KindEvaluation marks a failed evaluation of a single candidate.
	KindEvaluation Kind = "EvaluationError"
)

var (
	// ErrConfiguration matches any configuration error via errors.Is.
	ErrConfiguration = &Error{Kind: KindConfiguration, Message: "configuration error"}
	// ErrEvaluation matches any evaluation error via errors.Is.
	ErrEvaluation = &Error{Kind: KindEvaluation, Message: "evaluation error"}
)

// Error is an optimization error carrying the operation that failed and,
// optionally, its kind and cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error formats the error as "op: kind: message: cause", leaving out empty
// parts.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 4)
	for _, s := range []string{e.Op, string(e.Kind), e.Message} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the kind sentinels by kind and anything else by identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	if t == ErrConfiguration || t == ErrEvaluation {
		return e.Kind == t.Kind
	}
	return e == t
}

// WithOperation sets the failing operation and returns e.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// NewErrorf creates an error without a kind.
func NewErrorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps err with the operation that returned it. A nil err gives
// nil.
func WrapError(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// NewConfigurationError creates a configuration error for op.
func NewConfigurationError(op, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NewEvaluationError creates an evaluation error, optionally wrapping the
// evaluator's own error.
func NewEvaluationError(op string, err error, format string, args ...any) *Error {
	return &Error{Kind: KindEvaluation, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsConfigurationError reports whether err is, or wraps, a configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsEvaluationError reports whether err is, or wraps, an evaluation error.
func IsEvaluationError(err error) bool {
	return errors.Is(err, ErrEvaluation)
}

// KindOf returns the kind of the outermost classified *Error in err's chain,
// or "" if there is none.
func KindOf(err error) Kind {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Kind != "" {
			return e.Kind
		}
		err = e.Err
	}
	return ""
}
