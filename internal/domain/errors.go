// Package domain holds the error kinds shared by the optimization and allocation engines.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a structured engine failure.
type Kind string

const (
	// KindInsufficientData means too few price observations to estimate statistics.
	KindInsufficientData Kind = "InsufficientData"
	// KindInvalidExclusion means exclusions violate feasibility preconditions.
	KindInvalidExclusion Kind = "InvalidExclusion"
	// KindInfeasible means no weight vector satisfies the constraints after backoff.
	KindInfeasible Kind = "Infeasible"
	// KindBudgetTooSmall means the budget cannot buy a single eligible share.
	KindBudgetTooSmall Kind = "BudgetTooSmall"
	// KindDegenerateVolatility means portfolio volatility is too close to zero for a Sharpe ratio.
	KindDegenerateVolatility Kind = "DegenerateVolatility"
	// KindInvalidInput means a request failed validation at the boundary.
	KindInvalidInput Kind = "InvalidInput"
)

// Error is a structured failure carrying a kind and a human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ReasonOf returns the human-readable reason of a structured error, or err.Error() otherwise.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}
