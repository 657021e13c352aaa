// Package walleterr defines the error kinds surfaced at the wallet's
// asynchronous boundaries.
package walleterr

import (
	"errors"
	"fmt"
)

// Kind classifies a wallet error.
type Kind int

const (
	KindUnknown Kind = iota
	KindSetupFailure
	KindBroadcastFailure
	KindInvalidInput
	KindPriceFetchFailure
)

func (k Kind) String() string {
	switch k {
	case KindSetupFailure:
		return "setup failure"
	case KindBroadcastFailure:
		return "broadcast failure"
	case KindInvalidInput:
		return "invalid input"
	case KindPriceFetchFailure:
		return "price fetch failure"
	default:
		return "unknown"
	}
}

// Input validation sentinels. Both are KindInvalidInput.
var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidAmount  = errors.New("invalid amount")
)

// Error is a classified wallet error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of the given kind wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// InvalidAddress returns an invalid-input error wrapping ErrInvalidAddress.
func InvalidAddress(op, detail string) *Error {
	return New(KindInvalidInput, op, fmt.Errorf("%w: %s", ErrInvalidAddress, detail))
}

// InvalidAmount returns an invalid-input error wrapping ErrInvalidAmount.
func InvalidAmount(op, detail string) *Error {
	return New(KindInvalidInput, op, fmt.Errorf("%w: %s", ErrInvalidAmount, detail))
}
