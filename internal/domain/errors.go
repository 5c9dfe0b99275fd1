package domain

import (
	"errors"
	"fmt"
)

// Revert kinds. Every failed call surfaces exactly one of these through
// errors.Is, wrapped in a *RevertError that carries the reason string.
var (
	ErrUnauthorized                = errors.New("unauthorized")
	ErrNotWhitelisted              = errors.New("not whitelisted")
	ErrInvalidPhase                = errors.New("invalid phase")
	ErrInvalidTransition           = errors.New("invalid transition")
	ErrOutOfRange                  = errors.New("out of range")
	ErrInsufficientBalance         = errors.New("insufficient balance")
	ErrInsufficientContractBalance = errors.New("insufficient contract balance")
	ErrCapacityExceeded            = errors.New("capacity exceeded")
	ErrNoOptionPayout              = errors.New("no option payout")
	ErrExternalTransferFailed      = errors.New("external transfer failed")
	ErrInvalidArgument             = errors.New("invalid argument")
)

// Infrastructure errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrBadSignature  = errors.New("bad signature")
)

// RevertError aborts a call. Reason is the human-readable message surfaced to
// the caller; Kind classifies it; Cause is the underlying failure, if any.
type RevertError struct {
	Kind   error
	Reason string
	Cause  error
}

// Revert builds a RevertError of the given kind.
func Revert(kind error, reason string) *RevertError {
	return &RevertError{Kind: kind, Reason: reason}
}

// Revertf builds a RevertError with a formatted reason.
func Revertf(kind error, format string, args ...any) *RevertError {
	return &RevertError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func (e *RevertError) Error() string {
	if e.Cause != nil {
		return e.Reason + ": " + e.Cause.Error()
	}
	return e.Reason
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *RevertError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// ReasonOf returns the revert reason of err, or its message when err is not
// a revert.
func ReasonOf(err error) string {
	var re *RevertError
	if errors.As(err, &re) {
		return re.Reason
	}
	return err.Error()
}
