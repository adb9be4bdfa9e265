package errors

import (
	"errors"
	"fmt"
)

// Common error types for the console gateway
var (
	// Classification errors
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrInsufficientSignal = errors.New("unable to determine credential tier")
	ErrBackendUnavailable = errors.New("backend unavailable")

	// Session errors
	ErrMalformedSession = errors.New("malformed session")
	ErrExpiredSession   = errors.New("session expired")
	ErrNoSession        = errors.New("no active session")

	// Authorization errors
	ErrInsufficientTier = errors.New("insufficient permissions for this key")

	// General errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternal       = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsSessionInvalid reports whether err means the caller simply has no usable session.
func IsSessionInvalid(err error) bool {
	return errors.Is(err, ErrMalformedSession) || errors.Is(err, ErrExpiredSession) || errors.Is(err, ErrNoSession)
}
