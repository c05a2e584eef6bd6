package auth

import (
	"errors"
	"strings"
)

var (
	// ErrEmailExists indicates a registration against an email that is
	// already taken. Maps to 409.
	ErrEmailExists = errors.New("user with this email already exists")
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password so responses cannot be used for account enumeration.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("user not found")
	// ErrTokenMissing indicates no bearer token was presented.
	ErrTokenMissing = errors.New("access token required")
	// ErrTokenInvalid indicates a malformed or forged token: structurally
	// unparseable, or not signed with the current secret.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired indicates a correctly signed token whose expiry has
	// passed. Kept distinct from ErrTokenInvalid for user messaging.
	ErrTokenExpired = errors.New("token expired")
)

// ValidationError carries one or more client-fixable input failures.
// Maps to 400.
type ValidationError struct {
	Messages []string
}

// NewValidationError builds a ValidationError from one or more messages.
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Messages: messages}
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, "; ")
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
