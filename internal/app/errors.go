package app

import "errors"

// Policy and lookup failures surfaced to the HTTP layer.
var (
	ErrLimitReached    = errors.New("free usage limit reached")
	ErrPremiumRequired = errors.New("premium subscription required")
	ErrNotFound        = errors.New("creation not found")
	ErrForbidden       = errors.New("not the owner of this creation")
)

// ValidationError marks a malformed or incomplete request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErr(message string) error {
	return &ValidationError{Message: message}
}
